// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"log"
	"sync"
	"time"
)

// HeartbeatProtocol is the reserved protocol name (also sent as the body)
// used solely to keep a subscriber connection's liveness visible on the
// wire (spec §6).
// The router recognises it on the SUBSCRIBER role and drops it silently.
const HeartbeatProtocol = "00"

const (
	subscribeFlag       = "1"
	cancelSubscribeFlag = "0"
)

// StructuredHandler receives a decode closure instead of an already-decoded
// value: the handler itself knows which concrete type to decode into, so
// the router never needs reflection to figure that out (spec §9's
// "duck-typed generic bind" design note). Returning a nil reply with a nil
// error suppresses the response (the structured one-way arm); a non-nil
// error is reported to the caller as a handler error.
type StructuredHandler func(ctx context.Context, decode func(interface{}) error, sessionID string) (reply interface{}, err error)

// RawHandler is the raw-mode counterpart: body in, body out. An empty reply
// with a nil error suppresses the response (one-way RPC).
type RawHandler func(ctx context.Context, body []byte, sessionID string) (reply []byte, err error)

// Router maps a protocol name to a handler, in two disjoint modes so the
// same name may exist in each independently (C6, spec §3 "Handler entry").
type Router struct {
	mu  sync.RWMutex
	str map[string]StructuredHandler
	raw map[string]RawHandler

	registry *Registry
	pool     *WorkerPool
	broker   *Broker
	metrics  *Metrics
}

// SetMetrics attaches OpenTelemetry instrumentation; nil disables it.
func (r *Router) SetMetrics(m *Metrics) { r.metrics = m }

// NewRouter wires a Router to the codec registry it consults for structured
// payloads, the worker pool handler invocations run on, and the broker that
// owns publish/subscribe bookkeeping.
func NewRouter(registry *Registry, pool *WorkerPool, broker *Broker) *Router {
	return &Router{
		str:      make(map[string]StructuredHandler),
		raw:      make(map[string]RawHandler),
		registry: registry,
		pool:     pool,
		broker:   broker,
	}
}

// Bind registers a structured-mode handler. A later Bind for the same name
// replaces the earlier one.
func (r *Router) Bind(protocol string, h StructuredHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.str[protocol] = h
}

// BindRaw registers a raw-mode handler, independent of the structured map.
func (r *Router) BindRaw(protocol string, h RawHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw[protocol] = h
}

// Unbind removes a structured binding; an unknown name is a no-op.
func (r *Router) Unbind(protocol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.str, protocol)
}

// UnbindRaw removes a raw binding; an unknown name is a no-op.
func (r *Router) UnbindRaw(protocol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.raw, protocol)
}

func (r *Router) lookup(protocol string, mode SerializeMode) (StructuredHandler, RawHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if mode == Structured {
		h, ok := r.str[protocol]
		return h, nil, ok
	}
	h, ok := r.raw[protocol]
	return nil, h, ok
}

// Route dispatches one inbound request frame per the decision table in
// spec §4.5. It runs on the connection's read goroutine, so every branch
// either returns immediately or hands off to the worker pool; it never
// runs handler code inline.
func (r *Router) Route(ctx context.Context, frame *RequestFrame, conn *Connection) {
	switch frame.Flag.Role {
	case RoleRPC, RoleAsyncRPC:
		r.routeRPC(ctx, frame, conn)
	case RolePublisher:
		r.routePublish(frame, conn)
	case RoleSubscriber:
		r.routeSubscribe(frame, conn)
	}
}

func (r *Router) routeRPC(ctx context.Context, frame *RequestFrame, conn *Connection) {
	strHandler, rawHandler, ok := r.lookup(frame.Protocol, frame.Flag.Mode)
	if !ok {
		r.writeError(conn, frame.CallID, ErrCodeRouteFailed, frame.MessageName)
		return
	}
	if err := r.pool.Submit(func() {
		if frame.Flag.Mode == Structured {
			r.invokeStructured(ctx, strHandler, frame, conn)
		} else {
			r.invokeRaw(ctx, rawHandler, frame, conn)
		}
	}); err != nil {
		log.Printf("rpc: worker pool rejected request for protocol %q: %v", frame.Protocol, err)
	}
}

func (r *Router) invokeStructured(ctx context.Context, h StructuredHandler, frame *RequestFrame, conn *Connection) {
	start := time.Now()
	codec, err := r.registry.Lookup(frame.MessageName)
	if err != nil {
		log.Printf("rpc: codec error: no codec for message %q (protocol %q): %v", frame.MessageName, frame.Protocol, err)
		r.writeError(conn, frame.CallID, ErrCodeCodecError, frame.MessageName)
		r.observe(frame.Protocol, "codec_error", start)
		return
	}
	decode := func(v interface{}) error {
		return codec.Decode(frame.Body, v)
	}
	reply, err := safeInvokeStructured(h, ctx, decode, conn.SessionID())
	if err != nil {
		log.Printf("rpc: handler error: protocol %q: %v", frame.Protocol, err)
		r.writeError(conn, frame.CallID, ErrCodeHandlerError, frame.MessageName)
		r.observe(frame.Protocol, "handler_error", start)
		return
	}
	if reply == nil {
		r.observe(frame.Protocol, "one_way", start)
		return // one-way: void suppresses the response
	}
	body, err := codec.Encode(reply)
	if err != nil {
		log.Printf("rpc: codec error: encoding reply for message %q (protocol %q): %v", frame.MessageName, frame.Protocol, err)
		r.writeError(conn, frame.CallID, ErrCodeCodecError, frame.MessageName)
		r.observe(frame.Protocol, "codec_error", start)
		return
	}
	r.writeOK(conn, frame.CallID, frame.MessageName, body)
	r.observe(frame.Protocol, "ok", start)
}

func (r *Router) invokeRaw(ctx context.Context, h RawHandler, frame *RequestFrame, conn *Connection) {
	start := time.Now()
	reply, err := safeInvokeRaw(h, ctx, frame.Body, conn.SessionID())
	if err != nil {
		log.Printf("rpc: handler error: protocol %q: %v", frame.Protocol, err)
		r.writeError(conn, frame.CallID, ErrCodeHandlerError, "")
		r.observe(frame.Protocol, "handler_error", start)
		return
	}
	if len(reply) == 0 {
		r.observe(frame.Protocol, "one_way", start)
		return // one-way: empty body suppresses the response
	}
	r.writeOK(conn, frame.CallID, "", reply)
	r.observe(frame.Protocol, "ok", start)
}

func (r *Router) observe(protocol, outcome string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.recordRequest(protocol, outcome)
	r.metrics.recordHandlerLatency(protocol, time.Since(start))
}

// safeInvokeStructured and safeInvokeRaw isolate handler code from the
// worker pool goroutine: a panicking handler becomes a handler error
// instead of taking down the pool, per spec §4.5's "handler exceptions are
// caught; the handler body is isolated from the I/O loops."
func safeInvokeStructured(h StructuredHandler, ctx context.Context, decode func(interface{}) error, sessionID string) (reply interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			reply, err = nil, ErrHandlerFailed
		}
	}()
	return h(ctx, decode, sessionID)
}

func safeInvokeRaw(h RawHandler, ctx context.Context, body []byte, sessionID string) (reply []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			reply, err = nil, ErrHandlerFailed
		}
	}()
	return h(ctx, body, sessionID)
}

func (r *Router) writeOK(conn *Connection, callID uint32, messageName string, body []byte) {
	buf, err := EncodeResponse(&ResponseFrame{CallID: callID, Code: ErrCodeOK, MessageName: messageName, Body: body})
	if err != nil {
		return
	}
	conn.Send(buf)
}

func (r *Router) writeError(conn *Connection, callID uint32, code ErrorCode, messageName string) {
	buf, err := EncodeResponse(&ResponseFrame{CallID: callID, Code: code, MessageName: messageName})
	if err != nil {
		return
	}
	conn.Send(buf)
}

func (r *Router) routePublish(frame *RequestFrame, conn *Connection) {
	topic := frame.Protocol
	body := frame.Body
	mode := frame.Flag.Mode
	messageName := frame.MessageName
	if err := r.pool.Submit(func() {
		r.broker.Publish(topic, mode, messageName, body)
	}); err != nil {
		log.Printf("rpc: worker pool rejected publish to topic %q: %v", topic, err)
	}
}

func (r *Router) routeSubscribe(frame *RequestFrame, conn *Connection) {
	if frame.Protocol == HeartbeatProtocol {
		return
	}
	topic := frame.Protocol
	mode := frame.Flag.Mode
	subscribe := len(frame.Body) > 0 && frame.Body[0] == '1'
	if err := r.pool.Submit(func() {
		if subscribe {
			r.broker.Subscribe(conn, topic, mode)
		} else {
			r.broker.Cancel(conn, topic, mode)
		}
	}); err != nil {
		log.Printf("rpc: worker pool rejected subscribe-control for topic %q: %v", topic, err)
	}
}
