// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// pendingCall is a single-shot entry in AsyncClient's correlation map: it is
// created at send time and consulted exactly once, at response arrival or
// at connection-drop (spec §3 "Pending-call entry").
type pendingCall struct {
	reply    interface{}
	raw      bool
	callback func(resp *ResponseFrame, err error)
}

// AsyncClient is the asynchronous RPC caller (C10): many calls may be
// outstanding at once, correlated by call-id.
//
// REDESIGN DECISION (see SPEC_FULL.md): on connection drop, every pending
// completion fires once with ErrTransport instead of being dropped silently
// the way the czrpc original's task_map_.clear() does. Each entry still
// fires at most once.
type AsyncClient struct {
	endpoint Endpoint
	cfg      clientConfig

	pool              *WorkerPool
	completionWorkers int

	connectSuccessNotify func()

	connMu sync.Mutex
	conn   *Connection

	nextCallID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]*pendingCall
}

// AsyncClientOption configures an AsyncClient beyond the shared ClientOption set.
type AsyncClientOption func(*AsyncClient)

// WithConnectSuccessNotify sets a hook that fires after every successful
// (re)connect, typically used to re-issue registrations (spec §4.9).
func WithConnectSuccessNotify(fn func()) AsyncClientOption {
	return func(c *AsyncClient) { c.connectSuccessNotify = fn }
}

// WithCompletionWorkers sets how many goroutines drain completion
// callbacks (default 1).
func WithCompletionWorkers(n int) AsyncClientOption {
	return func(c *AsyncClient) {
		if n > 0 {
			c.completionWorkers = n
		}
	}
}

// NewAsyncClient returns an AsyncClient for endpoint.
func NewAsyncClient(endpoint Endpoint, opts []ClientOption, aopts ...AsyncClientOption) *AsyncClient {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &AsyncClient{
		endpoint:          endpoint,
		cfg:               cfg,
		completionWorkers: 1,
		pending:           make(map[uint32]*pendingCall),
	}
	for _, opt := range aopts {
		opt(c)
	}
	c.pool = NewWorkerPool(c.completionWorkers, 1024)
	return c
}

func (c *AsyncClient) ensureConnected() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	deadline := time.Now().Add(c.cfg.connectTimeout)
	for {
		netConn, err := net.DialTimeout("tcp", c.endpoint.String(), c.cfg.connectTimeout)
		if err == nil {
			var conn *Connection
			conn = newConnection(netConn, newReactor(0, 64), responseFrameReader, func(frame interface{}) {
				resp, ok := frame.(*ResponseFrame)
				if !ok {
					return
				}
				c.dispatch(resp)
			}, func(*Connection) {
				c.dropPending()
			}, true)
			conn.Start()
			c.conn = conn
			if c.connectSuccessNotify != nil {
				c.connectSuccessNotify()
			}
			return nil
		}
		if time.Now().After(deadline) {
			return ErrConnectTimeout
		}
		time.Sleep(connectRetryInterval)
	}
}

func (c *AsyncClient) dispatch(resp *ResponseFrame) {
	c.pendingMu.Lock()
	p, ok := c.pending[resp.CallID]
	if ok {
		delete(c.pending, resp.CallID)
	}
	c.pendingMu.Unlock()
	if !ok {
		log.Printf("rpc: async response for unknown call-id %d: dropped (spec §4.9 step 3)", resp.CallID)
		return
	}
	if err := c.pool.Submit(func() {
		p.callback(resp, responseErrorOrNil(resp))
	}); err != nil {
		log.Printf("rpc: completion pool rejected call-id %d: %v", resp.CallID, err)
	}
}

func responseErrorOrNil(resp *ResponseFrame) error {
	if resp.Code == ErrCodeOK {
		return nil
	}
	return responseError(resp)
}

func (c *AsyncClient) dropPending() {
	c.pendingMu.Lock()
	dropped := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.pendingMu.Unlock()
	for _, p := range dropped {
		cb := p.callback
		if err := c.pool.Submit(func() {
			cb(nil, ErrTransport)
		}); err != nil {
			log.Printf("rpc: completion pool rejected transport-drop callback: %v", err)
		}
	}
}

func (c *AsyncClient) nextID() uint32 {
	for {
		id := c.nextCallID.Add(1)
		if id != 0 {
			return id
		}
		// wrapped to exactly 0, which is reserved; skip it (spec §3).
	}
}

// AsyncCall makes a structured async RPC call. callback fires exactly once,
// either with the decoded reply or with a non-nil error, never both.
func (c *AsyncClient) AsyncCall(protocol, messageName string, req interface{}, reply interface{}, callback func(err error)) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	codec, err := c.cfg.registry.Lookup(messageName)
	if err != nil {
		return err
	}
	body, err := codec.Encode(req)
	if err != nil {
		return err
	}
	callID := c.nextID()
	c.pendingMu.Lock()
	c.pending[callID] = &pendingCall{
		reply: reply,
		callback: func(resp *ResponseFrame, err error) {
			if err != nil {
				callback(err)
				return
			}
			if reply != nil && len(resp.Body) > 0 {
				callback(codec.Decode(resp.Body, reply))
				return
			}
			callback(nil)
		},
	}
	c.pendingMu.Unlock()

	buf, err := EncodeRequest(&RequestFrame{CallID: callID, Flag: ClientFlag{Mode: Structured, Role: RoleAsyncRPC}, Protocol: protocol, MessageName: messageName, Body: body})
	if err != nil {
		c.forget(callID)
		return err
	}
	if err := c.conn.AsyncWrite(buf); err != nil {
		c.forget(callID)
		return err
	}
	return nil
}

// AsyncCallRaw makes a raw async RPC call. callback fires exactly once.
func (c *AsyncClient) AsyncCallRaw(protocol string, body []byte, callback func(resp []byte, err error)) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	callID := c.nextID()
	c.pendingMu.Lock()
	c.pending[callID] = &pendingCall{
		raw: true,
		callback: func(resp *ResponseFrame, err error) {
			if err != nil {
				callback(nil, err)
				return
			}
			callback(resp.Body, nil)
		},
	}
	c.pendingMu.Unlock()

	buf, err := EncodeRequest(&RequestFrame{CallID: callID, Flag: ClientFlag{Mode: Raw, Role: RoleAsyncRPC}, Protocol: protocol, Body: body})
	if err != nil {
		c.forget(callID)
		return err
	}
	if err := c.conn.AsyncWrite(buf); err != nil {
		c.forget(callID)
		return err
	}
	return nil
}

func (c *AsyncClient) forget(callID uint32) {
	c.pendingMu.Lock()
	delete(c.pending, callID)
	c.pendingMu.Unlock()
}

// PendingCount returns the number of calls currently awaiting a response.
func (c *AsyncClient) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Close disconnects the client's underlying connection and stops its
// completion worker pool.
func (c *AsyncClient) Close() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
	c.pool.Stop()
	return nil
}
