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

// HeartbeatPeriod is the interval a SubscriberClient checks inbound
// activity against before emitting a heartbeat frame (spec §6).
const HeartbeatPeriod = 3000 * time.Millisecond

type subEntry struct {
	mode       SerializeMode
	structured func(messageName string, decode func(interface{}) error)
	raw        func(body []byte)
}

// SubscriberClient is the pub/sub caller role (C11). It keeps a local
// topic -> callback registry used both to dispatch incoming pushes and to
// replay SUBSCRIBE frames after a reconnect (spec §4.10, §8 property 8).
type SubscriberClient struct {
	endpoint Endpoint
	cfg      clientConfig
	pool     *WorkerPool

	connMu sync.Mutex
	conn   *Connection

	lastActivity atomic.Int64 // unix nanos of the last frame read

	topicsMu sync.RWMutex
	topics   map[string]*subEntry

	stopHeartbeat chan struct{}
	stopOnce      sync.Once
}

// NewSubscriberClient returns a SubscriberClient for endpoint. Dispatch runs
// on a single worker goroutine, preserving per-topic ordering (spec §4.10);
// the number of dispatch workers is not configurable.
func NewSubscriberClient(endpoint Endpoint, opts ...ClientOption) *SubscriberClient {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SubscriberClient{
		endpoint: endpoint,
		cfg:      cfg,
		pool:     NewWorkerPool(1, 1024),
		topics:   make(map[string]*subEntry),
	}
}

func (s *SubscriberClient) ensureConnected() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return nil
	}
	deadline := time.Now().Add(s.cfg.connectTimeout)
	for {
		netConn, err := net.DialTimeout("tcp", s.endpoint.String(), s.cfg.connectTimeout)
		if err == nil {
			var conn *Connection
			conn = newConnection(netConn, newReactor(0, 64), pushFrameReader, func(frame interface{}) {
				push, ok := frame.(*PushFrame)
				if !ok {
					return
				}
				s.lastActivity.Store(time.Now().UnixNano())
				s.dispatch(push)
			}, nil, true)
			conn.Start()
			s.conn = conn
			s.lastActivity.Store(time.Now().UnixNano())
			s.replaySubscriptions(conn)
			return nil
		}
		if time.Now().After(deadline) {
			return ErrConnectTimeout
		}
		time.Sleep(connectRetryInterval)
	}
}

// replaySubscriptions re-sends a SUBSCRIBE frame for every topic this
// client knows about, synchronously, before ensureConnected returns, so no
// caller can issue a fresh Subscribe/CancelSubscribe and race the replay
// (spec §4.10, §9's "SUPPLEMENTED FEATURES" ordering note).
func (s *SubscriberClient) replaySubscriptions(conn *Connection) {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	for topic, entry := range s.topics {
		buf, err := EncodeRequest(&RequestFrame{
			Flag:     ClientFlag{Mode: entry.mode, Role: RoleSubscriber},
			Protocol: topic,
			Body:     []byte(subscribeFlag),
		})
		if err != nil {
			continue
		}
		_ = conn.AsyncWrite(buf)
	}
}

func (s *SubscriberClient) dispatch(push *PushFrame) {
	s.topicsMu.RLock()
	entry, ok := s.topics[push.Protocol]
	s.topicsMu.RUnlock()
	if !ok {
		return
	}
	if err := s.pool.Submit(func() {
		if entry.structured != nil {
			decode := func(v interface{}) error {
				codec, err := s.cfg.registry.Lookup(push.MessageName)
				if err != nil {
					return err
				}
				return codec.Decode(push.Body, v)
			}
			entry.structured(push.MessageName, decode)
		} else if entry.raw != nil {
			entry.raw(push.Body)
		}
	}); err != nil {
		log.Printf("rpc: dispatch pool rejected push for topic %q: %v", push.Protocol, err)
	}
}

func (s *SubscriberClient) sendControl(topic string, mode SerializeMode, subscribe bool) error {
	if err := s.ensureConnected(); err != nil {
		return err
	}
	flagByte := cancelSubscribeFlag
	if subscribe {
		flagByte = subscribeFlag
	}
	buf, err := EncodeRequest(&RequestFrame{
		Flag:     ClientFlag{Mode: mode, Role: RoleSubscriber},
		Protocol: topic,
		Body:     []byte(flagByte),
	})
	if err != nil {
		return err
	}
	return s.conn.AsyncWrite(buf)
}

// Subscribe registers callback for topic in structured mode and sends a
// SUBSCRIBE control frame.
func (s *SubscriberClient) Subscribe(topic string, callback func(messageName string, decode func(interface{}) error)) error {
	s.topicsMu.Lock()
	s.topics[topic] = &subEntry{mode: Structured, structured: callback}
	s.topicsMu.Unlock()
	return s.sendControl(topic, Structured, true)
}

// SubscribeRaw registers callback for topic in raw mode.
func (s *SubscriberClient) SubscribeRaw(topic string, callback func(body []byte)) error {
	s.topicsMu.Lock()
	s.topics[topic] = &subEntry{mode: Raw, raw: callback}
	s.topicsMu.Unlock()
	return s.sendControl(topic, Raw, true)
}

// CancelSubscribe sends a cancel control frame and removes the local
// registration so a later reconnect does not replay it.
func (s *SubscriberClient) CancelSubscribe(topic string) error {
	s.topicsMu.Lock()
	mode := Structured
	if e, ok := s.topics[topic]; ok {
		mode = e.mode
	}
	delete(s.topics, topic)
	s.topicsMu.Unlock()
	return s.sendControl(topic, mode, false)
}

// IsSubscribed reports whether topic has a local registration, without a
// round trip to the server (czrpc original's sub_client::is_subscribe).
func (s *SubscriberClient) IsSubscribed(topic string) bool {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

// Run connects, replays any pre-registered subscriptions, and starts the
// heartbeat timer. It returns once the initial connection succeeds or the
// connect timeout expires; the heartbeat loop runs in the background.
func (s *SubscriberClient) Run() error {
	if err := s.ensureConnected(); err != nil {
		return err
	}
	s.stopHeartbeat = make(chan struct{})
	go s.heartbeatLoop()
	return nil
}

func (s *SubscriberClient) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			last := time.Unix(0, s.lastActivity.Load())
			if time.Since(last) > HeartbeatPeriod {
				s.sendHeartbeat()
			}
		case <-s.stopHeartbeat:
			return
		}
	}
}

func (s *SubscriberClient) sendHeartbeat() {
	if err := s.ensureConnected(); err != nil {
		return
	}
	buf, err := EncodeRequest(&RequestFrame{
		Flag:     ClientFlag{Mode: Structured, Role: RoleSubscriber},
		Protocol: HeartbeatProtocol,
		Body:     []byte(HeartbeatProtocol),
	})
	if err != nil {
		return
	}
	_ = s.conn.AsyncWrite(buf)
}

// Stop stops the heartbeat loop, disconnects, and stops the dispatch
// worker pool.
func (s *SubscriberClient) Stop() {
	s.stopOnce.Do(func() {
		if s.stopHeartbeat != nil {
			close(s.stopHeartbeat)
		}
	})
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
	s.pool.Stop()
}
