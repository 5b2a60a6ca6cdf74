// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// Endpoint is an immutable (ip, port) pair (spec §3).
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	host := e.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", e.Port))
}

// ServerOption configures a Server before Run.
type ServerOption func(*Server)

// WithIOThreads sets the number of reactor loops (default 1).
func WithIOThreads(n int) ServerOption {
	return func(s *Server) { s.ioThreads = n }
}

// WithWorkThreads sets the number of worker-pool goroutines (default 1).
func WithWorkThreads(n int) ServerOption {
	return func(s *Server) { s.workThreads = n }
}

// WithQueueDepth bounds the worker pool's pending-task queue.
func WithQueueDepth(n int) ServerOption {
	return func(s *Server) { s.queueDepth = n }
}

// WithRegistry overrides the default codec registry.
func WithRegistry(r *Registry) ServerOption {
	return func(s *Server) { s.registry = r }
}

// WithClientConnectNotify sets the callback fired once per accepted
// connection, after its session-id is assigned.
func WithClientConnectNotify(fn func(sessionID string)) ServerOption {
	return func(s *Server) { s.onConnect = fn }
}

// WithClientDisconnectNotify sets the callback fired once per connection
// close, after its subscriptions are flushed from the broker.
func WithClientDisconnectNotify(fn func(sessionID string)) ServerOption {
	return func(s *Server) { s.onDisconnect = fn }
}

// WithMeter attaches OpenTelemetry instrumentation (metrics.go) to the
// server's lifecycle and request path.
func WithMeter(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// Server binds a Router and Broker to a set of listen endpoints and owns
// the lifetime of the worker pool and reactor pool (C8).
type Server struct {
	ioThreads   int
	workThreads int
	queueDepth  int

	registry *Registry
	pool     *WorkerPool
	reactors *ReactorPool
	broker   *Broker
	router   *Router
	metrics  *Metrics

	onConnect    func(sessionID string)
	onDisconnect func(sessionID string)

	mu        sync.Mutex
	endpoints []Endpoint
	listeners []net.Listener
	running   bool

	conns sync.Map // sessionID -> *Connection
}

// NewServer constructs a Server. Bind/BindRaw may be called immediately;
// Listen and Run follow the registration -> configuration -> run ordering
// from spec §6.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		ioThreads:   1,
		workThreads: 1,
		queueDepth:  1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	s.broker = NewBroker()
	s.pool = NewWorkerPool(s.workThreads, s.queueDepth)
	s.router = NewRouter(s.registry, s.pool, s.broker)
	if s.metrics != nil {
		s.router.SetMetrics(s.metrics)
		s.broker.SetMetrics(s.metrics)
	}
	return s
}

// Bind registers a structured-mode handler for protocol.
func (s *Server) Bind(protocol string, h StructuredHandler) { s.router.Bind(protocol, h) }

// BindRaw registers a raw-mode handler for protocol.
func (s *Server) BindRaw(protocol string, h RawHandler) { s.router.BindRaw(protocol, h) }

// Unbind removes a structured-mode handler.
func (s *Server) Unbind(protocol string) { s.router.Unbind(protocol) }

// UnbindRaw removes a raw-mode handler.
func (s *Server) UnbindRaw(protocol string) { s.router.UnbindRaw(protocol) }

// Registry exposes the server's codec registry so embedders can register
// codecs for their message names before Run.
func (s *Server) Registry() *Registry { return s.registry }

// Broker exposes the pub/sub broker, mainly for introspection (Broker.Count)
// and the admin surface.
func (s *Server) Broker() *Broker { return s.broker }

// Listen appends endpoints to the list Run will bind. It is a
// configuration-time call: no socket is opened until Run.
func (s *Server) Listen(endpoints ...Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("rpc: Listen called after Run")
	}
	s.endpoints = append(s.endpoints, endpoints...)
	return nil
}

// Run opens every registered endpoint and begins accepting connections. It
// blocks until Stop is called or every listener fails.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("rpc: already running")
	}
	s.running = true
	s.reactors = NewReactorPool(s.ioThreads, 4096)
	var listeners []net.Listener
	for _, ep := range s.endpoints {
		l, err := net.Listen("tcp", ep.String())
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("rpc: listen %s: %w", ep, err)
		}
		listeners = append(listeners, l)
	}
	s.listeners = listeners
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			s.acceptLoop(l)
		}(l)
	}
	wg.Wait()
	return nil
}

func (s *Server) acceptLoop(l net.Listener) {
	for {
		netConn, err := l.Accept()
		if err != nil {
			return
		}
		reactor := s.reactors.Next()
		var conn *Connection
		conn = newConnection(netConn, reactor, requestFrameReader, func(frame interface{}) {
			req, ok := frame.(*RequestFrame)
			if !ok {
				return
			}
			s.router.Route(context.Background(), req, conn)
		}, func(c *Connection) {
			s.broker.RemoveAll(c)
			s.conns.Delete(c.SessionID())
			if s.metrics != nil {
				s.metrics.ConnectionClosed()
			}
			if s.onDisconnect != nil {
				s.onDisconnect(c.SessionID())
			}
		}, false)
		s.conns.Store(conn.SessionID(), conn)
		if s.metrics != nil {
			s.metrics.ConnectionOpened()
		}
		conn.Start()
		if s.onConnect != nil {
			s.onConnect(conn.SessionID())
		}
	}
}

// Stop closes every listener, disconnects every live connection (which
// flushes their broker registrations), drains and stops the worker pool,
// then stops the reactor pool. That is the shutdown order spec §5 requires.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}
	s.conns.Range(func(_, v interface{}) bool {
		v.(*Connection).Disconnect()
		return true
	})
	s.pool.Stop()
	if s.reactors != nil {
		s.reactors.Stop()
	}
}

// SessionCount returns the number of currently live connections, used by
// the admin surface.
func (s *Server) SessionCount() int {
	n := 0
	s.conns.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
