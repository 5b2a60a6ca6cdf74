// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Connection states (spec §3, "Connection lifecycle").
const (
	StateNew        int32 = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

// FrameReader decodes exactly one frame from the connection's socket. The
// three concrete instances are DecodeRequest, DecodeResponse, and
// DecodePush; a Connection is agnostic to which kind it carries, and its
// owner (Server, SyncClient, AsyncClient, SubscriberClient) picks the
// reader that matches the role it plays.
type FrameReader func(net.Conn) (interface{}, error)

func requestFrameReader(c net.Conn) (interface{}, error)  { return DecodeRequest(c) }
func responseFrameReader(c net.Conn) (interface{}, error) { return DecodeResponse(c) }
func pushFrameReader(c net.Conn) (interface{}, error)     { return DecodePush(c) }

const sendQueueDepth = 256

// Connection is the per-socket state machine shared by both the server and
// client sides (C3). Reads happen on one dedicated goroutine per
// connection; writes are drained from a buffered channel by a second
// dedicated goroutine, preserving FIFO delivery without a lock on the
// common path. On the server side, router replies and broker fan-out reach
// the connection through Send, which posts the enqueue onto the
// connection's Reactor (spec §5's "loop-posted enqueue"); the client roles
// call AsyncWrite directly from their own goroutines.
type Connection struct {
	netConn     net.Conn
	sessionID   string
	reactor     *Reactor
	ownsReactor bool
	readFrame   FrameReader

	onFrame func(frame interface{})
	onClose func(*Connection)

	writeCh chan []byte
	state   atomic.Int32
	closed  chan struct{}
	once    sync.Once
}

// newConnection wires a raw net.Conn into the state machine described
// above. onFrame is invoked from the connection's own read goroutine for
// every decoded frame; it must not block on handler work, callers submit
// to a WorkerPool instead. onClose fires exactly once, after the socket is
// fully torn down.
//
// ownsReactor marks whether this connection is the sole occupant of
// reactor's lifetime. Server connections share a Reactor out of a
// ReactorPool (round-robin, many connections per loop), so Disconnect must
// never stop it; the pool is stopped once, from Server.Stop. Client
// connections (SyncClient, AsyncClient, PublisherClient, SubscriberClient)
// each get a private Reactor on connect, so Disconnect stops it there,
// otherwise the loop goroutine outlives the connection it was created for.
func newConnection(netConn net.Conn, reactor *Reactor, readFrame FrameReader,
	onFrame func(interface{}), onClose func(*Connection), ownsReactor bool) *Connection {
	c := &Connection{
		netConn:     netConn,
		sessionID:   uuid.NewString(),
		reactor:     reactor,
		ownsReactor: ownsReactor,
		readFrame:   readFrame,
		onFrame:     onFrame,
		onClose:     onClose,
		writeCh:     make(chan []byte, sendQueueDepth),
		closed:      make(chan struct{}),
	}
	c.state.Store(StateNew)
	return c
}

// SessionID is the UUID v4 assigned to this connection on accept (spec
// §4.2), passed to handlers and connect/disconnect notifications.
func (c *Connection) SessionID() string { return c.sessionID }

// RemoteAddr exposes the underlying socket's peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// State returns the connection's current lifecycle state.
func (c *Connection) State() int32 { return c.state.Load() }

// IsClosed reports whether Disconnect has already run.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Start attaches the connection to its event loop and begins the read and
// write loops. It transitions New -> Connected.
func (c *Connection) Start() {
	c.state.Store(StateConnected)
	go c.readLoop()
	go c.writeLoop()
}

func (c *Connection) readLoop() {
	for {
		frame, err := c.readFrame(c.netConn)
		if err != nil {
			c.Disconnect()
			return
		}
		c.onFrame(frame)
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case buf, ok := <-c.writeCh:
			if !ok {
				return
			}
			if _, err := c.netConn.Write(buf); err != nil {
				c.Disconnect()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// AsyncWrite enqueues a fully-built frame for delivery, blocking only if
// the send queue is full; this is the per-connection back-pressure point
// spec §5 refers to. It is safe to call from any goroutine.
func (c *Connection) AsyncWrite(payload []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.writeCh <- payload:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

// Send posts the enqueue onto this connection's Reactor instead of calling
// AsyncWrite from the caller's own goroutine. Router replies and broker
// fan-out use this, keeping every write-queue mutation for a connection
// funneled through the single goroutine that owns it, per the affinity
// model in spec §5. The error from a failed write is not observable to the
// poster; that matches the frame's fire-and-forget delivery contract.
func (c *Connection) Send(payload []byte) {
	c.reactor.Post(func() {
		_ = c.AsyncWrite(payload)
	})
}

// Disconnect is idempotent: it transitions the connection to Closed, shuts
// the socket down, discards whatever was left in the send queue, and
// completes any blocked AsyncWrite callers with ErrClosed. onClose, if set,
// runs exactly once after the socket is gone. If this connection owns its
// Reactor (see newConnection), Disconnect also stops that Reactor's loop
// goroutine; a shared, pooled Reactor is left running for the connections
// still pinned to it.
func (c *Connection) Disconnect() {
	c.once.Do(func() {
		c.state.Store(StateClosing)
		close(c.closed)
		_ = c.netConn.Close()
		c.state.Store(StateClosed)
		if c.ownsReactor && c.reactor != nil {
			c.reactor.stop()
		}
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
