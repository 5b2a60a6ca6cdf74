// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"net"
	"testing"
	"time"
)

// freePort finds an ephemeral TCP port by opening and immediately closing a
// throwaway listener on it, and returns it as an Endpoint. It only picks the
// port; newLoopbackServer hands it to Listen, which opens no socket until
// Run, so Bind/BindRaw can still run first (spec §6's registration ->
// configuration -> run ordering).
func freePort(t *testing.T) Endpoint {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

// newLoopbackServer starts a Server on an ephemeral port and returns its
// Endpoint, ready for a client to dial.
func newLoopbackServer(t *testing.T, opts ...ServerOption) (*Server, Endpoint) {
	t.Helper()
	srv := NewServer(opts...)
	ep := freePort(t)
	if err := srv.Listen(ep); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return srv, ep
}

// startServer runs srv in the background and arranges for it to stop at the
// end of the test. Call after every Bind/BindRaw.
func startServer(t *testing.T, srv *Server) {
	t.Helper()
	go srv.Run()
	t.Cleanup(srv.Stop)
	time.Sleep(20 * time.Millisecond)
}

func TestServerClientConnectDisconnectNotify(t *testing.T) {
	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	srv, ep := newLoopbackServer(t,
		WithClientConnectNotify(func(sessionID string) { connected <- sessionID }),
		WithClientDisconnectNotify(func(sessionID string) { disconnected <- sessionID }),
	)
	srv.BindRaw("echo", func(ctx context.Context, body []byte, sessionID string) ([]byte, error) {
		return body, nil
	})
	startServer(t, srv)

	c := NewSyncClient(ep)
	if _, err := c.CallRaw("echo", []byte("ping")); err != nil {
		t.Fatalf("CallRaw: %v", err)
	}

	var sid string
	select {
	case sid = <-connected:
	case <-time.After(time.Second):
		t.Fatal("connect notify never fired")
	}
	if sid == "" {
		t.Fatal("empty session id")
	}

	c.Close()
	select {
	case got := <-disconnected:
		if got != sid {
			t.Fatalf("disconnect session id %q != connect session id %q", got, sid)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect notify never fired")
	}
}

func TestServerSessionCount(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	srv.BindRaw("noop", func(ctx context.Context, body []byte, sessionID string) ([]byte, error) {
		return []byte("ok"), nil
	})
	startServer(t, srv)

	c := NewSyncClient(ep)
	if _, err := c.CallRaw("noop", nil); err != nil {
		t.Fatalf("CallRaw: %v", err)
	}
	if got := srv.SessionCount(); got != 1 {
		t.Fatalf("got SessionCount()=%d, want 1", got)
	}
	c.Close()
	time.Sleep(50 * time.Millisecond)
	if got := srv.SessionCount(); got != 0 {
		t.Fatalf("got SessionCount()=%d after close, want 0", got)
	}
}
