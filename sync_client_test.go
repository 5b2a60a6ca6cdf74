// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"testing"
	"time"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoReply struct {
	Text string `json:"text"`
}

func TestSyncClientStructuredCall(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	srv.Bind("echo", func(ctx context.Context, decode func(interface{}) error, sessionID string) (interface{}, error) {
		var req echoRequest
		if err := decode(&req); err != nil {
			return nil, err
		}
		return &echoReply{Text: req.Text}, nil
	})
	startServer(t, srv)

	c := NewSyncClient(ep)
	defer c.Close()

	var reply echoReply
	if err := c.Call("echo", "Echo", &echoRequest{Text: "hi"}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Text != "hi" {
		t.Fatalf("got %q, want %q", reply.Text, "hi")
	}
}

func TestSyncClientRouteFailedSurfacesAsError(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	startServer(t, srv)

	c := NewSyncClient(ep)
	defer c.Close()

	if _, err := c.CallRaw("nobody-bound", []byte("x")); err != ErrRouteFailed {
		t.Fatalf("got %v, want ErrRouteFailed", err)
	}
}

func TestSyncClientOnlyOneCallInFlight(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	srv.BindRaw("slow", func(ctx context.Context, body []byte, sessionID string) ([]byte, error) {
		entered <- struct{}{}
		<-release
		return body, nil
	})
	startServer(t, srv)

	c := NewSyncClient(ep, WithCallTimeout(time.Second))
	defer c.Close()

	done := make(chan struct{})
	go func() {
		_, _ = c.CallRaw("slow", []byte("first"))
		close(done)
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first call's handler never ran")
	}

	// A second call attempted while the first is outstanding must block on
	// callMu rather than interleave frames on the wire (spec §5's
	// "at most one call in flight").
	secondStarted := make(chan struct{})
	go func() {
		close(secondStarted)
		_, _ = c.CallRaw("slow", []byte("second"))
	}()
	<-secondStarted
	time.Sleep(50 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("first call completed before release, second call must have raced ahead")
	default:
	}

	close(release)
	<-done
}

func TestSyncClientTimeoutDisconnects(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	block := make(chan struct{})
	srv.BindRaw("hang", func(ctx context.Context, body []byte, sessionID string) ([]byte, error) {
		<-block
		return body, nil
	})
	startServer(t, srv)
	defer close(block)

	c := NewSyncClient(ep, WithCallTimeout(30*time.Millisecond))
	defer c.Close()

	if _, err := c.CallRaw("hang", []byte("x")); err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil || !conn.IsClosed() {
		t.Fatal("timed-out call should have disconnected the client's connection")
	}
}
