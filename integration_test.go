// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"testing"
	"time"
)

// TestSyncClientReconnectsAfterTimeout covers scenario S4: a call that times
// out tears down the connection; the next call transparently reconnects and
// succeeds against a handler that doesn't block. The server runs two
// workers: the hung handler keeps one busy, so with a single worker the fast
// request would queue behind it and time out as well.
func TestSyncClientReconnectsAfterTimeout(t *testing.T) {
	srv, ep := newLoopbackServer(t, WithWorkThreads(2))
	block := make(chan struct{})
	srv.BindRaw("hang", func(ctx context.Context, body []byte, sessionID string) ([]byte, error) {
		<-block
		return body, nil
	})
	srv.BindRaw("fast", func(ctx context.Context, body []byte, sessionID string) ([]byte, error) {
		return body, nil
	})
	startServer(t, srv)
	defer close(block)

	c := NewSyncClient(ep, WithCallTimeout(50*time.Millisecond))
	defer c.Close()

	if _, err := c.CallRaw("hang", []byte("x")); err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}

	resp, err := c.CallRaw("fast", []byte("y"))
	if err != nil {
		t.Fatalf("post-timeout CallRaw: %v", err)
	}
	if string(resp) != "y" {
		t.Fatalf("got %q, want %q", resp, "y")
	}
}

// TestSubscriberReplaysSubscriptionsOnReconnect covers scenario S6: a
// subscriber that loses its connection re-sends SUBSCRIBE for every topic it
// still knows about before any new user call to Subscribe, and publishes
// made after the reconnect are delivered without the test re-subscribing.
func TestSubscriberReplaysSubscriptionsOnReconnect(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	startServer(t, srv)

	sub := NewSubscriberClient(ep)
	defer sub.Stop()

	receivedA := make(chan []byte, 4)
	receivedB := make(chan []byte, 4)
	if err := sub.SubscribeRaw("A", func(b []byte) { receivedA <- b }); err != nil {
		t.Fatalf("SubscribeRaw A: %v", err)
	}
	if err := sub.SubscribeRaw("B", func(b []byte) { receivedB <- b }); err != nil {
		t.Fatalf("SubscribeRaw B: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Simulate the server dropping this subscriber's connection without the
	// subscriber client itself calling Stop. The next ensureConnected (from a
	// Subscribe/CancelSubscribe call or the heartbeat) must replay both
	// subscriptions before any further user action.
	sub.connMu.Lock()
	conn := sub.conn
	sub.connMu.Unlock()
	conn.Disconnect()

	// Force a fresh connect + replay without waiting for the heartbeat timer.
	if err := sub.ensureConnected(); err != nil {
		t.Fatalf("ensureConnected after drop: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	pub := NewPublisherClient(ep)
	defer pub.Close()
	if err := pub.PublishRaw("A", []byte("a1")); err != nil {
		t.Fatalf("PublishRaw A: %v", err)
	}
	if err := pub.PublishRaw("B", []byte("b1")); err != nil {
		t.Fatalf("PublishRaw B: %v", err)
	}

	select {
	case got := <-receivedA:
		if string(got) != "a1" {
			t.Fatalf("got %q, want %q", got, "a1")
		}
	case <-time.After(time.Second):
		t.Fatal("topic A was not replayed after reconnect")
	}
	select {
	case got := <-receivedB:
		if string(got) != "b1" {
			t.Fatalf("got %q, want %q", got, "b1")
		}
	case <-time.After(time.Second):
		t.Fatal("topic B was not replayed after reconnect")
	}
}
