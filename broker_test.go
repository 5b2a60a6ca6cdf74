// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"net"
	"testing"
	"time"
)

// testSubscriber wires a net.Pipe into a Connection the same way the server
// side of Subscribe would, so Broker.Publish has a real write path to push
// frames through.
func testSubscriber(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	reactor := newReactor(0, 16)
	conn := newConnection(server, reactor, pushFrameReader, func(interface{}) {}, nil, true)
	conn.Start()
	t.Cleanup(conn.Disconnect)
	return conn, client
}

func TestBrokerPublishDeliversInSubscribeOrder(t *testing.T) {
	b := NewBroker()
	connA, clientA := testSubscriber(t)
	connB, clientB := testSubscriber(t)

	b.Subscribe(connA, "prices", Raw)
	b.Subscribe(connB, "prices", Raw)

	b.Publish("prices", Raw, "", []byte("tick"))

	for _, c := range []net.Conn{clientA, clientB} {
		c.SetReadDeadline(time.Now().Add(time.Second))
		push, err := DecodePush(c)
		if err != nil {
			t.Fatalf("DecodePush: %v", err)
		}
		if string(push.Body) != "tick" {
			t.Fatalf("got body %q, want %q", push.Body, "tick")
		}
	}
}

func TestBrokerSubscribeIsIdempotent(t *testing.T) {
	b := NewBroker()
	conn, _ := testSubscriber(t)

	b.Subscribe(conn, "prices", Raw)
	b.Subscribe(conn, "prices", Raw)

	if got := b.Count(); got != 1 {
		t.Fatalf("got Count()=%d, want 1", got)
	}
}

func TestBrokerCancelRemovesSubscription(t *testing.T) {
	b := NewBroker()
	conn, _ := testSubscriber(t)

	b.Subscribe(conn, "prices", Raw)
	b.Cancel(conn, "prices", Raw)

	if got := b.Count(); got != 0 {
		t.Fatalf("got Count()=%d, want 0", got)
	}
}

func TestBrokerRemoveAllDropsEveryTopic(t *testing.T) {
	b := NewBroker()
	conn, _ := testSubscriber(t)

	b.Subscribe(conn, "prices", Raw)
	b.Subscribe(conn, "trades", Raw)
	b.Subscribe(conn, "prices", Structured)

	b.RemoveAll(conn)

	if got := b.Count(); got != 0 {
		t.Fatalf("got Count()=%d, want 0 after RemoveAll", got)
	}
}

func TestBrokerStructuredAndRawTopicsAreDisjoint(t *testing.T) {
	b := NewBroker()
	connRaw, clientRaw := testSubscriber(t)
	connStruct, clientStruct := testSubscriber(t)

	b.Subscribe(connRaw, "prices", Raw)
	b.Subscribe(connStruct, "prices", Structured)

	b.Publish("prices", Raw, "", []byte("raw-tick"))

	clientRaw.SetReadDeadline(time.Now().Add(time.Second))
	push, err := DecodePush(clientRaw)
	if err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
	if string(push.Body) != "raw-tick" {
		t.Fatalf("got %q", push.Body)
	}

	clientStruct.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := DecodePush(clientStruct); err == nil {
		t.Fatal("structured subscriber should not receive a raw-mode publish")
	}
}

func TestBrokerPublishToNoSubscribersIsNoop(t *testing.T) {
	b := NewBroker()
	// Should not panic or block even though nothing is subscribed.
	b.Publish("nobody-home", Raw, "", []byte("x"))
}
