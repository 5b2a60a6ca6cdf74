// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"testing"
	"time"
)

func TestSubscriberReceivesPublishedMessagesInOrder(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	startServer(t, srv)

	received := make(chan []byte, 1000)
	sub := NewSubscriberClient(ep)
	defer sub.Stop()
	if err := sub.SubscribeRaw("prices", func(body []byte) {
		cp := append([]byte(nil), body...)
		received <- cp
	}); err != nil {
		t.Fatalf("SubscribeRaw: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the SUBSCRIBE control frame land

	pub := NewPublisherClient(ep)
	defer pub.Close()
	const n = 200
	for i := 0; i < n; i++ {
		if err := pub.PublishRaw("prices", []byte{byte(i), byte(i >> 8)}); err != nil {
			t.Fatalf("PublishRaw %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-received:
			want := []byte{byte(i), byte(i >> 8)}
			if got[0] != want[0] || got[1] != want[1] {
				t.Fatalf("message %d out of order: got %v, want %v", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
}

func TestSubscriberIsSubscribedTracksLocalRegistry(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	startServer(t, srv)

	sub := NewSubscriberClient(ep)
	defer sub.Stop()

	if sub.IsSubscribed("prices") {
		t.Fatal("should not be subscribed before Subscribe")
	}
	if err := sub.SubscribeRaw("prices", func([]byte) {}); err != nil {
		t.Fatalf("SubscribeRaw: %v", err)
	}
	if !sub.IsSubscribed("prices") {
		t.Fatal("should be subscribed after SubscribeRaw")
	}
	if err := sub.CancelSubscribe("prices"); err != nil {
		t.Fatalf("CancelSubscribe: %v", err)
	}
	if sub.IsSubscribed("prices") {
		t.Fatal("should not be subscribed after CancelSubscribe")
	}
}

func TestSubscriberDisconnectStopsFutureDelivery(t *testing.T) {
	srv, ep := newLoopbackServer(t)
	startServer(t, srv)

	received := make(chan struct{}, 1)
	subA := NewSubscriberClient(ep)
	defer subA.Stop()
	if err := subA.SubscribeRaw("news", func([]byte) { received <- struct{}{} }); err != nil {
		t.Fatalf("SubscribeRaw: %v", err)
	}

	subB := NewSubscriberClient(ep)
	if err := subB.SubscribeRaw("news", func([]byte) {}); err != nil {
		t.Fatalf("SubscribeRaw: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	subB.Stop()
	time.Sleep(50 * time.Millisecond)
	if got := srv.Broker().Count(); got != 1 {
		t.Fatalf("got Broker().Count()=%d after one subscriber dropped, want 1", got)
	}

	pub := NewPublisherClient(ep)
	defer pub.Close()
	if err := pub.PublishRaw("news", []byte("breaking")); err != nil {
		t.Fatalf("PublishRaw: %v", err)
	}
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber never received the publish")
	}
}
