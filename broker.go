// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import "sync"

type topicKey struct {
	mode  SerializeMode
	topic string
}

// Broker maps (topic, mode) to an ordered set of subscriber connections and
// fans published frames out to them (C7). The structured and raw subscriber
// sets are disjoint, mirroring the router's two handler maps.
type Broker struct {
	mu sync.RWMutex
	// subs[topicKey] holds subscribers in the order they subscribed, so a
	// single Publish call dispatches in that order (spec §4.6 "fan-out
	// ordering").
	subs map[topicKey][]*Connection
	// owned is the reverse index used by RemoveAll to drop every
	// subscription a closing connection held without scanning every topic.
	owned map[*Connection]map[topicKey]struct{}

	metrics *Metrics
}

// SetMetrics attaches OpenTelemetry instrumentation; nil disables it.
func (b *Broker) SetMetrics(m *Metrics) { b.metrics = m }

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs:  make(map[topicKey][]*Connection),
		owned: make(map[*Connection]map[topicKey]struct{}),
	}
}

// Subscribe adds conn to topic's subscriber set for mode. Idempotent: a
// connection already subscribed is left exactly where it was.
func (b *Broker) Subscribe(conn *Connection, topic string, mode SerializeMode) {
	key := topicKey{mode: mode, topic: topic}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs[key] {
		if c == conn {
			return
		}
	}
	b.subs[key] = append(b.subs[key], conn)
	set, ok := b.owned[conn]
	if !ok {
		set = make(map[topicKey]struct{})
		b.owned[conn] = set
	}
	set[key] = struct{}{}
}

// Cancel removes conn from topic's subscriber set for mode. Absent is a
// no-op.
func (b *Broker) Cancel(conn *Connection, topic string, mode SerializeMode) {
	key := topicKey{mode: mode, topic: topic}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(conn, key)
}

func (b *Broker) removeLocked(conn *Connection, key topicKey) {
	list := b.subs[key]
	for i, c := range list {
		if c == conn {
			b.subs[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
	if set, ok := b.owned[conn]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(b.owned, conn)
		}
	}
}

// RemoveAll drops every subscription conn holds, atomically with respect to
// any concurrent Publish. It is called from the connection's close path
// (spec §4.2, §4.6) so a closing connection can never receive a "ghost"
// dispatch after it is gone.
func (b *Broker) RemoveAll(conn *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.owned[conn] {
		b.removeLocked(conn, key)
	}
}

// Publish delivers body to every subscriber of (topic, mode), in the order
// they subscribed. messageName is whatever the publisher's request frame
// carried (empty in raw mode). Delivery is best-effort: a subscriber whose
// write fails is disconnected by its own write loop, which in turn calls
// RemoveAll on close; Publish itself never needs to notice the failure.
func (b *Broker) Publish(topic string, mode SerializeMode, messageName string, body []byte) {
	key := topicKey{mode: mode, topic: topic}
	b.mu.RLock()
	subscribers := make([]*Connection, len(b.subs[key]))
	copy(subscribers, b.subs[key])
	b.mu.RUnlock()
	if len(subscribers) == 0 {
		return
	}
	buf, err := EncodePush(&PushFrame{Mode: mode, Protocol: topic, MessageName: messageName, Body: body})
	if err != nil {
		return
	}
	for _, conn := range subscribers {
		conn.Send(buf)
	}
	if b.metrics != nil {
		b.metrics.recordFanout(topic, len(subscribers))
	}
}

// Count returns the total number of (connection, topic) subscription pairs
// currently held, used by tests checking the cleanup invariant (spec §8
// property 7) and by the admin surface.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	return n
}
