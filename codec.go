// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Codec encodes/decodes a structured payload. The framework treats a
// message name as an opaque key into a Registry; it never inspects the
// in-memory value type itself (spec §6, "Codec boundary").
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// Registry maps a message-name string to the Codec that owns it (C2). It is
// deliberately separate from Router: the router decides *which handler*
// runs for a protocol name, the registry decides *how to decode* the body
// the handler receives. Most embedders register exactly one codec under
// every name they use and never touch this type directly; it exists for
// embedders mixing wire formats per message.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
	def    Codec
}

// NewRegistry returns a Registry whose default codec is JSONCodec, matching
// the teacher's own defaultCodec fallback in its Call/CallRaw path.
func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[string]Codec),
		def:    JSONCodec{},
	}
}

// SetDefault replaces the codec used for message names with no explicit
// registration.
func (r *Registry) SetDefault(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def = c
}

// Register binds a message name to a codec; a later call replaces the
// earlier one, matching the router's bind/rebind semantics (spec §3).
func (r *Registry) Register(messageName string, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[messageName] = c
}

// Unregister removes a binding; unknown names are a no-op.
func (r *Registry) Unregister(messageName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codecs, messageName)
}

// Lookup returns the codec bound to messageName, or the registry's default
// if none is bound and a default is set.
func (r *Registry) Lookup(messageName string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.codecs[messageName]; ok {
		return c, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, fmt.Errorf("rpc: no codec for message name %q", messageName)
}

// JSONCodec is the registry's out-of-the-box structured codec.
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// BinaryCodec passes bytes through unchanged, a convenient Codec for
// embedders who pre-encode their own structured payloads. The RAW serialize
// mode does not use it: raw bodies bypass the codec registry entirely.
type BinaryCodec struct{}

func (BinaryCodec) Encode(v interface{}) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	if b, ok := v.(*[]byte); ok {
		return *b, nil
	}
	return json.Marshal(v)
}

func (BinaryCodec) Decode(data []byte, v interface{}) error {
	if b, ok := v.(*[]byte); ok {
		*b = data
		return nil
	}
	return json.Unmarshal(data, v)
}

// Binary is the shared BinaryCodec instance, analogous to the teacher's
// package-level Binary codec value.
var Binary Codec = BinaryCodec{}
