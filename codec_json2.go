// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"

	json2 "github.com/gorilla/rpc/v2/json2"
)

// JSON2Codec wraps a message's payload in a JSON-RPC 2.0 envelope using
// gorilla/rpc's json2 package, the same package the teacher uses for its
// HTTP JSON-RPC client path (json.go's SendJSONRequest). Registering it
// under a message name lets that name's structured payloads travel as
// {"method":..., "params":...} / {"result":...} envelopes instead of bare
// JSON, which is useful when a handler is shared with an HTTP JSON-RPC
// front door outside this package.
//
// Method is the JSON-RPC method name written into the request envelope; it
// is independent of the framework's own protocol-name routing key.
type JSON2Codec struct {
	Method string
}

func (c JSON2Codec) Encode(v interface{}) ([]byte, error) {
	return json2.EncodeClientRequest(c.Method, v)
}

func (c JSON2Codec) Decode(data []byte, v interface{}) error {
	return json2.DecodeClientResponse(bytes.NewReader(data), v)
}
