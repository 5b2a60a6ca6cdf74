// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpc implements a length-prefixed binary RPC and publish/subscribe
// framework over TCP.
//
// A single Server accepts connections from four client roles: a synchronous
// RPC caller (SyncClient), an asynchronous RPC caller (AsyncClient), a
// publisher, and a subscriber (SubscriberClient). Inbound requests are
// dispatched through a Router, keyed by a textual protocol name, in one of
// two modes: STRUCTURED (payload goes through a named Codec) or RAW (payload
// is opaque bytes). Handlers run on a fixed WorkerPool, never on the I/O
// goroutines that read and write the wire.
//
// # Usage
//
// Server:
//
//	srv := rpc.NewServer()
//	srv.BindRaw("echo", func(ctx context.Context, body []byte, sessionID string) ([]byte, error) {
//	    return body, nil
//	})
//	if err := srv.Listen(rpc.Endpoint{Port: 9000}); err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Run()
//	defer srv.Stop()
//
// Synchronous caller:
//
//	c := rpc.NewSyncClient(rpc.Endpoint{Host: "127.0.0.1", Port: 9000})
//	resp, err := c.CallRaw("echo", []byte("hello"))
//
// Publish/subscribe:
//
//	sub := rpc.NewSubscriberClient(rpc.Endpoint{Host: "127.0.0.1", Port: 9000})
//	sub.SubscribeRaw("prices", func(body []byte) { ... })
//	sub.Run()
//
// # Architecture
//
// The package separates concerns across files, mirroring the component
// breakdown of the wire protocol it implements:
//
//   - frame.go: request/response/push frame codec (fixed headers, size caps)
//   - codec.go, codec_json2.go: the message-name -> codec registry
//   - conn.go: per-socket state machine, read loop, write queue
//   - workerpool.go: bounded executor for handler code
//   - reactor.go: pool of I/O loops, round-robin connection assignment
//   - router.go: protocol-name -> handler dispatch, structured and raw
//   - broker.go: topic -> subscriber fan-out
//   - server.go: binds the above into a listening server
//   - sync_client.go, async_client.go, publisher.go, subscriber.go: the four caller roles
//   - metrics.go, otel_provider.go: OpenTelemetry instrumentation, purely observational
//   - admin_grpc.go: optional gRPC introspection surface (build tag "grpc")
package rpc
