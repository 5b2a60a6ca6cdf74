//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the admin service exchange plain Go structs over gRPc
// without a .proto toolchain: messages are marshalled with encoding/json
// instead of protobuf. It is registered under the "json" content-subtype,
// mirroring the teacher's dial_grpc.go build-tag isolation for anything
// gRPC-shaped.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// StatsRequest is the (empty) request for the Stats admin call.
type StatsRequest struct{}

// StatsResponse reports read-only counters for operational visibility. It
// never exposes payloads or handler identities, only counts (SPEC_FULL.md
// DOMAIN STACK: ops tooling that never carries core RPC/pub-sub traffic).
type StatsResponse struct {
	Sessions      int32 `json:"sessions"`
	Subscriptions int32 `json:"subscriptions"`
}

// adminService implements the hand-rolled gRPC service backing Stats.
type adminService struct {
	server *Server
}

func (a *adminService) stats(ctx context.Context, req interface{}) (interface{}, error) {
	return &StatsResponse{
		Sessions:      int32(a.server.SessionCount()),
		Subscriptions: int32(a.server.Broker().Count()),
	}, nil
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "rpc.Admin",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Stats",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(StatsRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				svc := srv.(*adminService)
				if interceptor == nil {
					return svc.stats(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/rpc.Admin/Stats"}
				return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
					return svc.stats(ctx, req)
				})
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin_grpc.go",
}

// AdminServer is the optional gRPC introspection surface: a read-only view
// of session and subscription counts for operators, entirely separate from
// the RPC/pub-sub listeners (C8). It is only compiled with -tags grpc,
// following the teacher's own pattern of isolating the gRPC transport
// behind a build tag.
type AdminServer struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// NewAdminServer builds a gRPC server exposing s's live counters and binds
// it to addr. It does not start serving until Serve is called.
func NewAdminServer(s *Server, addr string) (*AdminServer, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: admin listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	gs.RegisterService(&adminServiceDesc, &adminService{server: s})
	return &AdminServer{grpcServer: gs, listener: l}, nil
}

// Serve blocks, accepting admin connections until Stop is called.
func (a *AdminServer) Serve() error {
	return a.grpcServer.Serve(a.listener)
}

// Stop gracefully shuts the admin server down.
func (a *AdminServer) Stop() {
	a.grpcServer.GracefulStop()
}
