// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"
	"testing"
)

func TestRequestFrameRoundTrip(t *testing.T) {
	f := &RequestFrame{
		CallID:      42,
		Flag:        ClientFlag{Mode: Structured, Role: RoleAsyncRPC},
		Protocol:    "echo",
		MessageName: "EchoRequest",
		Body:        []byte(`{"text":"hi"}`),
	}
	buf, err := EncodeRequest(f)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got, err := DecodeRequest(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if got.CallID != f.CallID || got.Flag != f.Flag || got.Protocol != f.Protocol ||
		got.MessageName != f.MessageName || !bytes.Equal(got.Body, f.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestResponseFrameRoundTrip(t *testing.T) {
	f := &ResponseFrame{CallID: 7, Code: ErrCodeOK, MessageName: "EchoReply", Body: []byte("pong")}
	buf, err := EncodeResponse(f)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	got, err := DecodeResponse(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got.CallID != f.CallID || got.Code != f.Code || got.MessageName != f.MessageName || !bytes.Equal(got.Body, f.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestPushFrameRoundTrip(t *testing.T) {
	f := &PushFrame{Mode: Raw, Protocol: "prices", MessageName: "", Body: []byte{1, 2, 3}}
	buf, err := EncodePush(f)
	if err != nil {
		t.Fatalf("EncodePush: %v", err)
	}
	got, err := DecodePush(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("DecodePush: %v", err)
	}
	if got.Mode != f.Mode || got.Protocol != f.Protocol || !bytes.Equal(got.Body, f.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestEncodeRequestRejectsOversizedBody(t *testing.T) {
	f := &RequestFrame{Protocol: "p", Body: make([]byte, MaxFrame+1)}
	if _, err := EncodeRequest(f); err != ErrFrameTooLarge {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeRequestRejectsOversizedHeader(t *testing.T) {
	var hdr [24]byte
	frameByteOrder.PutUint32(hdr[20:24], uint32(MaxFrame+1))
	if _, err := DecodeRequest(bytes.NewReader(hdr[:])); err != ErrFrameTooLarge {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeRequestShortReadIsError(t *testing.T) {
	if _, err := DecodeRequest(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Fatal("want error on short header read")
	}
}
