// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"net"
	"sync"
	"time"
)

// PublisherClient is the publisher caller role: a lazy-connecting,
// fire-and-forget sender that hands published frames to the broker via the
// PUBLISHER client-flag (spec §3, §4.6). It never waits for a response;
// the server never writes one back for this role.
type PublisherClient struct {
	endpoint Endpoint
	cfg      clientConfig

	connMu sync.Mutex
	conn   *Connection
}

// NewPublisherClient returns a PublisherClient for endpoint. It does not
// connect until the first Publish/PublishRaw call.
func NewPublisherClient(endpoint Endpoint, opts ...ClientOption) *PublisherClient {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PublisherClient{endpoint: endpoint, cfg: cfg}
}

func (p *PublisherClient) ensureConnected() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	deadline := time.Now().Add(p.cfg.connectTimeout)
	for {
		netConn, err := net.DialTimeout("tcp", p.endpoint.String(), p.cfg.connectTimeout)
		if err == nil {
			conn := newConnection(netConn, newReactor(0, 16), responseFrameReader, func(interface{}) {}, nil, true)
			conn.Start()
			p.conn = conn
			return nil
		}
		if time.Now().After(deadline) {
			return ErrConnectTimeout
		}
		time.Sleep(connectRetryInterval)
	}
}

// Publish encodes req with the codec bound to messageName and sends it to
// topic in structured mode. It returns once the frame is handed to the
// connection's send queue, not once the broker has fanned it out.
func (p *PublisherClient) Publish(topic, messageName string, req interface{}) error {
	codec, err := p.cfg.registry.Lookup(messageName)
	if err != nil {
		return err
	}
	body, err := codec.Encode(req)
	if err != nil {
		return err
	}
	return p.send(Structured, topic, messageName, body)
}

// PublishRaw sends body to topic in raw mode, bypassing the codec registry.
func (p *PublisherClient) PublishRaw(topic string, body []byte) error {
	return p.send(Raw, topic, "", body)
}

func (p *PublisherClient) send(mode SerializeMode, topic, messageName string, body []byte) error {
	if err := p.ensureConnected(); err != nil {
		return err
	}
	buf, err := EncodeRequest(&RequestFrame{
		Flag:        ClientFlag{Mode: mode, Role: RolePublisher},
		Protocol:    topic,
		MessageName: messageName,
		Body:        body,
	})
	if err != nil {
		return err
	}
	return p.conn.AsyncWrite(buf)
}

// Close disconnects the client's underlying connection, if any.
func (p *PublisherClient) Close() error {
	p.connMu.Lock()
	conn := p.conn
	p.connMu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
	return nil
}
