// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultCallTimeout    = 1 * time.Second
	connectRetryInterval  = 20 * time.Millisecond
)

// ClientOption configures SyncClient, AsyncClient, or SubscriberClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	connectTimeout time.Duration
	callTimeout    time.Duration
	registry       *Registry
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		connectTimeout: defaultConnectTimeout,
		callTimeout:    defaultCallTimeout,
		registry:       NewRegistry(),
	}
}

// WithConnectTimeout bounds how long lazy-connect retries before giving up.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.connectTimeout = d }
}

// WithCallTimeout sets the single-shot timer a SyncClient call starts after
// writing its request (spec §4.8).
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.callTimeout = d }
}

// WithClientRegistry overrides the codec registry a client uses to encode
// requests and decode responses.
func WithClientRegistry(r *Registry) ClientOption {
	return func(c *clientConfig) { c.registry = r }
}

// SyncClient is the synchronous RPC caller (C9): one connection, one call
// in flight at a time, enforced by callMu. A call's expiry disconnects the
// connection; that is the only way to abort a blocked read (spec §5).
type SyncClient struct {
	endpoint Endpoint
	cfg      clientConfig

	callMu sync.Mutex // serialises Call/CallRaw: at most one in-flight pair

	connMu sync.Mutex // guards conn/respCh against concurrent (re)connect
	conn   *Connection
	respCh chan *ResponseFrame
}

// NewSyncClient returns a SyncClient for endpoint. It does not connect
// until the first call.
func NewSyncClient(endpoint Endpoint, opts ...ClientOption) *SyncClient {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SyncClient{endpoint: endpoint, cfg: cfg}
}

func (c *SyncClient) ensureConnected() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	respCh := make(chan *ResponseFrame, 1)
	deadline := time.Now().Add(c.cfg.connectTimeout)
	for {
		netConn, err := net.DialTimeout("tcp", c.endpoint.String(), c.cfg.connectTimeout)
		if err == nil {
			conn := newConnection(netConn, newReactor(0, 16), responseFrameReader, func(frame interface{}) {
				if resp, ok := frame.(*ResponseFrame); ok {
					select {
					case respCh <- resp:
					default:
					}
				}
			}, nil, true)
			conn.Start()
			c.conn = conn
			c.respCh = respCh
			return nil
		}
		if time.Now().After(deadline) {
			return ErrConnectTimeout
		}
		time.Sleep(connectRetryInterval)
	}
}

// Call makes a structured RPC call, encoding req and decoding the response
// body into reply through the codec bound to messageName.
func (c *SyncClient) Call(protocol, messageName string, req interface{}, reply interface{}) error {
	codec, err := c.cfg.registry.Lookup(messageName)
	if err != nil {
		return err
	}
	body, err := codec.Encode(req)
	if err != nil {
		return err
	}
	resp, err := c.call(ClientFlag{Mode: Structured, Role: RoleRPC}, protocol, messageName, body)
	if err != nil {
		return err
	}
	if reply != nil && len(resp.Body) > 0 {
		return codec.Decode(resp.Body, reply)
	}
	return nil
}

// CallRaw makes a raw RPC call with an opaque body.
func (c *SyncClient) CallRaw(protocol string, body []byte) ([]byte, error) {
	resp, err := c.call(ClientFlag{Mode: Raw, Role: RoleRPC}, protocol, "", body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *SyncClient) call(flag ClientFlag, protocol, messageName string, body []byte) (*ResponseFrame, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	buf, err := EncodeRequest(&RequestFrame{CallID: 0, Flag: flag, Protocol: protocol, MessageName: messageName, Body: body})
	if err != nil {
		return nil, err
	}
	conn := c.conn
	respCh := c.respCh
	if err := conn.AsyncWrite(buf); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.callTimeout)
	defer timer.Stop()
	select {
	case resp := <-respCh:
		return resp, responseError(resp)
	case <-timer.C:
		conn.Disconnect()
		return nil, ErrTimeout
	case <-conn.closed:
		return nil, ErrClosed
	}
}

func responseError(resp *ResponseFrame) error {
	switch resp.Code {
	case ErrCodeOK:
		return nil
	case ErrCodeRouteFailed:
		return ErrRouteFailed
	case ErrCodeHandlerError:
		return ErrHandlerFailed
	case ErrCodeTimeout:
		return ErrTimeout
	default:
		return fmt.Errorf("rpc: %s", resp.Code.String())
	}
}

// Close disconnects the client's underlying connection, if any.
func (c *SyncClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Disconnect()
	}
	return nil
}
