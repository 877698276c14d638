// Package client sends CORECONF FETCH requests with CBOR payloads over CoAP
// and decodes the CBOR response.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coreconf/sid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Client issues single-shot FETCH requests. Every request dials its own
// transport context and closes it before returning. Client is safe for
// concurrent use.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics
	closed  atomic.Bool
}

// New creates client with DefaultConfig modified by opts.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig
	for _, o := range opts {
		o.Apply(&cfg)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("invalid timeout %v", cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dial == nil {
		cfg.Dial = Dial
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("cannot register metrics: %w", err)
	}
	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: m,
	}, nil
}

// SendCBORRequest creates a client, sends value to uri as a CBOR FETCH and
// returns the decoded response.
func SendCBORRequest(ctx context.Context, uri string, value interface{}, opts ...Option) (*Response, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Fetch(ctx, uri, value)
}

// Fetch sends value encoded as CBOR to uri.
//
// An error is returned if the value cannot be encoded, the request cannot be
// delivered, no response arrives within Config.Timeout or the response
// payload is not valid CBOR. Any status code doesn't cause an error.
func (c *Client) Fetch(ctx context.Context, uri string, value interface{}) (*Response, error) {
	req, err := NewRequest(uri, value)
	if err != nil {
		c.metrics.observe(time.Now(), 0, err)
		return nil, err
	}
	return c.Do(ctx, req)
}

// FetchIdentifiers requests the listed instance identifiers from uri.
func (c *Client) FetchIdentifiers(ctx context.Context, uri string, ids ...sid.Identifier) (*Response, error) {
	return c.Fetch(ctx, uri, sid.Request(ids))
}

// Do sends the request and waits for exactly one response.
func (c *Client) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		var code codes.Code
		if resp != nil {
			code = resp.Code
		}
		c.metrics.observe(start, code, err)
	}()
	if c.closed.Load() {
		return nil, ErrClosed
	}
	ep := req.Endpoint()
	logger := c.logger.With(zap.String("uri", ep.String()))
	logger.Info("sending request", zap.Any("value", req.Value()), zap.Binary("payload", req.payload))

	conn, err := c.cfg.Dial(ctx, ep, c.cfg)
	if err != nil {
		// a handshake deadline is a failed transport context, not a response timeout
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() {
		if errClose := conn.Close(); errClose != nil {
			logger.Debug("cannot close connection", zap.Error(errClose))
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	msg, err := req.message(reqCtx, conn)
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}
	defer conn.ReleaseMessage(msg)

	respMsg, err := conn.Do(msg)
	if err != nil {
		logger.Debug("request failed", zap.Error(err))
		return nil, transportError(err)
	}
	defer conn.ReleaseMessage(respMsg)

	resp, err = newResponse(respMsg)
	if err != nil {
		logger.Debug("cannot decode response", zap.Error(err))
		return nil, err
	}
	logger.Info("received response", zap.Stringer("code", resp.Code), zap.Any("value", resp.Value))
	return resp, nil
}

// Close marks the client closed. Requests issued afterwards fail with
// ErrClosed.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}
