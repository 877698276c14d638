package client

import (
	"context"
	"fmt"

	"github.com/dsnet/golib/memfile"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coreconf/codec/cbor"
)

// FETCH is the method code 0.05 defined by RFC 8132.
const FETCH codes.Code = 5

// Request is a CBOR FETCH request. It is immutable once created.
type Request struct {
	endpoint Endpoint
	value    interface{}
	payload  []byte
}

// NewRequest parses uri and serializes value to CBOR.
func NewRequest(uri string, value interface{}) (*Request, error) {
	ep, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	payload, err := cbor.Encode(value)
	if err != nil {
		return nil, err
	}
	return &Request{
		endpoint: ep,
		value:    value,
		payload:  payload,
	}, nil
}

func (r *Request) Code() codes.Code {
	return FETCH
}

func (r *Request) ContentFormat() message.MediaType {
	return message.AppCBOR
}

func (r *Request) Endpoint() Endpoint {
	return r.endpoint
}

// Value returns the value the payload was encoded from.
func (r *Request) Value() interface{} {
	return r.value
}

// Payload returns copy of the CBOR payload.
func (r *Request) Payload() []byte {
	return append([]byte(nil), r.payload...)
}

// message creates a pooled CoAP message for the request. The caller
// releases it through conn.
func (r *Request) message(ctx context.Context, conn Conn) (*pool.Message, error) {
	req := conn.AcquireMessage(ctx)
	token, err := message.GetToken()
	if err != nil {
		conn.ReleaseMessage(req)
		return nil, fmt.Errorf("cannot get token: %w", err)
	}
	req.SetCode(r.Code())
	req.SetToken(token)
	if r.endpoint.Path != "" && r.endpoint.Path != "/" {
		if err := req.SetPath(r.endpoint.Path); err != nil {
			conn.ReleaseMessage(req)
			return nil, fmt.Errorf("cannot set path %v: %w", r.endpoint.Path, err)
		}
	}
	for _, q := range r.endpoint.Queries {
		req.AddQuery(q)
	}
	req.SetContentFormat(r.ContentFormat())
	req.SetBody(memfile.New(r.Payload()))
	return req, nil
}

// Response is the single response received for a Request.
type Response struct {
	Code codes.Code
	// ContentFormat is valid only when HasContentFormat is set.
	ContentFormat    message.MediaType
	HasContentFormat bool
	Payload          []byte
	// Value is the decoded CBOR payload, nil when the response has no payload.
	Value interface{}
}

func newResponse(m *pool.Message) (*Response, error) {
	payload, err := m.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("cannot read response body: %w", err)
	}
	resp := &Response{
		Code:    m.Code(),
		Payload: payload,
	}
	if cf, err := m.ContentFormat(); err == nil {
		resp.ContentFormat = cf
		resp.HasContentFormat = true
	}
	switch {
	case resp.HasContentFormat && resp.ContentFormat != message.AppCBOR:
		// e.g. text/plain diagnostic payload of an error response
		return resp, nil
	case !resp.HasContentFormat && len(payload) == 0:
		return resp, nil
	}
	resp.Value, err = cbor.DecodeValue(payload)
	if err != nil {
		return resp, err
	}
	return resp, nil
}
