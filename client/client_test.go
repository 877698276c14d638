package client_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coreconf/client"
	"github.com/plgd-dev/go-coreconf/codec/cbor"
	"github.com/plgd-dev/go-coreconf/server"
	"github.com/plgd-dev/go-coreconf/sid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type sentRequest struct {
	code          codes.Code
	contentFormat message.MediaType
	path          string
	queries       []string
	token         message.Token
	payload       []byte
}

type fakeConn struct {
	handler func(req *pool.Message) (*pool.Message, error)
	closed  atomic.Bool

	mutex sync.Mutex
	sent  []sentRequest
}

func (c *fakeConn) AcquireMessage(ctx context.Context) *pool.Message {
	return pool.NewMessage(ctx)
}

func (c *fakeConn) ReleaseMessage(*pool.Message) {}

func (c *fakeConn) Do(req *pool.Message) (*pool.Message, error) {
	s := sentRequest{code: req.Code(), token: req.Token()}
	s.contentFormat, _ = req.ContentFormat()
	if p, err := req.Path(); err == nil {
		s.path = "/" + strings.TrimPrefix(p, "/")
	}
	s.queries, _ = req.Queries()
	s.payload, _ = req.ReadBody()
	c.mutex.Lock()
	c.sent = append(c.sent, s)
	c.mutex.Unlock()
	return c.handler(req)
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) requests() []sentRequest {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]sentRequest(nil), c.sent...)
}

func dialFake(conn *fakeConn) client.DialFunc {
	return func(context.Context, client.Endpoint, client.Config) (client.Conn, error) {
		return conn, nil
	}
}

func respond(code codes.Code, contentFormat message.MediaType, payload []byte) func(req *pool.Message) (*pool.Message, error) {
	return func(req *pool.Message) (*pool.Message, error) {
		resp := pool.NewMessage(req.Context())
		resp.SetCode(code)
		resp.SetToken(req.Token())
		resp.SetContentFormat(contentFormat)
		if payload != nil {
			resp.SetBody(bytes.NewReader(payload))
		}
		return resp, nil
	}
}

func silent(req *pool.Message) (*pool.Message, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func mustEncode(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := cbor.Encode(v)
	require.NoError(t, err)
	return b
}

func TestClientFetchRequest(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		value interface{}
		path  string
	}{
		{
			name:  "sid-1008",
			uri:   "coap://[fe80::cc66:c2ff:fe36:62fe%tap0]/sid",
			value: []interface{}{1008, []interface{}{1013, 2}},
			path:  "/sid",
		},
		{
			name:  "sid-60005",
			uri:   "coap://127.0.0.1:5683/c/sid?k=1",
			value: []interface{}{60005, []interface{}{60007, 0}},
			path:  "/c/sid",
		},
		{
			name:  "map",
			uri:   "coap://127.0.0.1/sid",
			value: map[string]interface{}{"a": 1},
			path:  "/sid",
		},
		{
			name:  "scalar",
			uri:   "coap://127.0.0.1/sid",
			value: 1008,
			path:  "/sid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{handler: respond(codes.Content, message.AppCBOR, mustEncode(t, tt.value))}
			c, err := client.New(client.WithDialer(dialFake(conn)))
			require.NoError(t, err)

			resp, err := c.Fetch(context.Background(), tt.uri, tt.value)
			require.NoError(t, err)
			assert.Equal(t, codes.Content, resp.Code)
			assert.True(t, resp.HasContentFormat)
			assert.Equal(t, message.AppCBOR, resp.ContentFormat)

			sent := conn.requests()
			require.Len(t, sent, 1)
			assert.Equal(t, client.FETCH, sent[0].code)
			assert.Equal(t, message.MediaType(60), sent[0].contentFormat)
			assert.Equal(t, tt.path, sent[0].path)
			assert.NotEmpty(t, sent[0].token)
			assert.Equal(t, mustEncode(t, tt.value), sent[0].payload)
			assert.True(t, conn.closed.Load())
		})
	}
}

func TestClientFetchDecodesResponse(t *testing.T) {
	for _, literal := range [][]interface{}{
		{1008, []interface{}{1013, 2}},
		{60005, []interface{}{60007, 0}},
	} {
		conn := &fakeConn{handler: respond(codes.Content, message.AppCBOR, mustEncode(t, literal))}
		resp, err := client.SendCBORRequest(context.Background(), "coap://127.0.0.1/sid", literal, client.WithDialer(dialFake(conn)))
		require.NoError(t, err)
		want, err := cbor.DecodeValue(mustEncode(t, literal))
		require.NoError(t, err)
		assert.Equal(t, want, resp.Value)

		vp, err := sid.ParseValuePath(resp.Value)
		require.NoError(t, err)
		assert.Equal(t, sid.SID(literal[0].(int)), vp.Parent)
	}
}

func TestClientFetchTruncatedResponse(t *testing.T) {
	payload := mustEncode(t, []interface{}{1008, []interface{}{1013, 2}})
	tests := []struct {
		name    string
		handler func(req *pool.Message) (*pool.Message, error)
	}{
		{
			name:    "cbor",
			handler: respond(codes.Content, message.AppCBOR, payload[:len(payload)-2]),
		},
		{
			name: "without-content-format",
			handler: func(req *pool.Message) (*pool.Message, error) {
				resp := pool.NewMessage(req.Context())
				resp.SetCode(codes.Content)
				resp.SetToken(req.Token())
				resp.SetBody(bytes.NewReader(payload[:3]))
				return resp, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{handler: tt.handler}
			c, err := client.New(client.WithDialer(dialFake(conn)))
			require.NoError(t, err)
			resp, err := c.Fetch(context.Background(), "coap://127.0.0.1/sid", []interface{}{1008})
			require.ErrorIs(t, err, cbor.ErrDecode)
			assert.Nil(t, resp)
			assert.True(t, conn.closed.Load())
		})
	}
}

func TestClientFetchEmptyCBORResponse(t *testing.T) {
	conn := &fakeConn{handler: respond(codes.Content, message.AppCBOR, nil)}
	c, err := client.New(client.WithDialer(dialFake(conn)))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "coap://127.0.0.1/sid", []interface{}{1008})
	require.ErrorIs(t, err, cbor.ErrDecode)
}

func TestClientFetchErrorResponse(t *testing.T) {
	conn := &fakeConn{handler: respond(codes.NotFound, message.TextPlain, []byte("not found"))}
	c, err := client.New(client.WithDialer(dialFake(conn)))
	require.NoError(t, err)
	resp, err := c.Fetch(context.Background(), "coap://127.0.0.1/sid", []interface{}{1008})
	require.NoError(t, err)
	assert.Equal(t, codes.NotFound, resp.Code)
	assert.Nil(t, resp.Value)
	assert.Equal(t, []byte("not found"), resp.Payload)
}

func TestClientFetchTimeout(t *testing.T) {
	conn := &fakeConn{handler: silent}
	c, err := client.New(client.WithDialer(dialFake(conn)), client.WithTimeout(time.Millisecond*100))
	require.NoError(t, err)

	start := time.Now()
	resp, err := c.Fetch(context.Background(), "coap://127.0.0.1/sid", []interface{}{1008, []interface{}{1013, 2}})
	require.ErrorIs(t, err, client.ErrTimeout)
	assert.False(t, errors.Is(err, client.ErrTransport))
	assert.Nil(t, resp)
	assert.Less(t, time.Since(start), time.Second*2)
	assert.True(t, conn.closed.Load())
}

func TestClientFetchCanceled(t *testing.T) {
	conn := &fakeConn{handler: silent}
	c, err := client.New(client.WithDialer(dialFake(conn)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Millisecond * 50)
		cancel()
	}()
	_, err = c.Fetch(ctx, "coap://127.0.0.1/sid", []interface{}{1008})
	require.ErrorIs(t, err, client.ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, conn.closed.Load())
}

func TestClientFetchDialError(t *testing.T) {
	errUnreachable := errors.New("network is unreachable")
	c, err := client.New(client.WithDialer(func(context.Context, client.Endpoint, client.Config) (client.Conn, error) {
		return nil, errUnreachable
	}))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "coap://[fe80::1%tap0]/sid", []interface{}{1008})
	require.ErrorIs(t, err, client.ErrTransport)
	require.ErrorIs(t, err, errUnreachable)
}

func TestClientFetchDialDeadline(t *testing.T) {
	c, err := client.New(client.WithDialer(func(context.Context, client.Endpoint, client.Config) (client.Conn, error) {
		return nil, fmt.Errorf("handshake error: %w", context.DeadlineExceeded)
	}))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "coaps://127.0.0.1/sid", []interface{}{1008})
	require.ErrorIs(t, err, client.ErrTransport)
	require.NotErrorIs(t, err, client.ErrTimeout)
}

func TestClientFetchSendError(t *testing.T) {
	errWrite := errors.New("cannot write")
	conn := &fakeConn{handler: func(*pool.Message) (*pool.Message, error) {
		return nil, errWrite
	}}
	c, err := client.New(client.WithDialer(dialFake(conn)))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "coap://127.0.0.1/sid", []interface{}{1008})
	require.ErrorIs(t, err, client.ErrTransport)
	assert.True(t, conn.closed.Load())
}

func TestClientFetchEncodeError(t *testing.T) {
	dialed := atomic.NewBool(false)
	c, err := client.New(client.WithDialer(func(context.Context, client.Endpoint, client.Config) (client.Conn, error) {
		dialed.Store(true)
		return nil, errors.New("unexpected dial")
	}))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "coap://127.0.0.1/sid", []interface{}{1008, make(chan int)})
	require.ErrorIs(t, err, cbor.ErrEncode)
	assert.False(t, dialed.Load())
}

func TestClientFetchInvalidURI(t *testing.T) {
	c, err := client.New()
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "http://127.0.0.1/sid", []interface{}{1008})
	require.ErrorIs(t, err, client.ErrInvalidURI)
}

func TestClientClosed(t *testing.T) {
	conn := &fakeConn{handler: respond(codes.Content, message.AppCBOR, mustEncode(t, 1))}
	c, err := client.New(client.WithDialer(dialFake(conn)))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, err = c.Fetch(context.Background(), "coap://127.0.0.1/sid", 1)
	require.ErrorIs(t, err, client.ErrClosed)
	assert.Empty(t, conn.requests())
}

func TestClientInvalidConfig(t *testing.T) {
	_, err := client.New(client.WithTimeout(0))
	require.Error(t, err)
}

func TestClientFetchIdentifiers(t *testing.T) {
	conn := &fakeConn{handler: respond(codes.Content, message.AppCBOR, mustEncode(t, []interface{}{"up", 2}))}
	c, err := client.New(client.WithDialer(dialFake(conn)))
	require.NoError(t, err)
	resp, err := c.FetchIdentifiers(context.Background(), "coap://127.0.0.1/sid", sid.Identifier{SID: 1008}, sid.NewIdentifier(1013, 2))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"up", uint64(2)}, resp.Value)

	sent := conn.requests()
	require.Len(t, sent, 1)
	assert.Equal(t, mustEncode(t, []interface{}{1008, []interface{}{1013, 2}}), sent[0].payload)
}

func TestClientFetchAll(t *testing.T) {
	var mutex sync.Mutex
	conns := make(map[string]*fakeConn)
	c, err := client.New(client.WithMaxParallel(2), client.WithTimeout(time.Millisecond*200), client.WithDialer(func(_ context.Context, ep client.Endpoint, _ client.Config) (client.Conn, error) {
		conn := &fakeConn{handler: respond(codes.Content, message.AppCBOR, mustEncode(t, ep.Path))}
		if ep.Host == "127.0.0.2" {
			conn.handler = silent
		}
		mutex.Lock()
		conns[ep.Address()+ep.Path] = conn
		mutex.Unlock()
		return conn, nil
	}))
	require.NoError(t, err)

	targets := []client.Target{
		{URI: "coap://127.0.0.1/a", Payload: []interface{}{1008}},
		{URI: "coap://127.0.0.2/b", Payload: []interface{}{1013}},
		{URI: "coap://127.0.0.1/c", Payload: []interface{}{60005}},
		{URI: "ftp://127.0.0.1/d", Payload: []interface{}{1}},
	}
	results := c.FetchAll(context.Background(), targets)
	require.Len(t, results, len(targets))

	require.NoError(t, results[0].Err)
	assert.Equal(t, "/a", results[0].Response.Value)
	require.ErrorIs(t, results[1].Err, client.ErrTimeout)
	require.NoError(t, results[2].Err)
	assert.Equal(t, "/c", results[2].Response.Value)
	require.ErrorIs(t, results[3].Err, client.ErrInvalidURI)
	for i, r := range results {
		assert.Equal(t, targets[i], r.Target)
	}
	for _, conn := range conns {
		assert.True(t, conn.closed.Load())
	}
}

func TestClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	conn := &fakeConn{handler: respond(codes.Content, message.AppCBOR, mustEncode(t, 1))}
	c, err := client.New(client.WithRegisterer(reg), client.WithDialer(dialFake(conn)))
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "coap://127.0.0.1/sid", 1)
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "coap://127.0.0.1/sid", make(chan int))
	require.Error(t, err)

	// second client shares collectors of the registry
	c2, err := client.New(client.WithRegisterer(reg), client.WithDialer(dialFake(conn)))
	require.NoError(t, err)
	_, err = c2.Fetch(context.Background(), "coap://127.0.0.1/sid", 1)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "coreconf_client_requests_total", "coreconf_client_request_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(2), values["coreconf_client_requests_total"])
	assert.Equal(t, float64(1), values["coreconf_client_request_errors_total"])
}

func newTestServer(t *testing.T, ds *server.Datastore) string {
	t.Helper()
	h := server.NewHandler(ds)
	m, err := h.Router()
	require.NoError(t, err)
	s, err := server.Listen("udp", "127.0.0.1:0", m, nil)
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := s.Serve()
		assert.NoError(t, err)
	}()
	t.Cleanup(func() {
		_ = s.Close()
		wg.Wait()
	})
	return s.Addr().String()
}

func TestSendCBORRequestLoopback(t *testing.T) {
	ds := server.NewDatastore()
	require.NoError(t, ds.Set(sid.Identifier{SID: 1008}, "ietf-system"))
	require.NoError(t, ds.Set(sid.NewIdentifier(1013, uint64(2)), []interface{}{uint64(1013), uint64(2)}))
	addr := newTestServer(t, ds)

	resp, err := client.SendCBORRequest(context.Background(), "coap://"+addr+"/sid", []interface{}{1008, []interface{}{1013, 2}}, client.WithTimeout(time.Second*3))
	require.NoError(t, err)
	assert.Equal(t, codes.Content, resp.Code)
	assert.Equal(t, []interface{}{"ietf-system", []interface{}{uint64(1013), uint64(2)}}, resp.Value)
}

func TestClientFetchTimeoutLoopback(t *testing.T) {
	// peer that reads datagrams and never answers
	l, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		b := make([]byte, 1500)
		for {
			if _, _, err := l.ReadFrom(b); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	_, err = client.SendCBORRequest(context.Background(), "coap://"+l.LocalAddr().String()+"/sid", []interface{}{60005, []interface{}{60007, 0}}, client.WithTimeout(time.Millisecond*300))
	require.ErrorIs(t, err, client.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second*3)
}
