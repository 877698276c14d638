package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	piondtls "github.com/pion/dtls/v2"
	"github.com/plgd-dev/go-coap/v3/dtls"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	"go.uber.org/zap"
)

// Conn is the transport context a request is exchanged over. It is
// satisfied by *github.com/plgd-dev/go-coap/v3/udp/client.Conn.
type Conn interface {
	// AcquireMessage creates message from pool.
	AcquireMessage(ctx context.Context) *pool.Message
	// ReleaseMessage returns the message back to the pool.
	ReleaseMessage(m *pool.Message)
	// Do sends the request and waits for the response correlated by token.
	// The wait ends when the request context is done.
	Do(req *pool.Message) (*pool.Message, error)
	Close() error
}

// DialFunc opens a transport context to the endpoint. The returned Conn is
// closed by the caller.
type DialFunc func(ctx context.Context, ep Endpoint, cfg Config) (Conn, error)

var errMissingPSK = errors.New("coaps requires PSK credentials")

// Dial opens a go-coap UDP connection for coap:// endpoints and a DTLS
// connection for coaps:// endpoints.
func Dial(ctx context.Context, ep Endpoint, cfg Config) (Conn, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []udp.Option{
		options.WithContext(ctx),
		options.WithNetwork(cfg.Net),
		options.WithDialer(&net.Dialer{Timeout: cfg.DialTimeout}),
		options.WithMaxMessageSize(cfg.MaxMessageSize),
		options.WithErrors(func(err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Debug("coap transport error", zap.String("endpoint", ep.Address()), zap.Error(err))
		}),
	}
	if !ep.Secure() {
		cc, err := udp.Dial(ep.Address(), opts...)
		if err != nil {
			return nil, fmt.Errorf("cannot dial %v: %w", ep.Address(), err)
		}
		return cc, nil
	}
	dtlsCfg, err := newDTLSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cc, err := dtls.Dial(ep.Address(), dtlsCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot dial dtls %v: %w", ep.Address(), err)
	}
	return cc, nil
}

func newDTLSConfig(ctx context.Context, cfg Config) (*piondtls.Config, error) {
	if cfg.PSK == nil || len(cfg.PSK.Key) == 0 {
		return nil, errMissingPSK
	}
	key := append([]byte(nil), cfg.PSK.Key...)
	return &piondtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return key, nil
		},
		PSKIdentityHint: []byte(cfg.PSK.Identity),
		CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_CCM_8},
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(ctx, cfg.DialTimeout)
		},
	}, nil
}
