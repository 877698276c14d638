package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// A Option sets options such as timeouts, credentials and logging.
type Option interface {
	Apply(cfg *Config)
}

// TimeoutOpt bounds the response wait.
type TimeoutOpt struct {
	timeout time.Duration
}

func (o TimeoutOpt) Apply(cfg *Config) {
	cfg.Timeout = o.timeout
}

// WithTimeout sets how long a request waits for its response.
func WithTimeout(timeout time.Duration) TimeoutOpt {
	return TimeoutOpt{timeout: timeout}
}

type DialTimeoutOpt struct {
	timeout time.Duration
}

func (o DialTimeoutOpt) Apply(cfg *Config) {
	cfg.DialTimeout = o.timeout
}

// WithDialTimeout sets timeout of dial and DTLS handshake.
func WithDialTimeout(timeout time.Duration) DialTimeoutOpt {
	return DialTimeoutOpt{timeout: timeout}
}

type MaxMessageSizeOpt struct {
	maxMessageSize uint32
}

func (o MaxMessageSizeOpt) Apply(cfg *Config) {
	cfg.MaxMessageSize = o.maxMessageSize
}

// WithMaxMessageSize limits size of a message.
func WithMaxMessageSize(maxMessageSize uint32) MaxMessageSizeOpt {
	return MaxMessageSizeOpt{maxMessageSize: maxMessageSize}
}

type NetOpt struct {
	net string
}

func (o NetOpt) Apply(cfg *Config) {
	cfg.Net = o.net
}

// WithNetwork define's udp protocol (udp, udp4, udp6).
func WithNetwork(net string) NetOpt {
	return NetOpt{net: net}
}

type PSKOpt struct {
	psk *PSK
}

func (o PSKOpt) Apply(cfg *Config) {
	cfg.PSK = o.psk
}

// WithPSK sets DTLS pre-shared key credentials for coaps:// targets.
func WithPSK(identity string, key []byte) PSKOpt {
	return PSKOpt{psk: &PSK{Identity: identity, Key: key}}
}

type LoggerOpt struct {
	logger *zap.Logger
}

func (o LoggerOpt) Apply(cfg *Config) {
	if o.logger != nil {
		cfg.Logger = o.logger
	}
}

func WithLogger(logger *zap.Logger) LoggerOpt {
	return LoggerOpt{logger: logger}
}

type RegistererOpt struct {
	registerer prometheus.Registerer
}

func (o RegistererOpt) Apply(cfg *Config) {
	cfg.Registerer = o.registerer
}

// WithRegisterer enables request metrics on the registerer.
func WithRegisterer(registerer prometheus.Registerer) RegistererOpt {
	return RegistererOpt{registerer: registerer}
}

type MaxParallelOpt struct {
	maxParallel int
}

func (o MaxParallelOpt) Apply(cfg *Config) {
	cfg.MaxParallel = o.maxParallel
}

// WithMaxParallel limits concurrent requests of FetchAll.
func WithMaxParallel(maxParallel int) MaxParallelOpt {
	return MaxParallelOpt{maxParallel: maxParallel}
}

type DialerOpt struct {
	dial DialFunc
}

func (o DialerOpt) Apply(cfg *Config) {
	if o.dial != nil {
		cfg.Dial = o.dial
	}
}

// WithDialer replaces the function that opens the transport context.
func WithDialer(dial DialFunc) DialerOpt {
	return DialerOpt{dial: dial}
}
