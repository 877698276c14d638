package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var DefaultConfig = func() Config {
	return Config{
		Net:            "udp",
		Timeout:        time.Second * 5,
		DialTimeout:    time.Second * 3,
		MaxMessageSize: 64 * 1024,
		MaxParallel:    4,
		Logger:         zap.NewNop(),
		Dial:           Dial,
	}
}()

// PSK holds DTLS pre-shared key credentials used for coaps:// targets.
type PSK struct {
	Identity string
	Key      []byte
}

type Config struct {
	Net string
	// Timeout bounds the wait for the response of a single request.
	Timeout        time.Duration
	DialTimeout    time.Duration
	MaxMessageSize uint32
	PSK            *PSK
	Logger         *zap.Logger
	// Registerer enables request metrics when set.
	Registerer prometheus.Registerer
	// MaxParallel limits concurrent requests issued by FetchAll. Zero or
	// negative means unlimited.
	MaxParallel int
	Dial        DialFunc
}
