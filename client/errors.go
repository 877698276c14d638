package client

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransport is returned when the transport context cannot be
	// established or the request cannot be delivered.
	ErrTransport = errors.New("transport error")
	// ErrTimeout is returned when no response arrives within Config.Timeout.
	ErrTimeout    = errors.New("request timeout")
	ErrInvalidURI = errors.New("invalid uri")
	ErrClosed     = errors.New("client is closed")
)

// transportError classifies a failed exchange. Only the wait for the
// response may end in ErrTimeout.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrInvalidURI):
		return "uri"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	return "codec"
}
