package server

import (
	"errors"
	"fmt"
	"net"

	piondtls "github.com/pion/dtls/v2"
	"github.com/plgd-dev/go-coap/v3/dtls"
	dtlsServer "github.com/plgd-dev/go-coap/v3/dtls/server"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapNet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpServer "github.com/plgd-dev/go-coap/v3/udp/server"
	"go.uber.org/zap"
)

// Server is a CoAP listener serving a mux handler.
type Server struct {
	addr  net.Addr
	serve func() error
	stop  func()
	close func() error
}

func errorsFunc(logger *zap.Logger) func(error) {
	return func(err error) {
		if errors.Is(err, net.ErrClosed) {
			return
		}
		logger.Debug("coap server error", zap.Error(err))
	}
}

// Listen creates UDP listener on addr. Empty addr picks a free port.
func Listen(network, addr string, h mux.Handler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l, err := coapNet.NewListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %v: %w", addr, err)
	}
	s := udp.NewServer(options.WithMux(h), options.WithErrors(errorsFunc(logger)))
	return newServer(l.LocalAddr(), s, l), nil
}

func newServer(addr net.Addr, s *udpServer.Server, l *coapNet.UDPConn) *Server {
	return &Server{
		addr:  addr,
		serve: func() error { return s.Serve(l) },
		stop:  s.Stop,
		close: l.Close,
	}
}

// ListenDTLS creates DTLS listener on addr.
func ListenDTLS(network, addr string, dtlsCfg *piondtls.Config, h mux.Handler, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l, err := coapNet.NewDTLSListener(network, addr, dtlsCfg)
	if err != nil {
		return nil, fmt.Errorf("cannot listen dtls on %v: %w", addr, err)
	}
	s := dtls.NewServer(options.WithMux(h), options.WithErrors(errorsFunc(logger)))
	return newDTLSServer(l.Addr(), s, l), nil
}

func newDTLSServer(addr net.Addr, s *dtlsServer.Server, l *coapNet.DTLSListener) *Server {
	return &Server{
		addr:  addr,
		serve: func() error { return s.Serve(l) },
		stop:  s.Stop,
		close: l.Close,
	}
}

func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve blocks until Close is called.
func (s *Server) Serve() error {
	return s.serve()
}

func (s *Server) Close() error {
	s.stop()
	return s.close()
}
