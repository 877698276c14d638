// Package server serves a CORECONF datastore over CoAP. The /sid resource
// answers FETCH requests carrying a CBOR list of instance identifiers.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	"github.com/plgd-dev/go-coreconf/codec/cbor"
	"github.com/plgd-dev/go-coreconf/sid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const fetch codes.Code = 5

var DefaultConfig = Config{
	Path:        "/sid",
	MaxRequests: 10,
	Logger:      zap.NewNop(),
}

type Config struct {
	Path string
	// MaxRequests limits instance identifiers in a single FETCH.
	MaxRequests int
	Logger      *zap.Logger
}

type Option func(cfg *Config)

func WithPath(path string) Option {
	return func(cfg *Config) {
		cfg.Path = path
	}
}

func WithMaxRequests(n int) Option {
	return func(cfg *Config) {
		cfg.MaxRequests = n
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *Config) {
		if logger != nil {
			cfg.Logger = logger
		}
	}
}

// Handler answers requests on the datastore resource.
type Handler struct {
	cfg       Config
	datastore *Datastore
	requests  atomic.Uint32
}

func NewHandler(datastore *Datastore, opts ...Option) *Handler {
	cfg := DefaultConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Handler{
		cfg:       cfg,
		datastore: datastore,
	}
}

// Router returns router with the handler registered on Config.Path.
func (h *Handler) Router() (*mux.Router, error) {
	m := mux.NewRouter()
	if err := m.Handle(h.cfg.Path, h); err != nil {
		return nil, fmt.Errorf("cannot register %v: %w", h.cfg.Path, err)
	}
	return m, nil
}

// Requests returns number of requests served.
func (h *Handler) Requests() uint32 {
	return h.requests.Load()
}

func (h *Handler) ServeCOAP(w mux.ResponseWriter, r *mux.Message) {
	count := h.requests.Inc()
	var err error
	switch r.Code() {
	case codes.GET:
		err = w.SetResponse(codes.Content, message.TextPlain, bytes.NewReader([]byte(strconv.FormatUint(uint64(count), 10))))
	case fetch:
		err = h.serveFetch(w, r)
	default:
		err = w.SetResponse(codes.MethodNotAllowed, message.TextPlain, nil)
	}
	if err != nil {
		h.cfg.Logger.Warn("cannot set response", zap.Error(err))
	}
}

func (h *Handler) serveFetch(w mux.ResponseWriter, r *mux.Message) error {
	if cf, err := r.ContentFormat(); err == nil && cf != message.AppCBOR {
		return w.SetResponse(codes.UnsupportedMediaType, message.TextPlain, nil)
	}
	body, err := r.ReadBody()
	if err != nil {
		return badRequest(w, fmt.Errorf("cannot read body: %w", err))
	}
	h.cfg.Logger.Debug("fetch request", zap.Binary("payload", body))
	req, err := sid.DecodeRequest(body)
	if err != nil {
		return badRequest(w, err)
	}
	if h.cfg.MaxRequests > 0 && len(req) > h.cfg.MaxRequests {
		return badRequest(w, fmt.Errorf("too many identifiers requested: %v > %v", len(req), h.cfg.MaxRequests))
	}
	values := make([]interface{}, 0, len(req))
	for _, id := range req {
		v, ok := h.datastore.Get(id)
		if !ok {
			h.cfg.Logger.Debug("instance not found", zap.Stringer("identifier", id))
			continue
		}
		values = append(values, v)
	}
	payload, err := cbor.Encode(values)
	if err != nil {
		return errors.Join(err, w.SetResponse(codes.InternalServerError, message.TextPlain, nil))
	}
	return w.SetResponse(codes.Content, message.AppCBOR, bytes.NewReader(payload))
}

func badRequest(w mux.ResponseWriter, err error) error {
	return w.SetResponse(codes.BadRequest, message.TextPlain, bytes.NewReader([]byte(err.Error())))
}
