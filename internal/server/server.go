// Package server is the HTTP transport of a bridge: it reads requests, hands
// them to the bridge dispatcher and writes the recorded response.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/huebridge/internal/api"
)

// Handler serves one API request.
//
// The returned commit must be called once the response is on the wire; it
// releases the events the request produced.
type Handler interface {
	ServeAPI(ctx context.Context, r *api.Request) (resp *api.Recorder, commit func(), err error)
}

// Options tunes a listener.
type Options struct {
	RateLimit    float64 // requests per second, 0 disables
	Burst        int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          *tls.Config
}

var methods = map[string]bool{"get": true, "post": true, "put": true, "delete": true}

// Server is one HTTP or HTTPS listener of a bridge.
type Server struct {
	addr    string
	handler Handler
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger

	listener   net.Listener
	httpServer *http.Server
}

// New creates a listener for addr (host:port). Port 0 picks a free port.
func New(addr string, handler Handler, opts Options) *Server {
	s := &Server{
		addr:    addr,
		handler: handler,
		opts:    opts,
		logger:  log.With().Str("addr", addr).Logger(),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s
}

// Listen binds the socket and returns the actual port.
func (s *Server) Listen() (int, error) {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return 0, err
	}
	if s.opts.TLS != nil {
		l = tls.NewListener(l, s.opts.TLS)
	}
	s.listener = l
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Run serves until ctx is cancelled. Listen must have been called.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if s.listener == nil {
		return errors.New("server: Run before Listen")
	}
	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	s.logger.Info().Bool("tls", s.opts.TLS != nil).Msg("Starting bridge listener")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("Listener shutdown error")
		}
	}()

	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.ToLower(r.Method)
	if !methods[method] {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn().Str("path", r.URL.Path).Msg("Request throttled")
		rec := &api.Recorder{}
		api.WriteError(rec, api.ErrInternal, r.URL.Path)
		write(w, http.StatusServiceUnavailable, rec.ContentType, rec.Body)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read request body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req := api.NewRequest(method, r.URL.Path, body)
	s.logger.Debug().
		Str("method", method).
		Str("path", req.Path).
		Int("body_len", len(body)).
		Str("remote", r.RemoteAddr).
		Msg("Received request")

	resp, commit, err := s.handler.ServeAPI(r.Context(), req)
	if err != nil {
		s.logger.Error().Err(err).Str("path", req.Path).Msg("Dispatch failed")
		rec := &api.Recorder{}
		api.WriteError(rec, api.ErrInternal, req.Path)
		write(w, http.StatusServiceUnavailable, rec.ContentType, rec.Body)
		return
	}

	write(w, resp.Status, resp.ContentType, resp.Body)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if commit != nil {
		commit()
	}
}

func write(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(body)
}
