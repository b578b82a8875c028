package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// Server runs an http.Server until its context ends, then shuts it down gracefully.
type Server struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	onShutdown      []func()

	mu    sync.Mutex
	srv   *http.Server
	bound net.Addr
	ready chan struct{}
}

func New(opts ...Option) *Server {
	s := &Server{
		addr:            ":8080",
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run listens and serves handler until ctx is done. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	s.mu.Lock()
	if s.srv != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, errors.New("server already running"))
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return errors.Join(ErrStart, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	for _, fn := range s.onShutdown {
		srv.RegisterOnShutdown(fn)
	}
	s.srv = srv
	s.bound = ln.Addr()
	close(s.ready)
	s.mu.Unlock()

	s.logger.LogAttrs(ctx, slog.LevelInfo, "HTTP server started",
		logger.Component("httpserver"),
		slog.String("addr", ln.Addr().String()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Join(ErrStart, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "HTTP server shutdown failed",
			logger.Component("httpserver"),
			logger.Error(err),
		)
		return errors.Join(ErrShutdown, err)
	}
	<-errCh

	s.logger.LogAttrs(ctx, slog.LevelInfo, "HTTP server stopped", logger.Component("httpserver"))
	return nil
}

// Addr waits until Run is listening and returns the bound address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.bound, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
