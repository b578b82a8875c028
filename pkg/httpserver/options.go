package httpserver

import (
	"log/slog"
	"time"
)

// Option configures the Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithReadTimeout bounds reading an entire request.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithWriteTimeout bounds writing a response. Leave unset for streaming endpoints.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithIdleTimeout bounds keep-alive idle time.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithShutdownTimeout sets how long in-flight requests get on shutdown. Default is 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger sets the logger for the Server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOnShutdown registers fn to run when shutdown begins, e.g. to end
// websocket and SSE streams that Shutdown does not wait for.
func WithOnShutdown(fn func()) Option {
	return func(s *Server) {
		if fn != nil {
			s.onShutdown = append(s.onShutdown, fn)
		}
	}
}
