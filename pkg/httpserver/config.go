package httpserver

import "time"

// Config holds the HTTP listener settings.
type Config struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"` // Zero keeps websocket and SSE streams open.
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// NewFromConfig creates a Server from cfg. Zero values keep the defaults;
// opts are applied after the config.
func NewFromConfig(cfg Config, opts ...Option) *Server {
	return New(append([]Option{
		WithAddr(cfg.Addr),
		WithReadTimeout(cfg.ReadTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
		WithIdleTimeout(cfg.IdleTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)...)
}
