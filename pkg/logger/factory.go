// Package logger builds *slog.Logger instances with environment presets,
// context-value injection and a small set of attribute helpers that keep key
// names consistent across the notification engine and its adapters.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Format represents logger output format.
type Format string

const (
	// FormatJSON outputs structured logs for log aggregation systems.
	FormatJSON Format = "json"
	// FormatText outputs human-readable logs for local development.
	FormatText Format = "text"
)

// Config holds logger settings loaded from the environment.
type Config struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	Service string `env:"APP_NAME" envDefault:"schoolkit"`
	Level   string `env:"LOG_LEVEL" envDefault:""`
}

// Option configures logger creation.
type Option func(*config)

// WithLevel sets the minimum level.
func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

// WithFormat sets output format.
// Panics for invalid formats: misconfiguration should prevent startup.
func WithFormat(f Format) Option {
	return func(c *config) {
		switch f {
		case FormatJSON, FormatText:
			c.format = f
		default:
			panic(fmt.Errorf("invalid log format %q: must be %q or %q", f, FormatJSON, FormatText))
		}
	}
}

// WithOutput sets custom output destination, ignoring nil writers.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every log record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) {
		if len(attrs) > 0 {
			c.attrs = append(c.attrs, attrs...)
		}
	}
}

// WithContextExtractors registers functions that inject attributes from context.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(c *config) {
		for _, ex := range extractors {
			if ex != nil {
				c.extractors = append(c.extractors, ex)
			}
		}
	}
}

// WithContextValue adds an extractor that logs ctx.Value(key) under name.
func WithContextValue(name string, key any) Option {
	return func(c *config) {
		if name == "" || key == nil {
			return
		}
		c.extractors = append(c.extractors, func(ctx context.Context) (slog.Attr, bool) {
			if v := ctx.Value(key); v != nil {
				return slog.Any(name, v), true
			}
			return slog.Attr{}, false
		})
	}
}

// WithEnvironment applies environment presets: text/debug for development,
// JSON/info for staging and production.
func WithEnvironment(env, service string) Option {
	return func(c *config) {
		switch env {
		case "production", "prod", "staging", "stage":
			c.level = slog.LevelInfo
			c.format = FormatJSON
		default:
			c.level = slog.LevelDebug
			c.format = FormatText
		}
		if service != "" {
			c.attrs = append(c.attrs, slog.String("service", service))
		}
		if env != "" {
			c.attrs = append(c.attrs, slog.String("env", env))
		}
	}
}

// FromConfig converts a loaded Config into options.
// An explicit LOG_LEVEL overrides the environment preset.
func FromConfig(cfg Config) []Option {
	opts := []Option{WithEnvironment(cfg.Env, cfg.Service)}
	if cfg.Level != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err == nil {
			opts = append(opts, WithLevel(lvl))
		}
	}
	return opts
}

// SetAsDefault installs l as the process-wide slog default.
func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

type config struct {
	level      slog.Level
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

func defaultConfig() *config {
	return &config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
}

// New creates a configured slog.Logger wrapped with the context decorator.
func New(opts ...Option) *slog.Logger {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}

	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}

	return slog.New(NewLogHandlerDecorator(handler, cfg.extractors...))
}
