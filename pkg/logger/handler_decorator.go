package logger

import (
	"context"
	"log/slog"
)

// ContextExtractor pulls a single attribute out of a context.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// LogHandlerDecorator runs the registered extractors on every record before
// handing it to the wrapped handler.
type LogHandlerDecorator struct {
	next       slog.Handler
	extractors []ContextExtractor
}

// NewLogHandlerDecorator wraps next. Nil extractors are dropped.
func NewLogHandlerDecorator(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	clean := make([]ContextExtractor, 0, len(extractors))
	for _, ex := range extractors {
		if ex != nil {
			clean = append(clean, ex)
		}
	}
	return &LogHandlerDecorator{next: next, extractors: clean}
}

func (h *LogHandlerDecorator) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandlerDecorator) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *LogHandlerDecorator) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandlerDecorator{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *LogHandlerDecorator) WithGroup(name string) slog.Handler {
	return &LogHandlerDecorator{next: h.next.WithGroup(name), extractors: h.extractors}
}
