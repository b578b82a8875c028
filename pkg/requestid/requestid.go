package requestid

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// Header is the request and response header carrying the ID.
const Header = "X-Request-ID"

const maxLength = 128

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type ctxKey struct{}

// WithContext stores id in ctx.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the stored ID or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if !valid(id) {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}

// LoggerExtractor adds request_id to records logged with a tagged context.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := FromContext(ctx); id != "" {
			return logger.RequestID(id), true
		}
		return slog.Attr{}, false
	}
}

func valid(id string) bool {
	return id != "" && len(id) <= maxLength && validID.MatchString(id)
}
