package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/schoolkit/pkg/httpserver"
	"github.com/dmitrymomot/schoolkit/pkg/logger"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/requestid"
)

// Service is the part of *notifications.Manager the API uses.
type Service interface {
	Send(ctx context.Context, req notifications.Request) (*notifications.Notification, error)
	SendFromTemplate(ctx context.Context, templateID, userID string, data map[string]any) (*notifications.Notification, error)
	SendBulk(ctx context.Context, userIDs []string, req notifications.Request, opts notifications.BulkOptions) (notifications.BulkResult, error)
	Broadcast(ctx context.Context, req notifications.Request, opts notifications.BulkOptions) (notifications.BulkResult, error)
	Get(ctx context.Context, id string) (*notifications.Notification, error)
	List(ctx context.Context, userID string, opts notifications.ListOptions) ([]*notifications.Notification, error)
	MarkAsRead(ctx context.Context, id string) (*notifications.Notification, error)
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	GetUnreadCount(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, at time.Time) (*notifications.Notification, error)
	GetPreferences(ctx context.Context, userID string) (notifications.Preferences, error)
	UpdatePreferences(ctx context.Context, userID string, patch notifications.PreferencesPatch) (notifications.Preferences, error)
	SubscribeEvents(ctx context.Context, userID string, fn func(notifications.Event)) (unsubscribe func())
	SaveTemplate(ctx context.Context, tpl notifications.Template) (notifications.Template, error)
	ListTemplates(ctx context.Context, tenantID string) ([]notifications.Template, error)
}

// Handler serves the notification API.
type Handler struct {
	svc          Service
	logger       *slog.Logger
	checks       []httpserver.Check
	upgrader     websocket.Upgrader
	feedBuffer   int
	pingInterval time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for the Handler.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHealthChecks adds readiness probes to /healthz.
func WithHealthChecks(checks ...httpserver.Check) Option {
	return func(h *Handler) {
		h.checks = append(h.checks, checks...)
	}
}

// WithFeedBuffer sets how many events a websocket client may lag behind
// before further events are dropped for it. Default is 32.
func WithFeedBuffer(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.feedBuffer = n
		}
	}
}

// WithPingInterval sets the websocket keepalive interval. Default is 30s.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithCheckOrigin overrides the websocket origin check. The default accepts
// same-host origins only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

func New(svc Service, opts ...Option) *Handler {
	h := &Handler{
		svc:          svc,
		logger:       slog.Default(),
		feedBuffer:   32,
		pingInterval: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close ends open feed and badge streams. Register it as a server shutdown hook.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", httpserver.HealthCheckHandler(h.logger, 2*time.Second, h.checks...))

	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.send)
		r.Post("/template", h.sendFromTemplate)
		r.Post("/bulk", h.sendBulk)
		r.Post("/broadcast", h.broadcast)
		r.Get("/{id}", h.get)
		r.Post("/{id}/read", h.markAsRead)
		r.Put("/{id}/schedule", h.reschedule)
		r.Delete("/{id}", h.delete)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/notifications", h.list)
		r.Post("/notifications/read-all", h.markAllAsRead)
		r.Get("/unread-count", h.unreadCount)
		r.Get("/preferences", h.getPreferences)
		r.Patch("/preferences", h.updatePreferences)
		r.Get("/feed", h.feed)
		r.Get("/badge", h.badge)
	})

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.listTemplates)
		r.Post("/", h.saveTemplate)
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		h.logger.LogAttrs(r.Context(), level, "HTTP request",
			logger.Component("httpapi"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			logger.Duration(time.Since(start)),
		)
	})
}
