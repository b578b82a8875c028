package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

// BadgeID is the element id the badge stream patches.
const BadgeID = "notification-badge"

// UnreadBadge renders the dashboard's unread counter.
func UnreadBadge(count int) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		label := fmt.Sprint(count)
		if count > 99 {
			label = "99+"
		}
		hidden := ""
		if count == 0 {
			hidden = " hidden"
		}
		_, err := fmt.Fprintf(w, `<span id="%s" class="badge" data-count="%d"%s>%s</span>`,
			BadgeID, count, hidden, label)
		return err
	})
}

// badge keeps a datastar page's unread badge current. It patches the badge
// element and the $unread signal on connect and after every event of the user.
func (h *Handler) badge(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()
	sse := datastar.NewSSE(w, r)

	changed := make(chan struct{}, 1)
	unsubscribe := h.svc.SubscribeEvents(ctx, userID, func(notifications.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	push := func() error {
		n, err := h.svc.GetUnreadCount(ctx, userID)
		if err != nil {
			return err
		}
		if err := sse.PatchElementTempl(UnreadBadge(n)); err != nil {
			return err
		}
		signals, err := json.Marshal(map[string]int{"unread": n})
		if err != nil {
			return err
		}
		return sse.PatchSignals(signals)
	}

	for {
		if err := push(); err != nil {
			if ctx.Err() == nil {
				h.logger.LogAttrs(ctx, slog.LevelWarn, "Badge stream ended",
					logger.Component("badge"),
					logger.UserID(userID),
					logger.Error(err),
				)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case <-changed:
		}
	}
}
