package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

const (
	feedWriteWait   = 10 * time.Second
	feedReadLimit   = 512
	feedPongTimeout = 3
)

// feed streams the user's lifecycle events as JSON text frames. Client
// frames are read and discarded. A client that falls feedBuffer events
// behind loses the overflow.
func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := h.logger.With(logger.Component("feed"), logger.UserID(userID))
	send := make(chan []byte, h.feedBuffer)
	unsubscribe := h.svc.SubscribeEvents(ctx, userID, func(ev notifications.Event) {
		msg, err := json.Marshal(ev)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelError, "Failed to encode feed event", logger.Error(err))
			return
		}
		select {
		case send <- msg:
		default:
			log.LogAttrs(ctx, slog.LevelWarn, "Feed client too slow, event dropped",
				slog.String("kind", string(ev.Kind)),
			)
		}
	})
	defer unsubscribe()

	log.LogAttrs(ctx, slog.LevelDebug, "Feed client connected")
	go func() {
		defer cancel()
		h.readFeed(conn)
	}()
	h.writeFeed(ctx, conn, send)
	log.LogAttrs(ctx, slog.LevelDebug, "Feed client disconnected")
}

// readFeed keeps the read deadline moving on pongs until the client goes away.
func (h *Handler) readFeed(conn *websocket.Conn) {
	timeout := feedPongTimeout * h.pingInterval
	conn.SetReadLimit(feedReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeFeed(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(feedWriteWait))
			return
		case <-h.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(feedWriteWait))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}
