package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

type templateSendBody struct {
	TemplateID string         `json:"template_id"`
	UserID     string         `json:"user_id"`
	Data       map[string]any `json:"data,omitempty"`
}

type bulkOptionsBody struct {
	BatchSize int    `json:"batch_size,omitempty"`
	Delay     string `json:"delay,omitempty"` // Go duration, e.g. "250ms"
}

func (b bulkOptionsBody) options() (notifications.BulkOptions, error) {
	opts := notifications.BulkOptions{BatchSize: b.BatchSize}
	if b.Delay != "" {
		d, err := time.ParseDuration(b.Delay)
		if err != nil {
			return opts, &notifications.ValidationError{Field: "delay", Message: "must be a duration such as 250ms"}
		}
		opts.Delay = d
	}
	return opts, nil
}

type bulkBody struct {
	bulkOptionsBody
	UserIDs      []string              `json:"user_ids"`
	Notification notifications.Request `json:"notification"`
}

type broadcastBody struct {
	bulkOptionsBody
	Notification notifications.Request `json:"notification"`
}

type scheduleBody struct {
	ScheduledFor string `json:"scheduled_for"`
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req notifications.Request
	if err := bindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.svc.Send(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, n, nil)
}

func (h *Handler) sendFromTemplate(w http.ResponseWriter, r *http.Request) {
	var body templateSendBody
	if err := bindJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	switch {
	case strings.TrimSpace(body.TemplateID) == "":
		h.fail(w, r, &notifications.ValidationError{Field: "template_id", Message: "is required"})
		return
	case strings.TrimSpace(body.UserID) == "":
		h.fail(w, r, &notifications.ValidationError{Field: "user_id", Message: "is required"})
		return
	}
	n, err := h.svc.SendFromTemplate(r.Context(), body.TemplateID, body.UserID, body.Data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusCreated, n, nil)
}

func (h *Handler) sendBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkBody
	if err := bindJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	opts, err := body.options()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.SendBulk(r.Context(), body.UserIDs, body.Notification, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res, nil)
}

func (h *Handler) broadcast(w http.ResponseWriter, r *http.Request) {
	var body broadcastBody
	if err := bindJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	opts, err := body.options()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.Broadcast(r.Context(), body.Notification, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res, nil)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, n, nil)
}

func (h *Handler) markAsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAsRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, n, nil)
}

func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := bindJSON(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(body.ScheduledFor))
	if err != nil {
		h.fail(w, r, &notifications.ValidationError{Field: "scheduled_for", Message: "must be an RFC 3339 timestamp"})
		return
	}
	n, err := h.svc.Reschedule(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, n, nil)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
