package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.svc.List(r.Context(), chi.URLParam(r, "userID"), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []*notifications.Notification{}
	}
	h.respond(w, http.StatusOK, items, map[string]any{
		"count":  len(items),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func (h *Handler) markAllAsRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAllAsRead(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"marked": n}, nil)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetUnreadCount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]int{"unread": n}, nil)
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.svc.GetPreferences(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, prefs, nil)
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch notifications.PreferencesPatch
	if err := bindJSON(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	prefs, err := h.svc.UpdatePreferences(r.Context(), chi.URLParam(r, "userID"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, prefs, nil)
}

// parseListOptions reads unread, type, category, limit, offset and since.
// type and category accept comma separated lists.
func parseListOptions(q url.Values) (notifications.ListOptions, error) {
	opts := notifications.ListOptions{Limit: defaultPageSize}

	if v := q.Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, &notifications.ValidationError{Field: "unread", Message: "must be a boolean"}
		}
		opts.OnlyUnread = b
	}
	for _, v := range splitList(q.Get("type")) {
		t := notifications.Type(v)
		if !t.Valid() {
			return opts, &notifications.ValidationError{Field: "type", Message: "unknown notification type " + v}
		}
		opts.Types = append(opts.Types, t)
	}
	for _, v := range splitList(q.Get("category")) {
		c := notifications.Category(v)
		if !c.Valid() {
			return opts, &notifications.ValidationError{Field: "category", Message: "unknown category " + v}
		}
		opts.Categories = append(opts.Categories, c)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return opts, &notifications.ValidationError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageSize)}
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, &notifications.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
		opts.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, &notifications.ValidationError{Field: "since", Message: "must be an RFC 3339 timestamp"}
		}
		opts.Since = &t
	}
	return opts, nil
}

func splitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
