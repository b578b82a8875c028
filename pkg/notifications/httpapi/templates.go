package httpapi

import (
	"net/http"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

// listTemplates returns every template, or with ?tenant_id only global ones
// and that tenant's.
func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := h.svc.ListTemplates(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tpls == nil {
		tpls = []notifications.Template{}
	}
	h.respond(w, http.StatusOK, tpls, map[string]any{"count": len(tpls)})
}

func (h *Handler) saveTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl notifications.Template
	if err := bindJSON(r, &tpl); err != nil {
		h.fail(w, r, err)
		return
	}
	saved, err := h.svc.SaveTemplate(r.Context(), tpl)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, saved, nil)
}
