package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

// Response is the envelope of every JSON answer.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request. Details maps field names to messages.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any, meta map[string]any) {
	writeJSON(w, status, Response{Data: data, Meta: meta})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.LogAttrs(r.Context(), slog.LevelError, "Request failed",
			logger.Component("httpapi"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeJSON(w, status, Response{Error: detail})
}

// classify maps engine and binding errors to an HTTP status and error body.
// Internal errors are never echoed to the client.
func classify(err error) (int, *ErrorDetail) {
	var ve *notifications.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, &ErrorDetail{
			Code:    "validation_error",
			Message: ve.Error(),
			Details: map[string][]string{ve.Field: {ve.Message}},
		}
	case notifications.IsValidationError(err):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "validation_error", Message: err.Error()}
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, &ErrorDetail{Code: "unsupported_media_type", Message: err.Error()}
	case errors.Is(err, ErrMissingContentType), errors.Is(err, ErrInvalidJSON):
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}
	case notifications.IsNotFound(err):
		return http.StatusNotFound, &ErrorDetail{Code: "not_found", Message: err.Error()}
	case errors.Is(err, notifications.ErrTemplateInactive), errors.Is(err, notifications.ErrAlreadyDispatched),
		errors.Is(err, notifications.ErrNotificationExpired):
		return http.StatusConflict, &ErrorDetail{Code: "conflict", Message: err.Error()}
	case errors.Is(err, notifications.ErrNoRecipients):
		return http.StatusUnprocessableEntity, &ErrorDetail{Code: "no_recipients", Message: err.Error()}
	case errors.Is(err, notifications.ErrSchedulerStopped):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "service_unavailable", Message: "notification scheduler is not running"}
	default:
		return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
	}
}
