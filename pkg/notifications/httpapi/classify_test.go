package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/schoolkit/pkg/notifications"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &notifications.ValidationError{Field: "title", Message: "is required"}, http.StatusUnprocessableEntity, "validation_error"},
		{"wrapped not found", fmt.Errorf("load: %w", notifications.ErrTemplateNotFound), http.StatusNotFound, "not_found"},
		{"inactive template", notifications.ErrTemplateInactive, http.StatusConflict, "conflict"},
		{"expired notification", notifications.ErrNotificationExpired, http.StatusConflict, "conflict"},
		{"no recipients", notifications.ErrNoRecipients, http.StatusUnprocessableEntity, "no_recipients"},
		{"scheduler stopped", fmt.Errorf("schedule: %w", notifications.ErrSchedulerStopped), http.StatusServiceUnavailable, "service_unavailable"},
		{"media type", ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "unsupported_media_type"},
		{"bad json", ErrInvalidJSON, http.StatusBadRequest, "bad_request"},
		{"internal", errors.New("connection reset by peer"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, detail := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, detail.Code)
		})
	}

	_, detail := classify(errors.New("pq: password authentication failed"))
	assert.NotContains(t, detail.Message, "password", "internal errors stay server side")
}

func TestParseListOptions(t *testing.T) {
	t.Parallel()

	since := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	q := url.Values{
		"unread":   {"true"},
		"type":     {"grade, exam"},
		"category": {"academic"},
		"limit":    {"10"},
		"offset":   {"20"},
		"since":    {since.Format(time.RFC3339)},
	}
	opts, err := parseListOptions(q)
	require.NoError(t, err)
	assert.Equal(t, notifications.ListOptions{
		Limit:      10,
		Offset:     20,
		OnlyUnread: true,
		Types:      []notifications.Type{notifications.TypeGrade, notifications.TypeExam},
		Categories: []notifications.Category{notifications.CategoryAcademic},
		Since:      &since,
	}, opts)

	opts, err = parseListOptions(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, opts.Limit)

	bad := map[string]url.Values{
		"unread":   {"unread": {"maybe"}},
		"category": {"category": {"sports"}},
		"limit":    {"limit": {"0"}},
		"offset":   {"offset": {"-1"}},
		"since":    {"since": {"yesterday"}},
	}
	for field, q := range bad {
		_, err := parseListOptions(q)
		var ve *notifications.ValidationError
		require.ErrorAs(t, err, &ve, field)
		assert.Equal(t, field, ve.Field)
	}
	_, err = parseListOptions(url.Values{"limit": {"500"}})
	require.Error(t, err)
}
