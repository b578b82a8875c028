package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the recipient identifier under the key "user_id".
// Empty ids produce an empty Attr so optional values can be passed unconditionally.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// TenantID records the tenant (school) identifier under the key "tenant_id".
func TenantID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("tenant_id", id)
}

// NotificationID records the notification identifier under the key "notification_id".
func NotificationID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("notification_id", id)
}

// Channel records the delivery channel under the key "channel".
// Accepts any string-based channel type.
func Channel[T ~string](ch T) slog.Attr {
	return slog.String("channel", string(ch))
}

// Attempt records the delivery attempt number under the key "attempt".
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// JobKey records a scheduler job key under the key "job_key".
func JobKey(key string) slog.Attr {
	return slog.String("job_key", key)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}
