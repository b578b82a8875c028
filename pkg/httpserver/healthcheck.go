package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/schoolkit/pkg/logger"
)

// Check is a named readiness probe, e.g. redis.Healthcheck(client).
type Check struct {
	Name  string
	Probe func(context.Context) error
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthCheckHandler reports "ok" with 200 when every probe passes and
// "unavailable" with 503 otherwise. Without checks it is a liveness probe.
func HealthCheckHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		report := healthReport{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			report.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Probe(ctx); err != nil {
				log.LogAttrs(ctx, slog.LevelError, "Readiness check failed",
					logger.Component("healthcheck"),
					slog.String("check", c.Name),
					logger.Error(err),
				)
				report.Checks[c.Name] = "unavailable"
				report.Status = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			report.Checks[c.Name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}
