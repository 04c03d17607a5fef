package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// NewHealthHandler returns GET /health handler. Every check must pass
// within two seconds.
func NewHealthHandler(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]string{"status": "ok"}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				body[name] = "unreachable"
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, body)
	}
}
