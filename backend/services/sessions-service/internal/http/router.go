package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Activate       http.HandlerFunc
	Deactivate     http.HandlerFunc
	SessionsMe     http.HandlerFunc
	ActiveSessions http.HandlerFunc
	DeviceStatus   http.HandlerFunc
	DeviceEvents   http.HandlerFunc
	RegisterDevice http.HandlerFunc
	DeviceHistory  http.HandlerFunc
	StaleSessions  http.HandlerFunc
	Sweep          http.HandlerFunc
	Health         http.HandlerFunc
	Metrics        http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	handle := func(path, verb string, h http.HandlerFunc) {
		if h != nil {
			mux.Handle(path, method(verb, h))
		}
	}

	handle("/sessions/activate", http.MethodPost, routes.Activate)
	handle("/sessions/deactivate", http.MethodPost, routes.Deactivate)
	handle("/sessions/me", http.MethodGet, routes.SessionsMe)
	handle("/sessions/active", http.MethodGet, routes.ActiveSessions)
	handle("/devices/status", http.MethodGet, routes.DeviceStatus)
	handle("/internal/devices/events", http.MethodPost, routes.DeviceEvents)
	handle("/internal/devices", http.MethodPost, routes.RegisterDevice)
	handle("/internal/devices/history", http.MethodGet, routes.DeviceHistory)
	handle("/internal/sessions/stale", http.MethodGet, routes.StaleSessions)
	handle("/internal/sessions/sweep", http.MethodPost, routes.Sweep)
	handle("/health", http.MethodGet, routes.Health)
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
