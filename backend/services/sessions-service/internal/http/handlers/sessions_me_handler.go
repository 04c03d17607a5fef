package handlers

import (
	"context"
	"net/http"
	"time"

	"vacstation/backend/services/sessions-service/internal/models"
)

// SessionReader serves read-only session views.
type SessionReader interface {
	History(ctx context.Context, accountID string, limit int) ([]models.HistoryRecord, error)
	Session(ctx context.Context, accountID, sessionID string) (*models.Session, error)
	Active(ctx context.Context, limit int) ([]models.Session, error)
	StaleDebited(ctx context.Context, olderThan time.Duration, limit int) ([]models.Session, error)
}

// NewSessionsMeHandler returns GET /sessions/me handler. With ?id= it
// returns one session, otherwise the caller's activation history.
func NewSessionsMeHandler(reader SessionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, ok := accountID(w, r)
		if !ok {
			return
		}

		if id := r.URL.Query().Get("id"); id != "" {
			session, err := reader.Session(r.Context(), account, id)
			if err != nil {
				status, msg := statusFor(err)
				writeError(w, status, msg)
				return
			}
			writeJSON(w, http.StatusOK, session)
			return
		}

		history, err := reader.History(r.Context(), account, limitParam(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
			return
		}
		if history == nil {
			history = []models.HistoryRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": history,
		})
	}
}

// NewActiveSessionsHandler returns GET /sessions/active handler.
func NewActiveSessionsHandler(reader SessionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := reader.Active(r.Context(), limitParam(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch active sessions")
			return
		}
		if sessions == nil {
			sessions = []models.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": sessions,
		})
	}
}

// NewStaleSessionsHandler returns GET /internal/sessions/stale handler.
// older_than is a Go duration and defaults to ten minutes.
func NewStaleSessionsHandler(reader SessionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		olderThan := 10 * time.Minute
		if raw := r.URL.Query().Get("older_than"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				writeError(w, http.StatusBadRequest, "older_than must be a positive duration")
				return
			}
			olderThan = d
		}
		sessions, err := reader.StaleDebited(r.Context(), olderThan, limitParam(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch stale sessions")
			return
		}
		if sessions == nil {
			sessions = []models.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"older_than": olderThan.String(),
			"sessions":   sessions,
		})
	}
}
