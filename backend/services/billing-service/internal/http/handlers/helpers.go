package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

const (
	accountIDHeader = "X-Account-ID"
	defaultLimit    = 50
	maxLimit        = 200
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// accountID reads the caller forwarded by the gateway. It writes the error
// response itself when the header is missing.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(accountIDHeader))
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing account id header")
		return "", false
	}
	return id, true
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
