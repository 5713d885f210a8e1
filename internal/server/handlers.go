package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// handleHealth responds with a simple JSON status indicating the process is
// alive. GET /api/health
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus responds with the running mode, sizing strategy and uptime.
// GET /api/status
func handleStatus(stats Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"mode":             stats.Mode,
			"copy_strategy":    stats.Strategy,
			"watched_accounts": stats.Watched,
			"uptime_seconds":   int64(time.Since(stats.StartedAt).Seconds()),
		})
	}
}

// handleLedger responds with the current positions and daily volume counters.
// GET /api/ledger
func handleLedger(ledger LedgerSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ledger.Export())
	}
}
