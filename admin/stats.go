package admin

import (
	"net/http"
	"time"
)

type publisherResponse struct {
	Published uint64 `json:"published"`
	Retries   uint64 `json:"retries"`
}

type sourceResponse struct {
	ConfirmedLSN  string `json:"confirmed_lsn"`
	LastMessageMS int64  `json:"last_message_ms"`
}

// handleStats returns session, publisher and source counters
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "session not started")
		return
	}

	response := map[string]interface{}{
		"session":        h.session.Stats(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.publisher != nil {
		response["publisher"] = publisherResponse{
			Published: h.publisher.Published(),
			Retries:   h.publisher.Retries(),
		}
	}

	if h.source != nil {
		response["source"] = sourceResponse{
			ConfirmedLSN:  h.source.ConfirmedLSN().String(),
			LastMessageMS: h.source.TimeSinceLastMsg().Milliseconds(),
		}
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// handleHealth reports 503 once the session has latched a fatal error
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "session not started")
		return
	}

	stats := h.session.Stats()
	if stats.Failed {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "failed",
		})
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"in_transaction": stats.InTransaction,
	})
}
