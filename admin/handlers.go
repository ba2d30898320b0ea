package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/maxpert/waljson/encoder"
	"github.com/rs/zerolog/log"
)

// StatsProvider exposes the encoder session counters
type StatsProvider interface {
	Stats() encoder.Stats
}

// PublisherStats exposes the sink worker counters
type PublisherStats interface {
	Published() uint64
	Retries() uint64
}

// SourceStatus exposes replication progress. Nil when replaying a capture.
type SourceStatus interface {
	ConfirmedLSN() pglogrepl.LSN
	TimeSinceLastMsg() time.Duration
}

// AdminHandlers serves the read-only status endpoints
type AdminHandlers struct {
	session   StatsProvider
	publisher PublisherStats
	source    SourceStatus
	startedAt time.Time
}

// NewAdminHandlers creates a new AdminHandlers instance. publisher and source
// may be nil.
func NewAdminHandlers(session StatsProvider, publisher PublisherStats, source SourceStatus) *AdminHandlers {
	return &AdminHandlers{
		session:   session,
		publisher: publisher,
		source:    source,
		startedAt: time.Now(),
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
