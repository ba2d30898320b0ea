package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/maxpert/waljson/encoder"
	"github.com/maxpert/waljson/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	stats encoder.Stats
}

func (f *fakeSession) Stats() encoder.Stats { return f.stats }

type fakePublisher struct{}

func (fakePublisher) Published() uint64 { return 7 }
func (fakePublisher) Retries() uint64   { return 2 }

type fakeSource struct{}

func (fakeSource) ConfirmedLSN() pglogrepl.LSN     { return pglogrepl.LSN(0x16B3778) }
func (fakeSource) TimeSinceLastMsg() time.Duration { return 1500 * time.Millisecond }

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	session := &fakeSession{stats: encoder.Stats{InTransaction: true}}
	router := NewRouter(NewAdminHandlers(session, nil, nil), "")

	rec := get(t, router, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, true, data["in_transaction"])

	session.stats.Failed = true
	rec = get(t, router, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthWithoutSession(t *testing.T) {
	router := NewRouter(NewAdminHandlers(nil, nil, nil), "")

	rec := get(t, router, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "session not started", decode(t, rec)["error"])
}

func TestStats(t *testing.T) {
	session := &fakeSession{stats: encoder.Stats{Transactions: 3, Changes: 10, CachedRelations: 2}}
	router := NewRouter(NewAdminHandlers(session, fakePublisher{}, fakeSource{}), "")

	rec := get(t, router, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	data := decode(t, rec)["data"].(map[string]interface{})
	s := data["session"].(map[string]interface{})
	assert.Equal(t, float64(3), s["transactions"])
	assert.Equal(t, float64(10), s["changes"])
	assert.Equal(t, float64(2), s["cached_relations"])

	p := data["publisher"].(map[string]interface{})
	assert.Equal(t, float64(7), p["published"])
	assert.Equal(t, float64(2), p["retries"])

	src := data["source"].(map[string]interface{})
	assert.Equal(t, "0/16B3778", src["confirmed_lsn"])
	assert.Equal(t, float64(1500), src["last_message_ms"])
}

func TestStatsOmitsMissingComponents(t *testing.T) {
	router := NewRouter(NewAdminHandlers(&fakeSession{}, nil, nil), "")

	data := decode(t, get(t, router, "/stats", nil))["data"].(map[string]interface{})
	assert.Contains(t, data, "session")
	assert.NotContains(t, data, "publisher")
	assert.NotContains(t, data, "source")
}

func TestStatsAuthentication(t *testing.T) {
	router := NewRouter(NewAdminHandlers(&fakeSession{}, nil, nil), "s3cret")

	tests := []struct {
		name   string
		header map[string]string
		code   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"secret header", map[string]string{"X-Waljson-Secret": "s3cret"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"wrong secret", map[string]string{"X-Waljson-Secret": "nope"}, http.StatusUnauthorized},
		{"basic auth", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, router, "/stats", tt.header)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	// health stays open for probes
	assert.Equal(t, http.StatusOK, get(t, router, "/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	telemetry.InitializeTelemetry()
	router := NewRouter(NewAdminHandlers(&fakeSession{}, nil, nil), "")

	rec := get(t, router, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerStartStop(t *testing.T) {
	router := NewRouter(NewAdminHandlers(&fakeSession{}, nil, nil), "")
	srv, err := Start("127.0.0.1", 0, router)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
}
