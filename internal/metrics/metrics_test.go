package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pytake/backend/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCreatesSeriesByName(t *testing.T) {
	m := New(zerolog.Nop())

	m.Record("assignments_total", 1, map[string]string{"reason": "auto_assignment"})
	m.Record("assignments_total", 2, map[string]string{"reason": "auto_assignment"})
	m.Record("assignment_score", 0.8, map[string]string{"strategy": "best_match"})
	m.Record("open_conversations", 4, nil)
	m.Record("open_conversations", 3, nil)

	n, err := testutil.GatherAndCount(m.Registry(), "pytake_assignments_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP pytake_assignments_total assignments_total
# TYPE pytake_assignments_total counter
pytake_assignments_total{reason="auto_assignment"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "pytake_assignments_total"))

	expected = `
# HELP pytake_open_conversations open_conversations
# TYPE pytake_open_conversations gauge
pytake_open_conversations 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "pytake_open_conversations"))

	n, err = testutil.GatherAndCount(m.Registry(), "pytake_assignment_score")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordDropsMismatchedLabels(t *testing.T) {
	m := New(zerolog.Nop())

	m.Record("transfers_total", 1, map[string]string{"reason": "transfer"})
	m.Record("transfers_total", 1, map[string]string{"agent": "a"})
	m.Record("transfers_total", -1, map[string]string{"reason": "transfer"})

	expected := `
# HELP pytake_transfers_total transfers_total
# TYPE pytake_transfers_total counter
pytake_transfers_total{reason="transfer"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "pytake_transfers_total"))
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New(zerolog.Nop())

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/api/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/conversations/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.httpRequests.WithLabelValues(http.MethodGet, "/api/conversations/{id}", "418")))
}

func TestSanitizePath(t *testing.T) {
	assert.Equal(t, "/", sanitizePath(""))
	assert.Equal(t, "/a/b", sanitizePath("/a//b/"))
	assert.Equal(t, "/a/b/c/...", sanitizePath("/a/b/c/d/e"))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(zerolog.Nop())
	m.JobFinished("publish_event", "succeeded", 1)
	m.RecordWebSocketConnect("agents")
	m.RecordWebSocketMessage("agents", 3)
	m.UpdateAgentStats([]types.Agent{
		{ID: "a", Status: types.AgentAvailable},
		{ID: "b", Status: types.AgentAvailable},
		{ID: "c", Status: types.AgentOffline},
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Contains(t, string(body), `pytake_queue_jobs_total{kind="publish_event",outcome="succeeded"} 1`)
	assert.Contains(t, string(body), `pytake_websocket_active_connections{hub="agents"} 1`)
	assert.Contains(t, string(body), `pytake_agents_by_status{status="available"} 2`)
	assert.Contains(t, string(body), `pytake_agents_total 3`)
}
