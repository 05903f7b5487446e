package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.Command("failTask", OutcomeApplied)
	m.Command("failTask", OutcomeApplied)
	m.ConsequenceLevel(20)
	m.BridgeFrame("in", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("failTask", OutcomeApplied)))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.consequence))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "sentinel_bridge_frames_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Command("x", OutcomeNoop)
	m.ConsequenceLevel(1)
	m.BridgeFrame("out", "ok")
	m.AdvisorCall("verify", OutcomeError)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
