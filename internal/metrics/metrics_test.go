package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersInstrumentsAndServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QueueDepth.WithLabelValues("c1").Set(3)
	m.EpisodesCreated.Inc()
	m.FactsUpserted.WithLabelValues("reinforced").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler(reg).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "memoryd_queue_depth")
	require.Contains(t, body, "memoryd_episodes_created_total 1")
}
