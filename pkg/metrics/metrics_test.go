package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QueueDepth.Set(3)
	m.EventsDroppedTotal.WithLabelValues("malformed").Inc()
	m.EventsStoredTotal.WithLabelValues("item:saved").Add(2)
	m.NotificationsTotal.WithLabelValues("dropped").Inc()

	assert.Equal(t, float64(3), testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsDroppedTotal.WithLabelValues("malformed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsStoredTotal.WithLabelValues("item:saved")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["glitter_events_dropped_total"])
	assert.True(t, names["glitter_queue_depth"])
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestServerExposesGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.QueueEnqueuedTotal.Add(7)

	srv := httptest.NewServer(NewServer(0, reg).Handler())
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "glitter_queue_enqueued_total 7")
}
