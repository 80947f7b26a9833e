package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadkit/imagepipeline/pipeline"
)

type fakeStatsSource struct {
	s pipeline.Stats
}

func (f fakeStatsSource) Stats() pipeline.Stats { return f.s }

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.Metric {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.Metric {
			if labelsMatch(m, labels) {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.Label))
	for _, l := range m.Label {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestRecordCacheResultIncrementsCorrectLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordCacheResult("memory", true)
	c.RecordCacheResult("memory", true)
	c.RecordCacheResult("disk", false)

	assert.Equal(t, float64(2), counterValue(t, reg, "imagepipeline_cache_results_total", map[string]string{"tier": "memory", "outcome": "hit"}))
	assert.Equal(t, float64(1), counterValue(t, reg, "imagepipeline_cache_results_total", map[string]string{"tier": "disk", "outcome": "miss"}))
}

func TestWatchExposesQueueAndPoolGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := fakeStatsSource{s: pipeline.Stats{
		Queues: []pipeline.QueueStats{
			{Name: "data-loading", Queued: 3, Running: 1},
		},
		RateLimiterPending: 5,
		FetchDataPoolLen:   2,
	}}
	Watch(reg, src)

	assert.Equal(t, float64(3), gaugeValue(t, reg, "imagepipeline_queue_depth", map[string]string{"queue": "data-loading"}))
	assert.Equal(t, float64(1), gaugeValue(t, reg, "imagepipeline_queue_running", map[string]string{"queue": "data-loading"}))
	assert.Equal(t, float64(5), gaugeValue(t, reg, "imagepipeline_rate_limiter_pending", nil))
	assert.Equal(t, float64(2), gaugeValue(t, reg, "imagepipeline_coalescing_pool_live_keys", map[string]string{"pool": "fetch-data"}))
}
