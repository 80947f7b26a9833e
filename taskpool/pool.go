// Package taskpool implements the task-pool / coalescer (spec.md §4.3,
// component C4): a map from key to a weakly-held job, guaranteeing at most
// one in-flight job per key while subscribers exist. It is grounded in the
// gioverse-chat async.Loader's tag->resource lookup map ("attach to the
// existing entry for this tag, or create one") generalized from a polling
// loader to the job package's push-based subscription model, and uses the
// standard library's weak package (Go 1.24+) in place of the teacher's
// manual LFU eviction list (common.LFUCache) since here liveness, not
// frequency, decides eviction.
package taskpool

import (
	"sync"
	"weak"

	"github.com/loadkit/imagepipeline/job"
)

// Pool deduplicates jobs of value type V by key K. Construct with New.
type Pool[K comparable, V any] struct {
	mu        sync.Mutex
	jobs      map[K]weak.Pointer[job.Job[V]]
	coalesce  bool
}

// New builds a Pool. When coalesce is false (spec.md: "coalescing may be
// globally disabled"), PublisherForKey always calls factory and never
// touches the map.
func New[K comparable, V any](coalesce bool) *Pool[K, V] {
	return &Pool[K, V]{
		jobs:     make(map[K]weak.Pointer[job.Job[V]]),
		coalesce: coalesce,
	}
}

// PublisherForKey returns the live job for k, creating one via factory if
// none exists or the previous one has already disposed. Exactly one job per
// key is ever live at a time while coalescing is enabled.
func (p *Pool[K, V]) PublisherForKey(k K, factory func() *job.Job[V]) *job.Job[V] {
	if !p.coalesce {
		return factory()
	}

	p.mu.Lock()
	if wp, ok := p.jobs[k]; ok {
		if j := wp.Value(); j != nil && j.State() != job.StateDisposed {
			p.mu.Unlock()
			return j
		}
		delete(p.jobs, k)
	}

	j := factory()
	p.jobs[k] = weak.Make(j)
	p.mu.Unlock()

	j.OnDispose(func() {
		p.mu.Lock()
		if wp, ok := p.jobs[k]; ok {
			if v := wp.Value(); v == nil || v == j {
				delete(p.jobs, k)
			}
		}
		p.mu.Unlock()
	})
	return j
}

// Len reports the number of keys currently believed live; used only by
// tests and metrics, never by the coalescing logic itself.
func (p *Pool[K, V]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}
