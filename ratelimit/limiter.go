// Package ratelimit implements the token-bucket gate for data-loading job
// starts (spec.md §4.4, component C5). It is grounded in the teacher's
// pacer/pacer_impl.go: a mutex-guarded bucket plus a single scheduled
// "drain" callback, generalized from bandwidth pacing of in-flight request
// bytes down to a plain start/don't-start gate per job.
package ratelimit

import (
	"sync"
	"time"
)

// workItem is eligible-later work submitted to Execute when no token was
// immediately available.
type workItem struct {
	fn func() bool
}

// Limiter is a token bucket: capacity N, refilling at R tokens/sec, starting
// full. The zero value is not usable; construct with New.
type Limiter struct {
	mu      sync.Mutex
	cap     float64
	rate    float64 // tokens per second
	tokens  float64
	last    time.Time
	pending []workItem
	timer   *time.Timer
	now     func() time.Time
}

// New builds a Limiter with capacity tokens and a refill rate of
// refillPerSecond tokens/sec, starting with a full bucket.
func New(capacity int, refillPerSecond float64) *Limiter {
	return &Limiter{
		cap:    float64(capacity),
		rate:   refillPerSecond,
		tokens: float64(capacity),
		last:   time.Now(),
		now:    time.Now,
	}
}

// Execute runs work immediately if a token is available, else enqueues it
// and schedules a delayed drain for the next refill instant. work returns
// false to indicate the token should be refunded (the work didn't actually
// need to consume one, e.g. because it discovered it has nothing to do).
func (l *Limiter) Execute(work func() bool) {
	l.mu.Lock()
	l.refillLocked()
	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		if !work() {
			l.mu.Lock()
			l.tokens++
			l.mu.Unlock()
		}
		return
	}
	l.pending = append(l.pending, workItem{fn: work})
	l.scheduleDrainLocked()
	l.mu.Unlock()
}

// Pending reports how many submissions are waiting for a token, used by
// metrics to report rate-limiter backlog.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.cap {
			l.tokens = l.cap
		}
	}
	l.last = now
}

// scheduleDrainLocked arms a timer for however long it'll take to accrue one
// more token, if one isn't already armed. Caller holds l.mu.
func (l *Limiter) scheduleDrainLocked() {
	if l.timer != nil || l.rate <= 0 {
		return
	}
	need := 1 - l.tokens
	if need < 0 {
		need = 0
	}
	delay := time.Duration(need / l.rate * float64(time.Second))
	l.timer = time.AfterFunc(delay, l.drain)
}

// drain walks the pending FIFO in submission order, running each item while
// a token is available and refunding a token (without re-queuing the item)
// whenever an executed item reports it didn't need one. It stops at the
// first item it cannot fund, leaving the rest of the FIFO untouched and
// order-preserved, and reschedules itself for the next refill instant.
func (l *Limiter) drain() {
	l.mu.Lock()
	l.timer = nil
	l.refillLocked()

	for len(l.pending) > 0 {
		if l.tokens < 1 {
			l.scheduleDrainLocked()
			break
		}
		item := l.pending[0]
		l.pending = l.pending[1:]
		l.tokens--
		l.mu.Unlock()

		ok := item.fn()

		l.mu.Lock()
		if !ok {
			l.tokens++
		}
	}
	l.mu.Unlock()
}
