// Package wqueue implements the pipeline's priority-bounded, cooperative
// work queue (spec.md §4.1, component C2): at most maxConcurrentTaskCount
// bodies run at once; pending items are held in five priority buckets and
// dispatched highest-priority-first, FIFO within a bucket. The bucket
// storage is the intrusive doubly-linked list in dlist.go.
package wqueue

import (
	"context"
	"sync"

	"github.com/loadkit/imagepipeline/plog"
	"github.com/loadkit/imagepipeline/request"
)

// Body is the async work an enqueued Operation performs. It should observe
// ctx cancellation promptly; the queue never forcibly kills a goroutine.
type Body func(ctx context.Context) error

// Queue is a bounded-concurrency, priority-ordered scheduler. The zero value
// is not usable; construct with New.
type Queue struct {
	mu            sync.Mutex
	name          string
	log           plog.Logger
	maxConcurrent int
	running       int
	suspended     bool
	buckets       [5]*dlist[*Operation]
}

// StartFunc is run synchronously immediately before an operation's body
// begins, whether dispatch is immediate or deferred to a later Resume/
// complete. See EnqueueWithStart.
type StartFunc func(*Operation)

// New builds a Queue named for logging (matching the per-queue naming the
// pipeline orchestrator uses: "data-loading", "image-decoding", ...).
func New(name string, maxConcurrent int, log plog.Logger) *Queue {
	if log == nil {
		log = plog.Nop()
	}
	q := &Queue{name: name, log: log.Named(name), maxConcurrent: maxConcurrent}
	for i := range q.buckets {
		q.buckets[i] = newDList[*Operation]()
	}
	return q
}

// Operation is the handle returned by Enqueue: callers cancel it or adjust
// its priority without knowing whether it is queued or already running.
type Operation struct {
	mu       sync.Mutex
	q        *Queue
	ctx      context.Context
	body     Body
	priority request.Priority
	node     *dnode[*Operation] // non-nil while parked in a bucket
	running  bool
	done     bool
	cancel   context.CancelFunc
	onStart  StartFunc
}

// Priority reports the operation's current priority.
func (op *Operation) Priority() request.Priority {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.priority
}

// Enqueue schedules body at the given priority. If the queue has free
// capacity and is not suspended, it starts immediately; otherwise it is
// prepended to its priority's bucket (spec.md §4.1 enqueue policy).
func (q *Queue) Enqueue(ctx context.Context, priority request.Priority, body Body) *Operation {
	return q.enqueue(ctx, priority, nil, body)
}

// EnqueueWithStart is Enqueue plus a hook: onStart runs synchronously on
// whatever goroutine dispatches the operation (the caller's, for immediate
// dispatch, or a prior operation's completing goroutine, for a deferred
// one) strictly before body can begin running. A caller that needs to
// record the returned Operation somewhere body's own completion also
// touches (the one-in-flight back-pressure trackers in load_image.go and
// fetch_image.go) must do that recording from onStart, not after Enqueue
// returns. Storing it afterward races body's completion when dispatch is
// immediate and body finishes before the caller gets back around to it.
func (q *Queue) EnqueueWithStart(ctx context.Context, priority request.Priority, onStart StartFunc, body Body) *Operation {
	return q.enqueue(ctx, priority, onStart, body)
}

func (q *Queue) enqueue(ctx context.Context, priority request.Priority, onStart StartFunc, body Body) *Operation {
	op := &Operation{q: q, ctx: ctx, body: body, priority: priority, onStart: onStart}

	q.mu.Lock()
	if !q.suspended && q.running < q.maxConcurrent {
		q.running++
		q.mu.Unlock()
		q.launch(op)
		return op
	}
	op.node = q.buckets[priority].PushFront(op)
	q.mu.Unlock()
	return op
}

func (q *Queue) launch(op *Operation) {
	cctx, cancel := context.WithCancel(op.ctx)
	op.mu.Lock()
	op.running = true
	op.cancel = cancel
	op.mu.Unlock()

	if op.onStart != nil {
		op.onStart(op)
	}

	go func() {
		err := op.body(cctx)
		if err != nil {
			q.log.Log(plog.Debug, "operation body returned error", "err", err)
		}
		q.complete(op)
	}()
}

// complete marks op done, frees a concurrency slot, and dispatches the next
// eligible pending operation, if any.
func (q *Queue) complete(op *Operation) {
	op.mu.Lock()
	op.running = false
	op.done = true
	op.mu.Unlock()

	q.mu.Lock()
	q.running--
	next := q.dispatchNextLocked()
	q.mu.Unlock()

	if next != nil {
		q.launch(next)
	}
}

// dispatchNextLocked pops the oldest item from the highest-priority
// non-empty bucket and reserves a running slot for it, returning nil if the
// queue is suspended, at capacity, or empty. Caller holds q.mu.
func (q *Queue) dispatchNextLocked() *Operation {
	if q.suspended || q.running >= q.maxConcurrent {
		return nil
	}
	for p := len(q.buckets) - 1; p >= 0; p-- {
		if n, ok := q.buckets[p].PopBack(); ok {
			op := n.value
			op.mu.Lock()
			op.node = nil
			op.mu.Unlock()
			q.running++
			return op
		}
	}
	return nil
}

// SetPriority moves a still-queued operation to a different bucket in O(1).
// A no-op if the operation is already running or done, per spec.md §4.1.
func (op *Operation) SetPriority(p request.Priority) {
	op.q.mu.Lock()
	defer op.q.mu.Unlock()
	op.mu.Lock()
	defer op.mu.Unlock()

	if op.running || op.done {
		return
	}
	if op.node != nil && op.priority != p {
		op.q.buckets[op.priority].Remove(op.node)
		op.node = op.q.buckets[p].PushFront(op)
	}
	op.priority = p
}

// Cancel removes the operation from its bucket if still queued, or cancels
// its context if already running. Idempotent.
func (op *Operation) Cancel() {
	op.q.mu.Lock()
	op.mu.Lock()
	if op.done {
		op.mu.Unlock()
		op.q.mu.Unlock()
		return
	}
	if op.node != nil {
		op.q.buckets[op.priority].Remove(op.node)
		op.node = nil
		op.done = true
		op.mu.Unlock()
		op.q.mu.Unlock()
		return
	}
	cancel := op.cancel
	op.mu.Unlock()
	op.q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Suspend stops new dispatch; operations already running continue.
func (q *Queue) Suspend() {
	q.mu.Lock()
	q.suspended = true
	q.mu.Unlock()
}

// Resume re-enables dispatch and drains as much of the backlog as capacity
// allows.
func (q *Queue) Resume() {
	for {
		q.mu.Lock()
		q.suspended = false
		next := q.dispatchNextLocked()
		q.mu.Unlock()
		if next == nil {
			return
		}
		q.launch(next)
	}
}

// Len returns the total number of queued (not running) operations across
// all priority buckets, used by metrics to report per-queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, b := range q.buckets {
		n += b.Len()
	}
	return n
}

// Running reports how many bodies are currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}
