// Package job implements the pipeline's coalesced, multi-subscriber unit of
// work (spec.md §4.2, component C3): subscribers attach and detach, priority
// is the max over subscribers, and the job carries at most one dependency
// subscription to another job and one owned work-queue operation. All three
// are released together when the job disposes.
//
// The subscriber table follows the teacher engine's habit of avoiding an
// allocation for the overwhelmingly common single-subscriber case (see
// ste/mgr-JobPartTransferMgr.go's per-transfer bookkeeping): one inline slot
// plus an overflow map, per spec.md §9.
package job

import (
	"sync"

	"github.com/loadkit/imagepipeline/request"
	"github.com/loadkit/imagepipeline/wqueue"
)

// State is a Job's lifecycle stage. Once Disposed, a Job never re-enters
// Pending or Running.
type State uint8

const (
	StatePending State = iota
	StateRunning
	StateDisposed
)

// EventKind tags which field of Event is populated.
type EventKind uint8

const (
	EventValue EventKind = iota
	EventProgress
	EventError
)

// Progress is a completed/total byte (or item) count pair.
type Progress struct {
	Completed, Total int64
}

// Event is what a Job delivers to every subscriber, in order, for a given
// emission: a value (possibly non-terminal), a progress tick, or a terminal
// error.
type Event[V any] struct {
	Kind        EventKind
	Value       V
	IsCompleted bool
	Progress    Progress
	Err         error
}

// Subscriber is what a caller implements to observe a Job. Priority is
// queried during a full priority rescan (on subscribe, on removal, or when
// a suggested priority is lower than the current one); OnEvent delivers
// everything else.
type Subscriber[V any] interface {
	Priority() request.Priority
	OnEvent(Event[V])
}

// Dependency is the narrow interface a Job needs from whatever it holds as
// its single "subscription to a parent job" edge (spec.md §3 ownership
// summary, §9). A *Subscription[W] for any W satisfies it.
type Dependency interface {
	SetPriority(p request.Priority)
	Unsubscribe()
}

type subEntry[V any] struct {
	id  int64
	sub Subscriber[V]
}

// Job is a coalesced, multi-subscriber unit of work. The zero value is not
// usable; construct with New.
type Job[V any] struct {
	mu sync.Mutex

	state   State
	starter func(j *Job[V])

	nextSubID int64
	inline    *subEntry[V]
	overflow  map[int64]*subEntry[V]

	priority   request.Priority
	dependency Dependency
	queueOp    *wqueue.Operation
	onDispose  func()
}

// New builds a Job in the Pending state. starter runs exactly once, inline,
// on the first Subscribe call; it may call SendValue/SendProgress/SendError
// synchronously.
func New[V any](starter func(j *Job[V])) *Job[V] {
	return &Job[V]{starter: starter, priority: request.EPriority.VeryLow()}
}

// OnDispose registers the hook invoked exactly once when the job disposes,
// used by taskpool.Pool to evict its weak reference.
func (j *Job[V]) OnDispose(fn func()) {
	j.mu.Lock()
	alreadyDisposed := j.state == StateDisposed
	if !alreadyDisposed {
		j.onDispose = fn
	}
	j.mu.Unlock()
	if alreadyDisposed && fn != nil {
		fn()
	}
}

// State reports the job's current lifecycle stage.
func (j *Job[V]) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Priority reports the job's current (subscriber-max) priority.
func (j *Job[V]) Priority() request.Priority {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.priority
}

// Subscription is the token a subscriber holds against a Job.
type Subscription[V any] struct {
	job *Job[V]
	id  int64
}

// SetPriority reports the subscriber's new priority to the job. If it is at
// least the job's current priority this is an O(1) short-circuit; otherwise
// it triggers a full max-over-subscribers rescan (spec.md §4.2).
func (s *Subscription[V]) SetPriority(p request.Priority) {
	s.job.onSubscriberPriorityChanged(p)
}

// Unsubscribe removes this subscriber. If it was the last one, the job
// disposes: its dependency is unsubscribed and its queue operation
// cancelled.
func (s *Subscription[V]) Unsubscribe() {
	s.job.unsubscribe(s.id)
}

// Subscribe attaches sub to the job, returning ok=false if the job is
// already disposed. The first successful subscription runs starter inline.
func (j *Job[V]) Subscribe(sub Subscriber[V]) (*Subscription[V], bool) {
	j.mu.Lock()
	if j.state == StateDisposed {
		j.mu.Unlock()
		return nil, false
	}
	id := j.nextSubID
	j.nextSubID++
	j.addSubLocked(id, sub)

	first := j.state == StatePending
	if first {
		j.state = StateRunning
	}

	max := j.scanMaxLocked()
	changed := max != j.priority
	j.priority = max
	dep, op := j.dependency, j.queueOp
	j.mu.Unlock()

	if changed {
		propagate(dep, op, max)
	}
	if first && j.starter != nil {
		j.starter(j)
	}
	return &Subscription[V]{job: j, id: id}, true
}

// SetDependency assigns the job's single dependency subscription, replacing
// any previous one, and immediately propagates the job's current priority
// to it (spec.md §4.2).
func (j *Job[V]) SetDependency(dep Dependency) {
	j.mu.Lock()
	j.dependency = dep
	p := j.priority
	j.mu.Unlock()
	if dep != nil {
		dep.SetPriority(p)
	}
}

// SetQueueOperation assigns (or clears, with nil) the work-queue operation
// the job owns, propagating current priority immediately.
func (j *Job[V]) SetQueueOperation(op *wqueue.Operation) {
	j.mu.Lock()
	j.queueOp = op
	p := j.priority
	j.mu.Unlock()
	if op != nil {
		op.SetPriority(p)
	}
}

// SendValue delivers v to every current subscriber. If isCompleted, the job
// disposes after delivery.
func (j *Job[V]) SendValue(v V, isCompleted bool) {
	subs, ok := j.snapshotIfLive()
	if !ok {
		return
	}
	ev := Event[V]{Kind: EventValue, Value: v, IsCompleted: isCompleted}
	for _, s := range subs {
		s.OnEvent(ev)
	}
	if isCompleted {
		j.dispose()
	}
}

// SendProgress delivers a progress tick; it never changes job state.
func (j *Job[V]) SendProgress(p Progress) {
	subs, ok := j.snapshotIfLive()
	if !ok {
		return
	}
	ev := Event[V]{Kind: EventProgress, Progress: p}
	for _, s := range subs {
		s.OnEvent(ev)
	}
}

// SendError delivers a terminal error to every subscriber, then disposes.
func (j *Job[V]) SendError(err error) {
	subs, ok := j.snapshotIfLive()
	if !ok {
		return
	}
	ev := Event[V]{Kind: EventError, Err: err}
	for _, s := range subs {
		s.OnEvent(ev)
	}
	j.dispose()
}

func (j *Job[V]) snapshotIfLive() ([]Subscriber[V], bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateDisposed {
		return nil, false
	}
	return j.snapshotSubsLocked(), true
}

func (j *Job[V]) unsubscribe(id int64) {
	j.mu.Lock()
	j.removeSubLocked(id)
	if j.subCountLocked() == 0 {
		j.mu.Unlock()
		j.dispose()
		return
	}
	max := j.scanMaxLocked()
	changed := max != j.priority
	j.priority = max
	dep, op := j.dependency, j.queueOp
	j.mu.Unlock()
	if changed {
		propagate(dep, op, max)
	}
}

func (j *Job[V]) onSubscriberPriorityChanged(suggested request.Priority) {
	j.mu.Lock()
	if suggested >= j.priority {
		changed := suggested != j.priority
		j.priority = suggested
		dep, op := j.dependency, j.queueOp
		j.mu.Unlock()
		if changed {
			propagate(dep, op, suggested)
		}
		return
	}
	max := j.scanMaxLocked()
	changed := max != j.priority
	j.priority = max
	dep, op := j.dependency, j.queueOp
	j.mu.Unlock()
	if changed {
		propagate(dep, op, max)
	}
}

// dispose transitions the job to Disposed exactly once, releasing the
// dependency subscription and the owned queue operation, then firing the
// eviction hook.
func (j *Job[V]) dispose() {
	j.mu.Lock()
	if j.state == StateDisposed {
		j.mu.Unlock()
		return
	}
	j.state = StateDisposed
	dep, op, hook := j.dependency, j.queueOp, j.onDispose
	j.dependency, j.queueOp, j.onDispose = nil, nil, nil
	j.mu.Unlock()

	if dep != nil {
		dep.Unsubscribe()
	}
	if op != nil {
		op.Cancel()
	}
	if hook != nil {
		hook()
	}
}

func propagate(dep Dependency, op *wqueue.Operation, p request.Priority) {
	if dep != nil {
		dep.SetPriority(p)
	}
	if op != nil {
		op.SetPriority(p)
	}
}

// --- subscriber table: inline slot + overflow map ---

func (j *Job[V]) addSubLocked(id int64, sub Subscriber[V]) {
	if j.inline == nil {
		j.inline = &subEntry[V]{id: id, sub: sub}
		return
	}
	if j.overflow == nil {
		j.overflow = make(map[int64]*subEntry[V])
	}
	j.overflow[id] = &subEntry[V]{id: id, sub: sub}
}

func (j *Job[V]) removeSubLocked(id int64) {
	if j.inline != nil && j.inline.id == id {
		j.inline = nil
		return
	}
	if j.overflow != nil {
		delete(j.overflow, id)
	}
}

func (j *Job[V]) subCountLocked() int {
	n := 0
	if j.inline != nil {
		n++
	}
	n += len(j.overflow)
	return n
}

func (j *Job[V]) scanMaxLocked() request.Priority {
	max := request.EPriority.VeryLow()
	if j.inline != nil {
		max = max.Max(j.inline.sub.Priority())
	}
	for _, e := range j.overflow {
		max = max.Max(e.sub.Priority())
	}
	return max
}

func (j *Job[V]) snapshotSubsLocked() []Subscriber[V] {
	out := make([]Subscriber[V], 0, j.subCountLocked())
	if j.inline != nil {
		out = append(out, j.inline.sub)
	}
	for _, e := range j.overflow {
		out = append(out, e.sub)
	}
	return out
}

// HasDirectSubscriberOfType reports whether any current subscriber's
// dynamic type matches T, used by load-image (C10) to gate decompression
// and cache population on "has at least one direct ImageTask subscriber"
// (spec.md §4.9 steps 5-6) without job knowing about ImageTask directly.
func HasDirectSubscriberOfType[V any, T any](j *Job[V]) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	check := func(s Subscriber[V]) bool {
		_, ok := any(s).(T)
		return ok
	}
	if j.inline != nil && check(j.inline.sub) {
		return true
	}
	for _, e := range j.overflow {
		if check(e.sub) {
			return true
		}
	}
	return false
}
