package pipeline

import (
	"context"
	"sync"

	"github.com/loadkit/imagepipeline/job"
	"github.com/loadkit/imagepipeline/request"
)

// EventKind tags which field of Event is populated, matching spec.md
// §4.11's {progress | preview | cancelled | finished} alphabet.
type EventKind uint8

const (
	EventProgress EventKind = iota
	EventPreview
	EventCancelled
	EventFinished
)

// Event is one element of an ImageTask's event stream. Progress and Preview
// may interleave any number of times; exactly one of Cancelled or Finished
// closes the stream.
type Event struct {
	Kind     EventKind
	Progress job.Progress
	Preview  request.Response
	Response request.Response
	Err      error
}

type taskState uint8

const (
	taskPending taskState = iota
	taskRunning
	taskTerminal
)

// ImageTask is the C12 caller-facing handle returned by LoadImage/LoadData:
// a single subscription to a coalesced pipeline job, exposing cancellation,
// priority changes, and a lazy, finite event stream.
type ImageTask struct {
	pipeline *Pipeline
	id       int64
	request  request.Request

	mu           sync.Mutex
	priority     request.Priority
	state        taskState
	subscription *job.Subscription[request.Response]

	events       chan Event
	eventsClosed bool
	done         chan struct{}
	doneOnce     sync.Once
	finalResp    request.Response
	finalErr     error
}

// ID is the pipeline-assigned task id, unique within its pipeline.
func (t *ImageTask) ID() int64 { return t.id }

// Priority implements job.Subscriber.
func (t *ImageTask) Priority() request.Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// OnEvent implements job.Subscriber: translates the job's Value/Progress/
// Error events into the task's own Progress/Preview/Finished vocabulary.
func (t *ImageTask) OnEvent(ev job.Event[request.Response]) {
	switch ev.Kind {
	case job.EventProgress:
		t.emit(Event{Kind: EventProgress, Progress: ev.Progress})
	case job.EventValue:
		if !ev.IsCompleted {
			t.emit(Event{Kind: EventPreview, Preview: ev.Value})
			return
		}
		t.finish(ev.Value, nil)
	case job.EventError:
		t.finish(request.Response{}, ev.Err)
	}
}

// SetPriority updates the task's subscription priority, which (spec.md
// §4.11) triggers the pipeline to recompute the owning job's effective
// priority. A no-op once the task has reached a terminal state.
func (t *ImageTask) SetPriority(p request.Priority) {
	t.mu.Lock()
	if t.state == taskTerminal {
		t.mu.Unlock()
		return
	}
	t.priority = p
	sub := t.subscription
	t.mu.Unlock()
	if sub != nil {
		sub.SetPriority(p)
	}
}

// Cancel is idempotent: it unsubscribes from the owning job and emits a
// cancelled event exactly once. Per spec.md §4.11 this is asynchronous with
// respect to the caller — it does not wait for in-flight work to unwind.
func (t *ImageTask) Cancel() {
	t.mu.Lock()
	if t.state == taskTerminal {
		t.mu.Unlock()
		return
	}
	t.state = taskTerminal
	sub := t.subscription
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	t.mu.Lock()
	t.finalErr = context.Canceled
	t.mu.Unlock()
	t.emit(Event{Kind: EventCancelled})
	t.closeDone()
	t.pipeline.cfg.Delegate.TaskDidFinish(t, context.Canceled)
	t.pipeline.unregisterTask(t.id)
}

// cancel is the orchestrator-driven counterpart to Cancel, used by
// Invalidate to tear down every live task with a specific terminal error
// instead of the caller-facing bare "cancelled" event.
func (t *ImageTask) cancel(err error) {
	t.mu.Lock()
	if t.state == taskTerminal {
		t.mu.Unlock()
		return
	}
	t.state = taskTerminal
	sub := t.subscription
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	t.finishLocked(request.Response{}, err)
}

func (t *ImageTask) finish(resp request.Response, err error) {
	t.mu.Lock()
	if t.state == taskTerminal {
		t.mu.Unlock()
		return
	}
	t.state = taskTerminal
	t.mu.Unlock()
	t.finishLocked(resp, err)
}

func (t *ImageTask) finishLocked(resp request.Response, err error) {
	t.mu.Lock()
	t.finalResp, t.finalErr = resp, err
	t.mu.Unlock()
	t.emit(Event{Kind: EventFinished, Response: resp, Err: err})
	t.closeDone()
	t.pipeline.cfg.Delegate.TaskDidFinish(t, err)
	t.pipeline.unregisterTask(t.id)
}

// failImmediately finishes the task without ever having subscribed it to a
// job, used when the pipeline is already invalidated at task-creation time.
func (t *ImageTask) failImmediately(err error) {
	t.state = taskTerminal
	t.finalErr = err
	t.events <- Event{Kind: EventFinished, Err: err}
	t.eventsClosed = true
	close(t.events)
	t.closeDone()
}

func (t *ImageTask) emit(ev Event) {
	terminal := ev.Kind == EventCancelled || ev.Kind == EventFinished

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eventsClosed {
		return
	}
	select {
	case t.events <- ev:
	default:
		// A caller that never drains Events() still gets Response()/Image();
		// dropping here only affects the enumerable stream, never the result.
	}
	if terminal {
		t.eventsClosed = true
		close(t.events)
	}
}

func (t *ImageTask) closeDone() {
	t.doneOnce.Do(func() {
		close(t.done)
	})
}

// Events returns the task's lazy, finite event stream. It is closed after
// exactly one terminal (Cancelled or Finished) event.
func (t *ImageTask) Events() <-chan Event {
	return t.events
}

// Response blocks until the task reaches a terminal state and returns its
// result, or the context error if ctx is cancelled first.
func (t *ImageTask) Response(ctx context.Context) (request.Response, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.finalResp, t.finalErr
	case <-ctx.Done():
		return request.Response{}, ctx.Err()
	}
}

// Image is a convenience wrapper over Response that surfaces only the
// decoded image.
func (t *ImageTask) Image(ctx context.Context) (any, error) {
	resp, err := t.Response(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Container.Image, nil
}
