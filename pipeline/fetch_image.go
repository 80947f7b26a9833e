package pipeline

import (
	"context"
	"net/http"
	"sync"

	"github.com/loadkit/imagepipeline/imagefmt"
	"github.com/loadkit/imagepipeline/job"
	"github.com/loadkit/imagepipeline/request"
	"github.com/loadkit/imagepipeline/wqueue"
)

// newFetchOriginalImageJob builds the C9 job (spec.md §4.8): it subscribes
// to fetch-original-data for req and decodes each chunk it observes,
// progressive or final, subject to the one-decode-in-flight back-pressure
// rule.
func newFetchOriginalImageJob(p *Pipeline, req request.Request) *job.Job[request.Response] {
	return job.New[request.Response](func(j *job.Job[request.Response]) {
		s := &fetchImageSubscriber{p: p, req: req, out: j}
		dataJob := p.fetchDataJob(req)
		dsub, ok := dataJob.Subscribe(s)
		if !ok {
			j.SendError(newError(KindPipelineInvalidated, "", nil))
			return
		}
		j.SetDependency(dsub)
	})
}

// fetchImageSubscriber adapts a fetch-original-data job's dataValue events
// into decoded request.Response events on the outer job, tracking at most
// one in-flight decode operation.
type fetchImageSubscriber struct {
	p   *Pipeline
	req request.Request
	out *job.Job[request.Response]

	mu       sync.Mutex
	inFlight *wqueue.Operation
}

func (s *fetchImageSubscriber) Priority() request.Priority { return s.out.Priority() }

func (s *fetchImageSubscriber) OnEvent(ev job.Event[dataValue]) {
	switch ev.Kind {
	case job.EventProgress:
		s.out.SendProgress(ev.Progress)
	case job.EventError:
		s.out.SendError(ev.Err)
	case job.EventValue:
		s.handleValue(ev.Value, ev.IsCompleted)
	}
}

func (s *fetchImageSubscriber) handleValue(v dataValue, isCompleted bool) {
	s.mu.Lock()
	if !isCompleted {
		if !s.p.cfg.IsProgressiveDecodingEnabled {
			s.mu.Unlock()
			return
		}
		if s.inFlight != nil {
			s.mu.Unlock()
			return // back-pressure: one progressive decode in flight, drop this tick
		}
	} else if s.inFlight != nil {
		s.inFlight.Cancel()
		s.inFlight = nil
	}
	s.mu.Unlock()

	format := imagefmt.Detect(v.Data)
	dctx := DecodeContext{
		Data:        v.Data,
		Response:    syntheticResponse(v.Response),
		IsCompleted: isCompleted,
		Format:      format,
		Request:     s.req,
	}
	decoder := s.p.cfg.Delegate.Decoder(dctx)
	if decoder == nil {
		if isCompleted {
			s.out.SendError(newError(KindDecoderNotRegistered, format.String(), nil))
		}
		return
	}

	var self *wqueue.Operation
	run := func(ctx context.Context) error {
		c, err := decoder.Decode(ctx, dctx)
		if !isCompleted {
			s.mu.Lock()
			if s.inFlight == self {
				s.inFlight = nil
			}
			s.mu.Unlock()
		}
		if err != nil {
			if isCompleted {
				s.out.SendError(newError(KindDecodingFailed, format.String(), err))
			}
			// progressive decode failures are swallowed per spec.md §4.8/§7.
			return err
		}
		s.out.SendValue(request.Response{Container: c, Request: s.req}, isCompleted)
		return nil
	}

	if !decoder.IsAsynchronous() {
		_ = run(context.Background())
		return
	}
	// self is recorded from onStart, which runs strictly before run can
	// start (even on an immediate dispatch): storing it after Enqueue
	// returns would race run's own clear above when dispatch completes
	// before the caller gets back around to the assignment.
	s.p.qDecoding.EnqueueWithStart(context.Background(), s.req.Priority, func(op *wqueue.Operation) {
		self = op
		if !isCompleted {
			s.mu.Lock()
			s.inFlight = op
			s.mu.Unlock()
		}
	}, run)
}

// syntheticResponse reconstructs a minimal *http.Response from the narrow
// chunkResponse the fetch-original-data job carries, for decoders that
// inspect status/headers (e.g. to special-case a 206 partial response).
func syntheticResponse(r chunkResponse) *http.Response {
	if r.StatusCode == 0 && r.Header == nil {
		return nil
	}
	return &http.Response{StatusCode: r.StatusCode, Header: http.Header(r.Header)}
}
