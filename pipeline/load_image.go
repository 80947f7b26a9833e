package pipeline

import (
	"context"
	"sync"

	"github.com/loadkit/imagepipeline/imagefmt"
	"github.com/loadkit/imagepipeline/imgdata"
	"github.com/loadkit/imagepipeline/job"
	"github.com/loadkit/imagepipeline/request"
	"github.com/loadkit/imagepipeline/wqueue"
)

// newLoadImageJob builds the C10 job (spec.md §4.9): memory lookup,
// data-cache lookup, processor peel, decompression, cache population, in
// that order.
func newLoadImageJob(p *Pipeline, req request.Request) *job.Job[request.Response] {
	return job.New[request.Response](func(j *job.Job[request.Response]) {
		p.startLoadImage(j, req)
	})
}

func (p *Pipeline) startLoadImage(j *job.Job[request.Response], req request.Request) {
	// Step 1: memory lookup.
	if !req.Options.Has(request.OptionDisableMemoryCacheRead) {
		if cache := p.cfg.Delegate.MemoryCache(req); cache != nil {
			c, ok := cache.Get(req.MemoryKey())
			p.recordCache("memory", ok)
			if ok {
				resp := request.Response{Container: c, Request: req, CacheType: imgdata.CacheMemory}
				j.SendValue(resp, !c.IsPreview)
				if !c.IsPreview {
					return
				}
			}
		}
	}

	// Step 2: data-cache lookup for the processed image.
	if !req.Options.Has(request.OptionDisableDiskCacheRead) {
		if cache := p.cfg.Delegate.DataCache(req); cache != nil {
			data, ok := cache.Get(req.DataKey())
			p.recordCache("disk", ok)
			if ok {
				format := imagefmt.Detect(data)
				dctx := DecodeContext{Data: data, IsCompleted: true, Format: format, Request: req}
				if decoder := p.cfg.Delegate.Decoder(dctx); decoder != nil {
					if c, err := decoder.Decode(context.Background(), dctx); err == nil {
						c.OriginalData = data
						resp := request.Response{Container: c, Request: req, CacheType: imgdata.CacheDisk}
						p.finishLoadImage(j, req, resp, true)
						return
					}
				}
			}
		}
	}

	// Step 3: gate.
	if req.Options.Has(request.OptionReturnCacheDataDontLoad) {
		j.SendError(newError(KindDataMissingInCache, "", nil))
		return
	}

	// Step 4: processor peel, else fetch-original-image.
	if len(req.Processors) > 0 {
		last := req.Processors[len(req.Processors)-1]
		remaining := append([]imgdata.Processor(nil), req.Processors[:len(req.Processors)-1]...)
		subReq := req.WithProcessors(remaining)

		s := &loadImageSubscriber{p: p, req: req, out: j, processor: &last}
		subJob := p.loadImageJob(subReq)
		dsub, ok := subJob.Subscribe(s)
		if !ok {
			j.SendError(newError(KindPipelineInvalidated, "", nil))
			return
		}
		j.SetDependency(dsub)
		return
	}

	s := &loadImageSubscriber{p: p, req: req, out: j}
	fetchJob := p.fetchImageJob(req)
	dsub, ok := fetchJob.Subscribe(s)
	if !ok {
		j.SendError(newError(KindPipelineInvalidated, "", nil))
		return
	}
	j.SetDependency(dsub)
}

// loadImageSubscriber forwards a dependency job's responses into the
// owning load-image job, applying the popped processor (if any) under the
// same back-pressure rule fetch-original-image uses.
type loadImageSubscriber struct {
	p         *Pipeline
	req       request.Request
	out       *job.Job[request.Response]
	processor *imgdata.Processor

	mu       sync.Mutex
	inFlight *wqueue.Operation
}

func (s *loadImageSubscriber) Priority() request.Priority { return s.out.Priority() }

func (s *loadImageSubscriber) OnEvent(ev job.Event[request.Response]) {
	switch ev.Kind {
	case job.EventProgress:
		s.out.SendProgress(ev.Progress)
	case job.EventError:
		s.out.SendError(ev.Err)
	case job.EventValue:
		if s.processor == nil {
			s.p.finishLoadImage(s.out, s.req, ev.Value, ev.IsCompleted)
			return
		}
		s.applyProcessor(ev.Value, ev.IsCompleted)
	}
}

func (s *loadImageSubscriber) applyProcessor(resp request.Response, isCompleted bool) {
	s.mu.Lock()
	if !isCompleted {
		if s.inFlight != nil {
			s.mu.Unlock()
			return
		}
	} else if s.inFlight != nil {
		s.inFlight.Cancel()
		s.inFlight = nil
	}
	s.mu.Unlock()

	proc := *s.processor
	var self *wqueue.Operation
	run := func(ctx context.Context) error {
		c, err := proc.Apply(ctx, resp.Container)
		if !isCompleted {
			s.mu.Lock()
			if s.inFlight == self {
				s.inFlight = nil
			}
			s.mu.Unlock()
		}
		if err != nil {
			if isCompleted {
				s.out.SendError(newError(KindProcessingFailed, proc.ID, err))
			}
			return err
		}
		out := resp
		out.Container = c
		s.p.finishLoadImage(s.out, s.req, out, isCompleted)
		return nil
	}

	// self is recorded from onStart, which runs strictly before run can
	// start (even on an immediate dispatch): storing the handle after
	// Enqueue returns would race run's own clear above when dispatch
	// completes before the caller gets back around to the assignment.
	s.p.qProcessing.EnqueueWithStart(context.Background(), s.req.Priority, func(op *wqueue.Operation) {
		self = op
		if !isCompleted {
			s.mu.Lock()
			s.inFlight = op
			s.mu.Unlock()
		}
	}, run)
}

// finishLoadImage implements steps 5-7: decompression (if applicable),
// cache population, and emission. Non-completed (preview) responses skip
// straight to emission.
func (p *Pipeline) finishLoadImage(out *job.Job[request.Response], req request.Request, resp request.Response, isCompleted bool) {
	if !isCompleted {
		out.SendValue(resp, false)
		return
	}
	if p.shouldDecompress(out, req, resp) {
		p.qDecompressing.Enqueue(context.Background(), req.Priority, func(ctx context.Context) error {
			c, err := p.cfg.Delegate.Decompress(ctx, resp.Container)
			if err != nil {
				out.SendError(newError(KindDecodingFailed, "decompress", err))
				return err
			}
			resp.Container = c
			p.populateCachesAndEmit(out, req, resp)
			return nil
		})
		return
	}
	p.populateCachesAndEmit(out, req, resp)
}

func (p *Pipeline) shouldDecompress(out *job.Job[request.Response], req request.Request, resp request.Response) bool {
	if !p.cfg.IsDecompressionEnabled || req.Options.Has(request.OptionSkipDecompression) {
		return false
	}
	if !job.HasDirectSubscriberOfType[request.Response, *ImageTask](out) {
		return false
	}
	return p.cfg.Delegate.ShouldDecompress(resp)
}

func (p *Pipeline) populateCachesAndEmit(out *job.Job[request.Response], req request.Request, resp request.Response) {
	if job.HasDirectSubscriberOfType[request.Response, *ImageTask](out) {
		p.populateMemoryCache(req, resp)
		p.maybeStoreDataCache(req, resp)
	}
	out.SendValue(resp, true)
}

func (p *Pipeline) populateMemoryCache(req request.Request, resp request.Response) {
	if req.Options.Has(request.OptionDisableMemoryCacheWrite) {
		return
	}
	if resp.Container.IsPreview && !p.cfg.IsStoringPreviewsInMemoryCache {
		return
	}
	cache := p.cfg.Delegate.MemoryCache(req)
	if cache == nil {
		return
	}
	cache.Set(req.MemoryKey(), resp.Container, len(resp.Container.OriginalData))
}

// maybeStoreDataCache applies the data-cache policy table of spec.md §4.9:
// it only fires for a direct, non-preview, non-already-disk, non-local
// response (the caller, populateCachesAndEmit, already checked directness).
func (p *Pipeline) maybeStoreDataCache(req request.Request, resp request.Response) {
	if resp.Container.IsPreview || resp.CacheType == imgdata.CacheDisk {
		return
	}
	if req.Resource.IsLocal() || req.Options.Has(request.OptionDisableDiskCacheWrite) {
		return
	}
	cache := p.cfg.Delegate.DataCache(req)
	if cache == nil {
		return
	}

	hasProcessorsOrThumbnail := len(req.Processors) > 0 || req.Thumbnail != nil
	switch p.cfg.DataCachePolicy {
	case PolicyStoreOriginalData:
		p.storeOriginalBytesIfPresent(req, cache, resp)
	case PolicyStoreEncodedImages:
		p.encodeAndStore(req, cache, resp)
	case PolicyStoreAll:
		p.storeOriginalBytesIfPresent(req, cache, resp)
		if hasProcessorsOrThumbnail {
			p.encodeAndStore(req, cache, resp)
		}
	default: // PolicyAutomatic
		if hasProcessorsOrThumbnail {
			p.encodeAndStore(req, cache, resp)
		} else {
			p.storeOriginalBytesIfPresent(req, cache, resp)
		}
	}
}

func (p *Pipeline) storeOriginalBytesIfPresent(req request.Request, cache DataCaching, resp request.Response) {
	if len(resp.Container.OriginalData) == 0 {
		return
	}
	p.writeDataCache(req, cache, resp.Container.OriginalData, resp.Container)
}

func (p *Pipeline) encodeAndStore(req request.Request, cache DataCaching, resp request.Response) {
	encoder := p.cfg.Delegate.Encoder(EncodeContext{Container: resp.Container, Request: req})
	if encoder == nil {
		return
	}
	p.qEncoding.Enqueue(context.Background(), req.Priority, func(ctx context.Context) error {
		data, err := encoder.Encode(ctx, EncodeContext{Container: resp.Container, Request: req})
		if err != nil {
			return err
		}
		p.writeDataCache(req, cache, data, resp.Container)
		return nil
	})
}

func (p *Pipeline) writeDataCache(req request.Request, cache DataCaching, data []byte, c imgdata.Container) {
	out, ok := p.cfg.Delegate.WillCache(data, c, req)
	if !ok {
		return
	}
	cache.Set(req.DataKey(), out)
}
