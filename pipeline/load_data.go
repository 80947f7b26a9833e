package pipeline

import (
	"github.com/loadkit/imagepipeline/imagefmt"
	"github.com/loadkit/imagepipeline/imgdata"
	"github.com/loadkit/imagepipeline/job"
	"github.com/loadkit/imagepipeline/request"
)

// newLoadDataJob builds the C11 job (spec.md §4.10): a cached-bytes-first
// check, else a subscription to fetch-original-data with processors
// stripped, each response carrying an empty image placeholder alongside
// the raw bytes.
func newLoadDataJob(p *Pipeline, req request.Request) *job.Job[request.Response] {
	return job.New[request.Response](func(j *job.Job[request.Response]) {
		p.startLoadData(j, req)
	})
}

func (p *Pipeline) startLoadData(j *job.Job[request.Response], req request.Request) {
	if !req.Options.Has(request.OptionDisableDiskCacheRead) {
		if cache := p.cfg.Delegate.DataCache(req); cache != nil {
			data, ok := cache.Get(req.DataKey())
			p.recordCache("disk", ok)
			if ok {
				j.SendValue(dataPlaceholderResponse(req, data, imgdata.CacheDisk), true)
				return
			}
		}
	}

	if req.Options.Has(request.OptionReturnCacheDataDontLoad) {
		j.SendError(newError(KindDataMissingInCache, "", nil))
		return
	}

	strippedReq := req.WithProcessors(nil)
	s := &loadDataSubscriber{p: p, req: req, out: j}
	fetchJob := p.fetchDataJob(strippedReq)
	dsub, ok := fetchJob.Subscribe(s)
	if !ok {
		j.SendError(newError(KindPipelineInvalidated, "", nil))
		return
	}
	j.SetDependency(dsub)
}

// loadDataSubscriber forwards fetch-original-data's byte stream into the
// owning job as placeholder responses, and fires the original-bytes cache
// write as a side effect of the final, completed value.
type loadDataSubscriber struct {
	p   *Pipeline
	req request.Request
	out *job.Job[request.Response]
}

func (s *loadDataSubscriber) Priority() request.Priority { return s.out.Priority() }

func (s *loadDataSubscriber) OnEvent(ev job.Event[dataValue]) {
	switch ev.Kind {
	case job.EventProgress:
		s.out.SendProgress(ev.Progress)
	case job.EventError:
		s.out.SendError(ev.Err)
	case job.EventValue:
		s.out.SendValue(dataPlaceholderResponse(s.req, ev.Value.Data, imgdata.CacheNone), ev.IsCompleted)
		if ev.IsCompleted {
			s.p.storeOriginalBytes(s.req, ev.Value.Data)
		}
	}
}

func dataPlaceholderResponse(req request.Request, data []byte, cacheType imgdata.CacheType) request.Response {
	return request.Response{
		Container: imgdata.Container{OriginalData: data, Type: imagefmt.Detect(data)},
		Request:   req,
		CacheType: cacheType,
	}
}

// storeOriginalBytes is LoadData's data-cache write of the original wire
// bytes (its only cacheable artifact), going through the same
// writeDataCache that load-image's stores use.
func (p *Pipeline) storeOriginalBytes(req request.Request, data []byte) {
	if len(data) == 0 || req.Resource.IsLocal() || req.Options.Has(request.OptionDisableDiskCacheWrite) {
		return
	}
	cache := p.cfg.Delegate.DataCache(req)
	if cache == nil {
		return
	}
	p.writeDataCache(req, cache, data, imgdata.Container{OriginalData: data})
}
