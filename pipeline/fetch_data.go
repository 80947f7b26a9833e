package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/loadkit/imagepipeline/job"
	"github.com/loadkit/imagepipeline/request"
	"github.com/loadkit/imagepipeline/resumable"
	"github.com/loadkit/imagepipeline/wqueue"
)

// newFetchOriginalDataJob builds the C8 job (spec.md §4.7): the state
// machine idle -> (optionally delayed by the rate limiter) -> loading ->
// completed | errored | cancelled.
func newFetchOriginalDataJob(p *Pipeline, req request.Request) *job.Job[dataValue] {
	return job.New[dataValue](func(j *job.Job[dataValue]) {
		switch {
		case req.Resource.Kind == request.ResourceAsyncByteProducer:
			p.fetchViaProducer(j, req)
		case req.Resource.IsLocal() && p.cfg.IsLocalResourcesSupportEnabled:
			p.fetchLocal(j, req)
		default:
			p.fetchRemote(j, req)
		}
	})
}

// enqueueLoad runs body on the data-loading queue, unless the request opts
// out via OptionSkipDataLoadingQueue, in which case it runs immediately on
// its own goroutine with no concurrency bound.
func (p *Pipeline) enqueueLoad(req request.Request, body wqueue.Body) *wqueue.Operation {
	if req.Options.Has(request.OptionSkipDataLoadingQueue) {
		go func() { _ = body(context.Background()) }()
		return nil
	}
	return p.qDataLoading.Enqueue(context.Background(), req.Priority, body)
}

func (p *Pipeline) fetchViaProducer(j *job.Job[dataValue], req request.Request) {
	op := p.enqueueLoad(req, func(ctx context.Context) error {
		data, err := req.Resource.Producer.Produce(ctx)
		if err != nil {
			j.SendError(newError(KindDataLoadingFailed, "producer:"+req.Resource.Producer.ID, err))
			return err
		}
		if len(data) == 0 {
			j.SendError(newError(KindDataIsEmpty, "", nil))
			return nil
		}
		j.SendValue(dataValue{Data: data}, true)
		return nil
	})
	j.SetQueueOperation(op)
}

func (p *Pipeline) fetchLocal(j *job.Job[dataValue], req request.Request) {
	op := p.enqueueLoad(req, func(ctx context.Context) error {
		data, err := loadLocalResource(req.Resource.URL)
		if err != nil {
			j.SendError(newError(KindDataLoadingFailed, req.Resource.URL, err))
			return err
		}
		if len(data) == 0 {
			j.SendError(newError(KindDataIsEmpty, "", nil))
			return nil
		}
		j.SendValue(dataValue{Data: data}, true)
		return nil
	})
	j.SetQueueOperation(op)
}

func loadLocalResource(rawURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawURL, "file://"):
		return os.ReadFile(strings.TrimPrefix(rawURL, "file://"))
	case strings.HasPrefix(rawURL, "data:"):
		return decodeDataURI(rawURL)
	default:
		return nil, errors.New("imagepipeline: unsupported local resource scheme")
	}
}

// decodeDataURI decodes the RFC 2397 subset the pipeline cares about:
// "data:[mediatype][;base64],<payload>".
func decodeDataURI(rawURL string) ([]byte, error) {
	rest := strings.TrimPrefix(rawURL, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, errors.New("imagepipeline: malformed data URI")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	return []byte(payload), nil
}

func (p *Pipeline) buildHTTPRequest(req request.Request) (*http.Request, error) {
	if req.Resource.Kind == request.ResourceURLRequest {
		if req.Resource.URLRequest == nil {
			return nil, errors.New("imagepipeline: nil URLRequest resource")
		}
		return req.Resource.URLRequest, nil
	}
	return http.NewRequest(http.MethodGet, req.Resource.URL, nil)
}

func (p *Pipeline) fetchRemote(j *job.Job[dataValue], req request.Request) {
	run := func() bool {
		op := p.enqueueLoad(req, func(ctx context.Context) error {
			return p.streamRemote(ctx, j, req)
		})
		j.SetQueueOperation(op)
		return true
	}
	if p.cfg.IsRateLimiterEnabled {
		p.limiter.Execute(run)
		return
	}
	run()
}

func (p *Pipeline) streamRemote(ctx context.Context, j *job.Job[dataValue], req request.Request) error {
	httpReq, err := p.buildHTTPRequest(req)
	if err != nil {
		j.SendError(newError(KindDataLoadingFailed, req.ImageID(), err))
		return err
	}
	httpReq = httpReq.WithContext(ctx)

	var prefix []byte
	var resumeValidator string
	if p.cfg.IsResumableDataEnabled {
		if rec, ok := p.resumableStore.Load(p.id, req.ImageID()); ok {
			prefix = rec.Data
			resumeValidator = rec.Validator
			resumable.ApplyRange(httpReq, int64(len(prefix)), resumeValidator)
		}
	}

	loader := p.cfg.Delegate.DataLoader(req)
	if loader == nil {
		loader = p.cfg.DataLoader
	}
	if loader == nil {
		err := errors.New("imagepipeline: no DataLoader configured")
		j.SendError(newError(KindDataLoadingFailed, req.ImageID(), err))
		return err
	}

	chunks, err := loader.Load(ctx, httpReq)
	if err != nil {
		j.SendError(newError(KindDataLoadingFailed, req.ImageID(), err))
		return err
	}

	buffer := append([]byte(nil), prefix...)
	var lastResp chunkResponse
	first := true
	expectedLength := -1
	resumed := false

	for c := range chunks {
		if c.Err != nil {
			total := effectiveTotal(expectedLength, resumed, len(prefix))
			if p.cfg.IsResumableDataEnabled && qualifiesForResume(lastResp, len(buffer), total) {
				p.resumableStore.Store(p.id, req.ImageID(), buffer, validatorOf(lastResp, resumeValidator))
			}
			j.SendError(newError(KindDataLoadingFailed, req.ImageID(), c.Err))
			return c.Err
		}

		if c.Response != nil {
			lastResp = chunkResponse{StatusCode: c.Response.StatusCode, Header: c.Response.Header}
			if expectedLength < 0 && c.Response.ContentLength > 0 {
				expectedLength = int(c.Response.ContentLength)
			}
			if first && len(prefix) > 0 {
				resumed = c.Response.StatusCode == http.StatusPartialContent &&
					resumable.Matches(resumeValidator, resumable.Validator(c.Response.Header))
				if !resumed {
					buffer = buffer[:0]
				}
			}
		}
		first = false

		if len(c.Data) > 0 {
			buffer = append(buffer, c.Data...)
			total := effectiveTotal(expectedLength, resumed, len(prefix))
			j.SendProgress(job.Progress{Completed: int64(len(buffer)), Total: int64(total)})
			if !c.Done {
				j.SendValue(dataValue{Data: append([]byte(nil), buffer...), Response: lastResp}, false)
			}
		}
		if c.Done {
			break
		}
	}

	if len(buffer) == 0 {
		j.SendError(newError(KindDataIsEmpty, req.ImageID(), nil))
		return nil
	}
	j.SendValue(dataValue{Data: buffer, Response: lastResp}, true)
	return nil
}

// effectiveTotal reports the full resource length implied by
// expectedLength (the Content-Length of the in-flight response), adding
// back the prefix length when this fetch resumed a prior partial download,
// or -1 if the length is unknown.
func effectiveTotal(expectedLength int, resumed bool, prefixLen int) int {
	if expectedLength < 0 {
		return -1
	}
	if resumed {
		return expectedLength + prefixLen
	}
	return expectedLength
}

// qualifiesForResume implements spec.md's resumable-storage qualification
// test in full: the response status must be 200 or 206, the body held so
// far must be non-empty and strictly shorter than the full resource length,
// and resumable.Qualifies must confirm both Accept-Ranges: bytes and a
// validator are present. Without all four, a partial download is
// indistinguishable from a complete or unresumable one and must not be
// cached as a resume point.
func qualifiesForResume(resp chunkResponse, bufLen int, total int) bool {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return false
	}
	if bufLen == 0 || total < 0 || bufLen >= total {
		return false
	}
	return resumable.Qualifies(http.Header(resp.Header))
}

func validatorOf(resp chunkResponse, fallback string) string {
	if v := resumable.Validator(http.Header(resp.Header)); v != "" {
		return v
	}
	return fallback
}
