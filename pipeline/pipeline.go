// Package pipeline implements the orchestrator (C7) and the four job kinds
// it drives (C8-C11, spec.md §4.7-§4.10), plus the caller-facing task handle
// (C12, spec.md §4.11). One actor goroutine draining a buffered command
// channel (capacity 64) serializes LoadImage, LoadData and Invalidate, which
// create tasks, subscribe them to jobs and run each job's start-up cache
// lookups. It does not serialize everything: job and pool state is guarded
// by their own mutexes, and events, decodes, cache writes and delegate calls
// that follow a work-queue operation run on that queue's goroutine.
package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/loadkit/imagepipeline/common"
	"github.com/loadkit/imagepipeline/job"
	"github.com/loadkit/imagepipeline/plog"
	"github.com/loadkit/imagepipeline/ratelimit"
	"github.com/loadkit/imagepipeline/request"
	"github.com/loadkit/imagepipeline/resumable"
	"github.com/loadkit/imagepipeline/taskpool"
	"github.com/loadkit/imagepipeline/wqueue"
)

// dataValue is what the fetch-original-data job (C8) emits: raw wire bytes
// plus the transport response they arrived with, if any (local reads and
// byte-producer resources have no response).
type dataValue struct {
	Data     []byte
	Response chunkResponse
}

// chunkResponse narrows *http.Response down to the two fields the
// resumable-confirmation and policy logic actually inspects, so dataValue
// stays comparable-free and easy to construct for local/producer resources
// that never see a real HTTP response.
type chunkResponse struct {
	StatusCode int
	Header     map[string][]string
}

// Pipeline is the C7 orchestrator: owns configuration, the six priority
// work queues, the rate limiter, the resumable-data store, the four job
// coalescing pools, and the live-task set. Construct with New.
type Pipeline struct {
	cfg Config
	log plog.Logger
	id  string

	qDataLoading   *wqueue.Queue
	qDataCaching   *wqueue.Queue
	qDecoding      *wqueue.Queue
	qEncoding      *wqueue.Queue
	qProcessing    *wqueue.Queue
	qDecompressing *wqueue.Queue

	limiter        *ratelimit.Limiter
	resumableStore *resumable.Store

	fetchDataPool  *taskpool.Pool[request.FetchOriginalDataKey, dataValue]
	fetchImagePool *taskpool.Pool[request.FetchOriginalImageKey, request.Response]
	loadImagePool  *taskpool.Pool[request.LoadImageKey, request.Response]
	loadDataPool   *taskpool.Pool[request.DataCacheKey, request.Response]

	taskIDs common.TaskIDCounter

	mu          sync.Mutex
	tasks       map[int64]*ImageTask
	invalidated bool

	cmds chan func()
}

// New builds a Pipeline from cfg, filling unset knobs from DefaultConfig,
// and starts its actor goroutine.
func New(cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.DataLoadingConcurrency == 0 {
		cfg.DataLoadingConcurrency = def.DataLoadingConcurrency
	}
	if cfg.DataCachingConcurrency == 0 {
		cfg.DataCachingConcurrency = def.DataCachingConcurrency
	}
	if cfg.DecodingConcurrency == 0 {
		cfg.DecodingConcurrency = def.DecodingConcurrency
	}
	if cfg.EncodingConcurrency == 0 {
		cfg.EncodingConcurrency = def.EncodingConcurrency
	}
	if cfg.ProcessingConcurrency == 0 {
		cfg.ProcessingConcurrency = def.ProcessingConcurrency
	}
	if cfg.DecompressingConcurrency == 0 {
		cfg.DecompressingConcurrency = def.DecompressingConcurrency
	}
	if cfg.RateLimiterCapacity == 0 {
		cfg.RateLimiterCapacity = def.RateLimiterCapacity
	}
	if cfg.RateLimiterRefillPerSecond == 0 {
		cfg.RateLimiterRefillPerSecond = def.RateLimiterRefillPerSecond
	}
	if cfg.ResumableMaxCostBytes == 0 {
		cfg.ResumableMaxCostBytes = def.ResumableMaxCostBytes
	}
	if cfg.ResumableMaxCount == 0 {
		cfg.ResumableMaxCount = def.ResumableMaxCount
	}

	log := cfg.Logger.Named("pipeline")
	p := &Pipeline{
		cfg:            cfg,
		log:            log,
		id:             uuid.NewString(),
		qDataLoading:   wqueue.New("data-loading", cfg.DataLoadingConcurrency, log),
		qDataCaching:   wqueue.New("data-caching", cfg.DataCachingConcurrency, log),
		qDecoding:      wqueue.New("image-decoding", cfg.DecodingConcurrency, log),
		qEncoding:      wqueue.New("image-encoding", cfg.EncodingConcurrency, log),
		qProcessing:    wqueue.New("image-processing", cfg.ProcessingConcurrency, log),
		qDecompressing: wqueue.New("image-decompressing", cfg.DecompressingConcurrency, log),
		limiter:        ratelimit.New(cfg.RateLimiterCapacity, cfg.RateLimiterRefillPerSecond),
		resumableStore: resumable.New(cfg.ResumableMaxCostBytes, cfg.ResumableMaxCount),
		fetchDataPool:  taskpool.New[request.FetchOriginalDataKey, dataValue](cfg.IsTaskCoalescingEnabled),
		fetchImagePool: taskpool.New[request.FetchOriginalImageKey, request.Response](cfg.IsTaskCoalescingEnabled),
		loadImagePool:  taskpool.New[request.LoadImageKey, request.Response](cfg.IsTaskCoalescingEnabled),
		loadDataPool:   taskpool.New[request.DataCacheKey, request.Response](cfg.IsTaskCoalescingEnabled),
		tasks:          make(map[int64]*ImageTask),
		cmds:           make(chan func(), 64),
	}
	if p.cfg.Delegate == nil {
		p.cfg.Delegate = BaseDelegate{p: p}
	}
	p.resumableStore.RegisterPipeline(p.id)
	go p.run()
	return p
}

func (p *Pipeline) run() {
	for cmd := range p.cmds {
		cmd()
	}
}

// do runs fn on the actor goroutine and blocks the caller until it
// completes, serializing it with every other job-graph mutation.
func (p *Pipeline) do(fn func()) {
	done := make(chan struct{})
	p.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// Close stops the actor goroutine and releases the pipeline's resumable
// storage namespace. Close does not cancel outstanding tasks, and a task
// does not observe the ctx passed to LoadImage/LoadData; use Cancel.
func (p *Pipeline) Close() {
	p.resumableStore.UnregisterPipeline(p.id)
	close(p.cmds)
}

// Invalidate transitions the pipeline to a terminal state (spec.md §4.6):
// every live task is cancelled, and every subsequent LoadImage/LoadData
// call emits pipelineInvalidated without issuing any transport call.
func (p *Pipeline) Invalidate() {
	p.do(func() {
		p.invalidated = true
		for _, t := range p.tasks {
			t.cancel(newError(KindPipelineInvalidated, "", nil))
		}
	})
}

// QueueStats reports a work queue's queued and running operation counts, by
// the same name wqueue.New was given, for metrics to report per-queue
// depth (summed over priority buckets) without the collector needing
// access to the queue itself.
type QueueStats struct {
	Name    string
	Queued  int
	Running int
}

// Stats snapshots every queue's depth, the rate limiter's pending count,
// and each coalescing pool's live-key count, all metrics-only accessors
// (wqueue.Queue.Len/Running, ratelimit.Limiter.Pending, and
// taskpool.Pool.Len are each documented as existing for this purpose).
// Safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Queues: []QueueStats{
			{Name: "data-loading", Queued: p.qDataLoading.Len(), Running: p.qDataLoading.Running()},
			{Name: "data-caching", Queued: p.qDataCaching.Len(), Running: p.qDataCaching.Running()},
			{Name: "image-decoding", Queued: p.qDecoding.Len(), Running: p.qDecoding.Running()},
			{Name: "image-encoding", Queued: p.qEncoding.Len(), Running: p.qEncoding.Running()},
			{Name: "image-processing", Queued: p.qProcessing.Len(), Running: p.qProcessing.Running()},
			{Name: "image-decompressing", Queued: p.qDecompressing.Len(), Running: p.qDecompressing.Running()},
		},
		RateLimiterPending:  p.limiter.Pending(),
		FetchDataPoolLen:    p.fetchDataPool.Len(),
		FetchImagePoolLen:   p.fetchImagePool.Len(),
		LoadImagePoolLen:    p.loadImagePool.Len(),
		LoadDataPoolLen:     p.loadDataPool.Len(),
	}
}

// Stats is the snapshot Stats() returns.
type Stats struct {
	Queues              []QueueStats
	RateLimiterPending  int
	FetchDataPoolLen    int
	FetchImagePoolLen   int
	LoadImagePoolLen    int
	LoadDataPoolLen     int
}

// recordCache reports a cache lookup outcome to cfg.Metrics, if set.
func (p *Pipeline) recordCache(tier string, hit bool) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordCacheResult(tier, hit)
	}
}

func (p *Pipeline) registerTask(t *ImageTask) {
	p.mu.Lock()
	p.tasks[t.id] = t
	p.mu.Unlock()
}

func (p *Pipeline) unregisterTask(id int64) {
	p.mu.Lock()
	delete(p.tasks, id)
	p.mu.Unlock()
}

func (p *Pipeline) isInvalidated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalidated
}

// LoadImage returns the ImageTask handle for req's full decode/processing
// chain (C10, subscribed to via a coalesced job keyed by LoadImageKeyOf).
func (p *Pipeline) LoadImage(ctx context.Context, req request.Request) *ImageTask {
	var t *ImageTask
	p.do(func() {
		t = p.newTaskLocked(ctx, req, func() *job.Job[request.Response] {
			return p.loadImageJob(req)
		})
	})
	return t
}

// LoadData returns the ImageTask handle for req's data-only chain (C11): no
// decode, just cached-or-fetched bytes behind an empty image placeholder.
func (p *Pipeline) LoadData(ctx context.Context, req request.Request) *ImageTask {
	var t *ImageTask
	p.do(func() {
		t = p.newTaskLocked(ctx, req, func() *job.Job[request.Response] {
			return p.loadDataJob(req)
		})
	})
	return t
}

func (p *Pipeline) newTaskLocked(ctx context.Context, req request.Request, jobFor func() *job.Job[request.Response]) *ImageTask {
	id := p.taskIDs.Next()
	t := &ImageTask{
		pipeline: p,
		id:       id,
		request:  req,
		priority: req.Priority,
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
	}
	if p.invalidated {
		t.failImmediately(newError(KindPipelineInvalidated, "", nil))
		return t
	}
	p.registerTask(t)
	j := jobFor()
	sub, ok := j.Subscribe(t)
	if !ok {
		t.failImmediately(newError(KindPipelineInvalidated, "", nil))
		return t
	}
	t.subscription = sub
	p.cfg.Delegate.TaskDidStart(t)
	return t
}

func (p *Pipeline) fetchDataJob(req request.Request) *job.Job[dataValue] {
	key := req.FetchOriginalDataKeyOf()
	return p.fetchDataPool.PublisherForKey(key, func() *job.Job[dataValue] {
		return newFetchOriginalDataJob(p, req)
	})
}

func (p *Pipeline) fetchImageJob(req request.Request) *job.Job[request.Response] {
	key := req.FetchOriginalImageKeyOf()
	return p.fetchImagePool.PublisherForKey(key, func() *job.Job[request.Response] {
		return newFetchOriginalImageJob(p, req)
	})
}

func (p *Pipeline) loadImageJob(req request.Request) *job.Job[request.Response] {
	key := req.LoadImageKeyOf()
	return p.loadImagePool.PublisherForKey(key, func() *job.Job[request.Response] {
		return newLoadImageJob(p, req)
	})
}

func (p *Pipeline) loadDataJob(req request.Request) *job.Job[request.Response] {
	key := req.DataKey()
	return p.loadDataPool.PublisherForKey(key, func() *job.Job[request.Response] {
		return newLoadDataJob(p, req)
	})
}
