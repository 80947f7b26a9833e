package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadkit/imagepipeline/imgdata"
	"github.com/loadkit/imagepipeline/request"
)

// fakeImage is the test-only decoded "bitmap" stashed in Container.Image.
type fakeImage struct{ tag string }

func fakeDecoder() Decoder { return fakeDecoderImpl{} }

type fakeDecoderImpl struct{}

func (fakeDecoderImpl) IsAsynchronous() bool { return true }
func (fakeDecoderImpl) Decode(ctx context.Context, dctx DecodeContext) (imgdata.Container, error) {
	return imgdata.Container{
		Image:        fakeImage{tag: string(dctx.Data)},
		OriginalData: dctx.Data,
		IsPreview:    !dctx.IsCompleted,
	}, nil
}

type memImageCache struct {
	mu    sync.Mutex
	items map[request.MemoryCacheKey]imgdata.Container
}

func newMemImageCache() *memImageCache {
	return &memImageCache{items: make(map[request.MemoryCacheKey]imgdata.Container)}
}
func (c *memImageCache) Get(k request.MemoryCacheKey) (imgdata.Container, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[k]
	return v, ok
}
func (c *memImageCache) Set(k request.MemoryCacheKey, v imgdata.Container, cost int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[k] = v
}
func (c *memImageCache) Remove(k request.MemoryCacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, k)
}
func (c *memImageCache) Contains(k request.MemoryCacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[k]
	return ok
}

type memDataCache struct {
	mu    sync.Mutex
	items map[request.DataCacheKey][]byte
}

func newMemDataCache() *memDataCache {
	return &memDataCache{items: make(map[request.DataCacheKey][]byte)}
}
func (c *memDataCache) Get(k request.DataCacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[k]
	return v, ok
}
func (c *memDataCache) Set(k request.DataCacheKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[k] = data
}
func (c *memDataCache) Remove(k request.DataCacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, k)
}
func (c *memDataCache) Contains(k request.DataCacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[k]
	return ok
}

func producerRequest(id string, count *int32, payload string) request.Request {
	return request.Request{
		Resource: request.Resource{
			Kind: request.ResourceAsyncByteProducer,
			Producer: request.AsyncByteProducer{
				ID: id,
				Produce: func(ctx context.Context) ([]byte, error) {
					if count != nil {
						atomic.AddInt32(count, 1)
					}
					return []byte(payload), nil
				},
			},
		},
		Priority: request.EPriority.Normal(),
	}
}

func newTestPipeline(t *testing.T, imgCache ImageCaching, dataCache DataCaching) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IsRateLimiterEnabled = false
	cfg.IsDecompressionEnabled = false
	cfg.MakeDecoder = func(DecodeContext) Decoder { return fakeDecoder() }
	cfg.ImageCache = imgCache
	cfg.DataCache = dataCache
	p := New(cfg)
	t.Cleanup(p.Close)
	return p
}

func awaitResponse(t *testing.T, task *ImageTask) (request.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return task.Response(ctx)
}

func TestLoadImageHappyPath(t *testing.T) {
	p := newTestPipeline(t, newMemImageCache(), newMemDataCache())
	req := producerRequest("a", nil, "hello")

	task := p.LoadImage(context.Background(), req)
	resp, err := awaitResponse(t, task)
	require.NoError(t, err)

	img, ok := resp.Container.Image.(fakeImage)
	require.True(t, ok)
	assert.Equal(t, "hello", img.tag)
	assert.Equal(t, imgdata.CacheNone, resp.CacheType)
}

func TestLoadImageCoalescesIdenticalRequests(t *testing.T) {
	p := newTestPipeline(t, newMemImageCache(), newMemDataCache())
	var produceCount int32
	req := producerRequest("shared", &produceCount, "x")

	t1 := p.LoadImage(context.Background(), req)
	t2 := p.LoadImage(context.Background(), req)

	_, err1 := awaitResponse(t, t1)
	_, err2 := awaitResponse(t, t2)
	require.NoError(t, err1)
	require.NoError(t, err2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&produceCount), "coalesced requests must fetch the producer exactly once")
}

func TestLoadImagePopulatesMemoryCacheAndSecondCallHitsIt(t *testing.T) {
	imgCache := newMemImageCache()
	p := newTestPipeline(t, imgCache, newMemDataCache())
	var produceCount int32
	req := producerRequest("cache-me", &produceCount, "bytes")

	t1 := p.LoadImage(context.Background(), req)
	_, err := awaitResponse(t, t1)
	require.NoError(t, err)
	assert.True(t, imgCache.Contains(req.MemoryKey()))

	// A fresh task for an equal request, issued after the first completed
	// (so no coalescing is in play), must be served from the memory cache
	// without invoking the producer again.
	t2 := p.LoadImage(context.Background(), req)
	resp, err := awaitResponse(t, t2)
	require.NoError(t, err)
	assert.Equal(t, imgdata.CacheMemory, resp.CacheType)
	assert.Equal(t, int32(1), atomic.LoadInt32(&produceCount))
}

func TestLoadImageStoresOriginalBytesInDataCache(t *testing.T) {
	dataCache := newMemDataCache()
	p := newTestPipeline(t, newMemImageCache(), dataCache)
	req := producerRequest("store-me", nil, "payload")

	task := p.LoadImage(context.Background(), req)
	_, err := awaitResponse(t, task)
	require.NoError(t, err)

	data, ok := dataCache.Get(req.DataKey())
	require.True(t, ok)
	assert.Equal(t, "payload", string(data))
}

func TestLoadImageReturnCacheDataDontLoadFailsOnMiss(t *testing.T) {
	p := newTestPipeline(t, newMemImageCache(), newMemDataCache())
	req := producerRequest("nope", nil, "unused")
	req.Options = req.Options.With(request.OptionReturnCacheDataDontLoad)

	task := p.LoadImage(context.Background(), req)
	_, err := awaitResponse(t, task)
	require.Error(t, err)
	assert.True(t, Is(err, KindDataMissingInCache))
}

func TestLoadDataReturnsRawBytesWithoutDecoding(t *testing.T) {
	p := newTestPipeline(t, newMemImageCache(), newMemDataCache())
	req := producerRequest("raw", nil, "the-bytes")

	task := p.LoadData(context.Background(), req)
	resp, err := awaitResponse(t, task)
	require.NoError(t, err)
	assert.Equal(t, "the-bytes", string(resp.Container.OriginalData))
	assert.Nil(t, resp.Container.Image)
}

func TestTaskCancelReportsCancellationError(t *testing.T) {
	p := newTestPipeline(t, newMemImageCache(), newMemDataCache())
	req := producerRequest("cancel-me", nil, "data")

	task := p.LoadImage(context.Background(), req)
	task.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := task.Response(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvalidateCancelsLiveTasksAndFailsNewOnes(t *testing.T) {
	p := newTestPipeline(t, newMemImageCache(), newMemDataCache())

	block := make(chan struct{})
	blockedReq := request.Request{
		Resource: request.Resource{
			Kind: request.ResourceAsyncByteProducer,
			Producer: request.AsyncByteProducer{
				ID: "blocked",
				Produce: func(ctx context.Context) ([]byte, error) {
					<-block
					return []byte("late"), nil
				},
			},
		},
		Priority: request.EPriority.Normal(),
	}
	task := p.LoadImage(context.Background(), blockedReq)

	p.Invalidate()
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := task.Response(ctx)
	require.Error(t, err)
	assert.True(t, Is(err, KindPipelineInvalidated))

	after := p.LoadImage(context.Background(), producerRequest("after", nil, "x"))
	_, err = awaitResponse(t, after)
	require.Error(t, err)
	assert.True(t, Is(err, KindPipelineInvalidated))
}

func TestTaskSetPriorityIsNoOpAfterTerminal(t *testing.T) {
	p := newTestPipeline(t, newMemImageCache(), newMemDataCache())
	req := producerRequest("prio", nil, "z")

	task := p.LoadImage(context.Background(), req)
	_, err := awaitResponse(t, task)
	require.NoError(t, err)

	// Must not panic once the task has already reached a terminal state.
	task.SetPriority(request.EPriority.VeryHigh())
}
