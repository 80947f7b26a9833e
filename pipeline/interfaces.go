package pipeline

import (
	"context"
	"net/http"

	"github.com/loadkit/imagepipeline/imgdata"
	"github.com/loadkit/imagepipeline/request"
)

// Chunk is one element of the finite async byte sequence a DataLoader
// produces (spec.md §6's transport contract): either a data chunk alongside
// the response it arrived with, or a terminal error. Done is set on the
// final element of the sequence, successful or not.
type Chunk struct {
	Data     []byte
	Response *http.Response
	Err      error
	Done     bool
}

// DataLoader is the transport contract spec.md §6 describes: given an HTTP
// request (already carrying any Range/If-Range headers the pipeline added
// for resumption), produce a finite, cancellable sequence of Chunks.
type DataLoader interface {
	Load(ctx context.Context, req *http.Request) (<-chan Chunk, error)
}

// Metrics is the optional observability hook spec.md §6's ambient
// concerns call for. A nil Config.Metrics disables instrumentation
// entirely; every call site guards against it, so the hook costs nothing
// when unused.
type Metrics interface {
	// RecordCacheResult is called once per memory or disk cache lookup,
	// tier being "memory" or "disk".
	RecordCacheResult(tier string, hit bool)
}

// ImageCaching is the thread-safe memory-cache contract spec.md §6 requires.
type ImageCaching interface {
	Get(key request.MemoryCacheKey) (imgdata.Container, bool)
	Set(key request.MemoryCacheKey, c imgdata.Container, cost int)
	Remove(key request.MemoryCacheKey)
	Contains(key request.MemoryCacheKey) bool
}

// DataCaching is the thread-safe disk-cache contract spec.md §6 requires.
// Writes are permitted to be asynchronous with respect to Set returning.
type DataCaching interface {
	Get(key request.DataCacheKey) ([]byte, bool)
	Set(key request.DataCacheKey, data []byte)
	Remove(key request.DataCacheKey)
	Contains(key request.DataCacheKey) bool
}

// DecodeContext is what a Decoder (and the delegate's decoder resolver)
// receives: the bytes decoded so far, whether this is the final pass, the
// sniffed format, and the originating request.
type DecodeContext struct {
	Data        []byte
	Response    *http.Response
	IsCompleted bool
	Format      imgdata.Format
	Request     request.Request
}

// EncodeContext is what an Encoder (and the delegate's encoder resolver)
// receives.
type EncodeContext struct {
	Container imgdata.Container
	Request   request.Request
}

// Decoder turns (possibly partial) wire bytes into a Container. A decoder
// that advertises IsAsynchronous()==false runs inline on the goroutine that
// delivered the data (not on the pipeline's actor) rather than being
// dispatched to the image-decoding queue — appropriate for trivial/pure-Go
// decoders with no meaningful concurrency to gain from a worker pool.
type Decoder interface {
	Decode(ctx context.Context, dctx DecodeContext) (imgdata.Container, error)
	IsAsynchronous() bool
}

// Encoder turns a Container into wire bytes for the data cache.
type Encoder interface {
	Encode(ctx context.Context, ectx EncodeContext) ([]byte, error)
}

// Delegate is the strategy object spec.md §6 describes. Its hooks are not
// confined to the pipeline's actor: those used while a job starts run
// there, the rest run on whichever work-queue goroutine is driving the job
// at that point, so implementations must be safe for concurrent use.
// BaseDelegate implements every method as a reasonable
// default; embed it and override only the hooks a caller cares about,
// matching the teacher's habit of shipping a no-op base for its own
// strategy interfaces (see common.ILogResetable's no-op implementations).
type Delegate interface {
	Decoder(dctx DecodeContext) Decoder
	Encoder(ectx EncodeContext) Encoder
	DataLoader(req request.Request) DataLoader
	MemoryCache(req request.Request) ImageCaching
	DataCache(req request.Request) DataCaching
	CacheKey(req request.Request) string
	WillCache(data []byte, c imgdata.Container, req request.Request) ([]byte, bool)
	ShouldDecompress(resp request.Response) bool
	Decompress(ctx context.Context, c imgdata.Container) (imgdata.Container, error)
	TaskDidStart(task *ImageTask)
	TaskDidFinish(task *ImageTask, err error)
}

// BaseDelegate is the default Delegate: every resolver hook defers to the
// pipeline's own Config, WillCache passes bytes through unchanged,
// ShouldDecompress defers to Config.IsDecompressionEnabled, Decompress is
// the identity transform, and the lifecycle observers do nothing.
type BaseDelegate struct {
	p *Pipeline
}

func (d BaseDelegate) Decoder(dctx DecodeContext) Decoder {
	if d.p.cfg.MakeDecoder == nil {
		return nil
	}
	return d.p.cfg.MakeDecoder(dctx)
}

func (d BaseDelegate) Encoder(ectx EncodeContext) Encoder {
	if d.p.cfg.MakeEncoder == nil {
		return nil
	}
	return d.p.cfg.MakeEncoder(ectx)
}

func (d BaseDelegate) DataLoader(request.Request) DataLoader  { return d.p.cfg.DataLoader }
func (d BaseDelegate) MemoryCache(request.Request) ImageCaching { return d.p.cfg.ImageCache }
func (d BaseDelegate) DataCache(request.Request) DataCaching    { return d.p.cfg.DataCache }
func (d BaseDelegate) CacheKey(request.Request) string          { return "" }

func (d BaseDelegate) WillCache(data []byte, _ imgdata.Container, _ request.Request) ([]byte, bool) {
	return data, true
}

func (d BaseDelegate) ShouldDecompress(request.Response) bool {
	return d.p.cfg.IsDecompressionEnabled
}

func (d BaseDelegate) Decompress(_ context.Context, c imgdata.Container) (imgdata.Container, error) {
	return c, nil
}

func (d BaseDelegate) TaskDidStart(*ImageTask)             {}
func (d BaseDelegate) TaskDidFinish(*ImageTask, error)      {}
