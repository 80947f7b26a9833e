package pipeline

import "github.com/loadkit/imagepipeline/plog"

// DataCachePolicy selects which bytes the pipeline writes to the disk cache
// for a given response, per spec.md §4.9's policy table.
type DataCachePolicy uint8

const (
	// PolicyAutomatic stores original wire bytes for unprocessed requests
	// and the final encoded bitmap for processed ones.
	PolicyAutomatic DataCachePolicy = iota
	// PolicyStoreOriginalData always stores the original wire bytes.
	PolicyStoreOriginalData
	// PolicyStoreEncodedImages always stores the final encoded bitmap.
	PolicyStoreEncodedImages
	// PolicyStoreAll stores both when processors or a thumbnail are present.
	PolicyStoreAll
)

func (p DataCachePolicy) String() string {
	switch p {
	case PolicyStoreOriginalData:
		return "storeOriginalData"
	case PolicyStoreEncodedImages:
		return "storeEncodedImages"
	case PolicyStoreAll:
		return "storeAll"
	default:
		return "automatic"
	}
}

// Config is the pipeline's construction-time configuration (spec.md §6),
// mirroring the teacher's plain-struct ste.ConcurrencyParams /
// jobsAdmin init-options shape rather than a functional-options API, since
// that is the form every example of pipeline-wide configuration in the pack
// takes.
type Config struct {
	DataLoader DataLoader
	DataCache  DataCaching
	ImageCache ImageCaching

	MakeDecoder func(DecodeContext) Decoder
	MakeEncoder func(EncodeContext) Encoder

	Delegate Delegate

	IsDecompressionEnabled         bool
	DataCachePolicy                DataCachePolicy
	IsTaskCoalescingEnabled        bool
	IsRateLimiterEnabled           bool
	IsProgressiveDecodingEnabled   bool
	IsStoringPreviewsInMemoryCache bool
	IsResumableDataEnabled         bool
	IsLocalResourcesSupportEnabled bool

	DataLoadingConcurrency   int
	DataCachingConcurrency   int
	DecodingConcurrency      int
	EncodingConcurrency      int
	ProcessingConcurrency    int
	DecompressingConcurrency int

	RateLimiterCapacity        int
	RateLimiterRefillPerSecond float64

	ResumableMaxCostBytes int64
	ResumableMaxCount     int

	Logger plog.Logger

	// Metrics is an optional observability hook; a nil value disables
	// instrumentation.
	Metrics Metrics
}

// DefaultConfig returns the spec.md §6 concurrency and feature defaults:
// data-loading=6, data-caching=2, decoding=1, encoding=1, processing=2,
// decompressing=2; decompression on, coalescing on, rate limiter on,
// progressive decoding off, preview memory-caching on, resumable data on.
func DefaultConfig() Config {
	return Config{
		IsDecompressionEnabled:         true,
		DataCachePolicy:                PolicyStoreOriginalData,
		IsTaskCoalescingEnabled:        true,
		IsRateLimiterEnabled:           true,
		IsProgressiveDecodingEnabled:   false,
		IsStoringPreviewsInMemoryCache: true,
		IsResumableDataEnabled:         true,
		IsLocalResourcesSupportEnabled: false,

		DataLoadingConcurrency:   6,
		DataCachingConcurrency:   2,
		DecodingConcurrency:      1,
		EncodingConcurrency:      1,
		ProcessingConcurrency:    2,
		DecompressingConcurrency: 2,

		RateLimiterCapacity:        6,
		RateLimiterRefillPerSecond: 6,

		ResumableMaxCostBytes: 32 * 1024 * 1024,
		ResumableMaxCount:     100,

		Logger: plog.Nop(),
	}
}
