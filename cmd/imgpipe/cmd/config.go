package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/loadkit/imagepipeline/diskcache"
	"github.com/loadkit/imagepipeline/httpload"
	"github.com/loadkit/imagepipeline/memcache"
	"github.com/loadkit/imagepipeline/metrics"
	"github.com/loadkit/imagepipeline/pipeline"
	"github.com/loadkit/imagepipeline/plog"

	"github.com/loadkit/imagepipeline/cmd/imgpipe/codec"
)

// fileConfig is the on-disk shape a --config yaml file is unmarshalled
// into; zero-valued fields fall back to pipeline.DefaultConfig's.
type fileConfig struct {
	CacheDir                string  `yaml:"cacheDir"`
	BandwidthLimitBytesPS   int64   `yaml:"bandwidthLimitBytesPerSecond"`
	MemoryCacheMaxCostBytes int64   `yaml:"memoryCacheMaxCostBytes"`
	MemoryCacheMaxCount     int     `yaml:"memoryCacheMaxCount"`
	RateLimiterCapacity     int     `yaml:"rateLimiterCapacity"`
	RateLimiterRefillPerSec float64 `yaml:"rateLimiterRefillPerSecond"`
	DisableResumableData    bool    `yaml:"disableResumableData"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("cmd: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("cmd: parsing config %s: %w", path, err)
	}
	return fc, nil
}

// buildPipeline wires the default in-process implementations (memcache,
// diskcache, httpload) behind pipeline.DefaultConfig, the way a caller
// embedding this module is expected to in production rather than supplying
// in-memory test doubles.
func buildPipeline(fc fileConfig, verbose bool, metricsAddr string) (*pipeline.Pipeline, func(), error) {
	cacheDir := fc.CacheDir
	if cacheDir == "" {
		cacheDir = os.TempDir() + "/imgpipe-cache"
	}

	dc, err := diskcache.Open(cacheDir, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("cmd: opening disk cache: %w", err)
	}

	maxCost := fc.MemoryCacheMaxCostBytes
	if maxCost == 0 {
		maxCost = memcache.DefaultMaxCost
	}
	maxCount := fc.MemoryCacheMaxCount
	if maxCount == 0 {
		maxCount = memcache.DefaultMaxCount
	}

	cfg := pipeline.DefaultConfig()
	cfg.DataLoader = httpload.New(nil, fc.BandwidthLimitBytesPS)
	cfg.DataCache = dc
	cfg.ImageCache = memcache.New(maxCost, maxCount)
	cfg.MakeDecoder = func(pipeline.DecodeContext) pipeline.Decoder { return codec.StdlibDecoder{} }
	cfg.MakeEncoder = func(pipeline.EncodeContext) pipeline.Encoder { return codec.StdlibEncoder{} }
	cfg.IsResumableDataEnabled = !fc.DisableResumableData

	if fc.RateLimiterCapacity > 0 {
		cfg.RateLimiterCapacity = fc.RateLimiterCapacity
	}
	if fc.RateLimiterRefillPerSec > 0 {
		cfg.RateLimiterRefillPerSecond = fc.RateLimiterRefillPerSec
	}

	level := plog.Warn
	if verbose {
		level = plog.Debug
	}
	cfg.Logger = plog.New(level)

	var srv *http.Server
	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		cfg.Metrics = metrics.New(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() { _ = srv.ListenAndServe() }()
	}

	p := pipeline.New(cfg)
	if reg != nil {
		metrics.Watch(reg, p)
	}
	cleanup := func() {
		p.Close()
		_ = dc.Close()
		if srv != nil {
			_ = srv.Close()
		}
	}
	return p, cleanup, nil
}
