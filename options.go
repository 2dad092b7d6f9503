package olapcache

import (
	"github.com/hupe1980/olapcache/cache"
	"github.com/hupe1980/olapcache/internal/agg"
	"github.com/hupe1980/olapcache/segment"
)

// DefaultLocalCacheSize is the byte capacity of the in-process cache.
const DefaultLocalCacheSize = 256 << 20

type backend struct {
	name  string
	cache cache.SegmentCache
}

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	registry         *segment.Registry

	localCacheSize   int64
	localCacheShards int
	noLocalCache     bool
	backends         []backend

	memoryLimit    int64
	maxFetches     int64
	fetchesPerSec  float64
	fetchBurst     int
	mergePolicy    agg.MergePolicy
	denseThreshold *float64
	warmStart      bool
	eventQueueCap  int
}

// Option configures Open.
type Option func(*options)

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
//	logger := olapcache.NewJSONLogger(slog.LevelInfo)
//	e, _ := olapcache.Open(ctx, exec, olapcache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithRegistry shares a column registry with the engine. Pass the same
// registry to cache backends that decode headers.
func WithRegistry(reg *segment.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLocalCacheSize sets the byte capacity of the in-process cache.
func WithLocalCacheSize(bytes int64) Option {
	return func(o *options) {
		o.localCacheSize = bytes
	}
}

// WithLocalCacheShards splits the in-process cache into n LRU shards.
// Values below 2 keep a single LRU.
func WithLocalCacheShards(n int) Option {
	return func(o *options) {
		o.localCacheShards = n
	}
}

// WithoutLocalCache disables the in-process cache. Segments are then only
// kept by the configured backends.
func WithoutLocalCache() Option {
	return func(o *options) {
		o.noLocalCache = true
	}
}

// WithBackend adds a cache backend after the in-process cache. Backends
// are consulted in the order they are added.
//
//	store, _ := s3.New(ctx, "segments")
//	e, _ := olapcache.Open(ctx, exec,
//	    olapcache.WithBackend("s3", cache.NewBlobCache(store)))
func WithBackend(name string, c cache.SegmentCache) Option {
	return func(o *options) {
		o.backends = append(o.backends, backend{name: name, cache: c})
	}
}

// WithMemoryLimit caps the bytes held by in-process segment bodies.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithMaxConcurrentFetches bounds the number of executor fetches in flight.
func WithMaxConcurrentFetches(n int) Option {
	return func(o *options) {
		o.maxFetches = int64(n)
	}
}

// WithFetchRateLimit limits how many fetches start per second.
func WithFetchRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.fetchesPerSec = perSecond
		o.fetchBurst = burst
	}
}

// WithMergePolicy replaces the default RowMultiplierPolicy.
func WithMergePolicy(p MergePolicy) Option {
	return func(o *options) {
		o.mergePolicy = p
	}
}

// WithDenseThreshold sets the fill ratio at which segment bodies switch to
// dense storage.
func WithDenseThreshold(ratio float64) Option {
	return func(o *options) {
		o.denseThreshold = &ratio
	}
}

// WithWarmStart indexes the segments the backends already hold during Open.
func WithWarmStart() Option {
	return func(o *options) {
		o.warmStart = true
	}
}

// WithEventQueueCapacity presizes the event queue.
func WithEventQueueCapacity(n int) Option {
	return func(o *options) {
		o.eventQueueCap = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		localCacheSize:   DefaultLocalCacheSize,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.registry == nil {
		o.registry = segment.NewRegistry()
	}
	return o
}
