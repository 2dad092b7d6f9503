package agg

import (
	"log/slog"

	"github.com/hupe1980/olapcache/internal/resource"
	"github.com/hupe1980/olapcache/metrics"
	"github.com/hupe1980/olapcache/segment"
)

// Option configures a Manager.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	metrics     metrics.Collector
	policy      MergePolicy
	rc          *resource.Controller
	builderOpts []segment.BuilderOption
	loadWorkers int
}

func applyOptions(opts []Option) options {
	o := options{
		logger:  slog.New(slog.DiscardHandler),
		metrics: metrics.NoopCollector{},
		policy:  DefaultMergePolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithMergePolicy replaces the default RowMultiplierPolicy.
func WithMergePolicy(p MergePolicy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithResourceController bounds fetch concurrency and rate.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithBuilderOptions passes options to every segment.Builder.
func WithBuilderOptions(opts ...segment.BuilderOption) Option {
	return func(o *options) {
		o.builderOpts = append(o.builderOpts, opts...)
	}
}

// WithLoadWorkers sets the number of loader goroutines.
func WithLoadWorkers(n int) Option {
	return func(o *options) {
		o.loadWorkers = n
	}
}
