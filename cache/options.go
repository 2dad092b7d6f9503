package cache

import (
	"log/slog"

	"github.com/hupe1980/olapcache/metrics"
)

// Option configures a Worker or a Composite.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics metrics.Collector
	busOpts []EventBusOption
}

func applyOptions(opts []Option) options {
	o := options{
		logger:  slog.New(slog.DiscardHandler),
		metrics: metrics.NoopCollector{},
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

// WithEventBusOptions configures the composite's event bus.
func WithEventBusOptions(opts ...EventBusOption) Option {
	return func(o *options) {
		o.busOpts = append(o.busOpts, opts...)
	}
}
