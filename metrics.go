package olapcache

import "github.com/hupe1980/olapcache/metrics"

// MetricsCollector receives operational metrics. See metrics.Collector.
type MetricsCollector = metrics.Collector

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector = metrics.NoopCollector

// BasicMetricsCollector keeps in-memory counters.
//
//	m := &olapcache.BasicMetricsCollector{}
//	e, _ := olapcache.Open(ctx, exec, olapcache.WithMetricsCollector(m))
//	// ...
//	fmt.Println(m.Stats().Hits)
type BasicMetricsCollector = metrics.BasicCollector
