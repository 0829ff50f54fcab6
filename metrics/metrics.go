// Package metrics exports render context counters to Prometheus.
//
// A Collector reads a Snapshot from its Source on every scrape:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector(ctx))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/resource"
	"github.com/gogpu/pls/upload"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "pls"

// Snapshot is a consistent copy of a render context's counters.
type Snapshot struct {
	Backend string

	Frame   uint64
	Retired uint64

	Ledger   resource.LedgerStats
	Bindings resource.PoolStats
	Rings    [flush.NumBufferKinds]upload.RingStats
	Flush    flush.Stats

	// Device is nil when the backend does not report device stats.
	Device *flush.DeviceStats
}

// Source produces snapshots. Snapshot is called from the scraping
// goroutine and must be safe for concurrent use.
type Source interface {
	Snapshot() Snapshot
}

// SourceFunc adapts a function to a Source.
type SourceFunc func() Snapshot

// Snapshot implements Source.
func (f SourceFunc) Snapshot() Snapshot { return f() }

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*Snapshot) float64
}

type ringMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*upload.RingStats) float64
}

type deviceMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*flush.DeviceStats) float64
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src     Source
	context []metric
	rings   []ringMetric
	device  []deviceMetric
}

// Option configures a Collector.
type Option func(*collectorConfig)

type collectorConfig struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(c *collectorConfig) {
		c.namespace = ns
	}
}

// WithConstLabels attaches labels to every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *collectorConfig) {
		c.constLabels = labels
	}
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading from src.
func NewCollector(src Source, opts ...Option) *Collector {
	cfg := collectorConfig{namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(cfg.namespace, "", name), help,
			append([]string{"backend"}, labels...), cfg.constLabels)
	}
	counter, gauge := prometheus.CounterValue, prometheus.GaugeValue

	c := &Collector{src: src}
	c.context = []metric{
		{desc("frame", "Frame currently being recorded."), gauge,
			func(s *Snapshot) float64 { return float64(s.Frame) }},
		{desc("retired_frame", "Newest frame whose GPU work has finished."), gauge,
			func(s *Snapshot) float64 { return float64(s.Retired) }},
		{desc("frames_total", "Frames ended."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.Frames) }},

		{desc("ledger_pending", "Released objects waiting for their frame to retire."), gauge,
			func(s *Snapshot) float64 { return float64(s.Ledger.Pending) }},
		{desc("ledger_deferred_total", "Objects that went through deferred destruction."), counter,
			func(s *Snapshot) float64 { return float64(s.Ledger.Deferred) }},
		{desc("ledger_destroyed_total", "Objects physically destroyed."), counter,
			func(s *Snapshot) float64 { return float64(s.Ledger.Destroyed) }},

		{desc("binding_pool_size", "Binding tables parked in the pool."), gauge,
			func(s *Snapshot) float64 { return float64(s.Bindings.Size) }},
		{desc("binding_pool_hits_total", "Binding tables recycled from the pool."), counter,
			func(s *Snapshot) float64 { return float64(s.Bindings.Hits) }},
		{desc("binding_pool_misses_total", "Binding table requests the pool could not serve."), counter,
			func(s *Snapshot) float64 { return float64(s.Bindings.Misses) }},
		{desc("binding_pool_trimmed_total", "Excess binding tables destroyed by the pool."), counter,
			func(s *Snapshot) float64 { return float64(s.Bindings.Trimmed) }},

		{desc("flushes_total", "Flushes submitted."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.Flushes) }},
		{desc("flushes_dropped_total", "Flushes dropped for lack of resources."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.Dropped) }},
		{desc("flushes_skipped_total", "Flushes skipped for empty update bounds."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.SkippedEmpty) }},
		{desc("batches_total", "Draw batches encoded."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.Batches) }},
		{desc("batches_stripped_total", "Batches removed as invalid for their interlock mode."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.Stripped) }},
		{desc("barriers_total", "Barriers inserted between batches."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.Barriers) }},
		{desc("resolves_total", "Atomic resolves encoded."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.Resolves) }},
		{desc("offscreen_copies_total", "Offscreen to target copies."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.OffscreenCopies) }},
		{desc("target_blits_total", "Target to offscreen blits."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.TargetBlits) }},
		{desc("binding_tables_total", "Binding tables bound by flushes."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.BindingTables) }},
		{desc("ring_resizes_total", "Ring capacity changes."), counter,
			func(s *Snapshot) float64 { return float64(s.Flush.RingResizes) }},
	}

	c.rings = []ringMetric{
		{desc("ring_capacity_bytes", "Capacity of each ring slot.", "ring"), gauge,
			func(s *upload.RingStats) float64 { return float64(s.Capacity) }},
		{desc("ring_last_written_bytes", "Bytes written by the last submit.", "ring"), gauge,
			func(s *upload.RingStats) float64 { return float64(s.LastWritten) }},
		{desc("ring_submits_total", "Ring submits.", "ring"), counter,
			func(s *upload.RingStats) float64 { return float64(s.Submits) }},
		{desc("ring_submitted_bytes_total", "Bytes submitted through the ring.", "ring"), counter,
			func(s *upload.RingStats) float64 { return float64(s.BytesSubmitted) }},
		{desc("ring_exhausted_total", "Maps refused because every slot was in flight.", "ring"), counter,
			func(s *upload.RingStats) float64 { return float64(s.Exhausted) }},
		{desc("ring_allocations_total", "Backing slots allocated.", "ring"), counter,
			func(s *upload.RingStats) float64 { return float64(s.Allocations) }},
	}

	c.device = []deviceMetric{
		{desc("device_submits_total", "Command buffers submitted to the device."), counter,
			func(s *flush.DeviceStats) float64 { return float64(s.Submits) }},
		{desc("device_slots_allocated_total", "Device buffers created for rings."), counter,
			func(s *flush.DeviceStats) float64 { return float64(s.SlotsAllocated) }},
		{desc("device_tables_created_total", "Binding tables created."), counter,
			func(s *flush.DeviceStats) float64 { return float64(s.TablesCreated) }},
		{desc("device_texture_growths_total", "Internal textures recreated at a larger size."), counter,
			func(s *flush.DeviceStats) float64 { return float64(s.TextureGrowths) }},
		{desc("device_pending_destroy", "Device objects waiting for their frame to retire."), gauge,
			func(s *flush.DeviceStats) float64 { return float64(s.PendingDestroy) }},
		{desc("device_pipelines", "Cached render pipelines."), gauge,
			func(s *flush.DeviceStats) float64 { return float64(s.Pipelines) }},
		{desc("device_pipeline_cache_hits_total", "Pipeline cache hits."), counter,
			func(s *flush.DeviceStats) float64 { return float64(s.PipelineHits) }},
		{desc("device_pipeline_cache_misses_total", "Pipeline cache misses."), counter,
			func(s *flush.DeviceStats) float64 { return float64(s.PipelineMisses) }},
		{desc("device_pipeline_cache_evictions_total", "Pipelines evicted from the cache."), counter,
			func(s *flush.DeviceStats) float64 { return float64(s.PipelineEvictions) }},
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.context {
		ch <- m.desc
	}
	for _, m := range c.rings {
		ch <- m.desc
	}
	for _, m := range c.device {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()
	for _, m := range c.context {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&s), s.Backend)
	}
	for k := range s.Rings {
		ring := flush.BufferKind(k).String()
		for _, m := range c.rings {
			ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&s.Rings[k]), s.Backend, ring)
		}
	}
	if s.Device == nil {
		return
	}
	for _, m := range c.device {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(s.Device), s.Backend)
	}
}
