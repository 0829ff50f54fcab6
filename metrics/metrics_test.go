package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/gogpu/pls/flush"
	"github.com/gogpu/pls/resource"
)

func testSnapshot() Snapshot {
	s := Snapshot{
		Backend:  "software",
		Frame:    7,
		Retired:  5,
		Ledger:   resource.LedgerStats{Pending: 3, Deferred: 10, Destroyed: 7},
		Bindings: resource.PoolStats{Size: 2, Hits: 4},
		Flush:    flush.Stats{Frames: 6, Flushes: 9, Dropped: 1},
	}
	s.Rings[flush.TessSpans].Capacity = 4096
	s.Rings[flush.TessSpans].BytesSubmitted = 1024
	return s
}

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func value(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return m.GetGauge().GetValue()
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestCollectContextMetrics(t *testing.T) {
	c := NewCollector(SourceFunc(testSnapshot))
	mfs := gather(t, c)

	tests := []struct {
		name string
		kind dto.MetricType
		want float64
	}{
		{"pls_frame", dto.MetricType_GAUGE, 7},
		{"pls_retired_frame", dto.MetricType_GAUGE, 5},
		{"pls_frames_total", dto.MetricType_COUNTER, 6},
		{"pls_ledger_pending", dto.MetricType_GAUGE, 3},
		{"pls_ledger_destroyed_total", dto.MetricType_COUNTER, 7},
		{"pls_binding_pool_hits_total", dto.MetricType_COUNTER, 4},
		{"pls_flushes_total", dto.MetricType_COUNTER, 9},
		{"pls_flushes_dropped_total", dto.MetricType_COUNTER, 1},
	}
	for _, tt := range tests {
		mf, ok := mfs[tt.name]
		if !ok {
			t.Errorf("%s missing", tt.name)
			continue
		}
		if mf.GetType() != tt.kind {
			t.Errorf("%s type = %s, want %s", tt.name, mf.GetType(), tt.kind)
		}
		m := mf.GetMetric()[0]
		if got := value(m); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
		if got := label(m, "backend"); got != "software" {
			t.Errorf("%s backend label = %q", tt.name, got)
		}
	}
	if _, ok := mfs["pls_device_submits_total"]; ok {
		t.Error("device metrics collected without device stats")
	}
}

func TestCollectRingMetrics(t *testing.T) {
	mfs := gather(t, NewCollector(SourceFunc(testSnapshot)))
	mf := mfs["pls_ring_capacity_bytes"]
	if mf == nil {
		t.Fatal("pls_ring_capacity_bytes missing")
	}
	if n := len(mf.GetMetric()); n != flush.NumBufferKinds {
		t.Fatalf("ring series = %d, want %d", n, flush.NumBufferKinds)
	}
	found := false
	for _, m := range mf.GetMetric() {
		if label(m, "ring") == flush.TessSpans.String() {
			found = true
			if value(m) != 4096 {
				t.Errorf("tess capacity = %v", value(m))
			}
		}
	}
	if !found {
		t.Errorf("no series for ring %s", flush.TessSpans)
	}
}

func TestCollectDeviceMetrics(t *testing.T) {
	src := SourceFunc(func() Snapshot {
		s := testSnapshot()
		s.Device = &flush.DeviceStats{Submits: 12, Pipelines: 3, PipelineEvictions: 2}
		return s
	})
	c := NewCollector(src, WithNamespace("gpu"), WithConstLabels(prometheus.Labels{"host": "test"}))

	expected := `
# HELP gpu_device_pipelines Cached render pipelines.
# TYPE gpu_device_pipelines gauge
gpu_device_pipelines{backend="software",host="test"} 3
# HELP gpu_device_submits_total Command buffers submitted to the device.
# TYPE gpu_device_submits_total counter
gpu_device_submits_total{backend="software",host="test"} 12
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"gpu_device_pipelines", "gpu_device_submits_total")
	if err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(c, "gpu_device_pipeline_cache_evictions_total"); n != 1 {
		t.Errorf("evictions series = %d", n)
	}
}
