package otel_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/core"
	fcotel "github.com/petal-labs/flowcanvas/otel"
)

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("%s metric not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64] data, got %T", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func newMetricsHandler(t *testing.T) (*fcotel.MetricsHandler, *metric.ManualReader) {
	t.Helper()
	reader, mp := newTestMeter()
	h, err := fcotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}
	return h, reader
}

func TestMetricsHandler_NodeLoweredCountsPerType(t *testing.T) {
	h, reader := newMetricsHandler(t)
	now := time.Now()

	for _, n := range []struct {
		id  string
		typ core.NodeType
	}{
		{"a", core.NodeTypeLLM},
		{"b", core.NodeTypeLLM},
		{"c", core.NodeTypeEnd},
	} {
		h.Handle(compiler.NewEvent(compiler.EventNodeLowered, "c-1", now).WithNode(n.id, n.typ))
	}

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "flowcanvas.nodes.lowered")
	if m == nil {
		t.Fatal("flowcanvas.nodes.lowered metric not found")
	}
	sum := m.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 data points (one per node type), got %d", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		typ, _ := dp.Attributes.Value("node_type")
		want := int64(1)
		if typ.AsString() == string(core.NodeTypeLLM) {
			want = 2
		}
		if dp.Value != want {
			t.Errorf("node_type=%s: value %d, want %d", typ.AsString(), dp.Value, want)
		}
	}
}

func TestMetricsHandler_StageDurationPerStage(t *testing.T) {
	h, reader := newMetricsHandler(t)
	now := time.Now()

	for _, s := range []compiler.Stage{compiler.StageLevel, compiler.StageAggregate, compiler.StageLevel} {
		h.Handle(compiler.NewEvent(compiler.EventStageFinished, "c-1", now).
			WithStage(s).
			WithElapsed(5 * time.Millisecond))
	}

	rm := collectMetrics(t, reader)
	m := findMetric(rm, "flowcanvas.stage.duration")
	if m == nil {
		t.Fatal("flowcanvas.stage.duration metric not found")
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64] data, got %T", m.Data)
	}
	if len(hist.DataPoints) != 2 {
		t.Fatalf("expected 2 histogram data points, got %d", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		stage, _ := dp.Attributes.Value("stage")
		want := uint64(1)
		if stage.AsString() == string(compiler.StageLevel) {
			want = 2
		}
		if dp.Count != want {
			t.Errorf("stage=%s: count %d, want %d", stage.AsString(), dp.Count, want)
		}
	}
}

func TestMetricsHandler_CompileFinished(t *testing.T) {
	h, reader := newMetricsHandler(t)
	now := time.Now()

	h.Handle(finished("c-1", now, 2))
	h.Handle(finished("c-2", now, 0).WithPayload("missing_resource_count", 3))

	rm := collectMetrics(t, reader)
	if got := sumOf(t, rm, "flowcanvas.compiles"); got != 2 {
		t.Errorf("compiles = %d, want 2", got)
	}
	if got := sumOf(t, rm, "flowcanvas.references.unresolved"); got != 2 {
		t.Errorf("unresolved = %d, want 2", got)
	}
	if got := sumOf(t, rm, "flowcanvas.resources.missing"); got != 3 {
		t.Errorf("missing = %d, want 3", got)
	}
	m := findMetric(rm, "flowcanvas.compile.duration")
	if m == nil {
		t.Fatal("flowcanvas.compile.duration metric not found")
	}
	hist := m.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("compile.duration data points = %+v", hist.DataPoints)
	}
}

func TestMetricsHandler_IgnoresIrrelevantEvents(t *testing.T) {
	h, reader := newMetricsHandler(t)
	now := time.Now()

	h.Handle(started("c-1", now))
	h.Handle(compiler.NewEvent(compiler.EventStageStarted, "c-1", now).WithStage(compiler.StageLevel))

	rm := collectMetrics(t, reader)
	for _, name := range []string{"flowcanvas.compiles", "flowcanvas.nodes.lowered", "flowcanvas.stage.duration"} {
		if m := findMetric(rm, name); m != nil {
			t.Errorf("%s recorded for irrelevant events", name)
		}
	}
}
