package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strongdm/jstrack/pkg/jstrack"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// sumBy returns counter values keyed by the joined values of the given attributes.
func sumBy(t *testing.T, m metricdata.Metrics, keys ...attribute.Key) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T, want Sum[int64]", m.Name, m.Data)

	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		label := ""
		for i, k := range keys {
			v, _ := dp.Attributes.Value(k)
			if i > 0 {
				label += "/"
			}
			label += v.AsString()
		}
		out[label] += dp.Value
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
	if cfg.ServiceName != "jstrack" {
		t.Errorf("Expected service name 'jstrack', got %q", cfg.ServiceName)
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("Expected ExporterNone, got %v", cfg.ExporterType)
	}
}

func TestNew_Disabled(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, nil)
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	assert.False(t, m.Enabled())
	assert.NotNil(t, m.MeterProvider())

	// Observer calls on a disabled instance are no-ops.
	m.Captured(jstrack.KindRuntime)
	m.Discarded(jstrack.KindConsole, jstrack.ReasonSampleRate)
	m.Flushed(3, nil)
}

func TestNew_StdoutExporter(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, &Config{Enabled: true, ServiceName: "test-service", ExporterType: ExporterStdout})
	require.NoError(t, err)

	assert.True(t, m.Enabled())
	m.Captured(jstrack.KindRuntime)
	assert.NoError(t, m.Shutdown(ctx))
	assert.NoError(t, m.Shutdown(ctx))
}

func TestNew_UnknownExporter(t *testing.T) {
	_, err := New(context.Background(), &Config{Enabled: true, ExporterType: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exporter type")
}

func TestMetrics_Instruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewWithReader(nil, reader)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	m.Captured(jstrack.KindRuntime)
	m.Captured(jstrack.KindRuntime)
	m.Captured(jstrack.KindImageLoad)
	m.Discarded(jstrack.KindConsole, jstrack.ReasonQueueOverflow)
	m.Discarded(0, jstrack.ReasonUnrecognized)
	m.Flushed(4, nil)
	m.Flushed(2, errors.New("sink down"))

	got := collect(t, reader)

	assert.Equal(t, map[string]int64{"RUNTIME": 2, "IMAGE_LOAD": 1},
		sumBy(t, got["jstrack.records.captured"], "kind"))
	assert.Equal(t, map[string]int64{"CONSOLE/queue_overflow": 1, "unknown/unrecognized": 1},
		sumBy(t, got["jstrack.records.discarded"], "kind", "reason"))
	assert.Equal(t, map[string]int64{"ok": 1, "error": 1},
		sumBy(t, got["jstrack.flushes"], "outcome"))

	hist, ok := got["jstrack.batch.size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(6), hist.DataPoints[0].Sum)
}

func TestMetrics_ObservesPipeline(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewWithReader(nil, reader)
	require.NoError(t, err)

	var delivered int
	p, err := jstrack.NewPipeline(
		jstrack.WithBatchMode(false),
		jstrack.WithObserver(m),
		jstrack.WithConsole(func(any) {}),
		jstrack.WithReportFunc(func(ctx context.Context, records []jstrack.ErrorRecord) error {
			delivered += len(records)
			return nil
		}),
	)
	require.NoError(t, err)

	p.OnConsoleError("boom")
	p.OnResourceLoadError(jstrack.ResourceSignal{TagName: "DIV"})
	require.NoError(t, p.Close(context.Background()))
	p.OnConsoleError("late")

	assert.Equal(t, 1, delivered)

	got := collect(t, reader)
	assert.Equal(t, map[string]int64{"CONSOLE": 1},
		sumBy(t, got["jstrack.records.captured"], "kind"))
	assert.Equal(t, map[string]int64{"unknown/unrecognized": 1, "CONSOLE/closed": 1},
		sumBy(t, got["jstrack.records.discarded"], "kind", "reason"))
	assert.Equal(t, map[string]int64{"ok": 1},
		sumBy(t, got["jstrack.flushes"], "outcome"))
}
