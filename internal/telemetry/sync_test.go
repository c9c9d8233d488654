package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kalambet/jopper/internal/syncer"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", agg)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordRun(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	r, err := NewRecorder(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	r.RecordRun(ctx, syncer.RunResult{Created: 3, Updated: 1, Errors: 2, Success: true, Duration: 1500 * time.Millisecond})
	r.RecordRun(ctx, syncer.RunResult{Deleted: 4, Success: false, Duration: 10 * time.Millisecond})

	got := collect(t, reader)
	assert.EqualValues(t, 3, sumOf(t, got["jopper.sync.notes.created"]))
	assert.EqualValues(t, 1, sumOf(t, got["jopper.sync.notes.updated"]))
	assert.EqualValues(t, 4, sumOf(t, got["jopper.sync.notes.deleted"]))
	assert.EqualValues(t, 2, sumOf(t, got["jopper.sync.errors"]))

	runs, ok := got["jopper.sync.runs"].(metricdata.Sum[int64])
	require.True(t, ok)
	bySuccess := map[bool]int64{}
	for _, dp := range runs.DataPoints {
		v, found := dp.Attributes.Value(attribute.Key("success"))
		require.True(t, found)
		bySuccess[v.AsBool()] += dp.Value
	}
	assert.Equal(t, map[bool]int64{true: 1, false: 1}, bySuccess)

	hist, ok := got["jopper.sync.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 2, hist.DataPoints[0].Count)
	assert.InDelta(t, 1510, hist.DataPoints[0].Sum, 0.001)
}

func TestInit_DisabledInstallsNoop(t *testing.T) {
	t.Setenv("JOPPER_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "jopper", "test"))
	assert.Empty(t, shutdownFns)

	r, err := NewRecorder(Meter(""))
	require.NoError(t, err)
	r.RecordRun(context.Background(), syncer.RunResult{Created: 1})
	Shutdown(context.Background())
}

func TestInit_Enabled(t *testing.T) {
	t.Setenv("JOPPER_OTEL_ENABLED", "true")
	t.Setenv("JOPPER_OTEL_STDOUT", "")
	require.NoError(t, Init(context.Background(), "jopper", "test"))
	assert.Len(t, shutdownFns, 1)
	Shutdown(context.Background())
	assert.Empty(t, shutdownFns)
}
