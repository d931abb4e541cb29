package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/pkg/resource"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestInventoryEmitter_TrackedPerScope(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e, err := newInventoryEmitter(provider.Meter("tally.inventory"), false)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, volumePass("vol-1", "vol-2")))
	require.NoError(t, e.Emit(ctx, Pass{
		Result:  reconciler.Result{CloudContext: "prod", Type: resource.TypeInstance},
		Records: []resource.LocalRecord{{ResourceID: "i-1"}},
	}))
	// A later pass replaces the scope's records.
	require.NoError(t, e.Emit(ctx, volumePass("vol-2")))

	metrics := collect(t, reader)
	_, hasInfo := metrics["tally.record.info"]
	assert.False(t, hasInfo)

	gauge := metrics["tally.records.tracked"].Data.(metricdata.Gauge[int64])
	counts := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		typ, ok := dp.Attributes.Value(attribute.Key("type"))
		require.True(t, ok)
		counts[typ.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"aws.volume": 1, "aws.instance": 1}, counts)
}

func TestInventoryEmitter_RecordInfo(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	e, err := newInventoryEmitter(provider.Meter("tally.inventory"), true)
	require.NoError(t, err)

	pass := volumePass("vol-1", "vol-2")
	pass.Records[0].Name = "data"
	pass.Records[0].Owner = "team-a"
	require.NoError(t, e.Emit(context.Background(), pass))

	info := collect(t, reader)["tally.record.info"].Data.(metricdata.Gauge[int64])
	require.Len(t, info.DataPoints, 2)

	names := map[string]string{}
	for _, dp := range info.DataPoints {
		assert.Equal(t, int64(1), dp.Value)
		id, _ := dp.Attributes.Value(attribute.Key("resource_id"))
		name, _ := dp.Attributes.Value(attribute.Key("name"))
		names[id.AsString()] = name.AsString()
	}
	assert.Equal(t, map[string]string{"vol-1": "data", "vol-2": ""}, names)
	assert.NoError(t, e.Close())
}
