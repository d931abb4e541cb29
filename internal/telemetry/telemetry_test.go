package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/pkg/resource"
)

func TestNewProvider_Disabled(t *testing.T) {
	cfg := config.OTELConfig{
		ServiceName: "test-tally",
		Traces:      config.TracesConfig{Enabled: false},
		Metrics:     config.MetricsConfig{Enabled: false},
	}

	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	err = p.Shutdown(context.Background())
	require.NoError(t, err)
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-tally",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// Setup succeeds without a collector; exporters connect lazily.
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestNewProvider_MissingCAFile(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "collector:4317",
		CAFile:      "/nonexistent/ca.pem",
		ServiceName: "test-tally",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
	}

	_, err := NewProvider(context.Background(), cfg)
	assert.ErrorContains(t, err, "load otel CA")
}

func TestNewProvider_Prometheus(t *testing.T) {
	cfg := config.OTELConfig{
		ServiceName: "test-tally",
		Metrics:     config.MetricsConfig{Prometheus: true},
	}

	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	_ = p.Shutdown(context.Background())
}

func TestSetupLogging(t *testing.T) {
	orig := log.Logger
	origLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = orig
		zerolog.SetGlobalLevel(origLevel)
	}()

	var buf bytes.Buffer
	require.NoError(t, SetupLogging(config.LogConfig{Level: "warn", Format: "json"}, &buf))

	logger := NewLogger("reconciler")
	logger.Info().Msg("hidden")
	logger.Warn().Str("scope", "prod/aws.volume").Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "reconciler", entry["service"])
	assert.Equal(t, "prod/aws.volume", entry["scope"])
}

func TestSetupLogging_BadLevel(t *testing.T) {
	err := SetupLogging(config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestOTELHook_AddsTraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf).Hook(OTELHook{})}

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.WithContext(ctx).Info().Msg("inside span")
	span.End()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestOTELHook_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf).Hook(OTELHook{})}

	logger.WithContext(context.Background()).Info().Msg("no span")

	assert.NotContains(t, buf.String(), "trace_id")
}

func TestReconcileMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	defer otel.SetMeterProvider(prev)

	m, err := NewReconcileMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	scope := resource.Scope{CloudContext: "prod", Type: resource.TypeVolume}
	m.RecordPass(ctx, scope, "ok", 250*time.Millisecond)
	m.RecordRecords(ctx, scope, "created", 3)
	m.RecordRecords(ctx, scope, "deleted", 0)
	m.RecordError(ctx, scope, "persist")
	m.RecordBulkAction(ctx, scope, resource.ActionDetach, "succeeded")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
			if md.Name == "tally.reconcile.records" {
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1, "zero counts are not recorded")
				assert.Equal(t, int64(3), sum.DataPoints[0].Value)
			}
		}
	}

	for _, name := range []string{
		"tally.reconcile.passes",
		"tally.reconcile.duration",
		"tally.reconcile.records",
		"tally.reconcile.errors",
		"tally.bulk.actions",
	} {
		assert.True(t, names[name], name)
	}
}
