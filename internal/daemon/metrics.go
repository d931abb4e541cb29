package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	scheduledRuns metric.Int64Counter
	runDuration   metric.Float64Histogram
	journalFiles  metric.Int64Counter
	journalBytes  metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider.
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.Meter("tally.daemon"))
}

func newDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	scheduledRuns, err := meter.Int64Counter(
		"tally.daemon.scheduled_runs",
		metric.WithDescription("Number of scheduled reconciliation runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"tally.daemon.scheduled_run.duration",
		metric.WithDescription("Duration of scheduled reconciliation runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	journalFiles, err := meter.Int64Counter(
		"tally.journal.files_removed",
		metric.WithDescription("Journal files removed by retention"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	journalBytes, err := meter.Int64Counter(
		"tally.journal.bytes_freed",
		metric.WithDescription("Bytes freed by journal retention"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		scheduledRuns: scheduledRuns,
		runDuration:   runDuration,
		journalFiles:  journalFiles,
		journalBytes:  journalBytes,
	}, nil
}

// RecordScheduledRun records one scheduled run of a cloud context.
func (m *DaemonMetrics) RecordScheduledRun(ctx context.Context, cloudContext, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("cloud_context", cloudContext),
		attribute.String("status", status),
	)
	m.scheduledRuns.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordJournalCleanup records a retention sweep.
func (m *DaemonMetrics) RecordJournalCleanup(ctx context.Context, files int, bytes int64) {
	m.journalFiles.Add(ctx, int64(files))
	m.journalBytes.Add(ctx, bytes)
}
