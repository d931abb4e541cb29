package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/tally/pkg/resource"
)

// ReconcileMetrics records reconciliation and bulk action activity.
type ReconcileMetrics struct {
	passes       metric.Int64Counter
	passDuration metric.Float64Histogram
	records      metric.Int64Counter
	errors       metric.Int64Counter
	bulkActions  metric.Int64Counter
}

// NewReconcileMetrics creates the instruments on the global meter provider.
func NewReconcileMetrics() (*ReconcileMetrics, error) {
	meter := otel.Meter("tally.reconciler")

	passes, err := meter.Int64Counter(
		"tally.reconcile.passes",
		metric.WithDescription("Number of reconciliation passes"),
		metric.WithUnit("{pass}"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"tally.reconcile.duration",
		metric.WithDescription("Duration of reconciliation passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"tally.reconcile.records",
		metric.WithDescription("Local records created, updated or deleted by reconciliation"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"tally.reconcile.errors",
		metric.WithDescription("Reconciliation errors by kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	bulkActions, err := meter.Int64Counter(
		"tally.bulk.actions",
		metric.WithDescription("Bulk action targets processed"),
		metric.WithUnit("{target}"),
	)
	if err != nil {
		return nil, err
	}

	return &ReconcileMetrics{
		passes:       passes,
		passDuration: passDuration,
		records:      records,
		errors:       errs,
		bulkActions:  bulkActions,
	}, nil
}

func scopeAttrs(scope resource.Scope, extra ...attribute.KeyValue) metric.MeasurementOption {
	attrs := append([]attribute.KeyValue{
		attribute.String("cloud_context", scope.CloudContext),
		attribute.String("resource_type", string(scope.Type)),
	}, extra...)
	return metric.WithAttributes(attrs...)
}

// RecordPass records a finished or aborted pass.
func (m *ReconcileMetrics) RecordPass(ctx context.Context, scope resource.Scope, status string, d time.Duration) {
	m.passes.Add(ctx, 1, scopeAttrs(scope, attribute.String("status", status)))
	m.passDuration.Record(ctx, d.Seconds(), scopeAttrs(scope, attribute.String("status", status)))
}

// RecordRecords records n record mutations of one operation.
func (m *ReconcileMetrics) RecordRecords(ctx context.Context, scope resource.Scope, op string, n int) {
	if n == 0 {
		return
	}
	m.records.Add(ctx, int64(n), scopeAttrs(scope, attribute.String("operation", op)))
}

// RecordError records one error of a kind (fetch, load, persist, conflict).
func (m *ReconcileMetrics) RecordError(ctx context.Context, scope resource.Scope, kind string) {
	m.errors.Add(ctx, 1, scopeAttrs(scope, attribute.String("kind", kind)))
}

// RecordBulkAction records one processed bulk target.
func (m *ReconcileMetrics) RecordBulkAction(ctx context.Context, scope resource.Scope, action resource.Action, outcome string) {
	m.bulkActions.Add(ctx, 1, scopeAttrs(scope,
		attribute.String("action", string(action)),
		attribute.String("outcome", outcome),
	))
}
