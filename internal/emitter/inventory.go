package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// InventoryEmitter exposes the tracked records as observable gauges: a
// count per scope and, when enabled, one info series per record.
type InventoryEmitter struct {
	tracked    metric.Int64ObservableGauge
	recordInfo metric.Int64ObservableGauge
	perRecord  bool
	logger     *telemetry.Logger

	mu     sync.RWMutex
	scopes map[resource.Scope][]resource.LocalRecord
}

// NewInventoryEmitter creates the gauges on the global meter provider.
// perRecord adds the tally.record.info series, one per tracked resource.
func NewInventoryEmitter(perRecord bool) (*InventoryEmitter, error) {
	return newInventoryEmitter(otel.Meter("tally.inventory"), perRecord)
}

func newInventoryEmitter(meter metric.Meter, perRecord bool) (*InventoryEmitter, error) {
	e := &InventoryEmitter{
		perRecord: perRecord,
		logger:    telemetry.NewLogger("emitter"),
		scopes:    make(map[resource.Scope][]resource.LocalRecord),
	}

	var err error
	e.tracked, err = meter.Int64ObservableGauge(
		"tally.records.tracked",
		metric.WithDescription("Local records per scope after the last pass"),
		metric.WithUnit("{record}"),
		metric.WithInt64Callback(e.observeTracked),
	)
	if err != nil {
		return nil, fmt.Errorf("create records.tracked gauge: %w", err)
	}

	if perRecord {
		e.recordInfo, err = meter.Int64ObservableGauge(
			"tally.record.info",
			metric.WithDescription("Tracked cloud resource information"),
			metric.WithInt64Callback(e.observeRecords),
		)
		if err != nil {
			return nil, fmt.Errorf("create record.info gauge: %w", err)
		}
	}
	return e, nil
}

// Emit replaces the observed records of the pass's scope.
func (e *InventoryEmitter) Emit(ctx context.Context, pass Pass) error {
	scope := pass.Scope()

	e.mu.Lock()
	e.scopes[scope] = pass.Records
	e.mu.Unlock()

	e.logger.WithContext(ctx).Debug().
		Str("scope", scope.String()).
		Int("tracked", len(pass.Records)).
		Msg("inventory updated")
	return nil
}

func (e *InventoryEmitter) observeTracked(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for scope, recs := range e.scopes {
		o.Observe(int64(len(recs)), metric.WithAttributes(
			attribute.String("cloud_context", scope.CloudContext),
			attribute.String("type", string(scope.Type)),
		))
	}
	return nil
}

func (e *InventoryEmitter) observeRecords(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, recs := range e.scopes {
		for _, r := range recs {
			attrs := []attribute.KeyValue{
				attribute.String("resource_id", r.ResourceID),
				attribute.String("cloud_context", r.CloudContext),
				attribute.String("type", string(r.Type)),
			}
			if r.Name != "" {
				attrs = append(attrs, attribute.String("name", r.Name))
			}
			if r.Owner != "" {
				attrs = append(attrs, attribute.String("owner", r.Owner))
			}
			o.Observe(1, metric.WithAttributes(attrs...))
		}
	}
	return nil
}

// Close is a no-op for the inventory emitter.
func (e *InventoryEmitter) Close() error {
	return nil
}
