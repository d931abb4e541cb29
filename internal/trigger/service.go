// Package trigger is the entry point used by the CLI, the daemon's HTTP API
// and its schedules to run passes, bulk actions and record queries.
package trigger

import (
	"context"
	"fmt"
	"sort"

	"github.com/yairfalse/tally/internal/bulk"
	"github.com/yairfalse/tally/internal/emitter"
	"github.com/yairfalse/tally/internal/provider"
	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/internal/store"
	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// Reconciler runs reconciliation passes.
type Reconciler interface {
	Reconcile(ctx context.Context, cloudContext string, t resource.Type) (reconciler.Result, error)
	ReconcileAll(ctx context.Context, cloudContext string, types []resource.Type) (map[resource.Type]reconciler.Result, error)
}

// Bulk previews and commits bulk actions.
type Bulk interface {
	Preview(ctx context.Context, req bulk.Request) (bulk.Preview, error)
	Commit(ctx context.Context, req bulk.Request) (bulk.Result, error)
}

// BulkOutcome holds the preview of a dry run or the result of a commit.
type BulkOutcome struct {
	Preview *bulk.Preview `json:"preview,omitempty"`
	Result  *bulk.Result  `json:"result,omitempty"`
}

// Service routes requests to the engine, the dispatcher and the store after
// checking the cloud context is configured.
type Service struct {
	engine   Reconciler
	bulk     Bulk
	store    store.Gateway
	contexts map[string][]resource.Type
	emitter  emitter.Emitter
	logger   *telemetry.Logger
}

// NewService creates a service. contexts maps every configured cloud context
// to the types reconciled for it.
func NewService(engine Reconciler, dispatcher Bulk, gateway store.Gateway, contexts map[string][]resource.Type) *Service {
	return &Service{
		engine:   engine,
		bulk:     dispatcher,
		store:    gateway,
		contexts: contexts,
		logger:   telemetry.NewLogger("trigger"),
	}
}

// WithEmitter publishes the scope's records after every pass.
func (s *Service) WithEmitter(e emitter.Emitter) *Service {
	s.emitter = e
	return s
}

// Contexts returns the configured cloud contexts, sorted.
func (s *Service) Contexts() []string {
	out := make([]string, 0, len(s.contexts))
	for name := range s.contexts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Types returns the types reconciled for cloudContext.
func (s *Service) Types(cloudContext string) ([]resource.Type, error) {
	types, ok := s.contexts[cloudContext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownContext, cloudContext)
	}
	return types, nil
}

func (s *Service) checkScope(cloudContext string, t resource.Type) error {
	types, err := s.Types(cloudContext)
	if err != nil {
		return err
	}
	for _, known := range types {
		if known == t {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not enabled for %s", resource.ErrUnsupportedType, t, cloudContext)
}

// TriggerReconcile runs one pass over (cloudContext, t).
func (s *Service) TriggerReconcile(ctx context.Context, cloudContext string, t resource.Type) (reconciler.Result, error) {
	if err := s.checkScope(cloudContext, t); err != nil {
		return reconciler.Result{}, err
	}
	res, err := s.engine.Reconcile(ctx, cloudContext, t)
	s.emit(ctx, res)
	return res, err
}

// TriggerReconcileAll reconciles every configured type of cloudContext.
func (s *Service) TriggerReconcileAll(ctx context.Context, cloudContext string) (map[resource.Type]reconciler.Result, error) {
	types, err := s.Types(cloudContext)
	if err != nil {
		return nil, err
	}
	s.logger.WithContext(ctx).Debug().
		Str("cloud_context", cloudContext).
		Int("types", len(types)).
		Msg("reconciling context")
	results, err := s.engine.ReconcileAll(ctx, cloudContext, types)
	for _, t := range types {
		if res, ok := results[t]; ok {
			s.emit(ctx, res)
		}
	}
	return results, err
}

// emit reports the scope's records as they stand after a pass. The store is
// the source of truth, so aborted passes report the unchanged records.
func (s *Service) emit(ctx context.Context, res reconciler.Result) {
	if s.emitter == nil || res.CloudContext == "" {
		return
	}
	recs, err := s.store.ListByScope(ctx, res.Scope())
	if err == nil {
		err = s.emitter.Emit(ctx, emitter.Pass{Result: res, Records: recs})
	}
	if err != nil {
		s.logger.WithContext(ctx).Warn().Err(err).
			Str("scope", res.Scope().String()).
			Msg("emit pass failed")
	}
}

// TriggerBulkAction previews req, or applies it when commit is set.
func (s *Service) TriggerBulkAction(ctx context.Context, req bulk.Request, commit bool) (BulkOutcome, error) {
	if err := s.checkScope(req.CloudContext, req.Type); err != nil {
		return BulkOutcome{}, err
	}
	if !commit {
		p, err := s.bulk.Preview(ctx, req)
		if err != nil {
			return BulkOutcome{}, err
		}
		return BulkOutcome{Preview: &p}, nil
	}
	r, err := s.bulk.Commit(ctx, req)
	if err != nil {
		return BulkOutcome{}, err
	}
	return BulkOutcome{Result: &r}, nil
}

// List returns the local records of (cloudContext, t).
func (s *Service) List(ctx context.Context, cloudContext string, t resource.Type) ([]resource.LocalRecord, error) {
	if err := s.checkScope(cloudContext, t); err != nil {
		return nil, err
	}
	recs, err := s.store.ListByScope(ctx, resource.Scope{CloudContext: cloudContext, Type: t})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", cloudContext, t, err)
	}
	return recs, nil
}

// Get returns one local record.
func (s *Service) Get(ctx context.Context, cloudContext string, t resource.Type, resourceID string) (resource.LocalRecord, error) {
	if err := s.checkScope(cloudContext, t); err != nil {
		return resource.LocalRecord{}, err
	}
	return s.store.Get(ctx, resource.Scope{CloudContext: cloudContext, Type: t}, resourceID)
}
