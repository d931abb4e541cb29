// Package bulk applies provider actions to selected records and keeps the
// local records in step with what the action did.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/yairfalse/tally/internal/guard"
	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/internal/provider"
	"github.com/yairfalse/tally/internal/store"
	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// Deps are the collaborators of a Dispatcher. Guard, Journal, Metrics and
// Clock are optional.
type Deps struct {
	Actor   provider.Actor
	Store   store.Gateway
	Guard   Guard
	Journal Journal
	Metrics Metrics
	Clock   func() time.Time
}

// Dispatcher previews and commits bulk actions.
type Dispatcher struct {
	actor       provider.Actor
	store       store.Gateway
	guard       Guard
	journal     Journal
	metrics     Metrics
	now         func() time.Time
	limiter     *rate.Limiter
	concurrency int
	logger      *telemetry.Logger
	tracer      trace.Tracer
}

// New creates a dispatcher.
func New(deps Deps, opts Options) *Dispatcher {
	d := &Dispatcher{
		actor:       deps.Actor,
		store:       deps.Store,
		guard:       deps.Guard,
		journal:     deps.Journal,
		metrics:     deps.Metrics,
		now:         deps.Clock,
		concurrency: opts.MaxConcurrency,
		logger:      telemetry.NewLogger("bulk"),
		tracer:      otel.Tracer("tally.bulk"),
	}
	if d.guard == nil {
		d.guard = allowAll{}
	}
	if d.journal == nil {
		d.journal = nopJournal{}
	}
	if d.metrics == nil {
		d.metrics = nopMetrics{}
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	if d.concurrency <= 0 {
		d.concurrency = 1
	}

	limit, burst := rate.Inf, opts.Burst
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(limit, burst)
	return d
}

// Preview resolves every distinct target against the local records and the
// guard. It never calls the provider or writes a record.
func (d *Dispatcher) Preview(ctx context.Context, req Request) (Preview, error) {
	if _, err := req.Validate(); err != nil {
		return Preview{}, err
	}

	ctx, span := d.tracer.Start(ctx, "bulk.Preview", trace.WithAttributes(requestAttrs(req)...))
	defer span.End()

	scope := req.Scope()
	out := Preview{Request: req}
	for _, id := range distinct(req.Targets) {
		t := Target{ResourceID: id}
		rec, err := d.store.Get(ctx, scope, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			out.Targets = append(out.Targets, t)
			continue
		case err != nil:
			return Preview{}, fmt.Errorf("look up %s: %w", id, err)
		}
		t.Found = true
		t.Name = rec.Name

		decision, err := d.guard.Evaluate(ctx, guard.InputFor(rec, req.Action))
		if err != nil {
			return Preview{}, err
		}
		t.Allowed = decision.Allowed
		t.Reasons = decision.Reasons
		out.Targets = append(out.Targets, t)
	}
	return out, nil
}

// Commit applies the action to every distinct target independently. A
// failing target is reported in the result and never stops the others. The
// returned error is non-nil only when the request itself is invalid.
func (d *Dispatcher) Commit(ctx context.Context, req Request) (Result, error) {
	spec, err := req.Validate()
	if err != nil {
		return Result{}, err
	}

	runID := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, "bulk.Commit",
		trace.WithAttributes(append(requestAttrs(req), attribute.String("tally.run_id", runID))...))
	defer span.End()

	started := d.now()
	targets := distinct(req.Targets)
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, id := range targets {
		g.Go(func() error {
			errs[i] = d.apply(ctx, runID, req, spec, id)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		RunID:     runID,
		Request:   req,
		Succeeded: []string{},
		Failed:    []string{},
		Errors:    map[string]error{},
	}
	for i, id := range targets {
		if errs[i] != nil {
			res.Failed = append(res.Failed, id)
			res.Errors[id] = errs[i]
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	res.Duration = d.now().Sub(started)

	if len(res.Failed) > 0 {
		span.SetStatus(codes.Error, "targets failed")
	}
	span.SetAttributes(
		attribute.Int("tally.succeeded", len(res.Succeeded)),
		attribute.Int("tally.failed", len(res.Failed)),
	)
	d.logger.WithContext(ctx).Info().
		Str("run_id", runID).
		Str("scope", req.Scope().String()).
		Str("action", string(req.Action)).
		Int("succeeded", len(res.Succeeded)).
		Int("failed", len(res.Failed)).
		Msg("bulk action finished")

	return res, nil
}

type actionEntry struct {
	Action  resource.Action `json:"action"`
	Outcome string          `json:"outcome"`
}

func (d *Dispatcher) apply(ctx context.Context, runID string, req Request, spec resource.TypeSpec, id string) error {
	scope := req.Scope()
	outcome, err := d.applyOne(ctx, req, spec, id)

	d.metrics.RecordBulkAction(ctx, scope, req.Action, outcome)
	entry := actionEntry{Action: req.Action, Outcome: outcome}
	var jerr error
	if err != nil {
		jerr = d.journal.AppendError(journal.EntryBulkAction, runID, scope.String(), id, entry, err)
		d.logger.WithContext(ctx).Warn().Err(err).
			Str("run_id", runID).
			Str("resource_id", id).
			Str("action", string(req.Action)).
			Msg("bulk target failed")
	} else {
		jerr = d.journal.Append(journal.EntryBulkAction, runID, scope.String(), id, entry)
	}
	if jerr != nil {
		d.logger.Warn().Err(jerr).Msg("journal append failed")
	}
	return err
}

// applyOne returns the outcome label used for metrics alongside the error.
func (d *Dispatcher) applyOne(ctx context.Context, req Request, spec resource.TypeSpec, id string) (string, error) {
	scope := req.Scope()

	rec, err := d.store.Get(ctx, scope, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "untracked", fmt.Errorf("%s is not tracked in %s: %w", id, scope, err)
		}
		return "error", fmt.Errorf("look up %s: %w", id, err)
	}

	decision, err := d.guard.Evaluate(ctx, guard.InputFor(rec, req.Action))
	if err != nil {
		return "error", err
	}
	if err := decision.Err(); err != nil {
		return "denied", err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return "error", fmt.Errorf("rate limit: %w", err)
	}
	if err := d.actor.Act(ctx, req.CloudContext, req.Type, req.Action, id); err != nil {
		return "failed", fmt.Errorf("%s %s: %w", req.Action, id, err)
	}

	if err := d.followUp(ctx, scope, spec, req.Action, rec); err != nil {
		return "follow_up_failed", &FollowUpError{ResourceID: id, Err: err}
	}
	return "ok", nil
}

// followUp mirrors the action onto the local record.
func (d *Dispatcher) followUp(ctx context.Context, scope resource.Scope, spec resource.TypeSpec, action resource.Action, rec resource.LocalRecord) error {
	if action == resource.ActionDelete {
		err := d.store.Delete(ctx, scope, rec.ResourceID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}

	clears := spec.ClearsRefs(action)
	if len(clears) == 0 || len(rec.Refs) == 0 {
		return nil
	}
	out := rec.Clone()
	for _, ref := range clears {
		delete(out.Refs, ref)
	}
	out.Refs = out.Refs.Clone()
	out.Refreshed = d.now()
	return d.store.Update(ctx, out)
}

func requestAttrs(req Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tally.cloud_context", req.CloudContext),
		attribute.String("tally.resource_type", string(req.Type)),
		attribute.String("tally.action", string(req.Action)),
		attribute.Int("tally.targets", len(req.Targets)),
	}
}
