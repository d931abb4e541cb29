// Package reconciler brings the local records of a scope in line with the
// provider's current listing.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/internal/lock"
	"github.com/yairfalse/tally/internal/merge"
	"github.com/yairfalse/tally/internal/provider"
	"github.com/yairfalse/tally/internal/resolver"
	"github.com/yairfalse/tally/internal/store"
	"github.com/yairfalse/tally/internal/telemetry"
	"github.com/yairfalse/tally/pkg/resource"
)

// Deps are the collaborators of an Engine. Journal, Metrics and Clock are
// optional.
type Deps struct {
	Lister  provider.Lister
	Store   store.Gateway
	Locker  lock.Locker
	Journal Journal
	Metrics Metrics
	Clock   func() time.Time
}

// Engine runs reconciliation passes.
type Engine struct {
	lister  provider.Lister
	store   store.Gateway
	locker  lock.Locker
	journal Journal
	metrics Metrics
	now     func() time.Time
	opts    Options
	logger  *telemetry.Logger
	tracer  trace.Tracer
}

// NewEngine creates an engine.
func NewEngine(deps Deps, opts Options) *Engine {
	e := &Engine{
		lister:  deps.Lister,
		store:   deps.Store,
		locker:  deps.Locker,
		journal: deps.Journal,
		metrics: deps.Metrics,
		now:     deps.Clock,
		opts:    opts,
		logger:  telemetry.NewLogger("reconciler"),
		tracer:  otel.Tracer("tally.reconciler"),
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.journal == nil {
		e.journal = nopJournal{}
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.opts.MaxConcurrency <= 0 {
		e.opts.MaxConcurrency = 1
	}
	if e.opts.LockRetry <= 0 {
		e.opts.LockRetry = 2 * time.Second
	}
	return e
}

// pass carries the state of one Reconcile call.
type pass struct {
	runID  string
	scope  resource.Scope
	spec   resource.TypeSpec
	result Result
}

// Reconcile runs one pass over the scope (cloudContext, t).
//
// A busy scope yields a *ConflictError, a failed listing a
// *ProviderFetchError and a failed load a *PersistenceError; in those cases
// nothing is written. Once classification succeeds, record failures are
// collected in Result.Errors and the pass still returns a nil error.
func (e *Engine) Reconcile(ctx context.Context, cloudContext string, t resource.Type) (Result, error) {
	spec, ok := resource.Lookup(t)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", resource.ErrUnsupportedType, t)
	}

	p := &pass{
		runID: uuid.NewString(),
		scope: resource.Scope{CloudContext: cloudContext, Type: t},
		spec:  spec,
	}
	p.result = Result{
		RunID:        p.runID,
		CloudContext: cloudContext,
		Type:         t,
		StartedAt:    e.now(),
	}

	ctx, span := e.tracer.Start(ctx, "reconciler.Reconcile",
		trace.WithAttributes(
			attribute.String("tally.run_id", p.runID),
			attribute.String("tally.cloud_context", cloudContext),
			attribute.String("tally.resource_type", string(t)),
		),
	)
	defer span.End()

	logger := e.logger.WithContext(ctx).With().
		Str("run_id", p.runID).
		Str("scope", p.scope.String()).
		Logger()

	release, err := e.acquire(ctx, p.scope)
	if err != nil {
		span.SetStatus(codes.Error, "scope busy")
		e.metrics.RecordError(ctx, p.scope, "conflict")
		logger.Warn().Err(err).Msg("reconcile skipped")
		return p.result, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("failed to release scope lock")
		}
	}()

	e.appendJournal(&logger, journal.EntryPassStarted, p, "", nil)

	remote, snapshot, err := e.fetch(ctx, p.scope)
	if err != nil {
		return e.abort(ctx, span, &logger, p, "fetch", err)
	}
	p.result.Fetched = len(remote)

	local, err := e.store.ListByScope(ctx, p.scope)
	if err != nil {
		return e.abort(ctx, span, &logger, p, "load", &PersistenceError{Op: "load", Err: err})
	}

	set := resolver.Resolve(remote, local, resolver.Options{
		SnapshotAt:   snapshot,
		PendingGrace: e.opts.PendingGrace,
	})
	p.result.Pending = len(set.Pending)
	if set.DuplicateRemote > 0 || set.DuplicateLocal > 0 {
		logger.Warn().
			Int("duplicate_remote", set.DuplicateRemote).
			Int("duplicate_local", set.DuplicateLocal).
			Msg("duplicate resource ids collapsed")
	}

	e.applyCreates(ctx, p, set.ToCreate)
	e.applyUpdates(ctx, p, set.ToUpdate)
	e.applyDeletes(ctx, p, set.ToDelete)

	p.result.Duration = e.now().Sub(p.result.StartedAt)

	status := "ok"
	if len(p.result.Errors) > 0 {
		status = "partial"
		span.SetStatus(codes.Error, "record failures")
	}
	e.metrics.RecordPass(ctx, p.scope, status, p.result.Duration)
	e.metrics.RecordRecords(ctx, p.scope, "create", p.result.Created)
	e.metrics.RecordRecords(ctx, p.scope, "update", p.result.Updated)
	e.metrics.RecordRecords(ctx, p.scope, "delete", p.result.Deleted)
	e.appendJournal(&logger, journal.EntryPassFinished, p, "", p.result.journalSummary())

	span.SetAttributes(
		attribute.Int("tally.fetched", p.result.Fetched),
		attribute.Int("tally.created", p.result.Created),
		attribute.Int("tally.updated", p.result.Updated),
		attribute.Int("tally.deleted", p.result.Deleted),
	)

	event := logger.Info()
	if len(p.result.Errors) > 0 {
		event = logger.Warn()
	}
	event.
		Int("fetched", p.result.Fetched).
		Int("created", p.result.Created).
		Int("updated", p.result.Updated).
		Int("unchanged", p.result.Unchanged).
		Int("deleted", p.result.Deleted).
		Int("pending", p.result.Pending).
		Int("failed", p.result.Failed()).
		Dur("duration", p.result.Duration).
		Msg("reconcile finished")

	return p.result, nil
}

func (e *Engine) acquire(ctx context.Context, scope resource.Scope) (lock.Release, error) {
	var (
		release lock.Release
		err     error
	)
	if e.opts.WaitForLock {
		release, err = lock.Wait(ctx, e.locker, scope.String(), e.opts.LockRetry)
	} else {
		release, err = e.locker.Acquire(ctx, scope.String())
	}
	if errors.Is(err, lock.ErrHeld) {
		return nil, &ConflictError{Scope: scope, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", scope, err)
	}
	return release, nil
}

// fetch returns the listing and the time it was requested.
func (e *Engine) fetch(ctx context.Context, scope resource.Scope) ([]resource.RemoteResource, time.Time, error) {
	if e.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ProviderTimeout)
		defer cancel()
	}

	snapshot := e.now()
	remote, err := e.lister.ListResources(ctx, scope.CloudContext, scope.Type)
	if err != nil {
		return nil, snapshot, &ProviderFetchError{CloudContext: scope.CloudContext, Type: scope.Type, Err: err}
	}
	return remote, snapshot, nil
}

func (e *Engine) abort(ctx context.Context, span trace.Span, logger *zerolog.Logger, p *pass, kind string, err error) (Result, error) {
	p.result.Duration = e.now().Sub(p.result.StartedAt)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind+" failed")
	e.metrics.RecordError(ctx, p.scope, kind)
	e.metrics.RecordPass(ctx, p.scope, "failed", p.result.Duration)
	if jerr := e.journal.AppendError(journal.EntryPassAborted, p.runID, p.scope.String(), "", nil, err); jerr != nil {
		logger.Warn().Err(jerr).Msg("journal append failed")
	}
	logger.Error().Err(err).Str("stage", kind).Msg("reconcile aborted")
	return p.result, err
}

// each runs fn for every index with bounded parallelism.
func (e *Engine) each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(e.opts.MaxConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (e *Engine) applyCreates(ctx context.Context, p *pass, toCreate []resource.RemoteResource) {
	now := e.now()
	owner := e.opts.Owners[p.scope.CloudContext]

	errs := e.each(ctx, len(toCreate), func(ctx context.Context, i int) error {
		remote := toCreate[i]
		stub := resource.LocalRecord{
			ResourceID:   remote.ResourceID,
			CloudContext: p.scope.CloudContext,
			Type:         p.scope.Type,
			Created:      now,
			Owner:        owner,
		}
		rec, _ := merge.Merge(remote, stub, p.spec)
		rec.Refreshed = now

		created, err := e.store.Create(ctx, rec)
		if err != nil {
			return &PersistenceError{Op: "create", ResourceID: remote.ResourceID, Err: err}
		}
		e.appendJournal(e.logger.WithContext(ctx), journal.EntryCreated, p, created.ResourceID, created)
		return nil
	})
	p.result.Created += e.collect(ctx, p, errs)
}

func (e *Engine) applyUpdates(ctx context.Context, p *pass, toUpdate []resolver.Pair) {
	now := e.now()
	changed := make([]bool, len(toUpdate))

	errs := e.each(ctx, len(toUpdate), func(ctx context.Context, i int) error {
		pair := toUpdate[i]
		changes := merge.Diff(pair.Remote, pair.Local, p.spec)
		if len(changes) == 0 {
			return nil
		}

		rec, _ := merge.Merge(pair.Remote, pair.Local, p.spec)
		rec.Refreshed = now
		if err := e.store.Update(ctx, rec); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Removed locally since load, e.g. by a bulk delete. The
				// next pass recreates it from the listing.
				e.logger.WithContext(ctx).Debug().
					Str("scope", p.scope.String()).
					Str("resource_id", rec.ResourceID).
					Msg("record vanished before update")
				return nil
			}
			return &PersistenceError{Op: "update", ResourceID: rec.ResourceID, Err: err}
		}
		changed[i] = true

		diff := resource.RecordDiff{Type: resource.DiffModified, ResourceID: rec.ResourceID, Changes: changes}
		logger := e.logger.WithContext(ctx)
		logger.Debug().
			Str("scope", p.scope.String()).
			Str("resource_id", rec.ResourceID).
			Str("changes", diff.Summary()).
			Msg("record updated")
		e.appendJournal(logger, journal.EntryUpdated, p, rec.ResourceID, diff)
		return nil
	})

	e.collect(ctx, p, errs)
	for i, err := range errs {
		switch {
		case err != nil:
		case changed[i]:
			p.result.Updated++
		default:
			p.result.Unchanged++
		}
	}
}

func (e *Engine) applyDeletes(ctx context.Context, p *pass, toDelete []resource.LocalRecord) {
	errs := e.each(ctx, len(toDelete), func(ctx context.Context, i int) error {
		rec := toDelete[i]
		err := e.store.Delete(ctx, p.scope, rec.ResourceID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return &PersistenceError{Op: "delete", ResourceID: rec.ResourceID, Err: err}
		}
		e.appendJournal(e.logger.WithContext(ctx), journal.EntryDeleted, p, rec.ResourceID, rec)
		return nil
	})
	p.result.Deleted += e.collect(ctx, p, errs)
}

// collect records the failures of a phase and returns the number of
// successes.
func (e *Engine) collect(ctx context.Context, p *pass, errs []error) int {
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		p.result.Errors = append(p.result.Errors, err)
		e.metrics.RecordError(ctx, p.scope, "persist")

		var perr *PersistenceError
		resourceID := ""
		if errors.As(err, &perr) {
			resourceID = perr.ResourceID
		}
		e.logger.WithContext(ctx).Error().Err(err).
			Str("run_id", p.runID).
			Str("scope", p.scope.String()).
			Str("resource_id", resourceID).
			Msg("record not persisted")
		if jerr := e.journal.AppendError(journal.EntryFailed, p.runID, p.scope.String(), resourceID, nil, err); jerr != nil {
			e.logger.Warn().Err(jerr).Msg("journal append failed")
		}
	}
	return ok
}

func (e *Engine) appendJournal(logger *zerolog.Logger, entryType journal.EntryType, p *pass, resourceID string, data any) {
	if err := e.journal.Append(entryType, p.runID, p.scope.String(), resourceID, data); err != nil {
		logger.Warn().Err(err).Str("entry", string(entryType)).Msg("journal append failed")
	}
}

// ReconcileAll reconciles several types of one cloud context concurrently.
// Each type runs its own pass; one failing never stops the others. The
// returned error joins the per-type errors.
func (e *Engine) ReconcileAll(ctx context.Context, cloudContext string, types []resource.Type) (map[resource.Type]Result, error) {
	results := make(map[resource.Type]Result, len(types))
	errs := make([]error, len(types))
	out := make([]Result, len(types))

	var g errgroup.Group
	for i, t := range types {
		g.Go(func() error {
			res, err := e.Reconcile(ctx, cloudContext, t)
			out[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", t, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range types {
		results[t] = out[i]
	}
	return results, errors.Join(errs...)
}
