package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/tally/internal/guard"
	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/pkg/resource"
)

// ErrNoTargets is returned for a request without resource ids.
var ErrNoTargets = errors.New("no targets")

// Request applies one action to resources of a single scope.
type Request struct {
	CloudContext string          `json:"cloud_context"`
	Type         resource.Type   `json:"type"`
	Action       resource.Action `json:"action"`
	Targets      []string        `json:"targets"`
}

// Scope returns the scope the targets belong to.
func (r Request) Scope() resource.Scope {
	return resource.Scope{CloudContext: r.CloudContext, Type: r.Type}
}

// Validate checks the (type, action) combination and returns the type spec.
func (r Request) Validate() (resource.TypeSpec, error) {
	spec, ok := resource.Lookup(r.Type)
	if !ok {
		return resource.TypeSpec{}, fmt.Errorf("%w: %s", resource.ErrUnsupportedType, r.Type)
	}
	if !spec.Supports(r.Action) {
		return resource.TypeSpec{}, fmt.Errorf("%w: %s on %s", resource.ErrUnsupportedAction, r.Action, r.Type)
	}
	if len(distinct(r.Targets)) == 0 {
		return resource.TypeSpec{}, ErrNoTargets
	}
	return spec, nil
}

// distinct drops empty and repeated ids, keeping first-seen order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Target is the preview of one resource id.
type Target struct {
	ResourceID string   `json:"resource_id"`
	Name       string   `json:"name,omitempty"`
	Found      bool     `json:"found"`
	Allowed    bool     `json:"allowed"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Preview lists what a commit of the same request would touch.
type Preview struct {
	Request Request  `json:"request"`
	Targets []Target `json:"targets"`
}

// Actionable returns the number of targets a commit would attempt.
func (p Preview) Actionable() int {
	n := 0
	for _, t := range p.Targets {
		if t.Found && t.Allowed {
			n++
		}
	}
	return n
}

// Result is the outcome of a commit. Every distinct target appears in
// exactly one of Succeeded or Failed; Errors is keyed by the failed ids.
type Result struct {
	RunID     string           `json:"run_id"`
	Request   Request          `json:"request"`
	Succeeded []string         `json:"succeeded"`
	Failed    []string         `json:"failed"`
	Errors    map[string]error `json:"-"`
	Duration  time.Duration    `json:"duration"`
}

// ErrorMessages renders Errors for serialization.
func (r Result) ErrorMessages() map[string]string {
	out := make(map[string]string, len(r.Errors))
	for id, err := range r.Errors {
		out[id] = err.Error()
	}
	return out
}

// FollowUpError reports a provider action that succeeded while the local
// record could not be brought in line. The next reconciliation pass repairs
// the record.
type FollowUpError struct {
	ResourceID string
	Err        error
}

func (e *FollowUpError) Error() string {
	return fmt.Sprintf("%s: action applied, local record not updated: %v", e.ResourceID, e.Err)
}

func (e *FollowUpError) Unwrap() error { return e.Err }

// Guard decides whether an action may proceed.
type Guard interface {
	Evaluate(ctx context.Context, in guard.Input) (guard.Decision, error)
}

// Journal records bulk actions.
type Journal interface {
	Append(entryType journal.EntryType, runID, scope, resourceID string, data any) error
	AppendError(entryType journal.EntryType, runID, scope, resourceID string, data any, err error) error
}

// Metrics counts bulk action outcomes.
type Metrics interface {
	RecordBulkAction(ctx context.Context, scope resource.Scope, action resource.Action, outcome string)
}

type allowAll struct{}

func (allowAll) Evaluate(context.Context, guard.Input) (guard.Decision, error) {
	return guard.Decision{Allowed: true}, nil
}

type nopJournal struct{}

func (nopJournal) Append(journal.EntryType, string, string, string, any) error { return nil }
func (nopJournal) AppendError(journal.EntryType, string, string, string, any, error) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) RecordBulkAction(context.Context, resource.Scope, resource.Action, string) {}

// Options tunes the dispatcher.
type Options struct {
	// RatePerSecond bounds provider calls across all targets. Zero disables
	// the limit.
	RatePerSecond  float64
	Burst          int
	MaxConcurrency int
}
