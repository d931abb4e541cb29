package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/tally/internal/journal"
	"github.com/yairfalse/tally/pkg/resource"
)

// Journal records the audit trail of a pass.
type Journal interface {
	Append(entryType journal.EntryType, runID, scope, resourceID string, data any) error
	AppendError(entryType journal.EntryType, runID, scope, resourceID string, data any, err error) error
}

// Metrics records pass outcomes.
type Metrics interface {
	RecordPass(ctx context.Context, scope resource.Scope, status string, d time.Duration)
	RecordRecords(ctx context.Context, scope resource.Scope, op string, n int)
	RecordError(ctx context.Context, scope resource.Scope, kind string)
}

type nopJournal struct{}

func (nopJournal) Append(journal.EntryType, string, string, string, any) error { return nil }
func (nopJournal) AppendError(journal.EntryType, string, string, string, any, error) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) RecordPass(context.Context, resource.Scope, string, time.Duration) {}
func (nopMetrics) RecordRecords(context.Context, resource.Scope, string, int)        {}
func (nopMetrics) RecordError(context.Context, resource.Scope, string)               {}

// Options tunes the engine.
type Options struct {
	// MaxConcurrency bounds per-record work inside a phase.
	MaxConcurrency int
	// ProviderTimeout bounds the listing call. Zero means no timeout.
	ProviderTimeout time.Duration
	// PendingGrace widens the window in which fresh local records that no
	// listing has confirmed yet are spared from deletion. Records this engine
	// created or refreshed are never spared.
	PendingGrace time.Duration
	// WaitForLock makes a pass wait for a busy scope instead of failing
	// with a ConflictError.
	WaitForLock bool
	LockRetry   time.Duration
	// Owners maps a cloud context to the owner stamped on new records.
	Owners map[string]string
}

// Result is the outcome of one pass.
type Result struct {
	RunID        string        `json:"run_id"`
	CloudContext string        `json:"cloud_context"`
	Type         resource.Type `json:"type"`
	Fetched      int           `json:"fetched"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Unchanged    int           `json:"unchanged"`
	Deleted      int           `json:"deleted"`
	Pending      int           `json:"pending"`
	Errors       []error       `json:"-"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Scope returns the reconciled scope.
func (r Result) Scope() resource.Scope {
	return resource.Scope{CloudContext: r.CloudContext, Type: r.Type}
}

// Failed returns the number of records that could not be persisted.
func (r Result) Failed() int {
	return len(r.Errors)
}

// ErrorMessages renders Errors for serialization.
func (r Result) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// Summary renders the counts on one line.
func (r Result) Summary() string {
	return fmt.Sprintf("fetched=%d created=%d updated=%d unchanged=%d deleted=%d pending=%d failed=%d",
		r.Fetched, r.Created, r.Updated, r.Unchanged, r.Deleted, r.Pending, r.Failed())
}

// summary is the journal payload of a finished pass.
type summary struct {
	Fetched   int      `json:"fetched"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Deleted   int      `json:"deleted"`
	Pending   int      `json:"pending"`
	Errors    []string `json:"errors,omitempty"`
	Duration  string   `json:"duration"`
}

func (r Result) journalSummary() summary {
	return summary{
		Fetched:   r.Fetched,
		Created:   r.Created,
		Updated:   r.Updated,
		Unchanged: r.Unchanged,
		Deleted:   r.Deleted,
		Pending:   r.Pending,
		Errors:    r.ErrorMessages(),
		Duration:  r.Duration.String(),
	}
}
