// Package emitter publishes the state of a scope after each reconciliation
// pass.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/pkg/resource"
)

// Pass is a finished pass together with the local records of its scope as
// they stand afterwards.
type Pass struct {
	Result  reconciler.Result
	Records []resource.LocalRecord
}

// Scope returns the reconciled scope.
func (p Pass) Scope() resource.Scope {
	return p.Result.Scope()
}

// Emitter outputs pass outcomes to a backend.
type Emitter interface {
	Emit(ctx context.Context, pass Pass) error
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to every emitter and joins their errors.
func (m *MultiEmitter) Emit(ctx context.Context, pass Pass) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, pass); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
