// Package store persists local records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/pkg/resource"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when creating a record whose resource id is
	// already tracked in the scope.
	ErrExists = errors.New("record already exists")
)

// Gateway is the persistence boundary of the reconciler.
type Gateway interface {
	// Create stores a new record and returns it with its assigned ID.
	Create(ctx context.Context, rec resource.LocalRecord) (resource.LocalRecord, error)
	// Update overwrites the record stored under rec.ID.
	Update(ctx context.Context, rec resource.LocalRecord) error
	// Delete removes the record for resourceID in scope.
	Delete(ctx context.Context, scope resource.Scope, resourceID string) error
	// ListByScope returns every record of a scope sorted by resource id.
	ListByScope(ctx context.Context, scope resource.Scope) ([]resource.LocalRecord, error)
	// Get returns the record for resourceID in scope.
	Get(ctx context.Context, scope resource.Scope, resourceID string) (resource.LocalRecord, error)
	Close() error
}

// Open builds the gateway selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Gateway, error) {
	switch cfg.Driver {
	case "", "bolt":
		return OpenBolt(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
