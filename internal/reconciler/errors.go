package reconciler

import (
	"fmt"

	"github.com/yairfalse/tally/pkg/resource"
)

// ConflictError is returned when another pass holds the scope.
type ConflictError struct {
	Scope resource.Scope
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconcile %s: another pass is running", e.Scope)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ProviderFetchError is returned when the remote listing could not be
// obtained in full. No local record is touched when it occurs.
type ProviderFetchError struct {
	CloudContext string
	Type         resource.Type
	Err          error
}

func (e *ProviderFetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s: %v", e.CloudContext, e.Type, e.Err)
}

func (e *ProviderFetchError) Unwrap() error { return e.Err }

// PersistenceError reports a failed store operation. Op is one of "load",
// "create", "update" or "delete".
type PersistenceError struct {
	Op         string
	ResourceID string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.ResourceID == "" {
		return fmt.Sprintf("%s records: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ResourceID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
