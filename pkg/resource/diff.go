package resource

import (
	"sort"
	"strings"
)

// DiffType represents the type of change detected.
type DiffType string

const (
	// DiffAdded indicates a new resource was discovered.
	DiffAdded DiffType = "added"
	// DiffDeleted indicates a resource no longer exists.
	DiffDeleted DiffType = "deleted"
	// DiffModified indicates a resource's properties changed.
	DiffModified DiffType = "modified"
)

// Change represents a single field change.
// The field name is the map key in RecordDiff.Changes.
type Change struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// RecordDiff describes what one reconciliation did to a record.
type RecordDiff struct {
	Type       DiffType          `json:"type"`
	ResourceID string            `json:"resource_id"`
	Changes    map[string]Change `json:"changes,omitempty"`
}

// Fields returns the changed field names in sorted order.
func (d RecordDiff) Fields() []string {
	out := make([]string, 0, len(d.Changes))
	for k := range d.Changes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Summary renders the changed fields as "a, b, c".
func (d RecordDiff) Summary() string {
	return strings.Join(d.Fields(), ", ")
}
