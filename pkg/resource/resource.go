// Package resource defines the record model shared by tally's providers,
// stores and reconciler.
package resource

import (
	"maps"
	"time"
)

// Scope identifies the unit of reconciliation: one resource type inside one
// cloud context. Records in different scopes never interact.
type Scope struct {
	CloudContext string `json:"cloud_context"`
	Type         Type   `json:"type"`
}

// String renders the scope as "context/type".
func (s Scope) String() string {
	return s.CloudContext + "/" + string(s.Type)
}

// AssociatedRefs links a resource to other resources, e.g. the instance a
// volume is attached to. Keys are stable ref names such as "instance_id".
type AssociatedRefs map[string]string

// Equal reports whether both ref sets hold the same non-empty associations.
func (r AssociatedRefs) Equal(other AssociatedRefs) bool {
	if r.count() != other.count() {
		return false
	}
	for k, v := range r {
		if v == "" {
			continue
		}
		if other[k] != v {
			return false
		}
	}
	return true
}

func (r AssociatedRefs) count() int {
	n := 0
	for _, v := range r {
		if v != "" {
			n++
		}
	}
	return n
}

// Clone returns a copy without empty associations. It returns nil when
// nothing is associated.
func (r AssociatedRefs) Clone() AssociatedRefs {
	if r.count() == 0 {
		return nil
	}
	out := make(AssociatedRefs, len(r))
	for k, v := range r {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// RemoteResource is the provider's current view of one resource.
type RemoteResource struct {
	ResourceID string         `json:"resource_id"`
	Type       Type           `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Tags       Tags           `json:"tags,omitempty"`
	Refs       AssociatedRefs `json:"refs,omitempty"`
}

// LocalRecord is the persisted representation of a resource inside a scope.
type LocalRecord struct {
	ID           uint64         `json:"id"`
	ResourceID   string         `json:"resource_id"`
	CloudContext string         `json:"cloud_context"`
	Type         Type           `json:"type"`
	Name         string         `json:"name"`
	Fields       map[string]any `json:"fields,omitempty"`
	Tags         Tags           `json:"tags,omitempty"`
	Refs         AssociatedRefs `json:"refs,omitempty"`
	Created      time.Time      `json:"created"`
	Refreshed    time.Time      `json:"refreshed"`
	Owner        string         `json:"owner,omitempty"`
}

// Scope returns the scope the record belongs to.
func (r LocalRecord) Scope() Scope {
	return Scope{CloudContext: r.CloudContext, Type: r.Type}
}

// Clone returns a copy whose maps and tag slice can be modified freely.
func (r LocalRecord) Clone() LocalRecord {
	out := r
	if r.Fields != nil {
		out.Fields = maps.Clone(r.Fields)
	}
	out.Tags = r.Tags.Clone()
	if r.Refs != nil {
		out.Refs = maps.Clone(r.Refs)
	}
	return out
}
