// Package filter selects local records by tag and name.
package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/yairfalse/tally/pkg/resource"
)

// Filter selects records. A zero Filter matches everything.
type Filter struct {
	includeTags map[string]string
	excludeTags map[string]string
	namePattern string
}

// New creates a Filter. namePattern is a shell glob matched against the
// record name; empty matches any name.
func New(includeTags, excludeTags map[string]string, namePattern string) (*Filter, error) {
	if namePattern != "" {
		if _, err := path.Match(namePattern, ""); err != nil {
			return nil, fmt.Errorf("invalid name pattern %q: %w", namePattern, err)
		}
	}
	return &Filter{
		includeTags: includeTags,
		excludeTags: excludeTags,
		namePattern: namePattern,
	}, nil
}

// ParseSelectors turns "key=value" selectors into a tag map. A bare key
// selects the empty value.
func ParseSelectors(selectors []string) (map[string]string, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(selectors))
	for _, s := range selectors {
		k, v, _ := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("invalid selector %q: empty key", s)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// Matches reports whether the record passes the filter.
func (f *Filter) Matches(rec resource.LocalRecord) bool {
	// Include tags: ALL must match
	for k, v := range f.includeTags {
		got, ok := rec.Tags.Get(k)
		if !ok || got != v {
			return false
		}
	}

	// Exclude tags: ANY match excludes
	for k, v := range f.excludeTags {
		if got, ok := rec.Tags.Get(k); ok && got == v {
			return false
		}
	}

	if f.namePattern != "" {
		ok, _ := path.Match(f.namePattern, rec.Name)
		return ok
	}
	return true
}

// Records returns the records that pass the filter, keeping their order.
func (f *Filter) Records(recs []resource.LocalRecord) []resource.LocalRecord {
	if f.IsEmpty() {
		return recs
	}
	out := make([]resource.LocalRecord, 0, len(recs))
	for _, r := range recs {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// IDs returns the resource ids of the matching records.
func (f *Filter) IDs(recs []resource.LocalRecord) []string {
	matched := f.Records(recs)
	out := make([]string, 0, len(matched))
	for _, r := range matched {
		out = append(out, r.ResourceID)
	}
	return out
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.includeTags) == 0 && len(f.excludeTags) == 0 && f.namePattern == ""
}
