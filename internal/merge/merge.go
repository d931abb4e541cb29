// Package merge folds a provider's view of a resource into its local record.
package merge

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/yairfalse/tally/pkg/resource"
)

var equateOpts = cmp.Options{cmpopts.EquateEmpty()}

// DisplayName derives the record label: the Name tag when present and
// non-empty, the resource id otherwise.
func DisplayName(remote resource.RemoteResource) string {
	if name, ok := remote.Tags.Get(resource.NameTag); ok && name != "" {
		return name
	}
	return remote.ResourceID
}

// Merge applies the remote state to local. Remote wins for every tracked
// field, tag and ref. The returned record is a copy; local is not modified.
// ID, Created, Refreshed and Owner are carried over untouched.
func Merge(remote resource.RemoteResource, local resource.LocalRecord, spec resource.TypeSpec) (resource.LocalRecord, bool) {
	changes := Diff(remote, local, spec)
	if len(changes) == 0 {
		return local, false
	}

	out := local.Clone()
	out.ResourceID = remote.ResourceID
	out.Type = spec.Type
	out.Name = DisplayName(remote)
	out.Fields = Track(remote.Attributes, spec)
	out.Tags = remote.Tags.Clone()
	out.Refs = remote.Refs.Clone()
	return out, true
}

// Diff returns the changes Merge would apply, keyed by "name",
// "field.<attr>", "tag.<key>" and "ref.<ref>".
func Diff(remote resource.RemoteResource, local resource.LocalRecord, spec resource.TypeSpec) map[string]resource.Change {
	changes := make(map[string]resource.Change)

	if name := DisplayName(remote); name != local.Name {
		changes["name"] = resource.Change{Previous: local.Name, Current: name}
	}

	diffFields(changes, Track(remote.Attributes, spec), Normalize(local.Fields))
	diffTags(changes, remote.Tags, local.Tags)
	diffRefs(changes, remote.Refs, local.Refs)

	return changes
}

// Track selects the tracked attributes of a type in normalized form.
func Track(attrs map[string]any, spec resource.TypeSpec) map[string]any {
	tracked := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if spec.Tracks(k) {
			tracked[k] = v
		}
	}
	if len(tracked) == 0 {
		return nil
	}
	return Normalize(tracked)
}

func diffFields(changes map[string]resource.Change, remote, local map[string]any) {
	for _, k := range unionKeys(remote, local) {
		if cmp.Equal(remote[k], local[k], equateOpts) {
			continue
		}
		changes["field."+k] = resource.Change{Previous: render(local[k]), Current: render(remote[k])}
	}
}

func diffTags(changes map[string]resource.Change, remote, local resource.Tags) {
	if remote.Equal(local) {
		return
	}
	rm, lm := remote.Map(), local.Map()
	for k, v := range rm {
		if prev, ok := lm[k]; !ok || prev != v {
			changes["tag."+k] = resource.Change{Previous: prev, Current: v}
		}
	}
	for k, v := range lm {
		if _, ok := rm[k]; !ok {
			changes["tag."+k] = resource.Change{Previous: v}
		}
	}
}

func diffRefs(changes map[string]resource.Change, remote, local resource.AssociatedRefs) {
	if remote.Equal(local) {
		return
	}
	keys := make(map[string]struct{})
	for k := range remote {
		keys[k] = struct{}{}
	}
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if remote[k] != local[k] {
			changes["ref."+k] = resource.Change{Previous: local[k], Current: remote[k]}
		}
	}
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
