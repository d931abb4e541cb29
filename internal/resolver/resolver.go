// Package resolver classifies a remote listing against local records of the
// same scope.
package resolver

import (
	"sort"
	"time"

	"github.com/yairfalse/tally/pkg/resource"
)

// Options controls classification.
type Options struct {
	// SnapshotAt is when the remote listing was taken. Local records that
	// no listing has confirmed yet and that were created after
	// SnapshotAt-PendingGrace are never deleted by this pass.
	SnapshotAt   time.Time
	PendingGrace time.Duration
}

// Pair is a remote resource and the local record it matched.
type Pair struct {
	Remote resource.RemoteResource
	Local  resource.LocalRecord
}

// MatchSet is the outcome of Resolve. ToCreate, ToUpdate and ToDelete are
// disjoint and sorted by resource id.
type MatchSet struct {
	ToCreate []resource.RemoteResource
	ToUpdate []Pair
	ToDelete []resource.LocalRecord

	// Pending holds unmatched local records spared because they were
	// created after the snapshot.
	Pending []resource.LocalRecord

	// DuplicateRemote counts remote entries collapsed onto an earlier id.
	DuplicateRemote int
	// DuplicateLocal counts local rows shadowed by a lower-ID row for the
	// same resource id.
	DuplicateLocal int
}

// Empty reports whether the set requires no mutation.
func (m MatchSet) Empty() bool {
	return len(m.ToCreate) == 0 && len(m.ToUpdate) == 0 && len(m.ToDelete) == 0
}

// Resolve matches remote and local by exact resource id.
func Resolve(remote []resource.RemoteResource, local []resource.LocalRecord, opts Options) MatchSet {
	if len(remote) == 0 {
		return resolveEmpty(local, opts)
	}

	var set MatchSet
	remoteByID, dupRemote := indexRemote(remote)
	localByID, dupLocal := indexLocal(local)
	set.DuplicateRemote = dupRemote
	set.DuplicateLocal = dupLocal

	for id, r := range remoteByID {
		if l, ok := localByID[id]; ok {
			set.ToUpdate = append(set.ToUpdate, Pair{Remote: r, Local: l})
			continue
		}
		set.ToCreate = append(set.ToCreate, r)
	}

	for id, l := range localByID {
		if _, ok := remoteByID[id]; ok {
			continue
		}
		if isPending(l, opts) {
			set.Pending = append(set.Pending, l)
			continue
		}
		set.ToDelete = append(set.ToDelete, l)
	}

	set.sort()
	return set
}

// resolveEmpty handles a listing with no resources: everything local is
// absent remotely.
func resolveEmpty(local []resource.LocalRecord, opts Options) MatchSet {
	var set MatchSet
	localByID, dup := indexLocal(local)
	set.DuplicateLocal = dup
	for _, l := range localByID {
		if isPending(l, opts) {
			set.Pending = append(set.Pending, l)
			continue
		}
		set.ToDelete = append(set.ToDelete, l)
	}
	set.sort()
	return set
}

// isPending reports whether l is an in-flight local create. A record that a
// listing has already confirmed (Refreshed set) is never pending: once it is
// absent from the provider it is gone.
func isPending(l resource.LocalRecord, opts Options) bool {
	if opts.SnapshotAt.IsZero() || !l.Refreshed.IsZero() {
		return false
	}
	return l.Created.After(opts.SnapshotAt.Add(-opts.PendingGrace))
}

// indexRemote keeps the last entry for each id.
func indexRemote(remote []resource.RemoteResource) (map[string]resource.RemoteResource, int) {
	byID := make(map[string]resource.RemoteResource, len(remote))
	dup := 0
	for _, r := range remote {
		if _, ok := byID[r.ResourceID]; ok {
			dup++
		}
		byID[r.ResourceID] = r
	}
	return byID, dup
}

// indexLocal keeps the row with the lowest ID for each id.
func indexLocal(local []resource.LocalRecord) (map[string]resource.LocalRecord, int) {
	byID := make(map[string]resource.LocalRecord, len(local))
	dup := 0
	for _, l := range local {
		if prev, ok := byID[l.ResourceID]; ok {
			dup++
			if prev.ID <= l.ID {
				continue
			}
		}
		byID[l.ResourceID] = l
	}
	return byID, dup
}

func (m *MatchSet) sort() {
	sort.Slice(m.ToCreate, func(i, j int) bool { return m.ToCreate[i].ResourceID < m.ToCreate[j].ResourceID })
	sort.Slice(m.ToUpdate, func(i, j int) bool {
		return m.ToUpdate[i].Remote.ResourceID < m.ToUpdate[j].Remote.ResourceID
	})
	sort.Slice(m.ToDelete, func(i, j int) bool { return m.ToDelete[i].ResourceID < m.ToDelete[j].ResourceID })
	sort.Slice(m.Pending, func(i, j int) bool { return m.Pending[i].ResourceID < m.Pending[j].ResourceID })
}
