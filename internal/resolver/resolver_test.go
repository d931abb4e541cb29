package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/pkg/resource"
)

func remote(ids ...string) []resource.RemoteResource {
	out := make([]resource.RemoteResource, 0, len(ids))
	for _, id := range ids {
		out = append(out, resource.RemoteResource{ResourceID: id, Type: resource.TypeVolume})
	}
	return out
}

func local(ids ...string) []resource.LocalRecord {
	out := make([]resource.LocalRecord, 0, len(ids))
	for i, id := range ids {
		out = append(out, resource.LocalRecord{ID: uint64(i + 1), ResourceID: id, Type: resource.TypeVolume})
	}
	return out
}

func remoteIDs(rs []resource.RemoteResource) []string {
	var ids []string
	for _, r := range rs {
		ids = append(ids, r.ResourceID)
	}
	return ids
}

func localIDs(ls []resource.LocalRecord) []string {
	var ids []string
	for _, l := range ls {
		ids = append(ids, l.ResourceID)
	}
	return ids
}

func TestResolve_Classification(t *testing.T) {
	set := Resolve(remote("vol-c", "vol-a", "vol-b"), local("vol-b", "vol-d", "vol-a"), Options{})

	assert.Equal(t, []string{"vol-c"}, remoteIDs(set.ToCreate))
	require.Len(t, set.ToUpdate, 2)
	assert.Equal(t, "vol-a", set.ToUpdate[0].Remote.ResourceID)
	assert.Equal(t, "vol-a", set.ToUpdate[0].Local.ResourceID)
	assert.Equal(t, "vol-b", set.ToUpdate[1].Local.ResourceID)
	assert.Equal(t, []string{"vol-d"}, localIDs(set.ToDelete))
	assert.False(t, set.Empty())
}

func TestResolve_ExactMatchOnly(t *testing.T) {
	set := Resolve(remote("i-abc"), local("i-abc1", "I-ABC"), Options{})

	assert.Equal(t, []string{"i-abc"}, remoteIDs(set.ToCreate))
	assert.Empty(t, set.ToUpdate)
	assert.ElementsMatch(t, []string{"i-abc1", "I-ABC"}, localIDs(set.ToDelete))
}

func TestResolve_EmptyRemoteDeletesAll(t *testing.T) {
	set := Resolve(nil, local("vol-1", "vol-2", "vol-3"), Options{})

	assert.Empty(t, set.ToCreate)
	assert.Empty(t, set.ToUpdate)
	assert.Equal(t, []string{"vol-1", "vol-2", "vol-3"}, localIDs(set.ToDelete))
}

func TestResolve_EmptyBoth(t *testing.T) {
	set := Resolve(nil, nil, Options{})
	assert.True(t, set.Empty())
}

func TestResolve_PendingRecordsSpared(t *testing.T) {
	snapshot := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []resource.LocalRecord{
		{ID: 1, ResourceID: "i-old", Created: snapshot.Add(-time.Hour)},
		{ID: 2, ResourceID: "i-new", Created: snapshot.Add(time.Second)},
		{ID: 3, ResourceID: "i-grace", Created: snapshot.Add(-10 * time.Second)},
	}

	set := Resolve(remote("i-other"), recs, Options{SnapshotAt: snapshot, PendingGrace: 30 * time.Second})
	assert.Equal(t, []string{"i-old"}, localIDs(set.ToDelete))
	assert.Equal(t, []string{"i-grace", "i-new"}, localIDs(set.Pending))

	set = Resolve(nil, recs, Options{SnapshotAt: snapshot})
	assert.Equal(t, []string{"i-grace", "i-old"}, localIDs(set.ToDelete))
	assert.Equal(t, []string{"i-new"}, localIDs(set.Pending))
}

func TestResolve_ConfirmedRecordNeverPending(t *testing.T) {
	snapshot := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []resource.LocalRecord{
		{ID: 1, ResourceID: "i-seen", Created: snapshot.Add(-5 * time.Second), Refreshed: snapshot.Add(-5 * time.Second)},
		{ID: 2, ResourceID: "i-inflight", Created: snapshot.Add(-5 * time.Second)},
	}

	set := Resolve(nil, recs, Options{SnapshotAt: snapshot, PendingGrace: 30 * time.Second})
	assert.Equal(t, []string{"i-seen"}, localIDs(set.ToDelete))
	assert.Equal(t, []string{"i-inflight"}, localIDs(set.Pending))
}

func TestResolve_PendingMatchedRecordIsUpdated(t *testing.T) {
	snapshot := time.Now()
	recs := []resource.LocalRecord{{ID: 1, ResourceID: "i-new", Created: snapshot.Add(time.Minute)}}

	set := Resolve(remote("i-new"), recs, Options{SnapshotAt: snapshot})

	assert.Len(t, set.ToUpdate, 1)
	assert.Empty(t, set.Pending)
}

func TestResolve_Duplicates(t *testing.T) {
	r := remote("vol-1", "vol-1")
	r[1].Attributes = map[string]any{"state": "available"}
	l := []resource.LocalRecord{
		{ID: 7, ResourceID: "vol-1", Name: "later"},
		{ID: 3, ResourceID: "vol-1", Name: "first"},
	}

	set := Resolve(r, l, Options{})

	assert.Equal(t, 1, set.DuplicateRemote)
	assert.Equal(t, 1, set.DuplicateLocal)
	require.Len(t, set.ToUpdate, 1)
	assert.Equal(t, "available", set.ToUpdate[0].Remote.Attributes["state"])
	assert.Equal(t, uint64(3), set.ToUpdate[0].Local.ID)
	assert.Empty(t, set.ToDelete)
}

func TestResolve_SetsAreDisjoint(t *testing.T) {
	set := Resolve(remote("a", "b", "c", "d"), local("c", "d", "e", "f"), Options{})

	seen := map[string]int{}
	for _, r := range set.ToCreate {
		seen[r.ResourceID]++
	}
	for _, p := range set.ToUpdate {
		seen[p.Remote.ResourceID]++
	}
	for _, l := range set.ToDelete {
		seen[l.ResourceID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Len(t, seen, 6)
}
