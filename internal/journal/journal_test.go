package journal

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/pkg/resource"
)

func TestJournal_AppendAndRead(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir, "")
	require.NoError(t, err)

	diff := resource.RecordDiff{
		Type:       resource.DiffModified,
		ResourceID: "vol-1",
		Changes:    map[string]resource.Change{"ref.instance_id": {Previous: "i-1"}},
	}
	require.NoError(t, j.Append(EntryPassStarted, "run-1", "prod/aws.volume", "", nil))
	require.NoError(t, j.Append(EntryUpdated, "run-1", "prod/aws.volume", "vol-1", diff))
	require.NoError(t, j.AppendError(EntryFailed, "run-1", "prod/aws.volume", "vol-2", nil, errors.New("disk full")))
	require.NoError(t, j.Append(EntryPassFinished, "run-1", "prod/aws.volume", "", map[string]int{"updated": 1}))
	require.NoError(t, j.Close())

	reader, err := NewReader(j.Path())
	require.NoError(t, err)
	defer reader.Close()

	want := []EntryType{EntryPassStarted, EntryUpdated, EntryFailed, EntryPassFinished}
	for i, typ := range want {
		entry, err := reader.Next()
		require.NoError(t, err)
		assert.Equal(t, typ, entry.Type)
		assert.Equal(t, int64(i+1), entry.Sequence)
		assert.Equal(t, "run-1", entry.RunID)
	}

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestJournal_EntryPayload(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "test")
	require.NoError(t, err)

	require.NoError(t, j.AppendError(EntryFailed, "run-9", "a/aws.instance", "i-1", map[string]string{"op": "update"}, errors.New("boom")))
	require.NoError(t, j.Close())

	var got []*Entry
	require.NoError(t, Replay(dir, "test", time.Time{}, func(e *Entry) error {
		got = append(got, e)
		return nil
	}))

	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Error)
	assert.Equal(t, "i-1", got[0].ResourceID)

	var data map[string]string
	require.NoError(t, json.Unmarshal(got[0].Data, &data))
	assert.Equal(t, "update", data["op"])
}

func TestJournal_SequenceContinuesAcrossFiles(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir, "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.Append(EntryCreated, "run-1", "s", "r", nil))
	}
	require.NoError(t, first.Close())

	second, err := Open(dir, "")
	require.NoError(t, err)
	require.NoError(t, second.Append(EntryCreated, "run-2", "s", "r", nil))
	require.NoError(t, second.Close())

	var seqs []int64
	require.NoError(t, Replay(dir, "", time.Time{}, func(e *Entry) error {
		seqs = append(seqs, e.Sequence)
		return nil
	}))
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs)
}

func TestReplay_Since(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "")
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	j.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(EntryDeleted, "run", "s", "r", nil))
	}
	require.NoError(t, j.Close())

	count := 0
	require.NoError(t, Replay(dir, "", base.Add(3*time.Minute), func(e *Entry) error {
		count++
		return nil
	}))
	assert.Equal(t, 2, count)
}

func TestReplay_HandlerErrorStops(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "")
	require.NoError(t, err)
	require.NoError(t, j.Append(EntryCreated, "run", "s", "a", nil))
	require.NoError(t, j.Append(EntryCreated, "run", "s", "b", nil))
	require.NoError(t, j.Close())

	stop := errors.New("stop")
	calls := 0
	err = Replay(dir, "", time.Time{}, func(e *Entry) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpen_TornLastLine(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "")
	require.NoError(t, err)
	require.NoError(t, j.Append(EntryCreated, "run", "s", "a", nil))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"sequence": 2, "ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	next, err := Open(dir, "")
	require.NoError(t, err)
	defer next.Close()
	assert.Equal(t, int64(1), next.sequence)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := filepath.Join(dir, "tally-20200101-000000.000000000.jsonl")
	older := filepath.Join(dir, "tally-20190101-000000.000000000.jsonl")
	fresh := filepath.Join(dir, "tally-20990101-000000.000000000.jsonl")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, older, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("{}\n"), 0o644))
	}
	require.NoError(t, os.Chtimes(old, now.AddDate(0, 0, -40), now.AddDate(0, 0, -40)))
	require.NoError(t, os.Chtimes(older, now.AddDate(0, 0, -90), now.AddDate(0, 0, -90)))
	require.NoError(t, os.Chtimes(other, now.AddDate(0, 0, -90), now.AddDate(0, 0, -90)))

	stats, err := Cleanup(dir, Config{RetentionDays: 30}, now)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FilesRemoved)
	assert.Equal(t, int64(6), stats.BytesFreed)
	assert.True(t, stats.OldestRemoved.Before(stats.NewestRemoved))
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, older)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func TestCleanup_ZeroRetentionKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tally-20000101-000000.000000000.jsonl")
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	stats, err := Cleanup(dir, Config{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, stats.FilesRemoved)
	assert.FileExists(t, p)
}
