package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/tally/internal/config"
	"github.com/yairfalse/tally/pkg/resource"
)

var (
	volumes   = resource.Scope{CloudContext: "prod", Type: resource.TypeVolume}
	instances = resource.Scope{CloudContext: "prod", Type: resource.TypeInstance}
	stagingV  = resource.Scope{CloudContext: "staging", Type: resource.TypeVolume}
)

func record(scope resource.Scope, id, name string) resource.LocalRecord {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return resource.LocalRecord{
		ResourceID:   id,
		CloudContext: scope.CloudContext,
		Type:         scope.Type,
		Name:         name,
		Fields:       map[string]any{"size": float64(100), "state": "in-use"},
		Tags:         resource.NewTags("Name", name, "team", "core"),
		Refs:         resource.AssociatedRefs{resource.RefInstance: "i-1"},
		Created:      now,
		Refreshed:    now,
		Owner:        "ops",
	}
}

// gatewayContract runs the behaviour every Gateway must share.
func gatewayContract(t *testing.T, open func(t *testing.T) Gateway) {
	ctx := context.Background()

	t.Run("create assigns ids and get round trips", func(t *testing.T) {
		g := open(t)
		a, err := g.Create(ctx, record(volumes, "vol-a", "alpha"))
		require.NoError(t, err)
		b, err := g.Create(ctx, record(volumes, "vol-b", "beta"))
		require.NoError(t, err)
		assert.NotZero(t, a.ID)
		assert.NotEqual(t, a.ID, b.ID)

		got, err := g.Get(ctx, volumes, "vol-a")
		require.NoError(t, err)
		assert.Equal(t, a, got)
	})

	t.Run("create rejects duplicate resource id in scope", func(t *testing.T) {
		g := open(t)
		_, err := g.Create(ctx, record(volumes, "vol-a", "alpha"))
		require.NoError(t, err)

		_, err = g.Create(ctx, record(volumes, "vol-a", "again"))
		assert.ErrorIs(t, err, ErrExists)

		_, err = g.Create(ctx, record(stagingV, "vol-a", "other context"))
		assert.NoError(t, err)
		_, err = g.Create(ctx, record(instances, "vol-a", "other type"))
		assert.NoError(t, err)
	})

	t.Run("list is scoped and sorted", func(t *testing.T) {
		g := open(t)
		for _, id := range []string{"vol-c", "vol-a", "vol-b"} {
			_, err := g.Create(ctx, record(volumes, id, id))
			require.NoError(t, err)
		}
		_, err := g.Create(ctx, record(stagingV, "vol-z", "z"))
		require.NoError(t, err)
		_, err = g.Create(ctx, record(instances, "i-1", "i"))
		require.NoError(t, err)

		got, err := g.ListByScope(ctx, volumes)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "vol-a", got[0].ResourceID)
		assert.Equal(t, "vol-b", got[1].ResourceID)
		assert.Equal(t, "vol-c", got[2].ResourceID)

		empty, err := g.ListByScope(ctx, resource.Scope{CloudContext: "dev", Type: resource.TypeVolume})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("update overwrites", func(t *testing.T) {
		g := open(t)
		rec, err := g.Create(ctx, record(volumes, "vol-a", "alpha"))
		require.NoError(t, err)

		rec.Name = "renamed"
		rec.Refs = nil
		rec.Fields = map[string]any{"size": float64(200)}
		rec.Refreshed = rec.Refreshed.Add(time.Hour)
		require.NoError(t, g.Update(ctx, rec))

		got, err := g.Get(ctx, volumes, "vol-a")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Nil(t, got.Refs)
		assert.Equal(t, map[string]any{"size": float64(200)}, got.Fields)
		assert.True(t, rec.Refreshed.Equal(got.Refreshed))
	})

	t.Run("update of unknown record", func(t *testing.T) {
		g := open(t)
		rec := record(volumes, "vol-missing", "x")
		rec.ID = 999
		assert.ErrorIs(t, g.Update(ctx, rec), ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		g := open(t)
		_, err := g.Create(ctx, record(volumes, "vol-a", "alpha"))
		require.NoError(t, err)
		_, err = g.Create(ctx, record(stagingV, "vol-a", "alpha"))
		require.NoError(t, err)

		require.NoError(t, g.Delete(ctx, volumes, "vol-a"))
		_, err = g.Get(ctx, volumes, "vol-a")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, g.Delete(ctx, volumes, "vol-a"), ErrNotFound)

		_, err = g.Get(ctx, stagingV, "vol-a")
		assert.NoError(t, err, "other scopes untouched")

		_, err = g.Create(ctx, record(volumes, "vol-a", "back"))
		assert.NoError(t, err, "id can be tracked again after delete")
	})
}

func TestBolt(t *testing.T) {
	gatewayContract(t, func(t *testing.T) Gateway {
		s, err := OpenBolt(filepath.Join(t.TempDir(), "tally.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBolt_IndexRebuiltOnReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tally.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)
	for _, id := range []string{"vol-a", "vol-b"} {
		_, err := s.Create(ctx, record(volumes, id, id))
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(ctx, volumes, "vol-a"))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.Count())
	got, err := s.ListByScope(ctx, volumes)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "vol-b", got[0].ResourceID)

	_, err = s.Create(ctx, record(volumes, "vol-b", "dup"))
	assert.ErrorIs(t, err, ErrExists)

	c, err := s.Create(ctx, record(volumes, "vol-c", "c"))
	require.NoError(t, err)
	assert.Greater(t, c.ID, got[0].ID)
}

func TestBolt_CanceledContext(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Create(ctx, record(volumes, "vol-a", "a"))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.ListByScope(ctx, volumes)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	g, err := Open(ctx, config.StoreConfig{Driver: "bolt", Path: filepath.Join(t.TempDir(), "a.db")})
	require.NoError(t, err)
	require.NoError(t, g.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "sqlite"})
	assert.ErrorContains(t, err, "unknown store driver")
}

// Requires a reachable PostgreSQL; set TALLY_TEST_POSTGRES_DSN to run.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("TALLY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TALLY_TEST_POSTGRES_DSN not set")
	}

	gatewayContract(t, func(t *testing.T) Gateway {
		ctx := context.Background()
		s, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)

		// Each subtest gets its own contexts so rows never collide.
		suffix := "-" + uuid.NewString()
		t.Cleanup(func() {
			_, _ = s.pool.Exec(ctx, `DELETE FROM tally_records WHERE cloud_context LIKE $1`, "%"+suffix)
			_ = s.Close()
		})
		return &suffixed{Gateway: s, suffix: suffix}
	})
}

// suffixed namespaces cloud contexts so concurrent test runs share one table.
type suffixed struct {
	Gateway
	suffix string
}

func (s *suffixed) scope(sc resource.Scope) resource.Scope {
	sc.CloudContext += s.suffix
	return sc
}

func (s *suffixed) unscope(rec resource.LocalRecord) resource.LocalRecord {
	rec.CloudContext = rec.CloudContext[:len(rec.CloudContext)-len(s.suffix)]
	return rec
}

func (s *suffixed) Create(ctx context.Context, rec resource.LocalRecord) (resource.LocalRecord, error) {
	rec.CloudContext += s.suffix
	out, err := s.Gateway.Create(ctx, rec)
	return s.unscope(out), err
}

func (s *suffixed) Update(ctx context.Context, rec resource.LocalRecord) error {
	rec.CloudContext += s.suffix
	return s.Gateway.Update(ctx, rec)
}

func (s *suffixed) Delete(ctx context.Context, sc resource.Scope, id string) error {
	return s.Gateway.Delete(ctx, s.scope(sc), id)
}

func (s *suffixed) ListByScope(ctx context.Context, sc resource.Scope) ([]resource.LocalRecord, error) {
	recs, err := s.Gateway.ListByScope(ctx, s.scope(sc))
	for i := range recs {
		recs[i] = s.unscope(recs[i])
	}
	return recs, err
}

func (s *suffixed) Get(ctx context.Context, sc resource.Scope, id string) (resource.LocalRecord, error) {
	rec, err := s.Gateway.Get(ctx, s.scope(sc), id)
	if err != nil {
		return rec, err
	}
	return s.unscope(rec), nil
}
