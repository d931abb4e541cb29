package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/tally/pkg/resource"
)

var bucketRecords = []byte("records")

// indexEntry maps a scoped resource id to the record key.
type indexEntry struct {
	cloudContext string
	typ          resource.Type
	resourceID   string
	id           uint64
}

func lessEntry(a, b indexEntry) bool {
	if a.cloudContext != b.cloudContext {
		return a.cloudContext < b.cloudContext
	}
	if a.typ != b.typ {
		return a.typ < b.typ
	}
	return a.resourceID < b.resourceID
}

func entryFor(scope resource.Scope, resourceID string) indexEntry {
	return indexEntry{cloudContext: scope.CloudContext, typ: scope.Type, resourceID: resourceID}
}

// Bolt stores records in a bbolt file keyed by record ID, with an in-memory
// btree over (context, type, resource id) for scope listings and lookups.
type Bolt struct {
	mu    sync.RWMutex
	db    *bbolt.DB
	index *btree.BTreeG[indexEntry]
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &Bolt{
		db:    db,
		index: btree.NewG[indexEntry](32, lessEntry),
	}
	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Bolt) Close() error {
	return s.db.Close()
}

func (s *Bolt) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var rec resource.LocalRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %d: %w", btoi(k), err)
			}
			e := entryFor(rec.Scope(), rec.ResourceID)
			e.id = rec.ID
			s.index.ReplaceOrInsert(e)
			return nil
		})
	})
}

// Create implements Gateway.
func (s *Bolt) Create(ctx context.Context, rec resource.LocalRecord) (resource.LocalRecord, error) {
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entryFor(rec.Scope(), rec.ResourceID)
	if _, ok := s.index.Get(e); ok {
		return rec, fmt.Errorf("%s %s: %w", rec.Scope(), rec.ResourceID, ErrExists)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = id
		return put(b, rec)
	})
	if err != nil {
		return rec, fmt.Errorf("create %s: %w", rec.ResourceID, err)
	}

	e.id = rec.ID
	s.index.ReplaceOrInsert(e)
	return rec, nil
}

// Update implements Gateway.
func (s *Bolt) Update(ctx context.Context, rec resource.LocalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index.Get(entryFor(rec.Scope(), rec.ResourceID))
	if !ok || e.id != rec.ID {
		return fmt.Errorf("update %s: %w", rec.ResourceID, ErrNotFound)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketRecords), rec)
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.ResourceID, err)
	}
	return nil
}

// Delete implements Gateway.
func (s *Bolt) Delete(ctx context.Context, scope resource.Scope, resourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.index.Get(entryFor(scope, resourceID))
	if !ok {
		return fmt.Errorf("delete %s: %w", resourceID, ErrNotFound)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete(itob(e.id))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", resourceID, err)
	}

	s.index.Delete(e)
	return nil
}

// ListByScope implements Gateway.
func (s *Bolt) ListByScope(ctx context.Context, scope resource.Scope) ([]resource.LocalRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint64
	s.index.AscendGreaterOrEqual(entryFor(scope, ""), func(e indexEntry) bool {
		if e.cloudContext != scope.CloudContext || e.typ != scope.Type {
			return false
		}
		ids = append(ids, e.id)
		return true
	})

	records := make([]resource.LocalRecord, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		for _, id := range ids {
			rec, err := get(b, id)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", scope, err)
	}
	return records, nil
}

// Get implements Gateway.
func (s *Bolt) Get(ctx context.Context, scope resource.Scope, resourceID string) (resource.LocalRecord, error) {
	if err := ctx.Err(); err != nil {
		return resource.LocalRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.index.Get(entryFor(scope, resourceID))
	if !ok {
		return resource.LocalRecord{}, fmt.Errorf("get %s: %w", resourceID, ErrNotFound)
	}

	var rec resource.LocalRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = get(tx.Bucket(bucketRecords), e.id)
		return err
	})
	return rec, err
}

// Count returns the number of tracked records.
func (s *Bolt) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

func put(b *bbolt.Bucket, rec resource.LocalRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(itob(rec.ID), value)
}

func get(b *bbolt.Bucket, id uint64) (resource.LocalRecord, error) {
	var rec resource.LocalRecord
	v := b.Get(itob(id))
	if v == nil {
		return rec, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err := json.Unmarshal(v, &rec); err != nil {
		return rec, fmt.Errorf("decode record %d: %w", id, err)
	}
	return rec, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
