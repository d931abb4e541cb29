package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yairfalse/tally/pkg/resource"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tally_records (
		id            BIGSERIAL PRIMARY KEY,
		cloud_context TEXT        NOT NULL,
		type          TEXT        NOT NULL,
		resource_id   TEXT        NOT NULL,
		name          TEXT        NOT NULL DEFAULT '',
		fields        JSONB,
		tags          JSONB,
		refs          JSONB,
		owner         TEXT        NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		refreshed_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (cloud_context, type, resource_id)
	)
`

const selectColumns = `id, cloud_context, type, resource_id, name, fields, tags, refs, owner, created_at, refreshed_at`

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// Postgres stores records in a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 16
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Postgres{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the records table if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Create implements Gateway.
func (s *Postgres) Create(ctx context.Context, rec resource.LocalRecord) (resource.LocalRecord, error) {
	fields, tags, refs, err := encodeColumns(rec)
	if err != nil {
		return rec, err
	}

	query := `
		INSERT INTO tally_records (cloud_context, type, resource_id, name, fields, tags, refs, owner, created_at, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	var id int64
	err = s.pool.QueryRow(ctx, query,
		rec.CloudContext, string(rec.Type), rec.ResourceID, rec.Name,
		fields, tags, refs, rec.Owner, rec.Created, rec.Refreshed,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return rec, fmt.Errorf("%s %s: %w", rec.Scope(), rec.ResourceID, ErrExists)
		}
		return rec, fmt.Errorf("create %s: %w", rec.ResourceID, err)
	}

	rec.ID = uint64(id)
	return rec, nil
}

// Update implements Gateway.
func (s *Postgres) Update(ctx context.Context, rec resource.LocalRecord) error {
	fields, tags, refs, err := encodeColumns(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE tally_records
		SET name = $1, fields = $2, tags = $3, refs = $4, owner = $5, created_at = $6, refreshed_at = $7
		WHERE id = $8 AND cloud_context = $9 AND type = $10 AND resource_id = $11
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.Name, fields, tags, refs, rec.Owner, rec.Created, rec.Refreshed,
		int64(rec.ID), rec.CloudContext, string(rec.Type), rec.ResourceID,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", rec.ResourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", rec.ResourceID, ErrNotFound)
	}
	return nil
}

// Delete implements Gateway.
func (s *Postgres) Delete(ctx context.Context, scope resource.Scope, resourceID string) error {
	query := `DELETE FROM tally_records WHERE cloud_context = $1 AND type = $2 AND resource_id = $3`
	tag, err := s.pool.Exec(ctx, query, scope.CloudContext, string(scope.Type), resourceID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", resourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", resourceID, ErrNotFound)
	}
	return nil
}

// ListByScope implements Gateway.
func (s *Postgres) ListByScope(ctx context.Context, scope resource.Scope) ([]resource.LocalRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM tally_records
		WHERE cloud_context = $1 AND type = $2
		ORDER BY resource_id`
	rows, err := s.pool.Query(ctx, query, scope.CloudContext, string(scope.Type))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", scope, err)
	}
	defer rows.Close()

	records := []resource.LocalRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", scope, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", scope, err)
	}
	return records, nil
}

// Get implements Gateway.
func (s *Postgres) Get(ctx context.Context, scope resource.Scope, resourceID string) (resource.LocalRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM tally_records
		WHERE cloud_context = $1 AND type = $2 AND resource_id = $3`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, scope.CloudContext, string(scope.Type), resourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, fmt.Errorf("get %s: %w", resourceID, ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("get %s: %w", resourceID, err)
	}
	return rec, nil
}

func encodeColumns(rec resource.LocalRecord) (fields, tags, refs []byte, err error) {
	if len(rec.Fields) > 0 {
		if fields, err = json.Marshal(rec.Fields); err != nil {
			return nil, nil, nil, fmt.Errorf("encode fields: %w", err)
		}
	}
	if len(rec.Tags) > 0 {
		if tags, err = json.Marshal(rec.Tags); err != nil {
			return nil, nil, nil, fmt.Errorf("encode tags: %w", err)
		}
	}
	if refs := rec.Refs.Clone(); refs != nil {
		b, err := json.Marshal(refs)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encode refs: %w", err)
		}
		return fields, tags, b, nil
	}
	return fields, tags, nil, nil
}

func scanRecord(row pgx.Row) (resource.LocalRecord, error) {
	var (
		rec                resource.LocalRecord
		id                 int64
		typ                string
		fields, tags, refs []byte
	)
	err := row.Scan(&id, &rec.CloudContext, &typ, &rec.ResourceID, &rec.Name,
		&fields, &tags, &refs, &rec.Owner, &rec.Created, &rec.Refreshed)
	if err != nil {
		return rec, err
	}
	rec.ID = uint64(id)
	rec.Type = resource.Type(typ)
	rec.Created = rec.Created.UTC()
	rec.Refreshed = rec.Refreshed.UTC()

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return rec, fmt.Errorf("decode fields: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &rec.Tags); err != nil {
			return rec, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &rec.Refs); err != nil {
			return rec, fmt.Errorf("decode refs: %w", err)
		}
	}
	return rec, nil
}
