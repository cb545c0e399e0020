package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signalsfoundry/tle-fetcher/model"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS element_sets (
	norad_id   TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	line1      TEXT NOT NULL,
	line2      TEXT NOT NULL,
	source     TEXT NOT NULL,
	epoch      TIMESTAMPTZ NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
)`

// Postgres stores entries in an element_sets table via pgx.
type Postgres struct {
	db DBTX
}

// NewPostgres wraps an existing connection or pool.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects a pool to dsn and ensures the schema. The caller
// closes the returned pool.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres repository: connect: %w", err)
	}
	repo := NewPostgres(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool, nil
}

// EnsureSchema creates the element_sets table if missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres repository: schema: %w", err)
	}
	return nil
}

// Get implements Repository.
func (p *Postgres) Get(ctx context.Context, id string) (model.CacheEntry, bool, error) {
	query := `
		SELECT name, line1, line2, source, fetched_at
		FROM element_sets
		WHERE norad_id = $1`

	var (
		name, line1, line2, source string
		fetched                    time.Time
	)
	err := p.db.QueryRow(ctx, query, id).Scan(&name, &line1, &line2, &source, &fetched)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("postgres repository: get %s: %w", id, err)
	}
	rec, err := reparse(id, name, line1, line2, source)
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("postgres repository: %w", err)
	}
	return model.CacheEntry{Record: rec, FetchedAt: fetched.UTC(), Source: source}, true, nil
}

// Save implements Repository.
func (p *Postgres) Save(ctx context.Context, entry model.CacheEntry) error {
	query := `
		INSERT INTO element_sets (norad_id, name, line1, line2, source, epoch, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (norad_id) DO UPDATE SET
			name = EXCLUDED.name,
			line1 = EXCLUDED.line1,
			line2 = EXCLUDED.line2,
			source = EXCLUDED.source,
			epoch = EXCLUDED.epoch,
			fetched_at = EXCLUDED.fetched_at`

	r := entry.Record
	_, err := p.db.Exec(ctx, query,
		r.NoradID, r.Name, r.Line1, r.Line2, entry.Source, r.Epoch, entry.FetchedAt)
	if err != nil {
		return fmt.Errorf("postgres repository: save %s: %w", r.NoradID, err)
	}
	return nil
}

// Delete implements Repository.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.db.Exec(ctx, "DELETE FROM element_sets WHERE norad_id = $1", id); err != nil {
		return fmt.Errorf("postgres repository: delete %s: %w", id, err)
	}
	return nil
}

// List implements Repository.
func (p *Postgres) List(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, "SELECT norad_id FROM element_sets ORDER BY norad_id")
	if err != nil {
		return nil, fmt.Errorf("postgres repository: list: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres repository: list: %w", err)
	}
	return ids, nil
}
