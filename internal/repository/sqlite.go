package repository

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/internal/sqlitepool"
	"github.com/signalsfoundry/tle-fetcher/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS element_sets (
	norad_id   TEXT PRIMARY KEY,
	name       TEXT,
	line1      TEXT NOT NULL,
	line2      TEXT NOT NULL,
	source     TEXT NOT NULL,
	epoch_us   INTEGER NOT NULL,
	fetched_us INTEGER NOT NULL
);
`

// SQLite stores entries in an element_sets table.
type SQLite struct {
	pool *sqlitepool.Pool
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, log logging.Logger) (*SQLite, error) {
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:   path,
		Logger: log,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite repository: %w", err)
	}
	return &SQLite{pool: pool}, nil
}

// Close closes the underlying pool.
func (s *SQLite) Close() error { return s.pool.Close() }

// Get implements Repository.
func (s *SQLite) Get(ctx context.Context, id string) (model.CacheEntry, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("sqlite repository: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		name, line1, line2, source string
		fetched                    int64
		found                      bool
	)
	err = sqlitex.Execute(conn,
		"SELECT name, line1, line2, source, fetched_us FROM element_sets WHERE norad_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				name, line1, line2 = stmt.ColumnText(0), stmt.ColumnText(1), stmt.ColumnText(2)
				source, fetched = stmt.ColumnText(3), stmt.ColumnInt64(4)
				found = true
				return nil
			},
		})
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("sqlite repository: get %s: %w", id, err)
	}
	if !found {
		return model.CacheEntry{}, false, nil
	}
	rec, err := reparse(id, name, line1, line2, source)
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("sqlite repository: %w", err)
	}
	return model.CacheEntry{Record: rec, FetchedAt: time.UnixMicro(fetched).UTC(), Source: source}, true, nil
}

// Save implements Repository.
func (s *SQLite) Save(ctx context.Context, entry model.CacheEntry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite repository: %w", err)
	}
	defer s.pool.Put(conn)

	r := entry.Record
	err = sqlitex.Execute(conn, `
		INSERT INTO element_sets (norad_id, name, line1, line2, source, epoch_us, fetched_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (norad_id) DO UPDATE SET
			name = excluded.name,
			line1 = excluded.line1,
			line2 = excluded.line2,
			source = excluded.source,
			epoch_us = excluded.epoch_us,
			fetched_us = excluded.fetched_us`,
		&sqlitex.ExecOptions{Args: []any{
			r.NoradID, r.Name, r.Line1, r.Line2, entry.Source,
			r.Epoch.UnixMicro(), entry.FetchedAt.UnixMicro(),
		}})
	if err != nil {
		return fmt.Errorf("sqlite repository: save %s: %w", r.NoradID, err)
	}
	return nil
}

// Delete implements Repository.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite repository: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM element_sets WHERE norad_id = ?",
		&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("sqlite repository: delete %s: %w", id, err)
	}
	return nil
}

// List implements Repository.
func (s *SQLite) List(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite repository: %w", err)
	}
	defer s.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn, "SELECT norad_id FROM element_sets ORDER BY norad_id",
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnText(0))
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("sqlite repository: list: %w", err)
	}
	return ids, nil
}
