package catalogstore

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/signalsfoundry/tle-fetcher/model"
)

const runColumns = `id, run_uuid, source, started_us, finished_us, since_us, cursor_us,
	offline, used_cache, new_entries, error`

// RecordRunStart writes an open run row and returns its id.
func (s *Store) RecordRunStart(ctx context.Context, run model.DiscoveryRun) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog store: run start: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO runs (run_uuid, source, started_us, since_us, offline)
		VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			run.RunUUID, run.Source, run.StartedAt.UnixMicro(),
			nullableMicros(run.Since), boolInt(run.Offline),
		}})
	if err != nil {
		return 0, fmt.Errorf("catalog store: run start: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// RecordRunFinish seals a run as successful.
func (s *Store) RecordRunFinish(ctx context.Context, id int64, finishedAt, cursor time.Time, usedCache bool, newEntries int) error {
	return s.sealRun(ctx, id, `
		UPDATE runs SET finished_us = ?, cursor_us = ?, used_cache = ?, new_entries = ?
		WHERE id = ? AND finished_us IS NULL`,
		finishedAt.UnixMicro(), nullableMicros(cursor), boolInt(usedCache), int64(newEntries), id)
}

// RecordRunError seals a run as failed with msg.
func (s *Store) RecordRunError(ctx context.Context, id int64, finishedAt time.Time, msg string) error {
	return s.sealRun(ctx, id, `
		UPDATE runs SET finished_us = ?, error = ?
		WHERE id = ? AND finished_us IS NULL`,
		finishedAt.UnixMicro(), msg, id)
}

func (s *Store) sealRun(ctx context.Context, id int64, query string, args ...any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("catalog store: seal run %d: %w", id, err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("catalog store: seal run %d: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("catalog store: seal run %d: %w or already sealed", id, ErrRunNotFound)
	}
	return nil
}

// Run loads a run by id.
func (s *Store) Run(ctx context.Context, id int64) (model.DiscoveryRun, error) {
	runs, err := s.queryRuns(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	if err != nil {
		return model.DiscoveryRun{}, err
	}
	if len(runs) == 0 {
		return model.DiscoveryRun{}, fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	return runs[0], nil
}

// Runs lists the most recent runs for source, newest first.
func (s *Store) Runs(ctx context.Context, source string, limit int) ([]model.DiscoveryRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRuns(ctx,
		"SELECT "+runColumns+" FROM runs WHERE source = ? ORDER BY id DESC LIMIT ?",
		source, int64(limit))
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]model.DiscoveryRun, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog store: runs: %w", err)
	}
	defer s.pool.Put(conn)

	var out []model.DiscoveryRun
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanRun(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog store: runs: %w", err)
	}
	return out, nil
}

func scanRun(stmt *sqlite.Stmt) model.DiscoveryRun {
	optTime := func(col int) time.Time {
		if stmt.ColumnType(col) == sqlite.TypeNull {
			return time.Time{}
		}
		return fromMicros(stmt.ColumnInt64(col))
	}
	return model.DiscoveryRun{
		ID:         stmt.ColumnInt64(0),
		RunUUID:    stmt.ColumnText(1),
		Source:     stmt.ColumnText(2),
		StartedAt:  fromMicros(stmt.ColumnInt64(3)),
		FinishedAt: optTime(4),
		Since:      optTime(5),
		Cursor:     optTime(6),
		Offline:    stmt.ColumnInt64(7) != 0,
		UsedCache:  stmt.ColumnInt64(8) != 0,
		NewEntries: int(stmt.ColumnInt64(9)),
		Error:      stmt.ColumnText(10),
	}
}
