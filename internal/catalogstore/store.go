// Package catalogstore persists discovered catalog entries, the discovery
// run ledger and the raw-response cache used for offline runs, all in one
// SQLite database.
package catalogstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/signalsfoundry/tle-fetcher/internal/logging"
	"github.com/signalsfoundry/tle-fetcher/internal/sqlitepool"
	"github.com/signalsfoundry/tle-fetcher/model"
)

const encodingZstd = "zstd"

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("discovery run not found")

// Store is safe for concurrent use.
type Store struct {
	pool *sqlitepool.Pool
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	log  logging.Logger
}

// Open opens (creating if needed) the catalog database at path.
func Open(ctx context.Context, path string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:   path,
		Logger: log,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog store: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog store: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		pool.Close()
		return nil, fmt.Errorf("catalog store: zstd decoder: %w", err)
	}
	return &Store{pool: pool, enc: enc, dec: dec, log: log}, nil
}

// Close releases the database and codecs.
func (s *Store) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.pool.Close()
}

// ContentKey is the content-addressed identity of an entry: a BLAKE3 hash
// of source, NORAD id and both lines.
func ContentKey(e model.CatalogEntry) []byte {
	h := blake3.New()
	for _, part := range []string{e.Source, e.NoradID, e.Line1, e.Line2} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// InsertBatch stores entries that are not already present and returns the
// ones that were new, in input order. The batch commits atomically.
func (s *Store) InsertBatch(ctx context.Context, entries []model.CatalogEntry, runID int64, seenAt time.Time) (inserted []model.CatalogEntry, err error) {
	if len(entries) == 0 {
		return nil, nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog store: insert: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("catalog store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, e := range entries {
		ok, ierr := insertEntry(conn, e, runID, seenAt)
		if ierr != nil {
			return nil, ierr
		}
		if ok {
			inserted = append(inserted, e)
		}
	}
	return inserted, nil
}

// InsertIfAbsent stores a single entry, reporting whether it was new.
func (s *Store) InsertIfAbsent(ctx context.Context, e model.CatalogEntry, runID int64, seenAt time.Time) (bool, error) {
	inserted, err := s.InsertBatch(ctx, []model.CatalogEntry{e}, runID, seenAt)
	return len(inserted) == 1, err
}

func insertEntry(conn *sqlite.Conn, e model.CatalogEntry, runID int64, seenAt time.Time) (bool, error) {
	var run any
	if runID > 0 {
		run = runID
	}
	err := sqlitex.Execute(conn, `
		INSERT OR IGNORE INTO catalog_entries
		(content_key, source, norad_id, name, line1, line2, epoch_us, first_seen_us, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			ContentKey(e), e.Source, e.NoradID, e.Name, e.Line1, e.Line2,
			e.Epoch.UnixMicro(), seenAt.UnixMicro(), run,
		}})
	if err != nil {
		return false, fmt.Errorf("catalog store: insert %s/%s: %w", e.Source, e.NoradID, err)
	}
	return conn.Changes() == 1, nil
}

// MaxEpoch returns the newest epoch stored for source.
func (s *Store) MaxEpoch(ctx context.Context, source string) (time.Time, bool, error) {
	return s.queryTime(ctx,
		"SELECT MAX(epoch_us) FROM catalog_entries WHERE source = ?", source)
}

// LatestCursor returns the cursor of the most recent run for source that
// recorded one.
func (s *Store) LatestCursor(ctx context.Context, source string) (time.Time, bool, error) {
	return s.queryTime(ctx, `
		SELECT cursor_us FROM runs
		WHERE source = ? AND cursor_us IS NOT NULL
		ORDER BY id DESC LIMIT 1`, source)
}

func (s *Store) queryTime(ctx context.Context, query string, args ...any) (time.Time, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("catalog store: query: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		t     time.Time
		found bool
	)
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if stmt.ColumnType(0) == sqlite.TypeNull {
				return nil
			}
			t, found = fromMicros(stmt.ColumnInt64(0)), true
			return nil
		},
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("catalog store: query: %w", err)
	}
	return t, found, nil
}

// Entries lists the stored entries for source ordered by epoch. An empty
// source lists every source.
func (s *Store) Entries(ctx context.Context, source string) ([]model.CatalogEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog store: entries: %w", err)
	}
	defer s.pool.Put(conn)

	var out []model.CatalogEntry
	err = sqlitex.Execute(conn, `
		SELECT source, norad_id, name, line1, line2, epoch_us
		FROM catalog_entries
		WHERE ? = '' OR source = ?
		ORDER BY epoch_us, norad_id`,
		&sqlitex.ExecOptions{
			Args: []any{source, source},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, model.CatalogEntry{
					Source:  stmt.ColumnText(0),
					NoradID: stmt.ColumnText(1),
					Name:    stmt.ColumnText(2),
					Line1:   stmt.ColumnText(3),
					Line2:   stmt.ColumnText(4),
					Epoch:   fromMicros(stmt.ColumnInt64(5)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog store: entries: %w", err)
	}
	return out, nil
}

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func nullableMicros(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMicro()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
