package catalogstore

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PayloadKey identifies a cached raw response by source and the lower
// bound it was requested with.
func PayloadKey(source string, since time.Time) string {
	if since.IsZero() {
		return source + "|none"
	}
	return source + "|" + since.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}

// StorePayload caches a raw catalog response, compressed with zstd,
// replacing any previous payload under the same key.
func (s *Store) StorePayload(ctx context.Context, source string, since time.Time, payload []byte, fetchedAt time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("catalog store: store payload: %w", err)
	}
	defer s.pool.Put(conn)

	blob := s.enc.EncodeAll(payload, make([]byte, 0, len(payload)/4))
	err = sqlitex.Execute(conn, `
		INSERT INTO catalog_cache (cache_key, source, fetched_us, encoding, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			fetched_us = excluded.fetched_us,
			encoding = excluded.encoding,
			payload = excluded.payload`,
		&sqlitex.ExecOptions{Args: []any{
			PayloadKey(source, since), source, fetchedAt.UnixMicro(), encodingZstd, blob,
		}})
	if err != nil {
		return fmt.Errorf("catalog store: store payload: %w", err)
	}
	return nil
}

// LoadPayload returns the cached raw response for (source, since).
func (s *Store) LoadPayload(ctx context.Context, source string, since time.Time) ([]byte, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("catalog store: load payload: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		encoding string
		blob     []byte
		found    bool
	)
	err = sqlitex.Execute(conn,
		"SELECT encoding, payload FROM catalog_cache WHERE cache_key = ?",
		&sqlitex.ExecOptions{
			Args: []any{PayloadKey(source, since)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				encoding = stmt.ColumnText(0)
				blob = make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, blob)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, false, fmt.Errorf("catalog store: load payload: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	switch encoding {
	case encodingZstd:
		out, err := s.dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, false, fmt.Errorf("catalog store: decompress payload: %w", err)
		}
		return out, true, nil
	case "identity":
		return blob, true, nil
	default:
		return nil, false, fmt.Errorf("catalog store: unknown payload encoding %q", encoding)
	}
}
