package catalogstore

const schema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
	content_key   BLOB PRIMARY KEY,
	source        TEXT NOT NULL,
	norad_id      TEXT NOT NULL,
	name          TEXT,
	line1         TEXT NOT NULL,
	line2         TEXT NOT NULL,
	epoch_us      INTEGER NOT NULL,
	first_seen_us INTEGER NOT NULL,
	run_id        INTEGER
);
CREATE INDEX IF NOT EXISTS catalog_entries_source_epoch
	ON catalog_entries (source, epoch_us);

CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_uuid    TEXT NOT NULL,
	source      TEXT NOT NULL,
	started_us  INTEGER NOT NULL,
	finished_us INTEGER,
	since_us    INTEGER,
	cursor_us   INTEGER,
	offline     INTEGER NOT NULL DEFAULT 0,
	used_cache  INTEGER NOT NULL DEFAULT 0,
	new_entries INTEGER NOT NULL DEFAULT 0,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS runs_source_id ON runs (source, id);

CREATE TABLE IF NOT EXISTS catalog_cache (
	cache_key  TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	fetched_us INTEGER NOT NULL,
	encoding   TEXT NOT NULL,
	payload    BLOB NOT NULL
);
`
