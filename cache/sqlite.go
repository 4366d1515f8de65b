package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	identity   TEXT PRIMARY KEY,
	url_key    TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(created_at);

CREATE TABLE IF NOT EXISTS history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	url_key    TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_url ON history(url_key, created_at);
`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db           *sqlx.DB
	maxEntries   int
	historyLimit int
}

type sqliteRow struct {
	Identity  string `db:"identity"`
	URLKey    string `db:"url_key"`
	Payload   []byte `db:"payload"`
	CreatedAt int64  `db:"created_at"`
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, maxEntries, historyLimit int) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	// One connection keeps pragmas and :memory: databases consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &SQLite{db: db, maxEntries: maxEntries, historyLimit: historyLimit}, nil
}

func (s *SQLite) Get(ctx context.Context, identity string) (*Entry, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM cache_entries WHERE identity = ?`, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	return decodeEntry(payload)
}

func (s *SQLite) Put(ctx context.Context, e *Entry) error {
	return s.inTx(ctx, e, s.putEntry)
}

func (s *SQLite) Latest(ctx context.Context, urlKey string, before time.Time) (*Entry, error) {
	bound := int64(math.MaxInt64)
	if !before.IsZero() {
		bound = before.UnixNano()
	}
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `
		SELECT payload FROM history
		WHERE url_key = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, urlKey, bound)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: latest: %w", err)
	}
	return decodeEntry(payload)
}

func (s *SQLite) Append(ctx context.Context, e *Entry) error {
	return s.inTx(ctx, e, s.appendHistory)
}

// Save writes the entry and its history record in one transaction.
func (s *SQLite) Save(ctx context.Context, e *Entry) error {
	return s.inTx(ctx, e, s.putEntry, s.appendHistory)
}

func (s *SQLite) inTx(ctx context.Context, e *Entry, steps ...func(context.Context, *sqlx.Tx, *sqliteRow) error) error {
	row, err := encodeEntry(e)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin: %w", err)
	}
	defer tx.Rollback()

	for _, step := range steps {
		if err := step(ctx, tx, row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) putEntry(ctx context.Context, tx *sqlx.Tx, row *sqliteRow) error {
	if _, err := tx.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries (identity, url_key, payload, created_at)
		VALUES (:identity, :url_key, :payload, :created_at)`, row); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	if s.maxEntries > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE identity IN (
				SELECT identity FROM cache_entries ORDER BY created_at DESC LIMIT -1 OFFSET ?
			)`, s.maxEntries); err != nil {
			return fmt.Errorf("cache: evict: %w", err)
		}
	}
	return nil
}

func (s *SQLite) appendHistory(ctx context.Context, tx *sqlx.Tx, row *sqliteRow) error {
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO history (url_key, payload, created_at)
		VALUES (:url_key, :payload, :created_at)`, row); err != nil {
		return fmt.Errorf("cache: append: %w", err)
	}
	if s.historyLimit > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM history WHERE url_key = ? AND id NOT IN (
				SELECT id FROM history WHERE url_key = ? ORDER BY created_at DESC, id DESC LIMIT ?
			)`, row.URLKey, row.URLKey, s.historyLimit); err != nil {
			return fmt.Errorf("cache: trim history: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM cache_entries`); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func encodeEntry(e *Entry) (*sqliteRow, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("cache: encode entry: %w", err)
	}
	return &sqliteRow{
		Identity:  e.Identity,
		URLKey:    e.URLKey,
		Payload:   payload,
		CreatedAt: e.CreatedAt.UnixNano(),
	}, nil
}

func decodeEntry(payload []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("cache: decode entry: %w", err)
	}
	return &e, nil
}
