package evalcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS eval_verdicts (
	cache_key   TEXT PRIMARY KEY,
	entry_id    TEXT NOT NULL,
	votes_json  TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// SQLite persists verdicts across runs.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Get(ctx context.Context, key string) ([]string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT votes_json FROM eval_verdicts WHERE cache_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get verdict: %w", err)
	}
	var votes []string
	if err := json.Unmarshal([]byte(raw), &votes); err != nil {
		return nil, false, fmt.Errorf("decode verdict %s: %w", key, err)
	}
	return votes, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, votes []string) error {
	b, err := json.Marshal(votes)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO eval_verdicts (cache_key, entry_id, votes_json, created_at) VALUES (?, ?, ?, ?)`,
		key, uuid.NewString(), string(b), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put verdict: %w", err)
	}
	return nil
}

// Count returns the number of stored verdicts.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM eval_verdicts`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
