// Package store persists the per-session analysis cache in SQLite. One row
// per session; a fresh computation always fully overwrites the row. There is
// no multi-writer protocol: concurrent force-refreshes race and the last
// writer wins, which is acceptable because analyses are idempotent given the
// same inputs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/calltriage/internal/schema"
)

// Cache is the analysis-cache interface the pipeline and server consume.
type Cache interface {
	GetAnalysis(ctx context.Context, sessionID string) (*schema.AnalysisRecord, error)
	PutAnalysis(ctx context.Context, rec *schema.AnalysisRecord) error
	Close() error
}

// SQLiteCache implements Cache using SQLite.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the analysis cache database.
func NewSQLite(dbPath string) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	c := &SQLiteCache{db: db}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	return c, nil
}

func (c *SQLiteCache) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS analyses (
		session_id TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL,
		analyzed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_analyzed ON analyses(analyzed_at);
	`
	if _, err := c.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GetAnalysis returns the cached record for a session, or nil when the cache
// has none. Returned records carry Cached=true.
func (c *SQLiteCache) GetAnalysis(ctx context.Context, sessionID string) (*schema.AnalysisRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT payload_json FROM analyses WHERE session_id = ?`, sessionID)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan analysis row: %w", err)
	}

	var rec schema.AnalysisRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("store: decode cached analysis: %w", err)
	}
	rec.Cached = true
	return &rec, nil
}

// PutAnalysis overwrites the session's row with a fresh record.
func (c *SQLiteCache) PutAnalysis(ctx context.Context, rec *schema.AnalysisRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode analysis: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO analyses (session_id, payload_json, analyzed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			analyzed_at = excluded.analyzed_at`,
		rec.SessionID, string(payload), rec.AnalyzedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert analysis: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("store: close database: %w", err)
	}
	return nil
}
