package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/radio-control/controlplane/internal/logging"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	actor TEXT NOT NULL,
	radio_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	outcome TEXT NOT NULL,
	latency_ms REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_radio ON audit_entries(radio_id, id DESC);
`

// SQLiteStore keeps entries in a queryable SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	log *logging.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, log *logging.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	if log == nil {
		log = logging.Discard()
	}
	return &SQLiteStore{db: db, log: log.Component("audit")}, nil
}

// LogAction implements Logger. The insert is not tied to ctx's
// cancellation so a departing caller does not lose its record.
func (s *SQLiteStore) LogAction(ctx context.Context, e Entry) {
	if err := s.Insert(context.WithoutCancel(ctx), e); err != nil {
		s.log.Error("failed to store audit entry", logging.Fields{"action": e.Action, "error": err})
	}
}

// Insert stores one entry.
func (s *SQLiteStore) Insert(ctx context.Context, e Entry) error {
	params := []byte("{}")
	if len(e.Params) > 0 {
		var err error
		if params, err = json.Marshal(finiteParams(e.Params)); err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (ts, actor, radio_id, action, params, outcome, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Actor, e.RadioID, e.Action, string(params), e.Outcome, e.LatencyMs)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Recent implements Querier.
func (s *SQLiteStore) Recent(ctx context.Context, radioID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ts, actor, radio_id, action, params, outcome, latency_ms FROM audit_entries`
	args := []interface{}{}
	if radioID != "" {
		query += ` WHERE radio_id = ?`
		args = append(args, radioID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			ts     string
			params string
		)
		if err := rows.Scan(&ts, &e.Actor, &e.RadioID, &e.Action, &params, &e.Outcome, &e.LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("bad audit timestamp %q: %w", ts, err)
		}
		if params != "" && params != "{}" {
			if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
				return nil, fmt.Errorf("bad audit params: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
