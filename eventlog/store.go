// Package eventlog persists connection and health events to a local sqlite
// database so a session's history survives restarts.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Kind labels a recorded event.
type Kind string

const (
	KindConnect       Kind = "connect"
	KindDisconnect    Kind = "disconnect"
	KindConnectFailed Kind = "connect_failed"
	KindHealthChange  Kind = "health_change"
	KindPackageDetect Kind = "package_detect"
)

// Event is one persisted row.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      Kind           `json:"kind"`
	Serial    string         `json:"serial"`
	Detail    map[string]any `json:"detail,omitempty"`
}

const schemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    kind TEXT NOT NULL,
    serial TEXT NOT NULL,
    detail TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_serial ON events(serial, timestamp DESC);
`

// Store is a sqlite-backed event log. Safe for concurrent use; database/sql
// serializes access to the single connection.
type Store struct {
	db         *sql.DB
	stmtInsert *sql.Stmt
}

// Open creates or opens the event database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open event database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply event schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO events (id, timestamp, kind, serial, detail) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &Store{db: db, stmtInsert: stmt}, nil
}

// Append records one event. The id and timestamp are assigned here.
func (s *Store) Append(kind Kind, serial string, detail map[string]any) (Event, error) {
	ev := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Kind:      kind,
		Serial:    serial,
		Detail:    detail,
	}

	detailJSON := "{}"
	if len(detail) > 0 {
		b, err := json.Marshal(detail)
		if err != nil {
			return Event{}, fmt.Errorf("marshal event detail: %w", err)
		}
		detailJSON = string(b)
	}

	_, err := s.stmtInsert.Exec(ev.ID, ev.Timestamp.UnixMilli(), string(ev.Kind), ev.Serial, detailJSON)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, timestamp, kind, serial, detail FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev         Event
			ts         int64
			kind       string
			detailJSON string
		)
		if err := rows.Scan(&ev.ID, &ts, &kind, &ev.Serial, &detailJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts)
		ev.Kind = Kind(kind)
		if detailJSON != "" && detailJSON != "{}" {
			_ = json.Unmarshal([]byte(detailJSON), &ev.Detail)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events older than the cutoff and reports how many went away.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the prepared statement and the database handle.
func (s *Store) Close() error {
	if s.stmtInsert != nil {
		s.stmtInsert.Close()
	}
	return s.db.Close()
}
