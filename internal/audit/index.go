package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"execgate/internal/domain"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "audit_events table",
		SQL: `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id    TEXT NOT NULL UNIQUE,
			session_id  TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			command     TEXT,
			result      TEXT,
			metadata    TEXT,
			created_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_events_time ON audit_events(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_events_session ON audit_events(session_id);
		CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
		`,
	},
}

// SQLiteIndex mirrors audit events across sessions for history queries.
// The JSONL files stay the record of truth.
type SQLiteIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteIndex(dbPath string, logger *slog.Logger) (*SQLiteIndex, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create index directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open audit index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &SQLiteIndex{db: db, logger: logger.With("component", "audit-index")}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit index migration failed: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
		s.logger.Debug("migration applied", "version", m.Version)
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteIndex) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
	return v, err
}

// Record inserts ev. Re-recording the same event id is a no-op.
func (s *SQLiteIndex) Record(sessionID string, ev domain.AuditEvent) error {
	var meta []byte
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = b
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO audit_events (event_id, session_id, event_type, command, result, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, sessionID, ev.EventType, ev.Command, ev.Result, string(meta), ev.Timestamp.UTC(),
	)
	return err
}

// Query filters history. Zero fields match everything.
type Query struct {
	SessionID string
	EventType string
	Contains  string // substring of the command
	Since     time.Time
	Limit     int
}

// IndexedEvent is one history row.
type IndexedEvent struct {
	SessionID string
	domain.AuditEvent
}

// Search returns matching events, newest first.
func (s *SQLiteIndex) Search(ctx context.Context, q Query) ([]IndexedEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var where []string
	var args []any
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, q.EventType)
	}
	if q.Contains != "" {
		where = append(where, "command LIKE ?")
		args = append(args, "%"+q.Contains+"%")
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UTC())
	}

	stmt := `SELECT session_id, event_id, event_type, command, result, metadata, created_at FROM audit_events`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexedEvent
	for rows.Next() {
		var e IndexedEvent
		var command, result, meta sql.NullString
		if err := rows.Scan(&e.SessionID, &e.EventID, &e.EventType, &command, &result, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Command = command.String
		e.Result = result.String
		if meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				s.logger.Debug("bad metadata in audit index", "event_id", e.EventID, "error", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
