// Package audit records every gate decision as an append-only event stream.
//
// Each process run writes one JSONL file named after its session id. The
// log is write-only from the gate's point of view; nothing reads it back to
// make a decision.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"execgate/internal/domain"

	"github.com/google/uuid"
)

// record is the on-disk line format.
type record struct {
	Timestamp time.Time         `json:"timestamp"`
	Event     string            `json:"event"`
	Data      domain.AuditEvent `json:"data"`
}

// Indexer mirrors events into a queryable store. SQLiteIndex satisfies it.
type Indexer interface {
	Record(sessionID string, ev domain.AuditEvent) error
}

// Log is the session audit log. The zero value is not usable; use Open.
type Log struct {
	mu        sync.Mutex
	sessionID string
	path      string
	file      *os.File
	events    []domain.AuditEvent
	index     Indexer
	logger    *slog.Logger
}

// Open starts a new session file under dir. When dir is empty or cannot be
// created the log still buffers in memory.
func Open(dir string, logger *slog.Logger) *Log {
	l := &Log{
		sessionID: newSessionID(time.Now().UTC()),
		logger:    logger.With("component", "audit"),
	}
	if dir == "" {
		return l
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		l.logger.Debug("audit dir unavailable, buffering in memory only", "dir", dir, "error", err)
		return l
	}
	l.path = filepath.Join(dir, l.sessionID+".jsonl")
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		l.logger.Debug("audit file unavailable, buffering in memory only", "path", l.path, "error", err)
		return l
	}
	l.file = f
	return l
}

// session ids sort chronologically by name.
func newSessionID(now time.Time) string {
	return now.Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// WithIndex mirrors every later event into idx.
func (l *Log) WithIndex(idx Indexer) *Log {
	l.mu.Lock()
	l.index = idx
	l.mu.Unlock()
	return l
}

// SessionID identifies this run.
func (l *Log) SessionID() string { return l.sessionID }

// Path is the session file, empty when buffering in memory only.
func (l *Log) Path() string { return l.path }

// LogEvent appends ev. Missing ids and timestamps are filled in. Write
// failures never reach the caller.
func (l *Log) LogEvent(ev domain.AuditEvent) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)

	if l.file != nil {
		line, err := json.Marshal(record{Timestamp: ev.Timestamp, Event: ev.EventType, Data: ev})
		if err != nil {
			l.logger.Debug("audit encode failed", "event", ev.EventType, "error", err)
		} else if _, err := l.file.Write(append(line, '\n')); err != nil {
			l.logger.Debug("audit write failed", "path", l.path, "error", err)
		}
	}
	if l.index != nil {
		if err := l.index.Record(l.sessionID, ev); err != nil {
			l.logger.Debug("audit index failed", "event", ev.EventType, "error", err)
		}
	}
}

// Events returns a copy of this session's buffered events.
func (l *Log) Events() []domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Clear drops the in-memory buffer and truncates the session file. It is
// the only way events are ever removed.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	if l.file == nil {
		return nil
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate audit log: %w", err)
	}
	return nil
}

// Close flushes and closes the session file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// SessionInfo summarises one session file.
type SessionInfo struct {
	ID      string
	Path    string
	Size    int64
	ModTime time.Time
}

// ListSessions returns the session files in dir, newest first.
func ListSessions(dir string) ([]SessionInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []SessionInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SessionInfo{
			ID:      strings.TrimSuffix(e.Name(), ".jsonl"),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ReadSession decodes a session file. Unparseable lines are skipped.
func ReadSession(path string) ([]domain.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.AuditEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		ev := r.Data
		if ev.EventType == "" {
			ev.EventType = r.Event
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = r.Timestamp
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}
