package audit

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"execgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Log ---

func TestLog_AppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	l := Open(dir, testLogger())
	defer l.Close()

	l.LogEvent(domain.AuditEvent{EventType: domain.EventGateEvaluation, Command: "rm -rf /", Result: "forbid",
		Metadata: map[string]any{"decision": "forbid"}})
	l.LogEvent(domain.AuditEvent{EventType: domain.EventPermissionCheck, Result: "allowed"})

	if got := len(l.Events()); got != 2 {
		t.Fatalf("expected 2 buffered events, got %d", got)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"event":"gate_evaluation"`) || !strings.Contains(lines[0], `"timestamp"`) || !strings.Contains(lines[0], `"data"`) {
		t.Fatalf("unexpected record shape: %s", lines[0])
	}

	events, err := ReadSession(l.Path())
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if len(events) != 2 || events[0].Metadata["decision"] != "forbid" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[0].EventID == "" || events[0].Timestamp.IsZero() {
		t.Fatal("expected id and timestamp to be filled in")
	}
}

func TestLog_FileIsSessionScoped(t *testing.T) {
	dir := t.TempDir()
	a := Open(dir, testLogger())
	defer a.Close()
	b := Open(dir, testLogger())
	defer b.Close()

	if a.SessionID() == b.SessionID() || a.Path() == b.Path() {
		t.Fatal("two runs must get distinct session files")
	}
	if filepath.Base(a.Path()) != a.SessionID()+".jsonl" {
		t.Fatalf("unexpected file name %s", a.Path())
	}
}

func TestLog_Clear(t *testing.T) {
	l := Open(t.TempDir(), testLogger())
	defer l.Close()

	l.LogEvent(domain.AuditEvent{EventType: domain.EventRuleAdded})
	if err := l.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(l.Events()) != 0 {
		t.Fatal("expected empty buffer")
	}
	l.LogEvent(domain.AuditEvent{EventType: domain.EventRuleRemoved})

	events, _ := ReadSession(l.Path())
	if len(events) != 1 || events[0].EventType != domain.EventRuleRemoved {
		t.Fatalf("expected only the post-clear event, got %+v", events)
	}
}

func TestLog_MemoryOnlyWhenDirUnusable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0o600)

	l := Open(filepath.Join(blocker, "audit"), testLogger())
	l.LogEvent(domain.AuditEvent{EventType: domain.EventCommandExecuted})

	if l.Path() != "" {
		t.Fatal("expected no session file")
	}
	if len(l.Events()) != 1 {
		t.Fatal("events must still be buffered")
	}
}

func TestLog_WriteFailureIsSwallowed(t *testing.T) {
	l := Open(t.TempDir(), testLogger())
	l.file.Close() // every later write fails

	l.LogEvent(domain.AuditEvent{EventType: domain.EventGateEvaluation})
	if len(l.Events()) != 1 {
		t.Fatal("expected event buffered despite write failure")
	}
}

func TestReadSession_SkipsBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	content := `{"timestamp":"2025-01-01T00:00:00Z","event":"trust_granted","data":{"eventId":"1"}}
not json
{"timestamp":"2025-01-01T00:00:01Z","event":"trust_revoked","data":{"eventId":"2","eventType":"trust_revoked"}}
`
	os.WriteFile(path, []byte(content), 0o600)

	events, err := ReadSession(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != domain.EventTrustGranted {
		t.Fatalf("expected event type from the envelope, got %q", events[0].EventType)
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"20250101-000000-aaaa.jsonl", "20250301-000000-bbbb.jsonl", "notes.txt"} {
		os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o600)
	}
	sessions, err := ListSessions(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "20250301-000000-bbbb" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	none, err := ListSessions(filepath.Join(dir, "missing"))
	if err != nil || len(none) != 0 {
		t.Fatalf("missing dir should list nothing, got %v %v", none, err)
	}
}

// --- SQLite index ---

func TestSQLiteIndex_MigratesIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	idx, err := NewSQLiteIndex(path, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx.Close()

	idx, err = NewSQLiteIndex(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	v, err := idx.SchemaVersion()
	if err != nil || v != schemaVersion {
		t.Fatalf("expected version %d, got %d (%v)", schemaVersion, v, err)
	}
}

func TestSQLiteIndex_MirrorsLog(t *testing.T) {
	idx, err := NewSQLiteIndex(filepath.Join(t.TempDir(), "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	l := Open(t.TempDir(), testLogger()).WithIndex(idx)
	defer l.Close()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.LogEvent(domain.AuditEvent{EventType: domain.EventGateEvaluation, Command: "git status", Result: "allow", Timestamp: base})
	l.LogEvent(domain.AuditEvent{EventType: domain.EventGateEvaluation, Command: "rm -rf /", Result: "forbid",
		Timestamp: base.Add(time.Minute), Metadata: map[string]any{"decision": "forbid"}})
	l.LogEvent(domain.AuditEvent{EventType: domain.EventTrustGranted, Timestamp: base.Add(2 * time.Minute)})

	ctx := context.Background()
	all, err := idx.Search(ctx, Query{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 3 || all[0].EventType != domain.EventTrustGranted {
		t.Fatalf("expected 3 events newest first, got %+v", all)
	}
	if all[0].SessionID != l.SessionID() {
		t.Fatalf("expected session id %s, got %s", l.SessionID(), all[0].SessionID)
	}

	rm, _ := idx.Search(ctx, Query{Contains: "rm -rf"})
	if len(rm) != 1 || rm[0].Metadata["decision"] != "forbid" {
		t.Fatalf("unexpected search result %+v", rm)
	}

	gates, _ := idx.Search(ctx, Query{EventType: domain.EventGateEvaluation, Limit: 1})
	if len(gates) != 1 || gates[0].Command != "rm -rf /" {
		t.Fatalf("expected newest gate evaluation, got %+v", gates)
	}
}

func TestSQLiteIndex_DuplicateEventIgnored(t *testing.T) {
	idx, err := NewSQLiteIndex(filepath.Join(t.TempDir(), "audit.db"), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	ev := domain.AuditEvent{EventID: "fixed", EventType: domain.EventRuleAdded, Timestamp: time.Now()}
	if err := idx.Record("s1", ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := idx.Record("s1", ev); err != nil {
		t.Fatalf("record again: %v", err)
	}
	got, _ := idx.Search(context.Background(), Query{SessionID: "s1"})
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
}
