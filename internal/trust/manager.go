package trust

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"execgate/internal/domain"

	"github.com/google/uuid"
)

// LevelSink is the live environment whose trust level follows changes to
// its workspace root. environment.Holder satisfies it.
type LevelSink interface {
	Get() domain.ExecutionEnvironment
	SetTrustLevel(level domain.TrustLevel)
}

// Manager answers "may the agent act in this workspace?".
//
// States per normalized path: untrusted, session (this process only) and
// persistent (stored). Only Untrust moves a path back to untrusted.
type Manager struct {
	store    *Store
	prompter domain.TrustPrompter
	sink     LevelSink
	audit    domain.AuditSink
	logger   *slog.Logger

	mu      sync.RWMutex
	session map[string]bool
}

// NewManager wires a manager. prompter, sink and audit may be nil; without
// a prompter EnsureTrusted refuses anything not already trusted.
func NewManager(store *Store, prompter domain.TrustPrompter, sink LevelSink, audit domain.AuditSink, logger *slog.Logger) *Manager {
	if audit == nil {
		audit = domain.NopAudit{}
	}
	return &Manager{
		store:    store,
		prompter: prompter,
		sink:     sink,
		audit:    audit,
		logger:   logger.With("component", "trust"),
		session:  make(map[string]bool),
	}
}

// Level returns the trust level of path.
func (m *Manager) Level(path string) domain.TrustLevel {
	n, err := NormalizePath(path)
	if err != nil {
		return domain.TrustUntrusted
	}
	if _, ok := m.store.Get(n); ok {
		return domain.TrustPersistent
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session[n] {
		return domain.TrustSession
	}
	return domain.TrustUntrusted
}

// TrustWorkspace persists trust for path. Trusting an already trusted path
// leaves exactly one record.
func (m *Manager) TrustWorkspace(path string) (domain.TrustRecord, error) {
	n, err := NormalizePath(path)
	if err != nil {
		return domain.TrustRecord{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.TrustRecord{}, err
	}
	rec := domain.TrustRecord{Path: abs, NormalizedPath: n, TrustedAt: time.Now().UTC()}

	added, err := m.store.Put(rec)
	if err != nil {
		return domain.TrustRecord{}, err
	}
	if !added {
		existing, _ := m.store.Get(n)
		return existing, nil
	}

	m.mu.Lock()
	delete(m.session, n)
	m.mu.Unlock()

	m.logger.Info("workspace trusted", "path", abs, "level", domain.TrustPersistent)
	m.record(domain.EventTrustGranted, abs, string(domain.TrustPersistent))
	m.publish(path)
	return rec, nil
}

// TrustSession trusts path until the process exits.
func (m *Manager) TrustSession(path string) error {
	n, err := NormalizePath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.session[n] = true
	m.mu.Unlock()

	m.logger.Info("workspace trusted", "path", path, "level", domain.TrustSession)
	m.record(domain.EventTrustGranted, path, string(domain.TrustSession))
	m.publish(path)
	return nil
}

// Untrust drops both session and persistent trust for path. It reports
// whether anything was removed.
func (m *Manager) Untrust(path string) (bool, error) {
	n, err := NormalizePath(path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	hadSession := m.session[n]
	delete(m.session, n)
	m.mu.Unlock()

	removed, err := m.store.Delete(n)
	if err != nil {
		return hadSession, err
	}
	if removed || hadSession {
		m.logger.Info("workspace untrusted", "path", path)
		m.record(domain.EventTrustRevoked, path, string(domain.TrustUntrusted))
		m.publish(path)
	}
	return removed || hadSession, nil
}

// List returns the persistently trusted workspaces.
func (m *Manager) List() []domain.TrustRecord {
	return m.store.List()
}

// EnsureTrusted returns true when the agent may act in path. A persistent
// record short-circuits with no prompt. Otherwise the operator is asked;
// "exit", a prompt error or no prompter at all yields false.
func (m *Manager) EnsureTrusted(ctx context.Context, path string) (bool, error) {
	switch m.Level(path) {
	case domain.TrustPersistent, domain.TrustSession:
		m.publish(path)
		return true, nil
	}

	if m.prompter == nil {
		m.logger.Warn("workspace untrusted and no trust prompt available", "path", path)
		m.record(domain.EventTrustDeclined, path, "no prompt")
		return false, nil
	}

	choice, err := m.prompter.PromptTrust(ctx, path)
	if err != nil {
		m.logger.Warn("trust prompt failed", "path", path, "error", err)
		m.record(domain.EventTrustDeclined, path, "prompt error")
		return false, nil
	}

	switch choice {
	case domain.ChoicePersistent:
		if _, err := m.TrustWorkspace(path); err != nil {
			// Persisting failed; the operator still said yes for now.
			m.logger.Warn("could not persist trust, falling back to session", "path", path, "error", err)
			if err := m.TrustSession(path); err != nil {
				return false, err
			}
		}
		return true, nil
	case domain.ChoiceSession:
		if err := m.TrustSession(path); err != nil {
			return false, err
		}
		return true, nil
	case domain.ChoiceExit:
		m.record(domain.EventTrustDeclined, path, "exit")
		return false, nil
	default:
		m.record(domain.EventTrustDeclined, path, fmt.Sprintf("unknown choice %q", choice))
		return false, nil
	}
}

// publish pushes the level of path to the live environment when path is
// its workspace root.
func (m *Manager) publish(path string) {
	if m.sink == nil {
		return
	}
	n, err := NormalizePath(path)
	if err != nil {
		return
	}
	live, err := NormalizePath(m.sink.Get().WorkspaceRoot)
	if err != nil || live != n {
		return
	}
	m.sink.SetTrustLevel(m.Level(path))
}

func (m *Manager) record(eventType, path, result string) {
	m.audit.LogEvent(domain.AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    result,
		Metadata:  map[string]any{"path": path},
	})
}
