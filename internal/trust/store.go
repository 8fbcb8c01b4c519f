// Package trust tracks which workspace roots the operator has agreed to let
// the agent act in.
package trust

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"execgate/internal/domain"
	"execgate/internal/jsonstore"
)

type trustFile struct {
	Version    int                  `json:"version"`
	Workspaces []domain.TrustRecord `json:"workspaces"`
}

// NormalizePath canonicalises a workspace path for use as the store key:
// absolute, cleaned and lower-cased. Symlinks are not resolved, so two
// spellings of one physical directory can yield two keys.
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return strings.ToLower(filepath.Clean(abs)), nil
}

// Store persists persistently trusted workspaces to trusted-workspaces.json.
// It holds at most one record per normalized path.
type Store struct {
	mu      sync.RWMutex
	path    string
	records []domain.TrustRecord
	logger  *slog.Logger
}

// NewStore loads path; a missing or corrupt file gives an empty store.
func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger.With("component", "trust-store")}
	s.records = s.load()
	return s
}

func (s *Store) load() []domain.TrustRecord {
	var f trustFile
	if err := jsonstore.Load(s.path, &f); err != nil {
		if !jsonstore.IsNotExist(err) {
			s.logger.Warn("trust store unreadable, treating every workspace as untrusted", "path", s.path, "error", err)
		}
		return []domain.TrustRecord{}
	}

	seen := make(map[string]bool, len(f.Workspaces))
	out := make([]domain.TrustRecord, 0, len(f.Workspaces))
	for _, r := range f.Workspaces {
		if r.NormalizedPath == "" {
			n, err := NormalizePath(r.Path)
			if err != nil {
				continue
			}
			r.NormalizedPath = n
		}
		if seen[r.NormalizedPath] {
			continue
		}
		seen[r.NormalizedPath] = true
		out = append(out, r)
	}
	return out
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the record for a normalized path.
func (s *Store) Get(normalized string) (domain.TrustRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.NormalizedPath == normalized {
			return r, true
		}
	}
	return domain.TrustRecord{}, false
}

// List returns every record, oldest first.
func (s *Store) List() []domain.TrustRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrustRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Put adds a record unless one exists for the same normalized path. It
// reports whether a record was added.
func (s *Store) Put(r domain.TrustRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.NormalizedPath == r.NormalizedPath {
			return false, nil
		}
	}
	if r.TrustedAt.IsZero() {
		r.TrustedAt = time.Now().UTC()
	}
	next := append(append([]domain.TrustRecord(nil), s.records...), r)
	if err := s.save(next); err != nil {
		return false, err
	}
	s.records = next
	return true, nil
}

// Delete removes the record for a normalized path.
func (s *Store) Delete(normalized string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.TrustRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.NormalizedPath != normalized {
			next = append(next, r)
		}
	}
	if len(next) == len(s.records) {
		return false, nil
	}
	if err := s.save(next); err != nil {
		return false, err
	}
	s.records = next
	return true, nil
}

func (s *Store) save(records []domain.TrustRecord) error {
	if err := jsonstore.Save(s.path, trustFile{Version: 1, Workspaces: records}); err != nil {
		return fmt.Errorf("save trust store: %w", err)
	}
	return nil
}
