package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"execgate/internal/domain"
	"execgate/internal/jsonstore"
)

// rulesFile is the on-disk shape of rules.json.
type rulesFile struct {
	Version int           `json:"version"`
	Rules   []domain.Rule `json:"rules"`
}

// RuleStore persists the user rule layer. Every mutation rewrites the whole
// file; readers in the same process never see a partial update.
type RuleStore struct {
	mu     sync.RWMutex
	path   string
	rules  []domain.Rule
	logger *slog.Logger
}

// NewRuleStore loads path. A missing or corrupt file yields an empty rule
// set; corruption is logged and the bad file is left in place until the
// next successful save replaces it.
func NewRuleStore(path string, logger *slog.Logger) *RuleStore {
	s := &RuleStore{
		path:   path,
		logger: logger.With("component", "rule-store"),
	}
	s.rules = s.load()
	return s
}

func (s *RuleStore) load() []domain.Rule {
	var f rulesFile
	if err := jsonstore.Load(s.path, &f); err != nil {
		if !jsonstore.IsNotExist(err) {
			s.logger.Warn("rules store unreadable, using empty rule set", "path", s.path, "error", err)
		}
		return []domain.Rule{}
	}

	valid := make([]domain.Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if len(r.Pattern) == 0 {
			s.logger.Warn("skipping stored rule with empty pattern", "id", r.ID)
			continue
		}
		// A damaged action is loaded as forbid rather than dropped, so a
		// typo in a stored forbid cannot open the command up.
		if !r.Action.Valid() {
			s.logger.Warn("stored rule has unknown action, treating as forbid", "id", r.ID, "action", r.Action)
			r.Action = domain.ActionForbid
		}
		r.Source = domain.SourceUser
		valid = append(valid, r)
	}
	return valid
}

// Path returns the backing file.
func (s *RuleStore) Path() string { return s.path }

// Rules returns a copy of the stored rules in insertion order.
func (s *RuleStore) Rules() []domain.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Add appends r and saves. On save failure the in-memory set is unchanged.
func (s *RuleStore) Add(r domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.Rule, len(s.rules), len(s.rules)+1)
	copy(next, s.rules)
	next = append(next, r)
	if err := s.save(next); err != nil {
		return err
	}
	s.rules = next
	return nil
}

// Remove deletes the rule with id. It reports whether a rule was removed.
func (s *RuleStore) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.ID != id {
			next = append(next, r)
		}
	}
	if len(next) == len(s.rules) {
		return false, nil
	}
	if err := s.save(next); err != nil {
		return false, err
	}
	s.rules = next
	return true, nil
}

func (s *RuleStore) save(rules []domain.Rule) error {
	if err := jsonstore.Save(s.path, rulesFile{Version: 1, Rules: rules}); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}
