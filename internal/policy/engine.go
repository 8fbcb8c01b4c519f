package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"execgate/internal/domain"

	"github.com/google/uuid"
)

// Engine evaluates argv against three rule layers. All layers contribute
// candidate matches; none shadows another. When two matched rules share the
// highest restriction, the one from the more specific layer wins (session,
// then user, then default), because layers are fed to EvaluateRules in that
// order.
type Engine struct {
	defaults []domain.Rule
	store    *RuleStore
	logger   *slog.Logger

	mu      sync.RWMutex
	packs   []domain.Rule
	session []domain.Rule
}

// NewEngine builds an engine over the built-in defaults and the given user
// store. A nil store gives an engine with no persisted user rules.
func NewEngine(store *RuleStore, logger *slog.Logger) *Engine {
	return &Engine{
		defaults: DefaultRules(),
		store:    store,
		logger:   logger.With("component", "policy"),
	}
}

// LoadRulePacks adds the rules of every YAML pack in dir to the user layer.
// Pack rules are read-only and never written to the rules store.
func (e *Engine) LoadRulePacks(dir string) (int, error) {
	rules, err := LoadRulePacks(dir, e.logger)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.packs = rules
	e.mu.Unlock()
	return len(rules), nil
}

// Evaluate decides argv against every layer.
func (e *Engine) Evaluate(argv []string) domain.RuleEvaluation {
	eval := EvaluateRules(argv, e.Rules())
	e.logger.Debug("rules evaluated",
		"argv", argv,
		"decision", eval.Decision,
		"matched", len(eval.MatchedRules),
	)
	return eval
}

// EvaluateSegments decides each segment of a compound command against
// every layer; the most restrictive segment wins.
func (e *Engine) EvaluateSegments(segs [][]string) (domain.RuleEvaluation, int) {
	eval, idx := EvaluateSegments(segs, e.Rules())
	e.logger.Debug("segments evaluated",
		"segments", len(segs),
		"decision", eval.Decision,
		"decidedBy", idx,
	)
	return eval, idx
}

// Rules returns every active rule, session layer first.
func (e *Engine) Rules() []domain.Rule {
	e.mu.RLock()
	all := make([]domain.Rule, 0, len(e.session)+len(e.packs)+len(e.defaults))
	all = append(all, e.session...)
	e.mu.RUnlock()

	all = append(all, e.UserRules()...)
	return append(all, e.defaults...)
}

// DefaultRules returns the built-in layer.
func (e *Engine) DefaultRules() []domain.Rule {
	out := make([]domain.Rule, len(e.defaults))
	copy(out, e.defaults)
	return out
}

// UserRules returns persisted user rules followed by rule-pack rules.
func (e *Engine) UserRules() []domain.Rule {
	var out []domain.Rule
	if e.store != nil {
		out = e.store.Rules()
	}
	e.mu.RLock()
	out = append(out, e.packs...)
	e.mu.RUnlock()
	return out
}

// SessionRules returns the in-memory session layer.
func (e *Engine) SessionRules() []domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Rule, len(e.session))
	copy(out, e.session)
	return out
}

// AddUserRule creates and persists a user rule.
func (e *Engine) AddUserRule(pattern []domain.PatternPosition, action domain.RuleAction, description string) (domain.Rule, error) {
	if e.store == nil {
		return domain.Rule{}, fmt.Errorf("no rules store configured")
	}
	r, err := newRule(pattern, action, domain.SourceUser, description)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := e.store.Add(r); err != nil {
		return domain.Rule{}, err
	}
	e.logger.Info("user rule added", "id", r.ID, "pattern", r.PatternString(), "action", r.Action)
	return r, nil
}

// RemoveUserRule deletes a persisted user rule by id. Default and pack
// rules cannot be removed.
func (e *Engine) RemoveUserRule(id string) (bool, error) {
	if e.store == nil {
		return false, nil
	}
	removed, err := e.store.Remove(id)
	if err != nil {
		return false, err
	}
	if removed {
		e.logger.Info("user rule removed", "id", id)
	}
	return removed, nil
}

// AddSessionRule adds an in-memory rule that lasts until ClearSession or
// process exit.
func (e *Engine) AddSessionRule(pattern []domain.PatternPosition, action domain.RuleAction, description string) (domain.Rule, error) {
	r, err := newRule(pattern, action, domain.SourceSession, description)
	if err != nil {
		return domain.Rule{}, err
	}
	e.mu.Lock()
	e.session = append(e.session, r)
	e.mu.Unlock()
	e.logger.Debug("session rule added", "id", r.ID, "pattern", r.PatternString(), "action", r.Action)
	return r, nil
}

// ClearSession drops every session rule.
func (e *Engine) ClearSession() {
	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()
}

func newRule(pattern []domain.PatternPosition, action domain.RuleAction, source domain.RuleSource, description string) (domain.Rule, error) {
	if len(pattern) == 0 {
		return domain.Rule{}, fmt.Errorf("rule pattern must not be empty")
	}
	if !action.Valid() {
		return domain.Rule{}, fmt.Errorf("invalid rule action %q", action)
	}
	p := make([]domain.PatternPosition, len(pattern))
	copy(p, pattern)
	return domain.Rule{
		ID:          uuid.NewString(),
		Pattern:     p,
		Action:      action,
		Source:      source,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// ParsePattern turns CLI-style tokens into a pattern. A token containing
// "|" becomes a set position: "push --force|-f" is [push, {--force,-f}].
func ParsePattern(tokens []string) ([]domain.PatternPosition, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("pattern must not be empty")
	}
	out := make([]domain.PatternPosition, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			return nil, fmt.Errorf("pattern tokens must not be empty")
		}
		if alts := splitAlternatives(t); len(alts) > 1 {
			out = append(out, domain.OneOf(alts...))
		} else {
			out = append(out, domain.Literal(t))
		}
	}
	return out, nil
}

func splitAlternatives(t string) []string {
	return strings.FieldsFunc(t, func(r rune) bool { return r == '|' })
}
