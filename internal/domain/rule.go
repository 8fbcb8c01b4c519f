package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RuleAction is the decision a rule produces when its pattern matches.
type RuleAction string

const (
	ActionAllow  RuleAction = "allow"
	ActionPrompt RuleAction = "prompt"
	ActionForbid RuleAction = "forbid"
)

// Restriction orders actions for most-restrictive-wins resolution.
// Unknown actions rank as forbid so a corrupted rule never loosens policy.
func (a RuleAction) Restriction() int {
	switch a {
	case ActionAllow:
		return 0
	case ActionPrompt:
		return 1
	default:
		return 2
	}
}

// Valid reports whether a is one of the three known actions.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionAllow, ActionPrompt, ActionForbid:
		return true
	}
	return false
}

// ParseRuleAction accepts an action name case-insensitively.
func ParseRuleAction(s string) (RuleAction, error) {
	a := RuleAction(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown rule action %q (want allow, prompt or forbid)", s)
	}
	return a, nil
}

// RuleSource identifies which layer a rule belongs to.
type RuleSource string

const (
	SourceDefault RuleSource = "default"
	SourceUser    RuleSource = "user"
	SourceSession RuleSource = "session"
)

// PatternPosition is one slot of a rule pattern: either a single literal
// token or a set of acceptable literals.
type PatternPosition struct {
	values []string
	set    bool
}

// Literal builds a position that matches exactly one token.
func Literal(token string) PatternPosition {
	return PatternPosition{values: []string{token}}
}

// OneOf builds a position that matches any of the given tokens.
func OneOf(tokens ...string) PatternPosition {
	vals := make([]string, len(tokens))
	copy(vals, tokens)
	return PatternPosition{values: vals, set: true}
}

// IsSet reports whether the position is set-valued.
func (p PatternPosition) IsSet() bool { return p.set }

// Values returns the acceptable tokens for this position.
func (p PatternPosition) Values() []string {
	out := make([]string, len(p.values))
	copy(out, p.values)
	return out
}

// Matches compares token case-insensitively against the position.
func (p PatternPosition) Matches(token string) bool {
	for _, v := range p.values {
		if strings.EqualFold(v, token) {
			return true
		}
	}
	return false
}

func (p PatternPosition) String() string {
	if !p.set && len(p.values) == 1 {
		return p.values[0]
	}
	return "{" + strings.Join(p.values, "|") + "}"
}

// MarshalJSON writes a literal as a string and a set as an array.
func (p PatternPosition) MarshalJSON() ([]byte, error) {
	if !p.set && len(p.values) == 1 {
		return json.Marshal(p.values[0])
	}
	return json.Marshal(p.values)
}

func (p *PatternPosition) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Literal(s)
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return fmt.Errorf("pattern position must be a string or an array of strings: %w", err)
	}
	if len(ss) == 0 {
		return fmt.Errorf("pattern position set must not be empty")
	}
	*p = OneOf(ss...)
	return nil
}

// Rule maps an argv prefix pattern to an action. Rules are immutable once
// created; only the containing collection changes.
type Rule struct {
	ID          string            `json:"id"`
	Pattern     []PatternPosition `json:"pattern"`
	Action      RuleAction        `json:"action"`
	Source      RuleSource        `json:"source"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// PatternString renders the pattern for display, e.g. "git push {--force|-f}".
func (r Rule) PatternString() string {
	parts := make([]string, len(r.Pattern))
	for i, p := range r.Pattern {
		parts[i] = p.String()
	}
	return strings.Join(parts, " ")
}

// RuleEvaluation is the derived outcome of evaluating argv against a rule set.
type RuleEvaluation struct {
	Decision        RuleAction `json:"decision"`
	MatchedRules    []Rule     `json:"matchedRules"`
	MostRestrictive *Rule      `json:"mostRestrictive,omitempty"`
}
