// Package policy decides allow/prompt/forbid for tokenized shell commands
// from layered prefix rules.
package policy

import "execgate/internal/domain"

// MatchesPattern reports whether pattern is a case-insensitive prefix of
// argv. A set position matches any of its members. An empty pattern
// matches nothing.
func MatchesPattern(argv []string, pattern []domain.PatternPosition) bool {
	if len(pattern) == 0 || len(argv) < len(pattern) {
		return false
	}
	for i, pos := range pattern {
		if !pos.Matches(argv[i]) {
			return false
		}
	}
	return true
}

// EvaluateRules collects every rule matching argv and resolves them
// most-restrictive-wins: forbid beats prompt beats allow, ties go to the
// rule seen first. With no match the decision is prompt.
func EvaluateRules(argv []string, rules []domain.Rule) domain.RuleEvaluation {
	eval := domain.RuleEvaluation{
		Decision:     domain.ActionPrompt,
		MatchedRules: []domain.Rule{},
	}

	best := -1
	for _, r := range rules {
		if !MatchesPattern(argv, r.Pattern) {
			continue
		}
		eval.MatchedRules = append(eval.MatchedRules, r)
		if best < 0 || r.Action.Restriction() > eval.MatchedRules[best].Action.Restriction() {
			best = len(eval.MatchedRules) - 1
		}
	}

	if best >= 0 {
		winner := eval.MatchedRules[best]
		eval.Decision = winner.Action
		if !winner.Action.Valid() {
			eval.Decision = domain.ActionForbid
		}
		eval.MostRestrictive = &winner
	}
	return eval
}

// EvaluateSegments decides a compound command. Every segment is evaluated
// on its own and the most restrictive one decides, so an allowed first
// command never carries the rest of a chain with it. A segment no rule
// matches counts as prompt; ties go to the earlier segment. The second
// result is the index of the deciding segment, -1 when segs is empty.
func EvaluateSegments(segs [][]string, rules []domain.Rule) (domain.RuleEvaluation, int) {
	if len(segs) == 0 {
		return EvaluateRules(nil, rules), -1
	}

	var (
		out     domain.RuleEvaluation
		decider = -1
		seen    = map[string]bool{}
	)
	out.MatchedRules = []domain.Rule{}
	for i, seg := range segs {
		eval := EvaluateRules(seg, rules)
		for _, r := range eval.MatchedRules {
			if !seen[r.ID] {
				seen[r.ID] = true
				out.MatchedRules = append(out.MatchedRules, r)
			}
		}
		if decider < 0 || eval.Decision.Restriction() > out.Decision.Restriction() {
			decider = i
			out.Decision = eval.Decision
			out.MostRestrictive = eval.MostRestrictive
		}
	}
	return out, decider
}
