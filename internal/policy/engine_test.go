package policy

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"execgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func rule(id string, action domain.RuleAction, pattern ...domain.PatternPosition) domain.Rule {
	return domain.Rule{ID: id, Pattern: pattern, Action: action, Source: domain.SourceUser}
}

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	store := NewRuleStore(filepath.Join(t.TempDir(), "rules.json"), testLogger())
	return NewEngine(store, testLogger())
}

// --- MatchesPattern ---

func TestMatchesPattern_Prefix(t *testing.T) {
	p := []domain.PatternPosition{domain.Literal("npm"), domain.Literal("install")}

	if !MatchesPattern([]string{"npm", "install", "lodash"}, p) {
		t.Fatal("expected prefix match")
	}
	if !MatchesPattern([]string{"NPM", "Install"}, p) {
		t.Fatal("expected case-insensitive match")
	}
	if MatchesPattern([]string{"npm"}, p) {
		t.Fatal("shorter argv must not match")
	}
	if MatchesPattern([]string{"npm", "test"}, p) {
		t.Fatal("different token must not match")
	}
}

func TestMatchesPattern_SetPosition(t *testing.T) {
	p := []domain.PatternPosition{domain.Literal("git"), domain.Literal("push"), domain.OneOf("--force", "-f")}

	if !MatchesPattern([]string{"git", "push", "-f", "origin"}, p) {
		t.Fatal("expected set member -f to match")
	}
	if !MatchesPattern([]string{"git", "push", "--FORCE"}, p) {
		t.Fatal("expected set member --force to match case-insensitively")
	}
	if MatchesPattern([]string{"git", "push", "origin"}, p) {
		t.Fatal("non-member must not match")
	}
}

func TestMatchesPattern_EmptyPattern(t *testing.T) {
	if MatchesPattern([]string{"ls"}, nil) {
		t.Fatal("empty pattern must match nothing")
	}
}

// --- EvaluateRules ---

func TestEvaluateRules_UnknownDefaultsToPrompt(t *testing.T) {
	eval := EvaluateRules([]string{"totally-unknown-cmd"}, DefaultRules())
	if eval.Decision != domain.ActionPrompt {
		t.Fatalf("expected prompt, got %s", eval.Decision)
	}
	if len(eval.MatchedRules) != 0 {
		t.Fatalf("expected no matched rules, got %d", len(eval.MatchedRules))
	}
	if eval.MostRestrictive != nil {
		t.Fatal("expected nil MostRestrictive")
	}
}

func TestEvaluateRules_MostRestrictiveWins(t *testing.T) {
	allow := rule("a", domain.ActionAllow, domain.Literal("git"))
	forbid := rule("f", domain.ActionForbid, domain.Literal("git"), domain.Literal("push"), domain.OneOf("-f", "--force"))
	argv := []string{"git", "push", "--force"}

	for _, rules := range [][]domain.Rule{{allow, forbid}, {forbid, allow}} {
		eval := EvaluateRules(argv, rules)
		if eval.Decision != domain.ActionForbid {
			t.Fatalf("expected forbid, got %s", eval.Decision)
		}
		if eval.MostRestrictive == nil || eval.MostRestrictive.ID != "f" {
			t.Fatalf("expected forbid rule to be most restrictive, got %+v", eval.MostRestrictive)
		}
		if len(eval.MatchedRules) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(eval.MatchedRules))
		}
	}
}

func TestEvaluateRules_ForbidBeatsPrompt(t *testing.T) {
	rules := []domain.Rule{
		rule("p", domain.ActionPrompt, domain.Literal("rm")),
		rule("f", domain.ActionForbid, domain.Literal("rm"), domain.Literal("-rf")),
	}
	if got := EvaluateRules([]string{"rm", "-rf", "build"}, rules).Decision; got != domain.ActionForbid {
		t.Fatalf("expected forbid, got %s", got)
	}
	if got := EvaluateRules([]string{"rm", "file"}, rules).Decision; got != domain.ActionPrompt {
		t.Fatalf("expected prompt, got %s", got)
	}
}

func TestEvaluateRules_TieGoesToFirstSeen(t *testing.T) {
	rules := []domain.Rule{
		rule("first", domain.ActionPrompt, domain.Literal("make")),
		rule("second", domain.ActionPrompt, domain.Literal("make"), domain.Literal("test")),
	}
	eval := EvaluateRules([]string{"make", "test"}, rules)
	if eval.MostRestrictive.ID != "first" {
		t.Fatalf("expected first-seen rule, got %s", eval.MostRestrictive.ID)
	}
}

func TestEvaluateRules_InvalidActionTreatedAsForbid(t *testing.T) {
	rules := []domain.Rule{rule("bad", domain.RuleAction("maybe"), domain.Literal("x"))}
	if got := EvaluateRules([]string{"x"}, rules).Decision; got != domain.ActionForbid {
		t.Fatalf("expected forbid for unknown action, got %s", got)
	}
}

// --- Default rules ---

func TestDefaultRules(t *testing.T) {
	tests := []struct {
		argv []string
		want domain.RuleAction
	}{
		{[]string{"ls", "-la"}, domain.ActionAllow},
		{[]string{"git", "status"}, domain.ActionAllow},
		{[]string{"cat", "README.md"}, domain.ActionAllow},
		{[]string{"npm", "install", "lodash"}, domain.ActionPrompt},
		{[]string{"git", "commit", "-m", "x"}, domain.ActionPrompt},
		{[]string{"mkdir", "build"}, domain.ActionPrompt},
		{[]string{"curl", "https://example.com"}, domain.ActionPrompt},
		{[]string{"rm", "file.txt"}, domain.ActionPrompt},
		{[]string{"rm", "-rf", "/"}, domain.ActionForbid},
		{[]string{"rm", "-R", "dir"}, domain.ActionForbid},
		{[]string{"sudo", "ls"}, domain.ActionForbid},
		{[]string{"git", "push", "--force"}, domain.ActionForbid},
		{[]string{"git", "push", "origin", "main"}, domain.ActionPrompt},
		{[]string{"mkfs.ext4", "/dev/sda1"}, domain.ActionForbid},
		{[]string{"find", "."}, domain.ActionPrompt},
	}
	rules := DefaultRules()
	for _, tt := range tests {
		if got := EvaluateRules(tt.argv, rules).Decision; got != tt.want {
			t.Errorf("%v: expected %s, got %s", tt.argv, tt.want, got)
		}
	}
}

func TestDefaultRules_AllValid(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range DefaultRules() {
		if len(r.Pattern) == 0 || !r.Action.Valid() || r.Source != domain.SourceDefault {
			t.Fatalf("invalid default rule %+v", r)
		}
		if seen[r.ID] {
			t.Fatalf("duplicate default rule id %s", r.ID)
		}
		seen[r.ID] = true
	}
}

// --- Engine layers ---

func TestEngine_UserRulePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	e := NewEngine(NewRuleStore(path, testLogger()), testLogger())

	r, err := e.AddUserRule([]domain.PatternPosition{domain.Literal("make"), domain.Literal("test")}, domain.ActionAllow, "tests are safe")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.Source != domain.SourceUser || r.ID == "" {
		t.Fatalf("unexpected rule %+v", r)
	}

	reloaded := NewEngine(NewRuleStore(path, testLogger()), testLogger())
	if got := reloaded.Evaluate([]string{"make", "test"}).Decision; got != domain.ActionAllow {
		t.Fatalf("expected persisted allow, got %s", got)
	}

	removed, err := reloaded.RemoveUserRule(r.ID)
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	again := NewEngine(NewRuleStore(path, testLogger()), testLogger())
	if got := again.Evaluate([]string{"make", "test"}).Decision; got != domain.ActionPrompt {
		t.Fatalf("expected default prompt after removal, got %s", got)
	}
}

func TestEngine_RemoveUnknownRule(t *testing.T) {
	e := mustEngine(t)
	removed, err := e.RemoveUserRule("default-ls")
	if err != nil || removed {
		t.Fatalf("expected no-op removal, got removed=%v err=%v", removed, err)
	}
}

func TestEngine_UserAllowCannotOverrideDefaultForbid(t *testing.T) {
	e := mustEngine(t)
	if _, err := e.AddUserRule([]domain.PatternPosition{domain.Literal("sudo")}, domain.ActionAllow, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := e.Evaluate([]string{"sudo", "apt", "update"}).Decision; got != domain.ActionForbid {
		t.Fatalf("expected forbid to win, got %s", got)
	}
}

func TestEngine_SessionLayer(t *testing.T) {
	e := mustEngine(t)
	if _, err := e.AddSessionRule([]domain.PatternPosition{domain.Literal("make")}, domain.ActionAllow, ""); err != nil {
		t.Fatalf("add session: %v", err)
	}
	eval := e.Evaluate([]string{"make", "build"})
	if eval.Decision != domain.ActionPrompt {
		t.Fatalf("default prompt for make still matches, expected prompt, got %s", eval.Decision)
	}
	if len(eval.MatchedRules) != 2 || eval.MatchedRules[0].Source != domain.SourceSession {
		t.Fatalf("expected session rule first among matches, got %+v", eval.MatchedRules)
	}

	if _, err := e.AddSessionRule([]domain.PatternPosition{domain.Literal("terraform")}, domain.ActionAllow, ""); err != nil {
		t.Fatalf("add session: %v", err)
	}
	if got := e.Evaluate([]string{"terraform", "plan"}).Decision; got != domain.ActionAllow {
		t.Fatalf("expected session allow, got %s", got)
	}

	e.ClearSession()
	if len(e.SessionRules()) != 0 {
		t.Fatal("expected empty session layer")
	}
	if got := e.Evaluate([]string{"terraform", "plan"}).Decision; got != domain.ActionPrompt {
		t.Fatalf("expected prompt after clear, got %s", got)
	}
}

func TestEngine_RejectsInvalidRules(t *testing.T) {
	e := mustEngine(t)
	if _, err := e.AddUserRule(nil, domain.ActionAllow, ""); err == nil {
		t.Fatal("expected error for empty pattern")
	}
	if _, err := e.AddSessionRule([]domain.PatternPosition{domain.Literal("x")}, "nope", ""); err == nil {
		t.Fatal("expected error for invalid action")
	}
}

// --- Rule store ---

func TestRuleStore_MissingFileIsEmpty(t *testing.T) {
	s := NewRuleStore(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	if len(s.Rules()) != 0 {
		t.Fatal("expected empty rules")
	}
}

func TestRuleStore_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	os.WriteFile(path, []byte("{{{ not json"), 0o600)

	s := NewRuleStore(path, testLogger())
	if len(s.Rules()) != 0 {
		t.Fatal("expected empty rules for corrupt store")
	}

	// The next save replaces the corrupt file.
	e := NewEngine(s, testLogger())
	if _, err := e.AddUserRule([]domain.PatternPosition{domain.Literal("x")}, domain.ActionAllow, ""); err != nil {
		t.Fatalf("add after corrupt: %v", err)
	}
	if len(NewRuleStore(path, testLogger()).Rules()) != 1 {
		t.Fatal("expected 1 rule after rewrite")
	}
}

func TestRuleStore_SkipsEmptyPatternsAndForbidsUnknownActions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	data := `{"version":1,"rules":[
		{"id":"ok","pattern":["make",["test","lint"]],"action":"allow","source":"user"},
		{"id":"empty","pattern":[],"action":"allow"},
		{"id":"typo","pattern":["terraform","destroy"],"action":"forbidd"}
	]}`
	os.WriteFile(path, []byte(data), 0o600)

	rules := NewRuleStore(path, testLogger()).Rules()
	if len(rules) != 2 || rules[0].ID != "ok" || rules[1].ID != "typo" {
		t.Fatalf("expected ok and typo rules, got %+v", rules)
	}
	if !rules[0].Pattern[1].IsSet() {
		t.Fatal("expected set position to round-trip")
	}
	if rules[1].Action != domain.ActionForbid {
		t.Fatalf("unknown action should load as forbid, got %q", rules[1].Action)
	}

	e := NewEngine(NewRuleStore(path, testLogger()), testLogger())
	if got := e.Evaluate([]string{"terraform", "destroy"}).Decision; got != domain.ActionForbid {
		t.Fatalf("expected forbid for damaged rule, got %s", got)
	}
}

// --- Compound commands ---

func TestEvaluateSegments_MostRestrictiveSegmentWins(t *testing.T) {
	rules := DefaultRules()

	eval, idx := EvaluateSegments([][]string{{"ls"}, {"sudo", "chown", "-R", "me", "/etc"}}, rules)
	if eval.Decision != domain.ActionForbid || idx != 1 {
		t.Fatalf("expected forbid from segment 1, got %s from %d", eval.Decision, idx)
	}
	if eval.MostRestrictive == nil || eval.MostRestrictive.ID != "default-sudo" {
		t.Fatalf("expected default-sudo to decide, got %+v", eval.MostRestrictive)
	}

	eval, idx = EvaluateSegments([][]string{{"cat", "a"}, {"sh"}}, rules)
	if eval.Decision != domain.ActionPrompt || idx != 1 || eval.MostRestrictive != nil {
		t.Fatalf("unmatched segment should prompt, got %s from %d", eval.Decision, idx)
	}

	eval, idx = EvaluateSegments([][]string{{"ls"}, {"pwd"}}, rules)
	if eval.Decision != domain.ActionAllow || idx != 0 || len(eval.MatchedRules) != 2 {
		t.Fatalf("all-allowed chain should allow, got %s from %d (%d rules)", eval.Decision, idx, len(eval.MatchedRules))
	}

	eval, idx = EvaluateSegments(nil, rules)
	if eval.Decision != domain.ActionPrompt || idx != -1 {
		t.Fatalf("no segments should prompt, got %s from %d", eval.Decision, idx)
	}
}

// --- ParsePattern ---

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern([]string{"git", "push", "--force|-f"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p) != 3 || p[0].IsSet() || !p[2].IsSet() {
		t.Fatalf("unexpected pattern %v", p)
	}
	if !p[2].Matches("-F") {
		t.Fatal("expected set to match -F")
	}

	if _, err := ParsePattern(nil); err == nil {
		t.Fatal("expected error for empty pattern")
	}
}
