package policy

import (
	"os"
	"path/filepath"
	"testing"

	"execgate/internal/domain"
)

func writePack(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
}

func TestLoadRulePacks(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "node.yaml", `
name: node
rules:
  - pattern: [npm, [test, run]]
    action: allow
    description: project scripts
  - id: no-publish
    pattern: [npm, publish]
    action: forbid
`)
	writePack(t, dir, "broken.yml", "rules: [[[")
	writePack(t, dir, "notes.txt", "ignored")
	writePack(t, dir, "badaction.yaml", `
rules:
  - pattern: [x]
    action: sometimes
`)

	rules, err := LoadRulePacks(dir, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules from the valid pack, got %d", len(rules))
	}
	if rules[0].ID != "pack-node-1" || rules[1].ID != "no-publish" {
		t.Fatalf("unexpected ids: %s, %s", rules[0].ID, rules[1].ID)
	}
	if !rules[0].Pattern[1].IsSet() || !rules[0].Pattern[1].Matches("run") {
		t.Fatalf("expected set position, got %v", rules[0].Pattern[1])
	}
	for _, r := range rules {
		if r.Source != domain.SourceUser {
			t.Fatalf("pack rules belong to the user layer, got %s", r.Source)
		}
	}
}

func TestLoadRulePacks_MissingDir(t *testing.T) {
	rules, err := LoadRulePacks(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err != nil || rules != nil {
		t.Fatalf("expected nil, nil; got %v, %v", rules, err)
	}
}

func TestEngine_LoadRulePacks(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "tests.yaml", `
rules:
  - pattern: [make, test]
    action: allow
`)
	e := mustEngine(t)
	n, err := e.LoadRulePacks(dir)
	if err != nil || n != 1 {
		t.Fatalf("load packs: n=%d err=%v", n, err)
	}
	if got := e.Evaluate([]string{"make", "test"}).Decision; got != domain.ActionPrompt {
		// default "make" prompt is stricter and still wins
		t.Fatalf("expected prompt, got %s", got)
	}

	// Pack rules are not persisted and cannot be removed.
	removed, _ := e.RemoveUserRule("pack-tests-1")
	if removed {
		t.Fatal("pack rule must not be removable")
	}
	if len(e.UserRules()) != 1 {
		t.Fatalf("expected 1 user-layer rule, got %d", len(e.UserRules()))
	}
}
