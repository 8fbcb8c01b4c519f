package policy

import (
	"time"

	"execgate/internal/domain"
)

type defaultRule struct {
	id      string
	pattern []domain.PatternPosition
	action  domain.RuleAction
	desc    string
}

func lit(tokens ...string) []domain.PatternPosition {
	out := make([]domain.PatternPosition, len(tokens))
	for i, t := range tokens {
		out[i] = domain.Literal(t)
	}
	return out
}

var (
	l     = domain.Literal
	oneOf = domain.OneOf
)

var recursiveFlags = oneOf("-rf", "-fr", "-Rf", "-fR", "-rF", "-r", "-R", "--recursive", "-rfv", "-rvf", "-vrf")

var defaultTable = []defaultRule{
	// Read-only commands.
	{"default-ls", lit("ls"), domain.ActionAllow, "list directory"},
	{"default-cat", lit("cat"), domain.ActionAllow, "print file"},
	{"default-pwd", lit("pwd"), domain.ActionAllow, "print working directory"},
	{"default-echo", lit("echo"), domain.ActionAllow, "print text"},
	{"default-head", lit("head"), domain.ActionAllow, "print file start"},
	{"default-tail", lit("tail"), domain.ActionAllow, "print file end"},
	{"default-grep", lit("grep"), domain.ActionAllow, "search text"},
	{"default-rg", lit("rg"), domain.ActionAllow, "search text"},
	{"default-wc", lit("wc"), domain.ActionAllow, "count lines"},
	{"default-which", lit("which"), domain.ActionAllow, "locate command"},
	{"default-whoami", lit("whoami"), domain.ActionAllow, "current user"},
	{"default-date", lit("date"), domain.ActionAllow, "current date"},
	{"default-diff", lit("diff"), domain.ActionAllow, "compare files"},
	{"default-tree", lit("tree"), domain.ActionAllow, "directory tree"},
	{"default-git-read", []domain.PatternPosition{l("git"), oneOf("status", "log", "diff", "show", "branch", "blame", "rev-parse", "remote")},
		domain.ActionAllow, "read-only git"},

	// Workspace writes, builds and package managers.
	{"default-npm", []domain.PatternPosition{oneOf("npm", "pnpm", "yarn", "bun"), oneOf("install", "i", "add", "ci", "update", "remove", "uninstall", "publish")},
		domain.ActionPrompt, "package manager change"},
	{"default-npx", lit("npx"), domain.ActionPrompt, "run remote package"},
	{"default-pip", []domain.PatternPosition{oneOf("pip", "pip3"), oneOf("install", "uninstall", "download")},
		domain.ActionPrompt, "python packages"},
	{"default-cargo", []domain.PatternPosition{l("cargo"), oneOf("install", "add", "remove", "publish")},
		domain.ActionPrompt, "rust packages"},
	{"default-go-get", []domain.PatternPosition{l("go"), oneOf("get", "install")},
		domain.ActionPrompt, "go modules"},
	{"default-brew", []domain.PatternPosition{l("brew"), oneOf("install", "uninstall", "upgrade")},
		domain.ActionPrompt, "homebrew packages"},
	{"default-git-write", []domain.PatternPosition{l("git"), oneOf("add", "commit", "push", "pull", "merge", "rebase", "checkout", "switch", "reset", "stash", "clone", "fetch", "tag", "cherry-pick", "restore", "clean")},
		domain.ActionPrompt, "git mutation"},
	{"default-mkdir", lit("mkdir"), domain.ActionPrompt, "create directory"},
	{"default-touch", lit("touch"), domain.ActionPrompt, "create file"},
	{"default-cp", lit("cp"), domain.ActionPrompt, "copy files"},
	{"default-mv", lit("mv"), domain.ActionPrompt, "move files"},
	{"default-rm", lit("rm"), domain.ActionPrompt, "remove files"},
	{"default-curl", lit("curl"), domain.ActionPrompt, "network fetch"},
	{"default-wget", lit("wget"), domain.ActionPrompt, "network fetch"},
	{"default-docker", lit("docker"), domain.ActionPrompt, "container runtime"},
	{"default-make", lit("make"), domain.ActionPrompt, "build"},
	{"default-chmod", lit("chmod"), domain.ActionPrompt, "change mode"},
	{"default-chown", lit("chown"), domain.ActionPrompt, "change owner"},
	{"default-dd", lit("dd"), domain.ActionPrompt, "raw disk copy"},

	// Privilege escalation and destructive operations.
	{"default-sudo", lit("sudo"), domain.ActionForbid, "privilege escalation"},
	{"default-su", lit("su"), domain.ActionForbid, "privilege escalation"},
	{"default-doas", lit("doas"), domain.ActionForbid, "privilege escalation"},
	{"default-git-force-push", []domain.PatternPosition{l("git"), l("push"), oneOf("--force", "-f", "--force-with-lease")},
		domain.ActionForbid, "force push"},
	{"default-rm-recursive", []domain.PatternPosition{l("rm"), recursiveFlags}, domain.ActionForbid, "recursive delete"},
	{"default-mkfs", []domain.PatternPosition{oneOf("mkfs", "mkfs.ext4", "mkfs.ext3", "mkfs.xfs", "mkfs.btrfs", "mkfs.vfat", "mkfs.fat")}, domain.ActionForbid, "format filesystem"},
	{"default-shutdown", lit("shutdown"), domain.ActionForbid, "power off"},
	{"default-reboot", lit("reboot"), domain.ActionForbid, "reboot"},
}

// DefaultRules returns the built-in rule layer. The slice is fresh on
// every call.
func DefaultRules() []domain.Rule {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Rule, 0, len(defaultTable))
	for _, d := range defaultTable {
		out = append(out, domain.Rule{
			ID:          d.id,
			Pattern:     d.pattern,
			Action:      d.action,
			Source:      domain.SourceDefault,
			Description: d.desc,
			CreatedAt:   created,
		})
	}
	return out
}
