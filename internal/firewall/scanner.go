// Package firewall scans generated code for secrets, destructive calls,
// prompt-injection markers and credential paths before it is written.
//
// Detection is pattern-based. It catches the common high-confidence cases
// and will miss anything obfuscated.
package firewall

import (
	"fmt"
	"regexp"
	"strings"

	"execgate/internal/domain"
)

// maxSnippet bounds the displayed excerpt of a match.
const maxSnippet = 50

type detector struct {
	name     string
	category domain.ScanCategory
	severity domain.Severity
	re       *regexp.Regexp
}

// detectors run in order; each contributes every non-overlapping match.
var detectors = []detector{
	// Secrets
	{"aws-access-key", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"aws-secret-key", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`(?i)aws_secret_access_key\s*[=:]\s*["']?[A-Za-z0-9/+=]{40}`)},
	{"anthropic-api-key", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai-api-key", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9]{20,}`)},
	{"github-token", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}|\bgithub_pat_[A-Za-z0-9_]{22,}`)},
	{"slack-token", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"google-api-key", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`)},
	{"stripe-secret-key", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`\b(?:sk|rk)_live_[0-9A-Za-z]{20,}`)},
	{"private-key", domain.CategorySecret, domain.SeverityCritical, regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |ENCRYPTED |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{"jwt-token", domain.CategorySecret, domain.SeverityHigh, regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{"hardcoded-password", domain.CategorySecret, domain.SeverityMedium, regexp.MustCompile(`(?i)\b(?:password|passwd|secret|api_?key)\s*[=:]\s*["'][^"'\s]{8,}["']`)},

	// Dangerous code
	{"eval", domain.CategoryDangerous, domain.SeverityHigh, regexp.MustCompile(`\beval\s*\(`)},
	{"function-constructor", domain.CategoryDangerous, domain.SeverityHigh, regexp.MustCompile(`\bnew\s+Function\s*\(`)},
	{"shell-interpolation", domain.CategoryDangerous, domain.SeverityHigh, regexp.MustCompile("\\b(?:exec|execSync|spawn|spawnSync)\\s*\\(\\s*`[^`]*\\$\\{")},
	{"python-shell-true", domain.CategoryDangerous, domain.SeverityHigh, regexp.MustCompile(`\bsubprocess\.\w+\([^)]*shell\s*=\s*True`)},
	{"os-system", domain.CategoryDangerous, domain.SeverityMedium, regexp.MustCompile(`\bos\.system\s*\(`)},
	{"rm-rf-root", domain.CategoryDangerous, domain.SeverityCritical, regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rR][a-zA-Z]*f?[a-zA-Z]*\s+/(?:\s|$|["'])`)},
	{"inner-html", domain.CategoryDangerous, domain.SeverityMedium, regexp.MustCompile(`\.(?:innerHTML|outerHTML)\s*=`)},
	{"document-write", domain.CategoryDangerous, domain.SeverityMedium, regexp.MustCompile(`\bdocument\.write\s*\(`)},
	{"dangerously-set-html", domain.CategoryDangerous, domain.SeverityMedium, regexp.MustCompile(`dangerouslySetInnerHTML`)},

	// Suspicious
	{"env-exfiltration", domain.CategorySuspicious, domain.SeverityHigh, regexp.MustCompile(`JSON\.stringify\s*\(\s*process\.env\s*\)|json\.dumps\s*\(\s*(?:dict\()?os\.environ`)},
	{"env-dump-network", domain.CategorySuspicious, domain.SeverityHigh, regexp.MustCompile(`(?i)(?:fetch|axios\.post|requests\.post|http\.post)\s*\([^)]*(?:process\.env|os\.environ)\b`)},
	{"prompt-injection-override", domain.CategorySuspicious, domain.SeverityHigh, regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:all\s+)?(?:the\s+)?(?:previous|prior|above)\s+(?:instructions|prompts|rules)`)},
	{"prompt-injection-role", domain.CategorySuspicious, domain.SeverityMedium, regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:a|an|in)\b|\bact\s+as\s+(?:an?\s+)?(?:unrestricted|jailbroken)|\bDAN\s+mode\b`)},
	{"chat-template-marker", domain.CategorySuspicious, domain.SeverityMedium, regexp.MustCompile(`<\|im_start\|>|<\|im_end\|>|\[INST\]|<<SYS>>`)},
	{"suspicious-tld", domain.CategorySuspicious, domain.SeverityMedium, regexp.MustCompile(`(?i)https?://[a-z0-9.-]+\.(?:tk|ml|ga|cf|gq|xyz|top|zip|mov)\b`)},
	{"pastebin-upload", domain.CategorySuspicious, domain.SeverityLow, regexp.MustCompile(`(?i)\b(?:pastebin\.com|transfer\.sh|ngrok\.io)\b`)},

	// Credential paths
	{"ssh-dir", domain.CategoryPath, domain.SeverityHigh, regexp.MustCompile(`~/\.ssh/|\$HOME/\.ssh/|/\.ssh/(?:id_|authorized_keys|known_hosts)`)},
	{"etc-shadow", domain.CategoryPath, domain.SeverityHigh, regexp.MustCompile(`/etc/(?:shadow|sudoers|gshadow)\b`)},
	{"aws-credentials", domain.CategoryPath, domain.SeverityHigh, regexp.MustCompile(`\.aws/(?:credentials|config)\b`)},
	{"kube-config", domain.CategoryPath, domain.SeverityMedium, regexp.MustCompile(`\.kube/config\b`)},
	{"gnupg-dir", domain.CategoryPath, domain.SeverityMedium, regexp.MustCompile(`\.gnupg/`)},
	{"etc-passwd", domain.CategoryPath, domain.SeverityLow, regexp.MustCompile(`/etc/passwd\b`)},
	{"path-traversal", domain.CategoryPath, domain.SeverityMedium, regexp.MustCompile(`(?:\.\./){3,}|\.\.\\\.\.\\\.\.\\`)},
}

// ScanCode runs every detector over text. The result is safe iff no
// detector matched.
func ScanCode(text string) domain.ScanResult {
	res := domain.ScanResult{Safe: true, Matches: []domain.ScanMatch{}}
	if text == "" {
		return res
	}

	for _, d := range detectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			res.Matches = append(res.Matches, domain.ScanMatch{
				Pattern:  d.name,
				Category: d.category,
				Severity: d.severity,
				Line:     1 + strings.Count(text[:loc[0]], "\n"),
				Snippet:  snippet(text[loc[0]:loc[1]], d.category),
			})
		}
	}
	res.Safe = len(res.Matches) == 0
	return res
}

// ShouldBlockCode reports whether any match is critical or high.
func ShouldBlockCode(res domain.ScanResult) bool {
	for _, m := range res.Matches {
		if m.Severity.Blocking() {
			return true
		}
	}
	return false
}

// Reasons renders blocking matches for display, one per line.
func Reasons(res domain.ScanResult) []string {
	var out []string
	for _, m := range res.Matches {
		if m.Severity.Blocking() {
			out = append(out, fmt.Sprintf("line %d: %s (%s, %s): %s", m.Line, m.Pattern, m.Category, m.Severity, m.Snippet))
		}
	}
	return out
}

// snippet truncates to maxSnippet runes. Secret matches keep only a short
// prefix so the value itself is never echoed.
func snippet(s string, cat domain.ScanCategory) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if cat == domain.CategorySecret {
		r := []rune(s)
		keep := 8
		if len(r) <= keep {
			keep = len(r) / 2
		}
		return string(r[:keep]) + "****"
	}
	r := []rune(s)
	if len(r) > maxSnippet {
		return string(r[:maxSnippet-3]) + "..."
	}
	return s
}
