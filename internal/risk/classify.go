// Package risk scores non-shell actions and brokers operator confirmations
// for the ones that need a yes/no.
package risk

import (
	"regexp"
	"strings"

	"execgate/internal/domain"
)

type riskPattern struct {
	level domain.RiskLevel
	name  string
	re    *regexp.Regexp
}

// riskTable is checked top to bottom against the lower-cased
// "action target" string; the first hit decides.
var riskTable = []riskPattern{
	// Critical
	{domain.RiskCritical, "root recursive delete", regexp.MustCompile(`\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*|--recursive\s+--force|--force\s+--recursive)\s+(/|/\*|~|~/|\$home)(\s|$)`)},
	{domain.RiskCritical, "root recursive delete", regexp.MustCompile(`\b(delete|remove|rm)\b.*\s(/|/\*)$`)},
	{domain.RiskCritical, "disk device write", regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|disk|xvd|vd)[a-z0-9]*`)},
	{domain.RiskCritical, "disk device write", regexp.MustCompile(`\bdd\b.*\bof=/dev/(sd|hd|nvme|disk|xvd|vd)`)},
	{domain.RiskCritical, "format filesystem", regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`)},
	{domain.RiskCritical, "fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{domain.RiskCritical, "destructive sql", regexp.MustCompile(`\bdrop\s+(database|table|schema)\b`)},
	{domain.RiskCritical, "destructive sql", regexp.MustCompile(`\btruncate\s+(table\s+)?[a-z_]`)},
	{domain.RiskCritical, "destructive sql", regexp.MustCompile(`\bdelete\s+from\s+[a-z_.]+\s*(;|$)`)},

	// High
	{domain.RiskHigh, "recursive delete", regexp.MustCompile(`\brm\s+(-[a-z]*r|--recursive)`)},
	{domain.RiskHigh, "recursive delete", regexp.MustCompile(`\b(rmdir\s+/s|rd\s+/s|remove-item\b.*-recurse)`)},
	{domain.RiskHigh, "force push", regexp.MustCompile(`\bgit\s+push\b.*(\s-f\b|--force)`)},
	{domain.RiskHigh, "publish", regexp.MustCompile(`\b(npm|yarn|pnpm|cargo|gem|twine|poetry)\s+publish\b`)},
	{domain.RiskHigh, "deploy", regexp.MustCompile(`\b(deploy|kubectl\s+(apply|delete)|terraform\s+(apply|destroy)|helm\s+(install|upgrade|uninstall))\b`)},
	{domain.RiskHigh, "hard reset", regexp.MustCompile(`\bgit\s+(reset\s+--hard|clean\s+-[a-z]*f)`)},
	{domain.RiskHigh, "world-writable", regexp.MustCompile(`\bchmod\s+(-r\s+)?0?777\b`)},
	{domain.RiskHigh, "pipe to shell", regexp.MustCompile(`\b(curl|wget)\b.*\|\s*(sudo\s+)?(ba|z)?sh\b`)},

	// Medium
	{domain.RiskMedium, "mutation", regexp.MustCompile(`\b(create|write|edit|modify|update|append|patch|install|exec|execute|run|delete|remove|rename|move|mkdir|touch|mv|cp|rm|chmod|chown)\b`)},
}

// ClassifyRisk scores an action. It is a pure function of its inputs.
func ClassifyRisk(action, target string) domain.RiskLevel {
	level, _ := classify(action, target)
	return level
}

// Explain returns the level and the name of the pattern family that
// produced it ("" for low).
func Explain(action, target string) (domain.RiskLevel, string) {
	return classify(action, target)
}

func classify(action, target string) (domain.RiskLevel, string) {
	s := strings.ToLower(strings.TrimSpace(action + " " + target))
	for _, p := range riskTable {
		if p.re.MatchString(s) {
			return p.level, p.name
		}
	}
	return domain.RiskLow, ""
}
