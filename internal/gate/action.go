package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"execgate/internal/domain"
	"execgate/internal/environment"
	"execgate/internal/firewall"
)

// mutating actions need workspace trust on top of their permission check.
var mutatingActions = map[string]bool{
	"write": true, "edit": true, "create": true, "append": true, "patch": true,
	"delete": true, "remove": true, "rename": true, "move": true, "mkdir": true,
	"exec": true, "execute": true, "run": true, "install": true,
}

func isMutating(action string, level domain.RiskLevel) bool {
	return mutatingActions[strings.ToLower(action)] || level.Rank() >= domain.RiskMedium.Rank()
}

// CheckAction is the non-interactive permission check for file, network
// and browser actions. In an untrusted workspace an otherwise allowed
// mutating action is reported as needing confirmation.
func (g *Gate) CheckAction(ctx context.Context, action, target, reason string) domain.PermissionResult {
	res := g.perms.Check(ctx, action, target, reason)
	if res.Allowed && isMutating(action, res.Risk) && g.needsTrust(g.env.Get()) {
		res.Allowed = false
		res.RequiresConfirmation = true
		res.ConfirmedBy = ""
		res.Reason = "workspace not trusted"
	}
	return res
}

// AuthorizeAction runs the permission check and then collects trust and
// confirmation as needed. A blocklisted target returns *DeniedError; any
// other refusal returns Allowed=false and a nil error.
func (g *Gate) AuthorizeAction(ctx context.Context, action, target, reason string) (domain.PermissionResult, error) {
	res := g.perms.Check(ctx, action, target, reason)
	if res.Denied() {
		return res, &DeniedError{Target: target, Reason: res.Reason}
	}

	if isMutating(action, res.Risk) && g.needsTrust(g.env.Get()) {
		ok, err := g.EnsureTrusted(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			return domain.PermissionResult{Allowed: false, Reason: "workspace not trusted", Risk: res.Risk}, nil
		}
	}
	if res.Allowed {
		return res, nil
	}

	if g.confirmer == nil {
		res.Reason = "confirmation required but no confirmer is wired"
		return res, nil
	}
	if g.confirmer.Confirm(ctx, action, target) {
		return domain.PermissionResult{
			Allowed:     true,
			Reason:      "confirmed by operator",
			ConfirmedBy: domain.ConfirmedByUser,
			Risk:        res.Risk,
		}, nil
	}
	res.Reason = "operator declined"
	return res, nil
}

// WriteResult describes a guarded write.
type WriteResult struct {
	Path       string                  `json:"path"`
	Bytes      int                     `json:"bytes"`
	Written    bool                    `json:"written"`
	Permission domain.PermissionResult `json:"permission"`
	Warnings   []domain.ScanMatch      `json:"warnings,omitempty"`
}

// WriteFile scans content, then authorizes and performs the write. path
// is resolved against the current cwd and must stay inside the workspace.
// Critical or high scan findings return *ScanBlockedError and nothing is
// written.
func (g *Gate) WriteFile(ctx context.Context, path, content string) (WriteResult, error) {
	env := g.env.Get()
	resolved, err := resolvePath(env.WorkspaceRoot, env.Cwd, path)
	if err != nil {
		return WriteResult{Path: path}, err
	}
	out := WriteResult{Path: resolved}

	scan := firewall.ScanCode(content)
	if firewall.ShouldBlockCode(scan) {
		reasons := firewall.Reasons(scan)
		g.logger.Warn("write blocked by content scan", "path", resolved, "findings", len(scan.Matches))
		g.record(domain.EventScanBlocked, resolved, "blocked", scanMeta(scan))
		return out, &ScanBlockedError{Path: resolved, Reasons: reasons, Result: scan}
	}
	if !scan.Safe {
		out.Warnings = scan.Matches
		g.record(domain.EventScanWarning, resolved, "warning", scanMeta(scan))
	}

	perm, err := g.AuthorizeAction(ctx, "write", resolved, "write generated file")
	out.Permission = perm
	if err != nil || !perm.Allowed {
		return out, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return out, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return out, fmt.Errorf("write file: %w", err)
	}
	out.Bytes = len(content)
	out.Written = true

	g.logger.Info("file written", "path", resolved, "bytes", out.Bytes)
	g.record(domain.EventFileWritten, resolved, "written", map[string]any{
		"bytes":       out.Bytes,
		"confirmedBy": string(perm.ConfirmedBy),
		"warnings":    len(out.Warnings),
	})
	return out, nil
}

// resolvePath resolves path against cwd and refuses anything outside root,
// following symlinks in the part of the path that already exists. The
// returned path is the one that will actually be written.
func resolvePath(root, cwd, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("missing path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	cleaned := filepath.Clean(path)
	if !environment.Within(root, cleaned) {
		return "", &DeniedError{Target: cleaned, Reason: fmt.Sprintf("outside workspace %s", root)}
	}
	actual := environment.RealPath(cleaned)
	if !environment.Within(environment.RealPath(root), actual) {
		return "", &DeniedError{Target: cleaned, Reason: fmt.Sprintf("symlink leads outside workspace %s: %s", root, actual)}
	}
	return actual, nil
}

func scanMeta(res domain.ScanResult) map[string]any {
	findings := make([]map[string]any, 0, len(res.Matches))
	for _, m := range res.Matches {
		findings = append(findings, map[string]any{
			"pattern":  m.Pattern,
			"category": string(m.Category),
			"severity": string(m.Severity),
			"line":     m.Line,
		})
	}
	return map[string]any{"findings": findings}
}
