package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"execgate/internal/domain"

	"github.com/google/uuid"
)

// DefaultBlocklist holds target substrings that are never acted on.
var DefaultBlocklist = []string{
	".env",
	"id_rsa",
	"id_ed25519",
	"id_ecdsa",
	".pem",
	".ssh/",
	".aws/credentials",
	".netrc",
	".npmrc",
	".pypirc",
}

// DefaultAllowlist holds action names that never need confirmation.
var DefaultAllowlist = []string{"read", "ls", "list", "glob", "grep", "search", "stat"}

// Policy configures a PermissionManager.
type Policy struct {
	Blocklist         []string
	Allowlist         []string
	AutoApproveLow    bool
	AutoApproveMedium bool
}

// DefaultPolicy auto-approves low risk and confirms everything else.
func DefaultPolicy() Policy {
	return Policy{
		Blocklist:      append([]string(nil), DefaultBlocklist...),
		Allowlist:      append([]string(nil), DefaultAllowlist...),
		AutoApproveLow: true,
	}
}

// PermissionManager decides whether a non-shell action may run.
type PermissionManager struct {
	policy Policy
	audit  domain.AuditSink
	logger *slog.Logger
}

func NewPermissionManager(policy Policy, audit domain.AuditSink, logger *slog.Logger) *PermissionManager {
	if audit == nil {
		audit = domain.NopAudit{}
	}
	return &PermissionManager{
		policy: policy,
		audit:  audit,
		logger: logger.With("component", "permissions"),
	}
}

// Check classifies action/target and applies the policy:
//
//  1. a blocklisted target is denied outright
//  2. an allowlisted action is allowed outright
//  3. low risk is auto-approved when the policy says so
//  4. high and critical always need confirmation
//  5. medium needs confirmation unless the policy auto-approves it
//
// Every call is audited.
func (m *PermissionManager) Check(ctx context.Context, action, target, reason string) domain.PermissionResult {
	level, family := Explain(action, target)
	req := domain.PermissionRequest{Action: action, Target: target, Reason: reason, Risk: level}
	res := m.decide(req)

	m.logger.Debug("permission checked",
		"action", action,
		"target", target,
		"risk", level,
		"allowed", res.Allowed,
		"confirm", res.RequiresConfirmation,
	)

	meta := map[string]any{
		"action":               action,
		"target":               target,
		"risk":                 string(level),
		"allowed":              res.Allowed,
		"requiresConfirmation": res.RequiresConfirmation,
	}
	if family != "" {
		meta["riskPattern"] = family
	}
	if reason != "" {
		meta["reason"] = reason
	}
	if res.ConfirmedBy != "" {
		meta["confirmedBy"] = string(res.ConfirmedBy)
	}
	m.audit.LogEvent(domain.AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: domain.EventPermissionCheck,
		Command:   strings.TrimSpace(action + " " + target),
		Result:    resultLabel(res),
		Metadata:  meta,
	})
	return res
}

func (m *PermissionManager) decide(req domain.PermissionRequest) domain.PermissionResult {
	level := req.Risk
	lowerTarget := strings.ToLower(req.Target)
	for _, b := range m.policy.Blocklist {
		if b != "" && strings.Contains(lowerTarget, strings.ToLower(b)) {
			return domain.PermissionResult{
				Allowed:     false,
				Reason:      fmt.Sprintf("target matches blocklist entry %q", b),
				ConfirmedBy: domain.ConfirmedByPolicy,
				Risk:        level,
			}
		}
	}

	for _, a := range m.policy.Allowlist {
		if strings.EqualFold(a, req.Action) {
			return domain.PermissionResult{
				Allowed:     true,
				Reason:      "action is allowlisted",
				ConfirmedBy: domain.ConfirmedByPolicy,
				Risk:        level,
			}
		}
	}

	switch level {
	case domain.RiskLow:
		if m.policy.AutoApproveLow {
			return domain.PermissionResult{Allowed: true, Reason: "low risk", ConfirmedBy: domain.ConfirmedByAuto, Risk: level}
		}
	case domain.RiskMedium:
		if m.policy.AutoApproveMedium {
			return domain.PermissionResult{Allowed: true, Reason: "medium risk auto-approved", ConfirmedBy: domain.ConfirmedByAuto, Risk: level}
		}
	}
	return domain.PermissionResult{
		Allowed:              false,
		Reason:               fmt.Sprintf("%s risk requires confirmation", level),
		RequiresConfirmation: true,
		Risk:                 level,
	}
}

func resultLabel(r domain.PermissionResult) string {
	switch {
	case r.Allowed:
		return "allowed"
	case r.RequiresConfirmation:
		return "confirm"
	default:
		return "denied"
	}
}
