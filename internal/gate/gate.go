// Package gate is the single entry point an agent calls before it runs a
// shell command, touches a file or the network, or writes generated code.
//
// It composes the tokenizer, rule engine, risk classifier, trust manager,
// content scanner and audit log into one decision per action.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"execgate/internal/domain"
	"execgate/internal/environment"
	"execgate/internal/policy"
	"execgate/internal/risk"
	"execgate/internal/trust"

	"github.com/google/uuid"
)

const (
	defaultShellTimeout   = 30 * time.Second
	defaultMaxOutputBytes = 65536
)

// Outcome is what the caller should do next with a command.
type Outcome string

const (
	OutcomeExecute       Outcome = "execute"
	OutcomeConfirm       Outcome = "confirm"
	OutcomeTrustRequired Outcome = "trust_required"
	OutcomeDeny          Outcome = "deny"
)

// DeniedError is a terminal refusal: a forbid rule, a blocklisted target or
// a denying network policy. No confirmation can override it.
type DeniedError struct {
	Target string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied: %s: %s", e.Target, e.Reason)
}

// ScanBlockedError means generated content had a critical or high finding
// and was not written.
type ScanBlockedError struct {
	Path    string
	Reasons []string
	Result  domain.ScanResult
}

func (e *ScanBlockedError) Error() string {
	return fmt.Sprintf("write to %s blocked by content scan: %s", e.Path, strings.Join(e.Reasons, "; "))
}

// Config wires a Gate. Env and Rules are required; the rest may be nil.
type Config struct {
	Env         *environment.Holder
	Rules       *policy.Engine
	Permissions *risk.PermissionManager
	Confirmer   domain.Confirmer
	Trust       *trust.Manager
	Audit       domain.AuditSink
	Logger      *slog.Logger

	// SkipTrust turns off the workspace trust requirement. The zero value
	// makes every command and mutating action wait for session or
	// persistent trust.
	SkipTrust      bool
	ShellTimeout   time.Duration
	MaxOutputBytes int
}

// Gate decides, and optionally performs, agent actions.
type Gate struct {
	env          *environment.Holder
	rules        *policy.Engine
	perms        *risk.PermissionManager
	confirmer    domain.Confirmer
	trust        *trust.Manager
	audit        domain.AuditSink
	logger       *slog.Logger
	requireTrust bool
	timeout      time.Duration
	maxOutput    int
}

func New(cfg Config) *Gate {
	if cfg.Audit == nil {
		cfg.Audit = domain.NopAudit{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Permissions == nil {
		cfg.Permissions = risk.NewPermissionManager(risk.DefaultPolicy(), cfg.Audit, cfg.Logger)
	}
	if cfg.ShellTimeout <= 0 {
		cfg.ShellTimeout = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Gate{
		env:          cfg.Env,
		rules:        cfg.Rules,
		perms:        cfg.Permissions,
		confirmer:    cfg.Confirmer,
		trust:        cfg.Trust,
		audit:        cfg.Audit,
		logger:       cfg.Logger.With("component", "gate"),
		requireTrust: !cfg.SkipTrust,
		timeout:      cfg.ShellTimeout,
		maxOutput:    cfg.MaxOutputBytes,
	}
}

// Environment returns a snapshot of the live environment.
func (g *Gate) Environment() domain.ExecutionEnvironment {
	return g.env.Get()
}

// EnsureTrusted asks for workspace trust if it is not already granted. It
// returns false when the operator refused or nobody could be asked.
func (g *Gate) EnsureTrusted(ctx context.Context) (bool, error) {
	env := g.env.Get()
	if g.trust == nil {
		return env.TrustLevel.Trusted(), nil
	}
	return g.trust.EnsureTrusted(ctx, env.WorkspaceRoot)
}

// trustLevel reports the live level, consulting the store for a workspace
// that was trusted before this environment was built.
func (g *Gate) trustLevel(env domain.ExecutionEnvironment) domain.TrustLevel {
	if env.TrustLevel.Trusted() || g.trust == nil {
		return env.TrustLevel
	}
	return g.trust.Level(env.WorkspaceRoot)
}

func (g *Gate) needsTrust(env domain.ExecutionEnvironment) bool {
	return g.requireTrust && !g.trustLevel(env).Trusted()
}

func (g *Gate) record(eventType, command, result string, meta map[string]any) {
	g.audit.LogEvent(domain.AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Command:   command,
		Result:    result,
		Metadata:  meta,
	})
}
