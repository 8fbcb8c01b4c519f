package gate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"execgate/internal/cmdparse"
	"execgate/internal/domain"
	"execgate/internal/environment"
	"execgate/internal/risk"
)

// GateResult is the full decision for one shell command.
type GateResult struct {
	Command       string                   `json:"command"`
	Argv          []string                 `json:"argv"`
	Segments      [][]string               `json:"segments"`
	Cwd           string                   `json:"cwd"`
	Decision      domain.RuleAction        `json:"decision"`
	Outcome       Outcome                  `json:"outcome"`
	Reasons       []string                 `json:"reasons"`
	Evaluation    domain.RuleEvaluation    `json:"evaluation"`
	Risk          domain.RiskLevel         `json:"risk"`
	Paths         []cmdparse.ExtractedPath `json:"paths"`
	Domains       []string                 `json:"domains"`
	Ports         []int                    `json:"ports"`
	TrustLevel    domain.TrustLevel        `json:"trustLevel"`
	RequiresTrust bool                     `json:"requiresTrust"`
}

// escalate raises the decision to at least action. Lowering never happens.
func (r *GateResult) escalate(action domain.RuleAction, reason string) {
	if action.Restriction() > r.Decision.Restriction() {
		r.Decision = action
	}
	r.Reasons = append(r.Reasons, reason)
}

// harmless write targets that never count as leaving the workspace.
var deviceSinks = map[string]bool{
	"/dev/null":   true,
	"/dev/stdout": true,
	"/dev/stderr": true,
	"/dev/tty":    true,
	"nul":         true,
}

// EvaluateCommand decides raw without running it. cwd, when set, must lie
// inside the workspace root; that is the only error it returns.
//
// The rule decision is escalated (never relaxed) by command risk, writes
// outside the workspace and the network policy. Trust is reported
// separately: an allowed command in an untrusted workspace yields
// OutcomeTrustRequired, not OutcomeExecute.
func (g *Gate) EvaluateCommand(ctx context.Context, raw, cwd string) (GateResult, error) {
	env := g.env.Get()
	dir := env.Cwd
	if cwd != "" {
		d, err := environment.ResolveCwd(env.WorkspaceRoot, cwd)
		if err != nil {
			return GateResult{}, err
		}
		dir = d
	}

	parsed := cmdparse.Tokenize(raw)
	segs := cmdparse.Segments(parsed)
	if len(segs) == 0 && len(parsed.Argv) > 0 {
		// Only operators, e.g. ";".
		segs = [][]string{parsed.Argv}
	}
	eval, decider := g.rules.EvaluateSegments(segs)
	res := GateResult{
		Command:    raw,
		Argv:       parsed.Argv,
		Segments:   segs,
		Cwd:        dir,
		Decision:   eval.Decision,
		Evaluation: eval,
		Paths:      cmdparse.ExtractPaths(parsed),
		Domains:    cmdparse.ExtractDomains(parsed),
		Ports:      cmdparse.ExtractPorts(parsed),
	}
	var where string
	if len(segs) > 1 && decider >= 0 {
		where = fmt.Sprintf(" in %q", strings.Join(segs[decider], " "))
	}
	switch {
	case len(parsed.Argv) == 0:
		res.Decision = domain.ActionForbid
		res.Reasons = append(res.Reasons, "empty command")
	case eval.MostRestrictive != nil:
		r := eval.MostRestrictive
		res.Reasons = append(res.Reasons, fmt.Sprintf("%s rule %s (%s)%s: %s", r.Source, r.ID, r.PatternString(), where, r.Description))
	default:
		res.Reasons = append(res.Reasons, "no rule matched"+where)
	}

	level, family := risk.Explain("shell", raw)
	res.Risk = level
	switch level {
	case domain.RiskCritical:
		res.escalate(domain.ActionForbid, "critical risk: "+family)
	case domain.RiskHigh:
		res.escalate(domain.ActionPrompt, "high risk: "+family)
	}

	for _, p := range res.Paths {
		if p.Operation != cmdparse.OpWrite {
			continue
		}
		if !insideWorkspace(env.WorkspaceRoot, dir, p.Path) {
			res.escalate(domain.ActionPrompt, "writes outside workspace: "+p.Path)
		}
	}

	g.applyNetworkPolicy(&res, env)

	res.TrustLevel = g.trustLevel(env)
	res.RequiresTrust = g.needsTrust(env)
	res.Outcome = outcomeFor(res)

	g.logger.Debug("command evaluated",
		"command", raw,
		"decision", res.Decision,
		"outcome", res.Outcome,
		"risk", res.Risk,
	)
	g.record(domain.EventGateEvaluation, raw, string(res.Decision), evaluationMeta(res))
	return res, nil
}

func (g *Gate) applyNetworkPolicy(res *GateResult, env domain.ExecutionEnvironment) {
	if len(res.Domains) == 0 {
		return
	}
	switch env.NetworkPolicy {
	case domain.NetworkDeny:
		res.escalate(domain.ActionForbid, "network access denied: "+strings.Join(res.Domains, ", "))
	case domain.NetworkRestricted:
		var off []string
		for _, d := range res.Domains {
			if !domainAllowed(d, env.AllowedDomains) {
				off = append(off, d)
			}
		}
		if len(off) > 0 {
			res.escalate(domain.ActionPrompt, "domains outside allow list: "+strings.Join(off, ", "))
		}
	}
}

// domainAllowed matches d against allowed exactly or as a subdomain.
func domainAllowed(d string, allowed []string) bool {
	d = strings.ToLower(d)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "*."))
		if a == "" {
			continue
		}
		if d == a || strings.HasSuffix(d, "."+a) {
			return true
		}
	}
	return false
}

func insideWorkspace(root, dir, p string) bool {
	if deviceSinks[strings.ToLower(p)] {
		return true
	}
	if strings.HasPrefix(p, "~") || strings.HasPrefix(p, "$") {
		return false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return environment.Contains(root, p)
}

func outcomeFor(res GateResult) Outcome {
	switch {
	case res.Decision == domain.ActionForbid:
		return OutcomeDeny
	case res.RequiresTrust:
		return OutcomeTrustRequired
	case res.Decision == domain.ActionAllow:
		return OutcomeExecute
	default:
		return OutcomeConfirm
	}
}

func evaluationMeta(res GateResult) map[string]any {
	matched := make([]string, 0, len(res.Evaluation.MatchedRules))
	for _, r := range res.Evaluation.MatchedRules {
		matched = append(matched, r.ID)
	}
	meta := map[string]any{
		"decision":     string(res.Decision),
		"outcome":      string(res.Outcome),
		"argv":         res.Argv,
		"segments":     len(res.Segments),
		"cwd":          res.Cwd,
		"risk":         string(res.Risk),
		"matchedRules": matched,
		"reasons":      res.Reasons,
		"trustLevel":   string(res.TrustLevel),
	}
	if len(res.Domains) > 0 {
		meta["domains"] = res.Domains
	}
	if len(res.Ports) > 0 {
		meta["ports"] = res.Ports
	}
	return meta
}

// Authorization is the outcome of AuthorizeCommand.
type Authorization struct {
	GateResult
	Approved   bool               `json:"approved"`
	ApprovedBy domain.ConfirmedBy `json:"approvedBy,omitempty"`
}

// AuthorizeCommand evaluates raw and then collects whatever the decision
// still needs: workspace trust, then an operator confirmation for prompt.
// A forbid decision returns *DeniedError. A refusal, timeout or missing
// prompt returns Approved=false and a nil error.
func (g *Gate) AuthorizeCommand(ctx context.Context, raw, cwd string) (Authorization, error) {
	res, err := g.EvaluateCommand(ctx, raw, cwd)
	if err != nil {
		return Authorization{}, err
	}
	auth := Authorization{GateResult: res}

	if res.Decision == domain.ActionForbid {
		return auth, &DeniedError{Target: raw, Reason: strings.Join(res.Reasons, "; ")}
	}

	if res.RequiresTrust {
		ok, err := g.EnsureTrusted(ctx)
		if err != nil {
			return auth, err
		}
		if !ok {
			g.logger.Info("command refused: workspace not trusted", "command", raw)
			return auth, nil
		}
		auth.RequiresTrust = false
		auth.TrustLevel = g.trustLevel(g.env.Get())
	}

	if res.Decision == domain.ActionAllow {
		auth.Approved = true
		auth.ApprovedBy = domain.ConfirmedByPolicy
		return auth, nil
	}

	if g.confirmer == nil {
		g.logger.Warn("command needs confirmation but no confirmer is wired", "command", raw)
		return auth, nil
	}
	if g.confirmer.Confirm(ctx, "exec", raw) {
		auth.Approved = true
		auth.ApprovedBy = domain.ConfirmedByUser
	}
	return auth, nil
}
