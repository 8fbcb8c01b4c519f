package domain

// RiskLevel is the heuristic severity of a non-shell action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels from low (0) to critical (3).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

// ConfirmedBy records which party let an action through.
type ConfirmedBy string

const (
	ConfirmedByUser   ConfirmedBy = "user"
	ConfirmedByAuto   ConfirmedBy = "auto"
	ConfirmedByPolicy ConfirmedBy = "policy"
)

// PermissionRequest is one risk-classified action awaiting a decision.
type PermissionRequest struct {
	Action string    `json:"action"`
	Target string    `json:"target"`
	Reason string    `json:"reason,omitempty"`
	Risk   RiskLevel `json:"risk"`
}

// PermissionResult is the outcome of a permission check.
type PermissionResult struct {
	Allowed              bool        `json:"allowed"`
	Reason               string      `json:"reason,omitempty"`
	RequiresConfirmation bool        `json:"requiresConfirmation"`
	ConfirmedBy          ConfirmedBy `json:"confirmedBy,omitempty"`
	Risk                 RiskLevel   `json:"risk"`
}

// Denied reports a terminal refusal: not allowed and no confirmation can change it.
func (r PermissionResult) Denied() bool {
	return !r.Allowed && !r.RequiresConfirmation
}
