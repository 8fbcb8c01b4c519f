package domain

import "context"

// Confirmer asks the operator a yes/no question about one action. A false
// answer, a timeout and a cancelled context all mean "do not proceed".
type Confirmer interface {
	Confirm(ctx context.Context, action, target string) bool
}

// TrustPrompter asks the operator whether a workspace may be acted in.
type TrustPrompter interface {
	PromptTrust(ctx context.Context, path string) (TrustChoice, error)
}

// ConfirmationRequest is emitted whenever an action needs an explicit yes/no.
type ConfirmationRequest struct {
	ID     string    `json:"id"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	Risk   RiskLevel `json:"risk,omitempty"`
}
