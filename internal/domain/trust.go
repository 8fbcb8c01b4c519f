package domain

import (
	"fmt"
	"time"
)

type TrustLevel string

const (
	TrustUntrusted  TrustLevel = "untrusted"
	TrustSession    TrustLevel = "session"
	TrustPersistent TrustLevel = "persistent"
)

// Trusted reports whether the level lets mutating actions proceed without
// the trust prompt.
func (l TrustLevel) Trusted() bool {
	return l == TrustSession || l == TrustPersistent
}

// TrustChoice is the answer returned by the trust prompt.
type TrustChoice string

const (
	ChoiceSession    TrustChoice = "session"
	ChoicePersistent TrustChoice = "persistent"
	ChoiceExit       TrustChoice = "exit"
)

// TrustRecord is one persistently trusted workspace root. NormalizedPath is
// the dedup key.
type TrustRecord struct {
	Path           string    `json:"path"`
	NormalizedPath string    `json:"normalizedPath"`
	TrustedAt      time.Time `json:"trustedAt"`
}

// ExecutionEnvironment is the process-wide view of where and how the agent runs.
type ExecutionEnvironment struct {
	OS             string     `json:"os"`
	Backend        string     `json:"backend"`
	WorkspaceRoot  string     `json:"workspaceRoot"`
	Cwd            string     `json:"cwd"`
	NetworkPolicy  string     `json:"networkPolicy"`
	AllowedDomains []string   `json:"allowedDomains"`
	TrustLevel     TrustLevel `json:"trustLevel"`
	IsContainer    bool       `json:"isContainer"`
	IsWSL          bool       `json:"isWSL"`
}

func (e ExecutionEnvironment) String() string {
	return fmt.Sprintf("%s/%s root=%s cwd=%s trust=%s", e.OS, e.Backend, e.WorkspaceRoot, e.Cwd, e.TrustLevel)
}

// Network policy values.
const (
	NetworkAllow      = "allow"
	NetworkRestricted = "restricted"
	NetworkDeny       = "deny"
)
