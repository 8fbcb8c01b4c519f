package domain

import "time"

// Well-known audit event types.
const (
	EventGateEvaluation       = "gate_evaluation"
	EventPermissionCheck      = "permission_check"
	EventConfirmationRequired = "confirmation_required"
	EventConfirmationResolved = "confirmation_resolved"
	EventConfirmationTimeout  = "confirmation_timeout"
	EventTrustGranted         = "trust_granted"
	EventTrustRevoked         = "trust_revoked"
	EventTrustDeclined        = "trust_declined"
	EventRuleAdded            = "rule_added"
	EventRuleRemoved          = "rule_removed"
	EventScanBlocked          = "scan_blocked"
	EventScanWarning          = "scan_warning"
	EventFileWritten          = "file_written"
	EventCommandExecuted      = "command_executed"
	EventSessionStarted       = "session_started"
)

// AuditEvent is one append-only record of a gate decision.
type AuditEvent struct {
	EventID   string         `json:"eventId"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"eventType"`
	Command   string         `json:"command,omitempty"`
	Result    string         `json:"result,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditSink receives audit events. Implementations must never fail the
// caller; write errors are swallowed.
type AuditSink interface {
	LogEvent(event AuditEvent)
}

// NopAudit discards every event.
type NopAudit struct{}

func (NopAudit) LogEvent(AuditEvent) {}
