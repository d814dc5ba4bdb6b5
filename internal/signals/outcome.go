package signals

import (
	"encoding/json"
	"time"
)

// Outcome is the terminal result of processing one signal
type Outcome string

const (
	OutcomeExecuted          Outcome = "executed"
	OutcomeRejected          Outcome = "rejected"
	OutcomeBlocked           Outcome = "blocked"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeError             Outcome = "error"
	OutcomeConfirmedOverride Outcome = "confirmed_override"
)

// AuditOutcome is the persisted audit classification
type AuditOutcome string

const (
	AuditProcessed          AuditOutcome = "PROCESSED"
	AuditConfirmedOverride  AuditOutcome = "CONFIRMED_OVERRIDE"
	AuditRejectedValidation AuditOutcome = "REJECTED_VALIDATION"
	AuditRejectedRisk       AuditOutcome = "REJECTED_RISK"
	AuditFailedOrder        AuditOutcome = "FAILED_ORDER"
	AuditPartialFill        AuditOutcome = "PARTIAL_FILL"
	AuditRollbackFailed     AuditOutcome = "ROLLBACK_FAILED"
	AuditDuplicate          AuditOutcome = "DUPLICATE"
	AuditBlocked            AuditOutcome = "BLOCKED"
)

// AuditRecord is the append-only composite record of one signal's journey
type AuditRecord struct {
	ID          string          `json:"id"`
	Signal      *Signal         `json:"signal"`
	Fingerprint Fingerprint     `json:"fingerprint"`
	Outcome     AuditOutcome    `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	Validation  json.RawMessage `json:"validation,omitempty"`
	Sizing      json.RawMessage `json:"sizing,omitempty"`
	Risk        json.RawMessage `json:"risk,omitempty"`
	Execution   json.RawMessage `json:"execution,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SignalJSON marshals the original signal for persistence
func (r *AuditRecord) SignalJSON() ([]byte, error) {
	return json.Marshal(r.Signal)
}

// Result is the engine's reply for one processed signal
type Result struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	AuditID string  `json:"audit_id,omitempty"`
}
