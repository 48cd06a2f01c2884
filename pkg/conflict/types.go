package conflict

import (
	"context"
	"time"

	"mercator-hq/covenant/pkg/policy"
)

// Type classifies a conflict.
type Type string

const (
	// TypeContradictory means the two policies can never both be active.
	TypeContradictory Type = "contradictory_rule"

	// TypeOverlapping means both policies can activate on the same action
	// but prescribe different responses.
	TypeOverlapping Type = "overlapping_enforcement"
)

// Severity ranks how urgently a conflict needs attention.
type Severity string

const (
	SeveritySafetyCritical  Severity = "safety_critical"
	SeverityLegalCompliance Severity = "legal_compliance"
	SeverityHigh            Severity = "high"
	SeverityMedium          Severity = "medium"
)

// Rank orders severities, most urgent first.
func (s Severity) Rank() int {
	switch s {
	case SeveritySafetyCritical:
		return 0
	case SeverityLegalCompliance:
		return 1
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 3
	}
	return 4
}

// Conflict is an immutable audit record for one conflicting policy pair.
type Conflict struct {
	ID         string    `json:"conflict_id"`
	DetectedAt time.Time `json:"detected_at"`
	Severity   Severity  `json:"severity"`
	Type       Type      `json:"conflict_type"`

	// PolicyIDs is the pair ordered by ID.
	PolicyIDs   [2]string `json:"policy_ids"`
	Description string    `json:"description"`

	// WorkflowID is empty for conflicts found in the repository view.
	WorkflowID string `json:"workflow_id,omitempty"`

	ResolutionSuggestions []string          `json:"resolution_suggestions"`
	Evidence              map[string]string `json:"evidence"`
}

// Sink persists conflicts outside the process. Append is called once per
// scan with every conflict the scan found, in order.
type Sink interface {
	Append(ctx context.Context, conflicts []*Conflict) error
}

// WorkflowProvider reports the policies each workflow currently enforces.
// The live update engine implements it.
type WorkflowProvider interface {
	SnapshotWorkflowPolicies() map[string][]*policy.Policy
}

// ScanRecorder receives detector telemetry. The metrics collector implements it.
type ScanRecorder interface {
	RecordScan(duration time.Duration)
	RecordConflict(severity, conflictType string)
	RecordAuditSize(entries int)
}
