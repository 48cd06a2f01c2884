package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PolicyChange is a raw update to one policy as delivered by a change source.
type PolicyChange struct {
	// PolicyID identifies the policy being replaced.
	PolicyID string `json:"policy_id"`

	// RawText is the untranslated policy text.
	RawText string `json:"raw_text"`

	// Source labels where the change came from, e.g. "git:3f2a1c0".
	Source string `json:"source,omitempty"`

	// Metadata is passed to the translator as context.
	Metadata map[string]any `json:"metadata,omitempty"`

	// VersionHint, when set, becomes the new version verbatim.
	VersionHint string `json:"version_hint,omitempty"`
}

// Fingerprint returns the hex SHA-256 of the change's raw text.
func (c PolicyChange) Fingerprint() string {
	return Fingerprint(c.RawText)
}

// Fingerprint returns the hex SHA-256 of raw policy text.
func Fingerprint(rawText string) string {
	sum := sha256.Sum256([]byte(rawText))
	return hex.EncodeToString(sum[:])
}

// UpdateResult describes the outcome of applying one PolicyChange.
type UpdateResult struct {
	PolicyID string `json:"policy_id"`

	// Changed is false when the raw text matched the current fingerprint.
	Changed bool `json:"changed"`

	Fingerprint string    `json:"fingerprint"`
	Source      string    `json:"source,omitempty"`
	Version     string    `json:"version,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`

	// AffectedWorkflows lists the workflows the new version was pushed to, sorted.
	AffectedWorkflows []string `json:"affected_workflows"`

	// DiffSummary is a short token-level diff against the previous raw text.
	// Empty when there is no previous version or no token difference.
	DiffSummary string `json:"diff_summary,omitempty"`
}
