package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"mercator-hq/covenant/pkg/conflict"
)

// record is the on-disk shape of a conflict. encoding/json writes map keys
// in sorted order, so every line has the same key order.
func record(c *conflict.Conflict) map[string]any {
	var workflow any
	if c.WorkflowID != "" {
		workflow = c.WorkflowID
	}
	suggestions := c.ResolutionSuggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	evidence := c.Evidence
	if evidence == nil {
		evidence = map[string]string{}
	}
	return map[string]any{
		"conflict_id":            c.ID,
		"detected_at":            c.DetectedAt.UTC().Format(time.RFC3339Nano),
		"severity":               string(c.Severity),
		"conflict_type":          string(c.Type),
		"policy_ids":             []string{c.PolicyIDs[0], c.PolicyIDs[1]},
		"description":            c.Description,
		"workflow_id":            workflow,
		"resolution_suggestions": suggestions,
		"evidence":               evidence,
	}
}

// marshalLine encodes c as one audit line without the trailing newline.
func marshalLine(c *conflict.Conflict) ([]byte, error) {
	data, err := json.Marshal(record(c))
	if err != nil {
		return nil, fmt.Errorf("failed to encode conflict %s: %w", c.ID, err)
	}
	return data, nil
}

// unmarshalLine decodes one audit line.
func unmarshalLine(data []byte) (*conflict.Conflict, error) {
	var c conflict.Conflict
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
