package repository

import (
	"errors"
	"fmt"

	"mercator-hq/covenant/pkg/policy"
)

// prepare validates p and returns the copy that will be stored.
func prepare(op string, p *policy.Policy) (*policy.Policy, error) {
	if p == nil {
		return nil, &policy.ContractError{Op: op, Message: "policy is nil"}
	}
	if p.ID == "" {
		return nil, &policy.ContractError{Op: op, Message: "policy_id is required"}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	cp := p.Clone()
	if cp.Version == "" {
		cp.Version = policy.DefaultVersion
	}
	return cp, nil
}

// cloneFrom builds the non-template copy CloneTemplate saves.
// Any stored policy may serve as a template.
func cloneFrom(template *policy.Policy, newPolicyID string, overrides policy.TemplateOverrides) *policy.Policy {
	cp := template.Clone()
	cp.ID = newPolicyID
	cp.IsTemplate = false
	cp.TemplateID = template.ID
	cp.Version = policy.DefaultVersion
	overrides.Apply(cp)
	return cp
}

func checkCloneArgs(templateID, newPolicyID string) error {
	if templateID == "" {
		return &policy.ContractError{Op: "clone template", Message: "template id is required"}
	}
	if newPolicyID == "" {
		return &policy.ContractError{Op: "clone template", Message: "new policy id is required"}
	}
	return nil
}

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("repository closed")

func notFound(policyID, version string) error {
	if version == "" {
		return fmt.Errorf("%w: %s", policy.ErrPolicyNotFound, policyID)
	}
	return fmt.Errorf("%w: %s@%s", policy.ErrPolicyNotFound, policyID, version)
}
