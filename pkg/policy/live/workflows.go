package live

import (
	"mercator-hq/covenant/pkg/policy"
)

// RegisterWorkflow subscribes consumer under workflowID and immediately
// pushes every known policy it is subscribed to. An empty policyIDs list
// subscribes to all policies. Registering an existing ID replaces it.
//
// The consumer must not call back into RegisterWorkflow or
// UnregisterWorkflow from ApplyPolicyUpdate.
func (e *Engine) RegisterWorkflow(workflowID string, consumer policy.Consumer, policyIDs ...string) error {
	if workflowID == "" {
		return &policy.ContractError{Op: "register workflow", Message: "workflow_id is required"}
	}
	if consumer == nil {
		return &policy.ContractError{Op: "register workflow", Message: "consumer is required"}
	}

	sub := &subscription{consumer: consumer}
	if len(policyIDs) > 0 {
		sub.policyIDs = make(map[string]struct{}, len(policyIDs))
		for _, id := range policyIDs {
			sub.policyIDs[id] = struct{}{}
		}
	}

	e.workflowMu.Lock()
	defer e.workflowMu.Unlock()

	_, replaced := e.workflows[workflowID]
	e.workflows[workflowID] = sub

	pushed := 0
	for _, p := range e.ListPolicies() {
		if sub.wants(p.ID) {
			e.deliver(workflowID, consumer, p)
			pushed++
		}
	}

	e.logger.Info("workflow registered",
		"workflow_id", workflowID,
		"subscribed", len(policyIDs),
		"pushed", pushed,
		"replaced", replaced,
	)
	return nil
}

// UnregisterWorkflow removes a workflow. It reports whether it was registered.
func (e *Engine) UnregisterWorkflow(workflowID string) bool {
	e.workflowMu.Lock()
	_, ok := e.workflows[workflowID]
	delete(e.workflows, workflowID)
	e.workflowMu.Unlock()

	if ok {
		e.logger.Info("workflow unregistered", "workflow_id", workflowID)
	}
	return ok
}

// Workflows returns the registered workflow IDs.
func (e *Engine) Workflows() []string {
	e.workflowMu.Lock()
	defer e.workflowMu.Unlock()
	ids := make([]string, 0, len(e.workflows))
	for id := range e.workflows {
		ids = append(ids, id)
	}
	return ids
}

// SnapshotWorkflowPolicies returns the policies each workflow enforces.
// Consumers implementing policy.ActivePolicyLister report their own set;
// for the rest the snapshot is derived from the subscription.
func (e *Engine) SnapshotWorkflowPolicies() map[string][]*policy.Policy {
	e.workflowMu.Lock()
	subs := make(map[string]*subscription, len(e.workflows))
	for id, sub := range e.workflows {
		subs[id] = sub
	}
	e.workflowMu.Unlock()

	known := e.ListPolicies()
	out := make(map[string][]*policy.Policy, len(subs))
	for id, sub := range subs {
		if lister, ok := sub.consumer.(policy.ActivePolicyLister); ok {
			out[id] = lister.ListActivePolicies()
			continue
		}
		var policies []*policy.Policy
		for _, p := range known {
			if sub.wants(p.ID) {
				policies = append(policies, p)
			}
		}
		out[id] = policies
	}
	return out
}
