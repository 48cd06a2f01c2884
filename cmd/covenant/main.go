// Covenant is a runtime policy engine for autonomous agents.
//
// It evaluates agent actions against declarative policies, turns the
// results into guardrail decisions, pushes policy changes to running
// workflows without a restart and audits the policy population for
// contradictory or overlapping rules.
//
// Usage:
//
//	# Run the live update loop, conflict detector and health endpoints
//	covenant run --config covenant.yaml
//
//	# Evaluate a policy document against an agent state
//	covenant evaluate --policy spend.yaml --state state.json --guardrail
//
//	# Scan a policy directory for conflicts
//	covenant scan --dir ./policies
//
//	# Export the conflict audit log
//	covenant audit export --format csv --out conflicts.csv
package main

func main() {
	Execute()
}
