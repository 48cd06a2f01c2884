// Package guardrail converts policy enforcement results into a single
// allow, correct, reroute, escalate or block decision for a proposed agent
// action.
//
// Decisions follow a fixed order. Near misses produce a correction when
// nothing triggered. Several triggered policies escalate, with domain
// precedence security > legal > finance > governance > cooperation naming
// the policy that takes precedence. A single triggered policy escalates in
// the security and legal domains, then reroutes, suggests a correction,
// blocks, or asks for compliance review.
package guardrail
