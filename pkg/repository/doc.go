// Package repository stores every version of every policy.
//
// Two backends implement policy.Repository: Memory for tests and one-shot
// CLI runs, and SQLite for durable storage. Both keep versions in save order,
// resolve an empty version to the most recently saved one, and return
// ListPolicies results oldest first so callers that want only the latest
// version per policy can fold them in order.
package repository
