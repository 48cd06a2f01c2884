// Package policy defines the governance rule model shared by the evaluator,
// the guardrail decision layer, the live update engine and the conflict
// detector.
//
// A Policy is immutable once published. Every update produces a new value
// with a higher version, so readers can hold a *Policy without locking.
//
// The package also defines the boundary interfaces the engines depend on:
// Translator turns raw text into a Policy, ChangeSource yields pending
// changes, Consumer receives hot-swapped policies, and Repository stores
// version history.
package policy
