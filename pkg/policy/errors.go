package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors
var (
	// ErrPolicyNotFound indicates a repository lookup found no matching policy.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrTemplateNotFound indicates CloneTemplate referenced an unknown template.
	ErrTemplateNotFound = errors.New("template not found")
)

// ContractError reports a caller mistake such as a nil policy or an empty
// policy_id. Contract errors always surface; they are never folded into a
// false evaluation result.
type ContractError struct {
	Op      string
	Message string
}

// Error returns the error message.
func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ValidationError lists every structural problem found in a policy.
type ValidationError struct {
	PolicyID string
	Problems []string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("policy %q: validation error: %s", e.PolicyID, e.Problems[0])
	}
	return fmt.Sprintf("policy %q: %d validation errors: %s", e.PolicyID, len(e.Problems), strings.Join(e.Problems, "; "))
}

// TranslationError indicates raw policy text could not be turned into a Policy.
type TranslationError struct {
	PolicyID string
	Source   string
	Cause    error
}

// Error returns the error message.
func (e *TranslationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("translate policy %q from %s: %v", e.PolicyID, e.Source, e.Cause)
	}
	return fmt.Sprintf("translate policy %q: %v", e.PolicyID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TranslationError) Unwrap() error {
	return e.Cause
}

// SourceError indicates a change source failed to produce changes.
type SourceError struct {
	Source string
	Cause  error
}

// Error returns the error message.
func (e *SourceError) Error() string {
	return fmt.Sprintf("change source %s: %v", e.Source, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *SourceError) Unwrap() error {
	return e.Cause
}

// StorageError reports a failure in a persistence backend.
type StorageError struct {
	Backend   string // "sqlite", "memory", "file"
	Operation string // "open", "save", "query", ...
	Cause     error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
