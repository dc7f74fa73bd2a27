// Package apperrors provides sentinel and custom error types for the application.
package apperrors

import "fmt"

// ErrNotFound represents a "not found" error.
// Use when a requested resource doesn't exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for resources that are not found.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{Resource: resource, Message: message}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "resource not found"
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrValidation represents a validation error.
// Use when caller input fails validation.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrConflict is the sentinel for conflict errors (e.g. duplicate content hash,
// stale active-version pointer on template commit).
var ErrConflict = &ConflictError{}

// ConflictError is a sentinel error for resource conflicts.
type ConflictError struct {
	Resource string
	Message  string
}

// NewConflictError creates a ConflictError with a custom message.
func NewConflictError(resource, message string) *ConflictError {
	return &ConflictError{Resource: resource, Message: message}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "conflict"
}

// Is implements the error interface for error comparison.
func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)

	return ok
}

// ErrCycleRejected is the sentinel for family graph operations that would create a cycle.
// The operation is refused with no partial mutation applied.
var ErrCycleRejected = &CycleRejectedError{}

// CycleRejectedError is returned when an attach or parent-link operation would
// introduce a cycle into the family graph.
type CycleRejectedError struct {
	Message string
}

// NewCycleRejectedError creates a CycleRejectedError with a custom message.
func NewCycleRejectedError(message string) *CycleRejectedError {
	return &CycleRejectedError{Message: message}
}

// Error implements the error interface.
func (e *CycleRejectedError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "operation rejected: would create a cycle in the family graph"
}

// Is implements the error interface for error comparison.
func (e *CycleRejectedError) Is(target error) bool {
	_, ok := target.(*CycleRejectedError)

	return ok
}

// ErrRetrievalUnavailable is the sentinel for a vector index that cannot be reached.
// Retryable; never silently treated as empty results.
var ErrRetrievalUnavailable = &RetrievalUnavailableError{}

// RetrievalUnavailableError is returned when the backing vector index cannot be queried.
type RetrievalUnavailableError struct {
	Err error
}

// NewRetrievalUnavailableError wraps the underlying index error.
func NewRetrievalUnavailableError(err error) *RetrievalUnavailableError {
	return &RetrievalUnavailableError{Err: err}
}

// Error implements the error interface.
func (e *RetrievalUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("similarity retrieval unavailable: %v", e.Err)
	}

	return "similarity retrieval unavailable"
}

// Unwrap returns the underlying error.
func (e *RetrievalUnavailableError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *RetrievalUnavailableError) Is(target error) bool {
	_, ok := target.(*RetrievalUnavailableError)

	return ok
}

// ErrSchemaViolation is the sentinel for LLM output that fails structural validation.
var ErrSchemaViolation = &SchemaViolationError{}

// SchemaViolationError is returned when a completion result does not validate
// against the fixed JSON schema it was constrained by.
type SchemaViolationError struct {
	Detail string
}

// NewSchemaViolationError creates a SchemaViolationError with detail from the validator.
func NewSchemaViolationError(detail string) *SchemaViolationError {
	return &SchemaViolationError{Detail: detail}
}

// Error implements the error interface.
func (e *SchemaViolationError) Error() string {
	if e.Detail != "" {
		return "completion output failed schema validation: " + e.Detail
	}

	return "completion output failed schema validation"
}

// Is implements the error interface for error comparison.
func (e *SchemaViolationError) Is(target error) bool {
	_, ok := target.(*SchemaViolationError)

	return ok
}

// ErrModerationRejected is the sentinel for content refused by the moderation
// collaborator. The content is never persisted.
var ErrModerationRejected = &ModerationRejectedError{}

// ModerationRejectedError is returned when prompt content is flagged before ingestion.
type ModerationRejectedError struct {
	Categories []string
}

// NewModerationRejectedError creates a ModerationRejectedError carrying the flagged categories.
func NewModerationRejectedError(categories []string) *ModerationRejectedError {
	return &ModerationRejectedError{Categories: categories}
}

// Error implements the error interface.
func (e *ModerationRejectedError) Error() string {
	if len(e.Categories) > 0 {
		return fmt.Sprintf("content rejected by moderation: %v", e.Categories)
	}

	return "content rejected by moderation"
}

// Is implements the error interface for error comparison.
func (e *ModerationRejectedError) Is(target error) bool {
	_, ok := target.(*ModerationRejectedError)

	return ok
}

// ErrAssignmentRejected is the sentinel for prompts the reasoning collaborator
// refused to place. The reasoning string is preserved for the caller.
var ErrAssignmentRejected = &AssignmentRejectedError{}

// AssignmentRejectedError is returned when an escalated prompt is rejected
// rather than merged or given a new cluster.
type AssignmentRejectedError struct {
	Reasoning string
}

// NewAssignmentRejectedError creates an AssignmentRejectedError with the verdict reasoning.
func NewAssignmentRejectedError(reasoning string) *AssignmentRejectedError {
	return &AssignmentRejectedError{Reasoning: reasoning}
}

// Error implements the error interface.
func (e *AssignmentRejectedError) Error() string {
	if e.Reasoning != "" {
		return "assignment rejected: " + e.Reasoning
	}

	return "assignment rejected"
}

// Is implements the error interface for error comparison.
func (e *AssignmentRejectedError) Is(target error) bool {
	_, ok := target.(*AssignmentRejectedError)

	return ok
}

// ErrProvider is the sentinel for external collaborator failures (embedding, LLM, index).
var ErrProvider = &ProviderError{}

// ProviderError is returned when an external collaborator call fails.
// Transient failures (timeouts, rate limits) are retried with backoff before surfacing.
type ProviderError struct {
	Provider  string
	Transient bool
	Err       error
}

// NewProviderError wraps a collaborator failure. transient marks it retryable.
func NewProviderError(provider string, transient bool, err error) *ProviderError {
	return &ProviderError{Provider: provider, Transient: transient, Err: err}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}

	if e.Err != nil {
		return fmt.Sprintf("%s provider error (%s): %v", e.Provider, kind, e.Err)
	}

	return fmt.Sprintf("%s provider error (%s)", e.Provider, kind)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *ProviderError) Is(target error) bool {
	_, ok := target.(*ProviderError)

	return ok
}
