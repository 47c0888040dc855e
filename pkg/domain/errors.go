package domain

import (
	"errors"
	"fmt"

	"labcore/pkg/codec"
)

// FormatError re-exports the codec-level decode failure so callers match one
// taxonomy regardless of which layer rejected the input.
type FormatError = codec.FormatError

// NotFoundError reports an absent entity, event, relationship, or workflow row.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports duplicate names in scope, violated guards, stale
// versions, and duplicate invitations or memberships.
type ConflictError struct {
	Kind   string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Kind, e.Reason)
}

// PermissionDeniedError reports an insufficient actor role.
type PermissionDeniedError struct {
	Operation string
	Reason    string
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s: %s", e.Operation, e.Reason)
}

// BusinessRuleViolationError reports a domain invariant breach such as
// archiving an entity with active dependents or removing the last admin.
type BusinessRuleViolationError struct {
	Rule   string
	Reason string
}

func (e BusinessRuleViolationError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Reason)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err carries a ConflictError.
func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

// IsPermissionDenied reports whether err carries a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var target PermissionDeniedError
	return errors.As(err, &target)
}

// IsBusinessRuleViolation matches both explicit violations and blocking rule
// results surfaced at commit time.
func IsBusinessRuleViolation(err error) bool {
	var violation BusinessRuleViolationError
	if errors.As(err, &violation) {
		return true
	}
	var blocked RuleViolationError
	return errors.As(err, &blocked)
}
