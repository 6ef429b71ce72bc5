/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the HTTP layer maps these to
  status codes via the helper predicates at the bottom.

ERROR CATEGORIES:
  1. Input errors      - Invalid case attributes, bad configuration
  2. Allocation errors - No eligible agency, capacity races
  3. Lifecycle errors  - Invalid state transitions
  4. Audit errors      - Append failures (fatal to the transition)

SEE ALSO:
  - allocation.go: Returns allocation errors
  - lifecycle.go: Returns transition errors
  - registry.go: Returns capacity errors
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidCaseAttributes is returned when case input fails validation.
	// Nothing is mutated when this is returned.
	ErrInvalidCaseAttributes = errors.New("invalid case attributes")

	// ErrNoEligibleAgency is returned when no active agency has both spare
	// capacity and a matching debt range for the case amount.
	ErrNoEligibleAgency = errors.New("no eligible agency")

	// ErrAgencyIneligible is returned when a manually requested agency fails
	// the eligibility checks. The engine never silently falls back to
	// automatic selection.
	ErrAgencyIneligible = errors.New("agency ineligible for case")

	// ErrCapacityExceeded is returned when a slot reservation loses a race:
	// the agency was at capacity at commit time. Callers retry against the
	// next-ranked candidate.
	ErrCapacityExceeded = errors.New("agency capacity exceeded")

	// ErrInvalidTransition is returned when a state machine guard rejects a
	// transition, e.g. completing an already-Closed case.
	ErrInvalidTransition = errors.New("invalid case transition")

	// ErrAuditWriteFailed is returned when the audit append fails. The
	// transition it guarded is not committed.
	ErrAuditWriteFailed = errors.New("audit write failed")

	// ErrCaseNotFound is returned when a referenced case doesn't exist.
	ErrCaseNotFound = errors.New("case not found")

	// ErrAgencyNotFound is returned when a referenced agency doesn't exist.
	ErrAgencyNotFound = errors.New("agency not found")

	// ErrInvalidConfig is returned at configuration load time, never at
	// scoring time.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEscalationReasonRequired is returned when an escalation carries an
	// empty reason string.
	ErrEscalationReasonRequired = errors.New("escalation reason required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAttributesError reports which attribute failed validation.
type InvalidAttributesError struct {
	Field   string
	Message string
}

func (e *InvalidAttributesError) Error() string {
	return fmt.Sprintf("invalid case attributes: %s %s", e.Field, e.Message)
}

func (e *InvalidAttributesError) Unwrap() error { return ErrInvalidCaseAttributes }

// IneligibleAgencyError explains why a manually requested agency was refused.
type IneligibleAgencyError struct {
	AgencyID AgencyID
	Reason   string
}

func (e *IneligibleAgencyError) Error() string {
	return fmt.Sprintf("agency %s ineligible: %s", e.AgencyID, e.Reason)
}

func (e *IneligibleAgencyError) Unwrap() error { return ErrAgencyIneligible }

// CapacityError identifies the agency whose reservation was refused.
type CapacityError struct {
	AgencyID AgencyID
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("agency %s at capacity (%d)", e.AgencyID, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// TransitionError describes a rejected state machine transition.
type TransitionError struct {
	CaseID CaseID
	From   CaseStatus
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("case %s: cannot %s from status %q", e.CaseID, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ConfigError reports a rejected configuration field at load time.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidCaseAttributes) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAgencyIneligible) ||
		errors.Is(err, ErrEscalationReasonRequired) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCaseNotFound) ||
		errors.Is(err, ErrAgencyNotFound)
}
