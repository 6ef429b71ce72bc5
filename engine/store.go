/*
store.go - Persistence interfaces for cases

PURPOSE:
  Defines the interface between the lifecycle service and the database.
  The engine is the system of record: a transition is committed when its
  audit entry and case write have both succeeded.

IMPLEMENTATIONS:
  - store/memory.go: In-memory, for tests and development
  - ../store/sqlite:  Durable SQLite store

SEE ALSO:
  - registry.go: AgencyStore, the agency-side counterpart
  - audit.go: AuditRecorder
*/
package engine

import "context"

// =============================================================================
// CASE STORE
// =============================================================================

// CaseStore persists case records. Save overwrites by ID; cases are never
// deleted, only moved to terminal statuses.
type CaseStore interface {
	SaveCase(ctx context.Context, c Case) error

	// GetCase returns ErrCaseNotFound for unknown IDs.
	GetCase(ctx context.Context, id CaseID) (Case, error)

	// ListCases returns cases matching the filter, newest first.
	ListCases(ctx context.Context, filter CaseFilter) ([]Case, error)

	// NextCaseSequence returns the next sequence number for the year,
	// backing human-readable IDs like CASE-2026-000042. Each call returns
	// a distinct number.
	NextCaseSequence(ctx context.Context, year int) (int, error)
}

// CaseFilter narrows ListCases. Nil fields match everything.
type CaseFilter struct {
	Status    *CaseStatus
	Priority  *Priority
	SLAStatus *SLAStatus
	AgencyID  *AgencyID
	Limit     int // 0 = no limit
}

// Matches reports whether a case passes the filter (limit excluded).
func (f CaseFilter) Matches(c Case) bool {
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.Priority != nil && c.Priority != *f.Priority {
		return false
	}
	if f.SLAStatus != nil && c.SLAStatus != *f.SLAStatus {
		return false
	}
	if f.AgencyID != nil && (c.AgencyID == nil || *c.AgencyID != *f.AgencyID) {
		return false
	}
	return true
}
