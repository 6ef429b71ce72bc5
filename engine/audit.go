/*
audit.go - Append-only audit trail of state changes and allocation decisions

PURPOSE:
  Every lifecycle transition and allocation decision is recorded here
  BEFORE it is considered committed. If the append fails, the transition
  fails. Entries are immutable; no update or delete operation exists.

SEE ALSO:
  - lifecycle.go: Appends an entry per transition (audit-before-commit)
  - store/memory.go: In-memory recorder for tests
  - store/sqlite: Durable recorder
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

type AuditAction string

const (
	AuditCaseCreated   AuditAction = "case_created"
	AuditCaseAllocated AuditAction = "case_allocated"
	AuditCaseStarted   AuditAction = "case_started"
	AuditCaseCompleted AuditAction = "case_completed"
	AuditCaseRejected  AuditAction = "case_rejected"
	AuditCaseRequeued  AuditAction = "case_requeued"
	AuditCaseEscalated AuditAction = "case_escalated"
	AuditCaseDelayed   AuditAction = "case_delayed"
	AuditSLARefreshed  AuditAction = "sla_status_refreshed"
)

// AuditEntry records who did what when. Immutable once written.
type AuditEntry struct {
	ID          string
	ActorID     string
	CaseID      *CaseID
	Action      AuditAction
	Description string

	// Old/new value snapshots, opaque strings by contract.
	OldValue string
	NewValue string

	Timestamp time.Time
}

// =============================================================================
// RECORDER
// =============================================================================

// AuditRecorder owns the log and is its only writer. Append never fails
// silently; Query returns entries ordered by timestamp ascending.
type AuditRecorder interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows a query. Nil fields match everything.
type AuditFilter struct {
	ActorID *string
	CaseID  *CaseID
	Actions []AuditAction
	From    *time.Time
	To      *time.Time
}

// Matches reports whether an entry passes the filter. Shared by the
// in-memory recorder and tests.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if f.CaseID != nil && (e.CaseID == nil || *e.CaseID != *f.CaseID) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
