/*
Package engine provides the core case allocation and performance scoring engine.

PURPOSE:
  This package contains the domain types and algorithms for a debt-collection
  case tracker: priority/SLA classification, recovery scoring, agency
  selection under capacity constraints, and rolling agency performance
  scoring. The HTTP layer and persistence live elsewhere; this package is
  pure domain logic.

KEY CONCEPTS IN THIS FILE (types.go):
  - Case: A debt-collection case with priority, SLA and assignment state
  - Agency: A Debt Collection Agency (DCA) with capacity and a debt range
  - Score: A tagged performance score, Undetermined until first completion
  - Priority / CaseStatus / SLAStatus: Closed vocabularies

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for monetary amounts
  2. Type Safety: Strong typing for IDs prevents mixing case/agency IDs
  3. Exhaustiveness: Score is a tagged variant, never a loose "TBD" string
  4. Auditability: Every state change produces an audit entry

SEE ALSO:
  - scoring.go: Priority classification and recovery prediction
  - registry.go: Agency records and capacity reservation
  - lifecycle.go: The case state machine
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CaseID string
type AgencyID string

// =============================================================================
// PRIORITY - Classification tier driving the SLA deadline
// =============================================================================

type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// =============================================================================
// CASE STATUS - The lifecycle dimension
// =============================================================================

type CaseStatus string

const (
	StatusOpen       CaseStatus = "Open"
	StatusInProgress CaseStatus = "In Progress"
	StatusClosed     CaseStatus = "Closed"
	StatusRejected   CaseStatus = "Rejected"
)

// IsTerminal reports whether no further transitions are allowed.
func (s CaseStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// =============================================================================
// SLA STATUS - Derived projection, never authoritative
// =============================================================================

type SLAStatus string

const (
	SLAOnTrack  SLAStatus = "On Track"
	SLAAtRisk   SLAStatus = "At Risk"
	SLABreached SLAStatus = "Breached"
)

// =============================================================================
// SCORE - Tagged performance score (Undetermined | Determined)
// =============================================================================

// Score is an agency's performance score as a percentage. An agency with no
// completed cases has an Undetermined score, which is distinct from a score
// of zero: "no data yet" is not "worst possible".
type Score struct {
	determined bool
	value      float64
}

// Undetermined returns the zero-information score.
func Undetermined() Score { return Score{} }

// DeterminedScore returns a score carrying a percentage value.
func DeterminedScore(value float64) Score {
	return Score{determined: true, value: value}
}

func (s Score) IsDetermined() bool { return s.determined }

// Value returns the percentage and whether it is determined.
func (s Score) Value() (float64, bool) { return s.value, s.determined }

// String renders "TBD" for undetermined scores, matching the operator UI.
func (s Score) String() string {
	if !s.determined {
		return "TBD"
	}
	return decimal.NewFromFloat(s.value).Round(1).String()
}

// Less orders scores for ranking: any determined score ranks above an
// undetermined one (unproven agencies rank last), otherwise by value.
func (s Score) Less(other Score) bool {
	if s.determined != other.determined {
		return !s.determined
	}
	return s.value < other.value
}

// =============================================================================
// CASE - A debt-collection case
// =============================================================================

type Case struct {
	ID            CaseID
	CustomerName  string
	CustomerEmail string
	CustomerPhone string

	OverdueAmount decimal.Decimal
	AgeingDays    int

	Priority Priority
	// SLADue is fixed at creation from the priority tier and is never
	// silently recomputed.
	SLADue time.Time
	// SLAStatus is a cached projection, refreshed on read.
	SLAStatus SLAStatus

	// RecoveryScore is the predicted recovery likelihood in [0, 1],
	// computed once at creation.
	RecoveryScore float64

	AgencyID         *AgencyID
	AllocationReason string
	AssignedAt       *time.Time
	CompletedAt      *time.Time

	Status           CaseStatus
	Escalated        bool
	EscalationReason string

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assigned reports whether the case currently holds an agency slot.
func (c *Case) Assigned() bool { return c.AgencyID != nil }

// =============================================================================
// CASE ATTRIBUTES - Creation input, validated before any state change
// =============================================================================

type CaseAttributes struct {
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	OverdueAmount decimal.Decimal
	AgeingDays    int
	Notes         string
}

// =============================================================================
// AGENCY - A Debt Collection Agency (DCA)
// =============================================================================

type Agency struct {
	ID            AgencyID
	Name          string
	ContactPerson string
	Email         string
	Phone         string

	// Capacity is the maximum number of concurrent active cases.
	// ActiveCases is always <= Capacity; the registry enforces this.
	Capacity    int
	ActiveCases int

	// Debt range this agency accepts, inclusive on both ends.
	MinDebt decimal.Decimal
	MaxDebt decimal.Decimal

	Active bool

	Performance PerfState

	CreatedAt time.Time
}

// SpareCapacityFraction returns (capacity - active) / capacity, the secondary
// allocation ranking key. Zero-capacity agencies have no headroom.
func (a *Agency) SpareCapacityFraction() float64 {
	if a.Capacity <= 0 {
		return 0
	}
	return float64(a.Capacity-a.ActiveCases) / float64(a.Capacity)
}

// AcceptsAmount reports whether the amount falls inside the agency's range.
func (a *Agency) AcceptsAmount(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(a.MinDebt) && amount.LessThanOrEqual(a.MaxDebt)
}

// =============================================================================
// PERF STATE - Accrued statistics behind the performance score
// =============================================================================

// PerfState carries an agency's accrued outcome statistics and its current
// score. It is updated incrementally by the Tracker; replaying the same
// ordered event sequence from a fresh state always yields the same result.
type PerfState struct {
	Score Score

	CasesCompleted int
	CasesRejected  int
	Delays         int

	// ProcessingDaysTotal accumulates assignment-to-completion days for
	// completed cases, backing AvgCompletionDays.
	ProcessingDaysTotal int

	// PendingPenalty accrues rejection/delay penalties received before the
	// first completed case, applied when the baseline is established.
	PendingPenalty float64
}

// AvgCompletionDays returns the mean assignment-to-completion time.
func (p PerfState) AvgCompletionDays() float64 {
	if p.CasesCompleted == 0 {
		return 0
	}
	return float64(p.ProcessingDaysTotal) / float64(p.CasesCompleted)
}
