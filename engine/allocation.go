/*
allocation.go - Selecting the best eligible agency for a case

PURPOSE:
  Given a case amount, pick one agency from the registry's eligible set and
  reserve a slot on it. The ranking is stable and side-effect-free; the
  reservation is the only mutation and is atomic against the agency's
  counter, so two concurrent allocations cannot double-book the last slot.

RANKING:
  Composite key over the eligible snapshots:
    1. performance score descending; Undetermined ranks below any
       determined score (unproven agencies are tried last)
    2. spare capacity fraction (capacity - active) / capacity descending
    3. agency ID ascending (deterministic tie-break)

RACES:
  Ranking works on snapshots, so a candidate can fill up between ranking
  and reservation. A lost reservation returns CapacityExceeded and the
  engine retries against the next-ranked candidate; the retry is bounded by
  the candidate list.

MANUAL ASSIGNMENT:
  An explicit agency ID bypasses ranking but still validates eligibility
  and still reserves the slot. An ineligible request fails with
  AgencyIneligible; there is no silent fallback to automatic selection.

SEE ALSO:
  - registry.go: ListEligible and the ReserveSlot critical section
  - lifecycle.go: Invokes Allocate during case creation
*/
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALLOCATOR
// =============================================================================

type Allocator struct {
	Registry *Registry
}

func NewAllocator(registry *Registry) *Allocator {
	return &Allocator{Registry: registry}
}

// Decision is the outcome of a successful allocation.
type Decision struct {
	AgencyID  AgencyID
	Rationale string
	// Manual is true when the caller supplied the agency explicitly.
	Manual bool
}

// Allocate picks the top-ranked eligible agency for the amount and reserves
// a slot on it. Returns NoEligibleAgency when the eligible set is empty or
// every candidate filled up before the reservation committed.
func (al *Allocator) Allocate(ctx context.Context, amount decimal.Decimal, exclude *AgencyID) (Decision, error) {
	candidates := al.Registry.ListEligible(amount)
	if exclude != nil {
		candidates = withoutAgency(candidates, *exclude)
	}
	if len(candidates) == 0 {
		return Decision{}, ErrNoEligibleAgency
	}

	rankCandidates(candidates)

	// Bounded retry: each candidate is attempted at most once, so a burst
	// of concurrent allocations drains down the ranking instead of spinning.
	for _, candidate := range candidates {
		err := al.Registry.ReserveSlot(ctx, candidate.ID)
		if err == nil {
			return Decision{
				AgencyID:  candidate.ID,
				Rationale: rationaleFor(candidate),
			}, nil
		}
		if IsRetryable(err) {
			continue
		}
		return Decision{}, err
	}
	return Decision{}, fmt.Errorf("all %d eligible agencies filled before reservation: %w",
		len(candidates), ErrNoEligibleAgency)
}

// AllocateManual assigns the explicitly requested agency after validating
// eligibility. Ranking is bypassed; the reservation is not.
func (al *Allocator) AllocateManual(ctx context.Context, amount decimal.Decimal, agencyID AgencyID) (Decision, error) {
	snap, err := al.Registry.Snapshot(agencyID)
	if err != nil {
		return Decision{}, err
	}
	if !snap.Active {
		return Decision{}, &IneligibleAgencyError{AgencyID: agencyID, Reason: "agency is deactivated"}
	}
	if !snap.AcceptsAmount(amount) {
		return Decision{}, &IneligibleAgencyError{
			AgencyID: agencyID,
			Reason:   fmt.Sprintf("amount %s outside debt range [%s, %s]", amount, snap.MinDebt, snap.MaxDebt),
		}
	}
	if err := al.Registry.ReserveSlot(ctx, agencyID); err != nil {
		return Decision{}, err
	}
	return Decision{
		AgencyID:  agencyID,
		Rationale: fmt.Sprintf("manually assigned to %s", snap.Name),
		Manual:    true,
	}, nil
}

// =============================================================================
// RANKING
// =============================================================================

// rankCandidates sorts in place by the composite key. The sort is stable in
// effect because the final key (agency ID) is unique.
func rankCandidates(candidates []Agency) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Performance.Score != b.Performance.Score {
			return b.Performance.Score.Less(a.Performance.Score)
		}
		af, bf := a.SpareCapacityFraction(), b.SpareCapacityFraction()
		if af != bf {
			return af > bf
		}
		return a.ID < b.ID
	})
}

func rationaleFor(winner Agency) string {
	if value, ok := winner.Performance.Score.Value(); ok {
		return fmt.Sprintf("highest performance score within capacity and debt range (score: %.1f)", value)
	}
	return fmt.Sprintf("unproven agency with most headroom (%d of %d slots free)",
		winner.Capacity-winner.ActiveCases, winner.Capacity)
}

func withoutAgency(agencies []Agency, id AgencyID) []Agency {
	out := agencies[:0]
	for _, a := range agencies {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}
