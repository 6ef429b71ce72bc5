/*
registry.go - Agency records, capacity reservation and outcome accrual

PURPOSE:
  The registry is the leaf data owner for Debt Collection Agencies. It is
  the ONLY place the capacity invariant is enforced: an agency's active-case
  count never exceeds its capacity, and a reservation beyond capacity is
  rejected, never clamped.

CONCURRENCY:
  Reservation and release on a given agency are serialized by a per-agency
  mutex, so two concurrent allocations cannot both observe spare capacity
  and both take the last slot. Ranking reads work on snapshots without a
  global write lock.

PERSISTENCE:
  The registry may be backed by an AgencyStore. Mutations persist
  synchronously under the agency lock; if the write fails the in-memory
  change is rolled back, keeping memory and store as one atomic unit.

SEE ALSO:
  - allocation.go: Ranks eligible snapshots and reserves the winner
  - performance.go: The Tracker applied by RecordOutcome
*/
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGENCY STORE - Optional durable backing
// =============================================================================

// AgencyStore persists agency records. Implementations must be safe for
// concurrent use.
type AgencyStore interface {
	SaveAgency(ctx context.Context, a Agency) error
	LoadAgencies(ctx context.Context) ([]Agency, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	mu       sync.RWMutex
	agencies map[AgencyID]*agencyState

	store   AgencyStore // nil = memory only
	tracker Tracker
	now     func() time.Time
}

// agencyState pairs a record with its own lock. The record is only read or
// written while holding mu.
type agencyState struct {
	mu  sync.Mutex
	rec Agency
}

// NewRegistry creates a registry. store may be nil for memory-only use.
func NewRegistry(store AgencyStore) *Registry {
	return &Registry{
		agencies: make(map[AgencyID]*agencyState),
		store:    store,
		now:      time.Now,
	}
}

// Hydrate loads persisted agencies into memory. Call once at startup.
func (r *Registry) Hydrate(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.LoadAgencies(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.agencies[rec.ID] = &agencyState{rec: rec}
	}
	return nil
}

// =============================================================================
// REGISTRATION AND EDITS
// =============================================================================

// Register adds a new agency. The record starts with zero active cases and
// an undetermined performance score.
func (r *Registry) Register(ctx context.Context, a Agency) (Agency, error) {
	if a.ID == "" {
		return Agency{}, &InvalidAttributesError{Field: "agency_id", Message: "must not be empty"}
	}
	if a.Capacity <= 0 {
		return Agency{}, &InvalidAttributesError{Field: "capacity", Message: "must be positive"}
	}
	if a.MaxDebt.LessThan(a.MinDebt) {
		return Agency{}, &InvalidAttributesError{Field: "max_debt_amount", Message: "must not be below min_debt_amount"}
	}

	a.ActiveCases = 0
	a.Performance = PerfState{}
	a.Active = true
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agencies[a.ID]; exists {
		return Agency{}, &InvalidAttributesError{Field: "agency_id", Message: "already registered"}
	}
	if err := r.persist(ctx, a); err != nil {
		return Agency{}, err
	}
	r.agencies[a.ID] = &agencyState{rec: a}
	return a, nil
}

// Update edits an agency record through fn. Capacity may not shrink below
// the current active-case count; that would break the invariant. The
// assignment counters and performance state are not editable here.
func (r *Registry) Update(ctx context.Context, id AgencyID, fn func(*Agency) error) (Agency, error) {
	st, err := r.state(id)
	if err != nil {
		return Agency{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	updated := st.rec
	if err := fn(&updated); err != nil {
		return Agency{}, err
	}
	// Invariant fields are not editable through Update.
	updated.ID = st.rec.ID
	updated.ActiveCases = st.rec.ActiveCases
	updated.Performance = st.rec.Performance
	updated.CreatedAt = st.rec.CreatedAt

	if updated.Capacity < st.rec.ActiveCases {
		return Agency{}, &InvalidAttributesError{Field: "capacity", Message: "below current active-case count"}
	}
	if updated.MaxDebt.LessThan(updated.MinDebt) {
		return Agency{}, &InvalidAttributesError{Field: "max_debt_amount", Message: "must not be below min_debt_amount"}
	}

	if err := r.persist(ctx, updated); err != nil {
		return Agency{}, err
	}
	st.rec = updated
	return updated, nil
}

// Deactivate flips the active flag off. Reversible; never a deletion.
// Already-assigned cases keep their assignment.
func (r *Registry) Deactivate(ctx context.Context, id AgencyID) (Agency, error) {
	return r.setActive(ctx, id, false)
}

// Reactivate flips the active flag back on.
func (r *Registry) Reactivate(ctx context.Context, id AgencyID) (Agency, error) {
	return r.setActive(ctx, id, true)
}

func (r *Registry) setActive(ctx context.Context, id AgencyID, active bool) (Agency, error) {
	st, err := r.state(id)
	if err != nil {
		return Agency{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	updated := st.rec
	updated.Active = active
	if err := r.persist(ctx, updated); err != nil {
		return Agency{}, err
	}
	st.rec = updated
	return updated, nil
}

// =============================================================================
// READS
// =============================================================================

// Snapshot returns a copy of an agency record.
func (r *Registry) Snapshot(id AgencyID) (Agency, error) {
	st, err := r.state(id)
	if err != nil {
		return Agency{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rec, nil
}

// List returns snapshots of all agencies, ordered by ID.
func (r *Registry) List() []Agency {
	r.mu.RLock()
	states := make([]*agencyState, 0, len(r.agencies))
	for _, st := range r.agencies {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]Agency, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.rec)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEligible returns snapshots of agencies that are active, have spare
// capacity, and accept the amount within their debt range.
func (r *Registry) ListEligible(amount decimal.Decimal) []Agency {
	var out []Agency
	for _, a := range r.List() {
		if a.Active && a.ActiveCases < a.Capacity && a.AcceptsAmount(amount) {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// CAPACITY - The serialized critical section
// =============================================================================

// ReserveSlot increments the active-case count, failing with
// CapacityExceeded if the agency is at capacity at commit time. This is the
// race guard: the check and increment happen under the agency's lock.
func (r *Registry) ReserveSlot(ctx context.Context, id AgencyID) error {
	st, err := r.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.rec.Active {
		return &IneligibleAgencyError{AgencyID: id, Reason: "agency is deactivated"}
	}
	if st.rec.ActiveCases >= st.rec.Capacity {
		return &CapacityError{AgencyID: id, Capacity: st.rec.Capacity}
	}

	updated := st.rec
	updated.ActiveCases++
	if err := r.persist(ctx, updated); err != nil {
		return err
	}
	st.rec = updated
	return nil
}

// ReleaseSlot decrements the active-case count on closure, rejection or
// reassignment. Floors at zero.
func (r *Registry) ReleaseSlot(ctx context.Context, id AgencyID) error {
	st, err := r.state(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	updated := st.rec
	if updated.ActiveCases > 0 {
		updated.ActiveCases--
	}
	if err := r.persist(ctx, updated); err != nil {
		return err
	}
	st.rec = updated
	return nil
}

// RecordOutcome folds a lifecycle outcome into the agency's performance
// state. Completion and rejection also release the capacity slot; a delay
// does not. Slot release and score update are one critical section, so a
// concurrent allocation sees a consistent record.
func (r *Registry) RecordOutcome(ctx context.Context, id AgencyID, cfg *Config, out Outcome) (Agency, error) {
	st, err := r.state(id)
	if err != nil {
		return Agency{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	updated := st.rec
	updated.Performance = r.tracker.Apply(updated.Performance, cfg, out)
	if out.Kind == OutcomeCompleted || out.Kind == OutcomeRejected {
		if updated.ActiveCases > 0 {
			updated.ActiveCases--
		}
	}
	if err := r.persist(ctx, updated); err != nil {
		return Agency{}, err
	}
	st.rec = updated
	return updated, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (r *Registry) state(id AgencyID) (*agencyState, error) {
	r.mu.RLock()
	st, ok := r.agencies[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAgencyNotFound
	}
	return st, nil
}

// persist writes through to the store. Called with the agency lock held so
// the durable record never lags a concurrent in-memory change.
func (r *Registry) persist(ctx context.Context, a Agency) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveAgency(ctx, a)
}
