package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// establishScore drives an agency's performance to a determined value by
// replaying outcomes through the registry. A lone on-track completion lands
// at 100; each rejection afterwards subtracts the default 5.
func establishScore(t *testing.T, r *engine.Registry, id engine.AgencyID, rejections int) {
	t.Helper()
	ctx := context.Background()
	cfg := defaultConfig(t)

	_, err := r.RecordOutcome(ctx, id, cfg, engine.Outcome{
		Kind:                  engine.OutcomeCompleted,
		ProcessingDays:        7,
		SLAStatusAtCompletion: engine.SLAOnTrack,
	})
	require.NoError(t, err)
	for i := 0; i < rejections; i++ {
		_, err := r.RecordOutcome(ctx, id, cfg, engine.Outcome{Kind: engine.OutcomeRejected})
		require.NoError(t, err)
	}
}

// =============================================================================
// RANKING TESTS
// =============================================================================

func TestAllocator_PrefersHigherScore(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-a", 10, 0, 50000))
	mustRegister(t, r, newAgency("dca-b", 10, 0, 50000))

	establishScore(t, r, "dca-a", 2) // 90
	establishScore(t, r, "dca-b", 0) // 100

	d, err := al.Allocate(context.Background(), amount(5000), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.AgencyID("dca-b"), d.AgencyID)
	assert.False(t, d.Manual)
}

func TestAllocator_DeterminedScoreBeatsUndetermined(t *testing.T) {
	// GIVEN: Agency A holds a modest determined score, agency B is unproven
	// THEN: A wins even though B's "no data" might hide a better performer

	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-a", 10, 0, 50000))
	mustRegister(t, r, newAgency("dca-b", 10, 0, 50000))

	establishScore(t, r, "dca-a", 5) // 75, but proven

	d, err := al.Allocate(context.Background(), amount(5000), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.AgencyID("dca-a"), d.AgencyID)
}

func TestAllocator_SpareCapacityBreaksScoreTies(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	ctx := context.Background()
	mustRegister(t, r, newAgency("dca-a", 4, 0, 50000))
	mustRegister(t, r, newAgency("dca-b", 4, 0, 50000))

	// Both undetermined; load dca-a to 2/4 so dca-b has the larger spare
	// fraction.
	require.NoError(t, r.ReserveSlot(ctx, "dca-a"))
	require.NoError(t, r.ReserveSlot(ctx, "dca-a"))

	d, err := al.Allocate(ctx, amount(5000), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.AgencyID("dca-b"), d.AgencyID)
}

func TestAllocator_IDBreaksFullTies(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-b", 4, 0, 50000))
	mustRegister(t, r, newAgency("dca-a", 4, 0, 50000))

	d, err := al.Allocate(context.Background(), amount(5000), nil)
	require.NoError(t, err)
	assert.Equal(t, engine.AgencyID("dca-a"), d.AgencyID, "deterministic tie-break by ID")
}

// =============================================================================
// ELIGIBILITY AND FAILURE TESTS
// =============================================================================

func TestAllocator_NoEligibleAgency(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-1", 10, 0, 10000))

	_, err := al.Allocate(context.Background(), amount(50000), nil)
	assert.ErrorIs(t, err, engine.ErrNoEligibleAgency)
}

func TestAllocator_ReservationCommits(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-1", 1, 0, 50000))
	ctx := context.Background()

	_, err := al.Allocate(ctx, amount(5000), nil)
	require.NoError(t, err)

	// The only slot is taken; the next allocation finds nobody.
	_, err = al.Allocate(ctx, amount(5000), nil)
	assert.ErrorIs(t, err, engine.ErrNoEligibleAgency)
}

func TestAllocator_ExcludeSkipsAgency(t *testing.T) {
	// Requeue after rejection must not hand the case back to the rejecting
	// agency even when it ranks first.
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-a", 10, 0, 50000))
	mustRegister(t, r, newAgency("dca-b", 10, 0, 50000))
	establishScore(t, r, "dca-a", 0) // top ranked

	exclude := engine.AgencyID("dca-a")
	d, err := al.Allocate(context.Background(), amount(5000), &exclude)
	require.NoError(t, err)
	assert.Equal(t, engine.AgencyID("dca-b"), d.AgencyID)
}

// =============================================================================
// MANUAL ALLOCATION TESTS
// =============================================================================

func TestAllocator_Manual(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-a", 10, 0, 50000))
	mustRegister(t, r, newAgency("dca-b", 10, 0, 50000))
	establishScore(t, r, "dca-b", 0) // auto-ranking would pick dca-b

	d, err := al.AllocateManual(context.Background(), amount(5000), "dca-a")
	require.NoError(t, err)
	assert.Equal(t, engine.AgencyID("dca-a"), d.AgencyID)
	assert.True(t, d.Manual)

	snap, err := r.Snapshot("dca-a")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ActiveCases, "manual assignment still reserves a slot")
}

func TestAllocator_Manual_OutsideDebtRange(t *testing.T) {
	// No silent fallback to automatic selection: the caller's choice either
	// sticks or the allocation fails.
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	mustRegister(t, r, newAgency("dca-a", 10, 0, 10000))
	mustRegister(t, r, newAgency("dca-b", 10, 0, 100000))

	_, err := al.AllocateManual(context.Background(), amount(50000), "dca-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrAgencyIneligible)

	var inelErr *engine.IneligibleAgencyError
	require.ErrorAs(t, err, &inelErr)
	assert.Equal(t, engine.AgencyID("dca-a"), inelErr.AgencyID)
}

func TestAllocator_Manual_DeactivatedAgency(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	ctx := context.Background()
	mustRegister(t, r, newAgency("dca-a", 10, 0, 50000))
	_, err := r.Deactivate(ctx, "dca-a")
	require.NoError(t, err)

	_, err = al.AllocateManual(ctx, amount(5000), "dca-a")
	assert.ErrorIs(t, err, engine.ErrAgencyIneligible)
}

func TestAllocator_Manual_AtCapacity(t *testing.T) {
	r := engine.NewRegistry(nil)
	al := engine.NewAllocator(r)
	ctx := context.Background()
	mustRegister(t, r, newAgency("dca-a", 1, 0, 50000))
	require.NoError(t, r.ReserveSlot(ctx, "dca-a"))

	_, err := al.AllocateManual(ctx, amount(5000), "dca-a")
	assert.ErrorIs(t, err, engine.ErrCapacityExceeded)
}
