package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/engine"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleCase(id string, createdAt time.Time) engine.Case {
	agencyID := engine.AgencyID("dca-1")
	assignedAt := createdAt.Add(time.Hour)
	return engine.Case{
		ID:               engine.CaseID(id),
		CustomerName:     "Acme Corp",
		CustomerEmail:    "finance@acme.test",
		CustomerPhone:    "+1-555-0100",
		OverdueAmount:    decimal.NewFromFloat(25000.50),
		AgeingDays:       45,
		Priority:         engine.PriorityP2,
		SLADue:           createdAt.AddDate(0, 0, 7),
		SLAStatus:        engine.SLAOnTrack,
		RecoveryScore:    0.7483,
		AgencyID:         &agencyID,
		AllocationReason: "highest performance score within capacity and debt range",
		AssignedAt:       &assignedAt,
		Status:           engine.StatusOpen,
		Notes:            "second reminder sent",
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

var baseTime = time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)

// =============================================================================
// CASE STORE TESTS
// =============================================================================

func TestStore_CaseRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := sampleCase("CASE-2026-000001", baseTime)

	require.NoError(t, store.SaveCase(ctx, c))

	got, err := store.GetCase(ctx, c.ID)
	require.NoError(t, err)

	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.CustomerName, got.CustomerName)
	assert.Equal(t, c.CustomerEmail, got.CustomerEmail)
	assert.True(t, got.OverdueAmount.Equal(c.OverdueAmount), "decimal survives the TEXT column")
	assert.Equal(t, c.AgeingDays, got.AgeingDays)
	assert.Equal(t, c.Priority, got.Priority)
	assert.True(t, got.SLADue.Equal(c.SLADue))
	assert.Equal(t, c.SLAStatus, got.SLAStatus)
	assert.Equal(t, c.RecoveryScore, got.RecoveryScore)
	require.NotNil(t, got.AgencyID)
	assert.Equal(t, *c.AgencyID, *got.AgencyID)
	require.NotNil(t, got.AssignedAt)
	assert.True(t, got.AssignedAt.Equal(*c.AssignedAt))
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, c.Status, got.Status)
	assert.Equal(t, c.Notes, got.Notes)
}

func TestStore_SaveCase_Upserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	c := sampleCase("CASE-2026-000001", baseTime)
	require.NoError(t, store.SaveCase(ctx, c))

	completedAt := baseTime.Add(72 * time.Hour)
	c.Status = engine.StatusClosed
	c.CompletedAt = &completedAt
	c.Escalated = true
	c.EscalationReason = "customer unreachable"
	require.NoError(t, store.SaveCase(ctx, c))

	got, err := store.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusClosed, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completedAt))
	assert.True(t, got.Escalated)
	assert.Equal(t, "customer unreachable", got.EscalationReason)
}

func TestStore_GetCase_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetCase(context.Background(), "CASE-2026-999999")
	assert.ErrorIs(t, err, engine.ErrCaseNotFound)
}

func TestStore_ListCases_FilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := sampleCase("CASE-2026-000001", baseTime)
	newer := sampleCase("CASE-2026-000002", baseTime.Add(time.Hour))
	newer.Status = engine.StatusInProgress
	require.NoError(t, store.SaveCase(ctx, older))
	require.NoError(t, store.SaveCase(ctx, newer))

	all, err := store.ListCases(ctx, engine.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID, "newest first")
	assert.Equal(t, older.ID, all[1].ID)

	open := engine.StatusOpen
	filtered, err := store.ListCases(ctx, engine.CaseFilter{Status: &open})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, older.ID, filtered[0].ID)

	limited, err := store.ListCases(ctx, engine.CaseFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, newer.ID, limited[0].ID)
}

func TestStore_NextCaseSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NextCaseSequence(ctx, 2026)
	require.NoError(t, err)
	second, err := store.NextCaseSequence(ctx, 2026)
	require.NoError(t, err)
	otherYear, err := store.NextCaseSequence(ctx, 2027)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, otherYear, "sequences are per year")
}

// =============================================================================
// AGENCY STORE TESTS
// =============================================================================

func TestStore_AgencyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := engine.Agency{
		ID:            "dca-1",
		Name:          "Northwind Collections",
		ContactPerson: "J. Reyes",
		Email:         "ops@northwind.test",
		Capacity:      25,
		ActiveCases:   4,
		MinDebt:       decimal.NewFromInt(1000),
		MaxDebt:       decimal.NewFromInt(75000),
		Active:        true,
		Performance: engine.PerfState{
			Score:               engine.DeterminedScore(87.5),
			CasesCompleted:      12,
			CasesRejected:       2,
			Delays:              3,
			ProcessingDaysTotal: 84,
		},
		CreatedAt: baseTime,
	}
	require.NoError(t, store.SaveAgency(ctx, a))

	loaded, err := store.LoadAgencies(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, 25, got.Capacity)
	assert.Equal(t, 4, got.ActiveCases)
	assert.True(t, got.MinDebt.Equal(a.MinDebt))
	assert.True(t, got.MaxDebt.Equal(a.MaxDebt))
	assert.True(t, got.Active)
	assert.Equal(t, a.Performance, got.Performance)
	assert.Equal(t, 7.0, got.Performance.AvgCompletionDays())
}

func TestStore_AgencyUndeterminedScoreSurvivesRestart(t *testing.T) {
	// An unproven agency's "TBD" score and its accrued pre-baseline
	// penalties must come back exactly as they went in.
	store := newTestStore(t)
	ctx := context.Background()

	a := engine.Agency{
		ID:       "dca-2",
		Name:     "Fresh Collections",
		Capacity: 5,
		MinDebt:  decimal.Zero,
		MaxDebt:  decimal.NewFromInt(10000),
		Active:   true,
		Performance: engine.PerfState{
			CasesRejected:  1,
			PendingPenalty: 5,
		},
		CreatedAt: baseTime,
	}
	require.NoError(t, store.SaveAgency(ctx, a))

	loaded, err := store.LoadAgencies(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	assert.False(t, loaded[0].Performance.Score.IsDetermined())
	assert.Equal(t, "TBD", loaded[0].Performance.Score.String())
	assert.Equal(t, 5.0, loaded[0].Performance.PendingPenalty)
}

// =============================================================================
// AUDIT RECORDER TESTS
// =============================================================================

func TestStore_AuditAppendAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	caseID := engine.CaseID("CASE-2026-000001")

	entries := []engine.AuditEntry{
		{
			ID: "e1", ActorID: "ops", CaseID: &caseID,
			Action: engine.AuditCaseCreated, Description: "created",
			Timestamp: baseTime,
		},
		{
			ID: "e2", ActorID: "agent-7", CaseID: &caseID,
			Action: engine.AuditCaseStarted, Description: "started",
			OldValue: "Open", NewValue: "In Progress",
			Timestamp: baseTime.Add(time.Hour),
		},
		{
			ID: "e3", ActorID: "ops",
			Action: engine.AuditSLARefreshed, Description: "refresh run",
			Timestamp: baseTime.Add(2 * time.Hour),
		},
	}
	for _, e := range entries {
		require.NoError(t, store.Append(ctx, e))
	}

	all, err := store.Query(ctx, engine.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e1", all[0].ID, "timestamp ascending")
	assert.Equal(t, "e3", all[2].ID)
	assert.Nil(t, all[2].CaseID)

	byCase, err := store.Query(ctx, engine.AuditFilter{CaseID: &caseID})
	require.NoError(t, err)
	assert.Len(t, byCase, 2)

	byAction, err := store.Query(ctx, engine.AuditFilter{
		Actions: []engine.AuditAction{engine.AuditCaseStarted},
	})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "In Progress", byAction[0].NewValue)

	from := baseTime.Add(90 * time.Minute)
	recent, err := store.Query(ctx, engine.AuditFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "e3", recent[0].ID)
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestStore_SettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.False(t, found, "fresh database has no settings document")

	require.NoError(t, store.SaveSettings(ctx, `{"p2_amount_threshold": 25000}`))
	require.NoError(t, store.SaveSettings(ctx, `{"p2_amount_threshold": 30000}`))

	document, found, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"p2_amount_threshold": 30000}`, document, "latest write wins")
}
