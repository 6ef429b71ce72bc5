// Package store provides in-memory implementations of the engine's
// persistence interfaces, used by tests and development servers.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/allocation-engine/engine"
)

// =============================================================================
// MEMORY - In-memory CaseStore + AgencyStore + AuditRecorder
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	cases     map[engine.CaseID]engine.Case
	agencies  map[engine.AgencyID]engine.Agency
	audit     []engine.AuditEntry
	sequences map[int]int
}

func NewMemory() *Memory {
	return &Memory{
		cases:     make(map[engine.CaseID]engine.Case),
		agencies:  make(map[engine.AgencyID]engine.Agency),
		sequences: make(map[int]int),
	}
}

// =============================================================================
// CASE STORE
// =============================================================================

func (m *Memory) SaveCase(_ context.Context, c engine.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.ID] = c
	return nil
}

func (m *Memory) GetCase(_ context.Context, id engine.CaseID) (engine.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return engine.Case{}, engine.ErrCaseNotFound
	}
	return c, nil
}

func (m *Memory) ListCases(_ context.Context, filter engine.CaseFilter) ([]engine.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.Case
	for _, c := range m.cases {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	// Newest first, ID as the deterministic tie-break.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) NextCaseSequence(_ context.Context, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[year]++
	return m.sequences[year], nil
}

// =============================================================================
// AGENCY STORE
// =============================================================================

func (m *Memory) SaveAgency(_ context.Context, a engine.Agency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agencies[a.ID] = a
	return nil
}

func (m *Memory) LoadAgencies(_ context.Context) ([]engine.Agency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.Agency, 0, len(m.agencies))
	for _, a := range m.agencies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// AUDIT RECORDER - Append-only
// =============================================================================

func (m *Memory) Append(_ context.Context, entry engine.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) Query(_ context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []engine.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	// Timestamp ascending; append order breaks ties so replays are stable.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
