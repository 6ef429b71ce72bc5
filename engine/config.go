/*
config.go - Tunable thresholds as immutable, versioned snapshots

PURPOSE:
  Every threshold an operator can retune at runtime lives here: priority
  cutoffs, SLA day-counts per tier, performance penalties, and the policy
  flags that must be explicit rather than accidental defaults.

SNAPSHOT SEMANTICS:
  A Config is immutable once built. Reload produces a NEW snapshot with a
  bumped Version; in-flight allocations keep the snapshot they started with,
  so a settings change never races a half-finished decision. The Holder is
  the single swap point.

VALIDATION:
  Bad values (negative penalties, inverted thresholds, zero SLA days) are
  rejected at load time via Validate(), never at scoring time.

SEE ALSO:
  - factory/settings.go: Parses operator JSON into a Config
  - scoring.go: Consumes the classification thresholds
  - performance.go: Consumes the penalty parameters
*/
package engine

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG - One immutable snapshot of all tunables
// =============================================================================

type Config struct {
	// Version increments on every reload. Audit entries record which
	// snapshot a decision was made under.
	Version int

	// Priority classification thresholds. A case is P1 when amount >=
	// P1Amount OR ageing >= P1AgeingDays (amount checked first), P2 by the
	// analogous mid thresholds, else P3.
	P1Amount     decimal.Decimal
	P1AgeingDays int
	P2Amount     decimal.Decimal
	P2AgeingDays int

	// SLA day-counts per tier. P1 shortest, P3 longest.
	SLADaysP1 int
	SLADaysP2 int
	SLADaysP3 int

	// AtRiskWindow is how close to the SLA deadline a case turns At Risk.
	AtRiskWindow time.Duration

	// Performance score parameters (percentage points).
	RejectionPenalty        float64
	DelayPenalty            float64
	BreachPenalty           float64
	ProcessingThresholdDays int
	ProcessingPenaltyPerDay float64
	QuickCompletionDays     int
	QuickCompletionBonus    float64

	// Policy flags. These are deliberate decisions, not fallbacks:
	// AllowUnassigned permits case creation when no agency is eligible
	// (the case is created without an assignment); when false, creation
	// fails with NoEligibleAgency. RequeueOnRejection reallocates a
	// rejected case to another agency instead of terminating it.
	AllowUnassigned    bool
	RequeueOnRejection bool

	// AutoAllocationEnabled gates automatic selection. Manual assignment
	// always works regardless.
	AutoAllocationEnabled bool
}

// DefaultConfig returns the stock tuning: P1 at 50k/90d, P2 at 20k/60d,
// SLA 3/7/14 days, and the standard penalty schedule.
func DefaultConfig() Config {
	return Config{
		Version:      1,
		P1Amount:     decimal.NewFromInt(50000),
		P1AgeingDays: 90,
		P2Amount:     decimal.NewFromInt(20000),
		P2AgeingDays: 60,

		SLADaysP1: 3,
		SLADaysP2: 7,
		SLADaysP3: 14,

		AtRiskWindow: 24 * time.Hour,

		RejectionPenalty:        5.0,
		DelayPenalty:            3.0,
		BreachPenalty:           5.0,
		ProcessingThresholdDays: 10,
		ProcessingPenaltyPerDay: 2.0,
		QuickCompletionDays:     5,
		QuickCompletionBonus:    5.0,

		AllowUnassigned:       false,
		RequeueOnRejection:    true,
		AutoAllocationEnabled: true,
	}
}

// SLADays returns the configured day-count for a tier.
func (c *Config) SLADays(p Priority) int {
	switch p {
	case PriorityP1:
		return c.SLADaysP1
	case PriorityP2:
		return c.SLADaysP2
	default:
		return c.SLADaysP3
	}
}

// Validate rejects malformed configuration at load time.
func (c *Config) Validate() error {
	if c.P1Amount.LessThanOrEqual(c.P2Amount) {
		return &ConfigError{Field: "p1_amount_threshold", Message: "must exceed p2_amount_threshold"}
	}
	if c.P1AgeingDays <= c.P2AgeingDays {
		return &ConfigError{Field: "p1_ageing_threshold", Message: "must exceed p2_ageing_threshold"}
	}
	if c.P2Amount.IsNegative() {
		return &ConfigError{Field: "p2_amount_threshold", Message: "must not be negative"}
	}
	if c.P2AgeingDays < 0 {
		return &ConfigError{Field: "p2_ageing_threshold", Message: "must not be negative"}
	}
	if c.SLADaysP1 <= 0 || c.SLADaysP2 <= 0 || c.SLADaysP3 <= 0 {
		return &ConfigError{Field: "sla_days", Message: "must be positive for every tier"}
	}
	if c.SLADaysP1 > c.SLADaysP2 || c.SLADaysP2 > c.SLADaysP3 {
		return &ConfigError{Field: "sla_days", Message: "must be non-decreasing from P1 to P3"}
	}
	if c.AtRiskWindow < 0 {
		return &ConfigError{Field: "at_risk_window", Message: "must not be negative"}
	}
	for field, v := range map[string]float64{
		"rejection_penalty_percent":  c.RejectionPenalty,
		"delay_penalty_percent":      c.DelayPenalty,
		"breach_penalty_percent":     c.BreachPenalty,
		"processing_penalty_per_day": c.ProcessingPenaltyPerDay,
		"quick_completion_bonus":     c.QuickCompletionBonus,
	} {
		if v < 0 {
			return &ConfigError{Field: field, Message: "must not be negative"}
		}
	}
	if c.ProcessingThresholdDays < 0 {
		return &ConfigError{Field: "processing_threshold_days", Message: "must not be negative"}
	}
	if c.QuickCompletionDays < 0 {
		return &ConfigError{Field: "quick_completion_days", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// HOLDER - Atomic snapshot swap point
// =============================================================================

// Holder publishes the current Config snapshot. Readers get a consistent
// snapshot; Replace swaps in a new one without mutating shared state.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder validates and installs the initial snapshot.
func NewHolder(cfg Config) (*Holder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Holder{}
	h.current.Store(&cfg)
	return h, nil
}

// Current returns the active snapshot. The pointer is read-only by contract.
func (h *Holder) Current() *Config {
	return h.current.Load()
}

// Replace validates cfg, assigns it the next version and installs it.
func (h *Holder) Replace(cfg Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Version = h.current.Load().Version + 1
	h.current.Store(&cfg)
	return &cfg, nil
}
