/*
scoring.go - Priority classification, SLA deadlines and recovery prediction

PURPOSE:
  Pure functions from case attributes to priority tier, SLA deadline and
  recovery likelihood. No side effects; the only failure mode is input
  validation.

CLASSIFICATION POLICY:
  Thresholds fire in order, amount checked before ageing at each tier:
    amount >= P1Amount OR ageing >= P1AgeingDays  -> P1
    amount >= P2Amount OR ageing >= P2AgeingDays  -> P2
    otherwise                                     -> P3
  The SLA deadline is creation time plus the tier's configured day-count
  and is fixed for the life of the case.

RECOVERY SCORING:
  RecoveryScorer is a capability interface so a trained model can be
  plugged in later. HeuristicScorer is the deterministic default: the
  score decreases monotonically with amount and ageing, weighted 40/60.

SEE ALSO:
  - config.go: Threshold and SLA tunables
  - lifecycle.go: Calls Classify and the scorer at case creation
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidateAttributes rejects bad creation input before any state change.
func ValidateAttributes(attrs CaseAttributes) error {
	if attrs.CustomerName == "" {
		return &InvalidAttributesError{Field: "customer_name", Message: "must not be empty"}
	}
	if !attrs.OverdueAmount.IsPositive() {
		return &InvalidAttributesError{Field: "overdue_amount", Message: "must be greater than zero"}
	}
	if attrs.AgeingDays < 0 {
		return &InvalidAttributesError{Field: "ageing_days", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify returns the priority tier and the SLA deadline for a case
// created at createdAt. The deadline equals createdAt plus the configured
// day-count for the tier.
func Classify(amount decimal.Decimal, ageingDays int, createdAt time.Time, cfg *Config) (Priority, time.Time) {
	tier := classifyPriority(amount, ageingDays, cfg)
	due := createdAt.AddDate(0, 0, cfg.SLADays(tier))
	return tier, due
}

func classifyPriority(amount decimal.Decimal, ageingDays int, cfg *Config) Priority {
	switch {
	case amount.GreaterThanOrEqual(cfg.P1Amount) || ageingDays >= cfg.P1AgeingDays:
		return PriorityP1
	case amount.GreaterThanOrEqual(cfg.P2Amount) || ageingDays >= cfg.P2AgeingDays:
		return PriorityP2
	default:
		return PriorityP3
	}
}

// SLAStatusAt derives the SLA status of a deadline as seen at a point in
// time: Breached past due, At Risk inside the configured window, else On
// Track. Derived on read, never stored authoritatively.
func SLAStatusAt(slaDue, now time.Time, cfg *Config) SLAStatus {
	remaining := slaDue.Sub(now)
	switch {
	case remaining < 0:
		return SLABreached
	case remaining < cfg.AtRiskWindow:
		return SLAAtRisk
	default:
		return SLAOnTrack
	}
}

// =============================================================================
// RECOVERY SCORER - Pluggable prediction capability
// =============================================================================

// RecoveryScorer predicts the likelihood in [0, 1] that a case's debt will
// be recovered. Implementations must be deterministic for the same input
// and safe for concurrent use.
type RecoveryScorer interface {
	PredictRecovery(amount decimal.Decimal, ageingDays int) float64
}

// HeuristicScorer is the default deterministic scorer. It normalizes amount
// and ageing against fixed scales and combines them with ageing weighted
// slightly heavier, so the engine is testable without an external model.
type HeuristicScorer struct {
	// AmountScale and AgeingScale are the normalization ceilings. Zero
	// values fall back to the defaults (100000 and 180 days).
	AmountScale decimal.Decimal
	AgeingScale int
}

const (
	defaultAmountScale = 100000
	defaultAgeingScale = 180
)

func (h HeuristicScorer) PredictRecovery(amount decimal.Decimal, ageingDays int) float64 {
	amountScale := h.AmountScale
	if !amountScale.IsPositive() {
		amountScale = decimal.NewFromInt(defaultAmountScale)
	}
	ageingScale := h.AgeingScale
	if ageingScale <= 0 {
		ageingScale = defaultAgeingScale
	}

	amountRatio, _ := amount.Div(amountScale).Float64()
	amountFactor := clamp01(1 - amountRatio)
	ageingFactor := clamp01(1 - float64(ageingDays)/float64(ageingScale))

	score := amountFactor*0.4 + ageingFactor*0.6
	return roundTo4(clamp01(score))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundTo4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}
