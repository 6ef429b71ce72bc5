/*
Package factory provides JSON to Go configuration conversion.

PURPOSE:
  Converts JSON settings documents into engine.Config snapshots. This
  enables threshold tuning without code changes - operators edit settings
  in the admin UI, and the factory builds a validated snapshot.

WHY JSON?
  - Non-developers can retune thresholds
  - Easy integration with the settings surface
  - Database storage of the live settings document

JSON SCHEMA:
  {
    "p1_amount_threshold": 50000,
    "p1_ageing_threshold": 90,
    "p2_amount_threshold": 20000,
    "p2_ageing_threshold": 60,
    "p1_sla_days": 3,
    "p2_sla_days": 7,
    "p3_sla_days": 14,
    "rejection_penalty_percent": 5,
    "delay_penalty_percent": 3,
    "breach_penalty_percent": 5,
    "processing_threshold_days": 10,
    "processing_penalty_per_day": 2,
    "quick_completion_days": 5,
    "quick_completion_bonus": 5,
    "allow_unassigned": false,
    "requeue_on_rejection": true,
    "auto_allocation_enabled": true
  }

  Omitted fields keep their current value, so a partial update document
  works the way the settings form expects.

VALIDATION:
  Parse validates the resulting snapshot; malformed settings are rejected
  at load time with ConfigError, never at scoring time.

SEE ALSO:
  - engine/config.go: Config definition and Validate
  - api: The settings endpoints using this factory
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/allocation-engine/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettingsJSON is the JSON representation of the tunable settings. Pointer
// fields distinguish "absent" from "zero" for partial updates.
type SettingsJSON struct {
	P1AmountThreshold *float64 `json:"p1_amount_threshold,omitempty"`
	P1AgeingThreshold *int     `json:"p1_ageing_threshold,omitempty"`
	P2AmountThreshold *float64 `json:"p2_amount_threshold,omitempty"`
	P2AgeingThreshold *int     `json:"p2_ageing_threshold,omitempty"`

	P1SLADays *int `json:"p1_sla_days,omitempty"`
	P2SLADays *int `json:"p2_sla_days,omitempty"`
	P3SLADays *int `json:"p3_sla_days,omitempty"`

	AtRiskWindowHours *int `json:"at_risk_window_hours,omitempty"`

	RejectionPenaltyPercent *float64 `json:"rejection_penalty_percent,omitempty"`
	DelayPenaltyPercent     *float64 `json:"delay_penalty_percent,omitempty"`
	BreachPenaltyPercent    *float64 `json:"breach_penalty_percent,omitempty"`
	ProcessingThresholdDays *int     `json:"processing_threshold_days,omitempty"`
	ProcessingPenaltyPerDay *float64 `json:"processing_penalty_per_day,omitempty"`
	QuickCompletionDays     *int     `json:"quick_completion_days,omitempty"`
	QuickCompletionBonus    *float64 `json:"quick_completion_bonus,omitempty"`

	AllowUnassigned       *bool `json:"allow_unassigned,omitempty"`
	RequeueOnRejection    *bool `json:"requeue_on_rejection,omitempty"`
	AutoAllocationEnabled *bool `json:"auto_allocation_enabled,omitempty"`
}

// =============================================================================
// SETTINGS FACTORY
// =============================================================================

type SettingsFactory struct{}

func NewSettingsFactory() *SettingsFactory {
	return &SettingsFactory{}
}

// Parse applies a JSON settings document on top of base and validates the
// result. The returned Config keeps base's version; the Holder assigns the
// next version on install.
func (f *SettingsFactory) Parse(jsonStr string, base engine.Config) (engine.Config, error) {
	var doc SettingsJSON
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return engine.Config{}, fmt.Errorf("parsing settings JSON: %w", err)
	}
	return f.Apply(doc, base)
}

// Apply merges a parsed document on top of base and validates the result.
func (f *SettingsFactory) Apply(doc SettingsJSON, base engine.Config) (engine.Config, error) {
	cfg := base

	if doc.P1AmountThreshold != nil {
		cfg.P1Amount = decimal.NewFromFloat(*doc.P1AmountThreshold)
	}
	if doc.P1AgeingThreshold != nil {
		cfg.P1AgeingDays = *doc.P1AgeingThreshold
	}
	if doc.P2AmountThreshold != nil {
		cfg.P2Amount = decimal.NewFromFloat(*doc.P2AmountThreshold)
	}
	if doc.P2AgeingThreshold != nil {
		cfg.P2AgeingDays = *doc.P2AgeingThreshold
	}

	if doc.P1SLADays != nil {
		cfg.SLADaysP1 = *doc.P1SLADays
	}
	if doc.P2SLADays != nil {
		cfg.SLADaysP2 = *doc.P2SLADays
	}
	if doc.P3SLADays != nil {
		cfg.SLADaysP3 = *doc.P3SLADays
	}

	if doc.AtRiskWindowHours != nil {
		cfg.AtRiskWindow = time.Duration(*doc.AtRiskWindowHours) * time.Hour
	}

	if doc.RejectionPenaltyPercent != nil {
		cfg.RejectionPenalty = *doc.RejectionPenaltyPercent
	}
	if doc.DelayPenaltyPercent != nil {
		cfg.DelayPenalty = *doc.DelayPenaltyPercent
	}
	if doc.BreachPenaltyPercent != nil {
		cfg.BreachPenalty = *doc.BreachPenaltyPercent
	}
	if doc.ProcessingThresholdDays != nil {
		cfg.ProcessingThresholdDays = *doc.ProcessingThresholdDays
	}
	if doc.ProcessingPenaltyPerDay != nil {
		cfg.ProcessingPenaltyPerDay = *doc.ProcessingPenaltyPerDay
	}
	if doc.QuickCompletionDays != nil {
		cfg.QuickCompletionDays = *doc.QuickCompletionDays
	}
	if doc.QuickCompletionBonus != nil {
		cfg.QuickCompletionBonus = *doc.QuickCompletionBonus
	}

	if doc.AllowUnassigned != nil {
		cfg.AllowUnassigned = *doc.AllowUnassigned
	}
	if doc.RequeueOnRejection != nil {
		cfg.RequeueOnRejection = *doc.RequeueOnRejection
	}
	if doc.AutoAllocationEnabled != nil {
		cfg.AutoAllocationEnabled = *doc.AutoAllocationEnabled
	}

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// Render serializes a Config back into the full settings document.
func (f *SettingsFactory) Render(cfg engine.Config) SettingsJSON {
	p1Amount, _ := cfg.P1Amount.Float64()
	p2Amount, _ := cfg.P2Amount.Float64()
	atRiskHours := int(cfg.AtRiskWindow / time.Hour)

	return SettingsJSON{
		P1AmountThreshold: &p1Amount,
		P1AgeingThreshold: &cfg.P1AgeingDays,
		P2AmountThreshold: &p2Amount,
		P2AgeingThreshold: &cfg.P2AgeingDays,

		P1SLADays: &cfg.SLADaysP1,
		P2SLADays: &cfg.SLADaysP2,
		P3SLADays: &cfg.SLADaysP3,

		AtRiskWindowHours: &atRiskHours,

		RejectionPenaltyPercent: &cfg.RejectionPenalty,
		DelayPenaltyPercent:     &cfg.DelayPenalty,
		BreachPenaltyPercent:    &cfg.BreachPenalty,
		ProcessingThresholdDays: &cfg.ProcessingThresholdDays,
		ProcessingPenaltyPerDay: &cfg.ProcessingPenaltyPerDay,
		QuickCompletionDays:     &cfg.QuickCompletionDays,
		QuickCompletionBonus:    &cfg.QuickCompletionBonus,

		AllowUnassigned:       &cfg.AllowUnassigned,
		RequeueOnRejection:    &cfg.RequeueOnRejection,
		AutoAllocationEnabled: &cfg.AutoAllocationEnabled,
	}
}
