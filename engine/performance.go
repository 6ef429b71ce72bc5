/*
performance.go - Rolling agency performance scoring

PURPOSE:
  Keeps each agency's performance score current as its cases complete,
  reject or slip. The score is a percentage with a tagged Undetermined
  state: an agency has no score until its first completed case.

SCORING MODEL:
  The first completed case establishes a 100% baseline. Every event then
  applies its configured adjustment incrementally:
    completion within QuickCompletionDays      +QuickCompletionBonus
    completion beyond ProcessingThresholdDays  -ProcessingPenaltyPerDay/day over
    completion while At Risk or Breached       -BreachPenalty
    rejection                                  -RejectionPenalty
    delay                                      -DelayPenalty
  Rejections and delays that arrive before the first completion accrue and
  are charged when the baseline is established, so early events are never
  lost. The result is clamped to [0, 100].

DETERMINISM:
  Apply is a pure function of (state, config, event). Replaying the same
  ordered event sequence from a fresh PerfState always yields the same
  final score; the tests rely on this.

SEE ALSO:
  - registry.go: Applies outcomes under the per-agency lock
  - config.go: Penalty parameters
*/
package engine

// =============================================================================
// OUTCOME EVENTS
// =============================================================================

type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeRejected  OutcomeKind = "rejected"
	OutcomeDelayed   OutcomeKind = "delayed"
)

// Outcome is one lifecycle event attributed to an agency.
type Outcome struct {
	Kind OutcomeKind

	// ProcessingDays is the assignment-to-completion time. Only meaningful
	// for OutcomeCompleted.
	ProcessingDays int

	// SLAStatusAtCompletion is the case's SLA standing when it closed.
	// Only meaningful for OutcomeCompleted.
	SLAStatusAtCompletion SLAStatus
}

// =============================================================================
// TRACKER
// =============================================================================

const (
	scoreBaseline = 100.0
	scoreFloor    = 0.0
	scoreCeiling  = 100.0
)

// Tracker recomputes performance state from outcome events. It is stateless
// and safe for concurrent use; callers serialize per agency.
type Tracker struct{}

// Apply folds one outcome into the state and returns the new state.
func (Tracker) Apply(state PerfState, cfg *Config, out Outcome) PerfState {
	switch out.Kind {
	case OutcomeCompleted:
		return applyCompleted(state, cfg, out)
	case OutcomeRejected:
		state.CasesRejected++
		return applyPenalty(state, cfg.RejectionPenalty)
	case OutcomeDelayed:
		state.Delays++
		return applyPenalty(state, cfg.DelayPenalty)
	default:
		return state
	}
}

// Replay folds an ordered event sequence from a fresh state. Used by tests
// and by stores that rebuild state from history.
func (t Tracker) Replay(cfg *Config, outcomes []Outcome) PerfState {
	var state PerfState
	for _, out := range outcomes {
		state = t.Apply(state, cfg, out)
	}
	return state
}

func applyCompleted(state PerfState, cfg *Config, out Outcome) PerfState {
	state.CasesCompleted++
	state.ProcessingDaysTotal += out.ProcessingDays

	adjustment := 0.0
	if out.ProcessingDays <= cfg.QuickCompletionDays {
		adjustment += cfg.QuickCompletionBonus
	} else if out.ProcessingDays > cfg.ProcessingThresholdDays {
		over := out.ProcessingDays - cfg.ProcessingThresholdDays
		adjustment -= float64(over) * cfg.ProcessingPenaltyPerDay
	}
	if out.SLAStatusAtCompletion == SLAAtRisk || out.SLAStatusAtCompletion == SLABreached {
		adjustment -= cfg.BreachPenalty
	}

	if !state.Score.IsDetermined() {
		// First completion: establish the baseline, then settle the
		// penalties accrued while the agency was unproven.
		value := scoreBaseline + adjustment - state.PendingPenalty
		state.PendingPenalty = 0
		state.Score = DeterminedScore(clampScore(value))
		return state
	}

	value, _ := state.Score.Value()
	state.Score = DeterminedScore(clampScore(value + adjustment))
	return state
}

func applyPenalty(state PerfState, penalty float64) PerfState {
	if !state.Score.IsDetermined() {
		state.PendingPenalty += penalty
		return state
	}
	value, _ := state.Score.Value()
	state.Score = DeterminedScore(clampScore(value - penalty))
	return state
}

func clampScore(v float64) float64 {
	if v < scoreFloor {
		return scoreFloor
	}
	if v > scoreCeiling {
		return scoreCeiling
	}
	return v
}
