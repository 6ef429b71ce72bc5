/*
lifecycle.go - The case state machine

PURPOSE:
  Orchestrates the full life of a case: creation (classify, score,
  allocate), the Open -> In Progress -> Closed flow, rejection with
  optional requeue, escalation annotations and delay events. Every
  transition flows through here and nowhere else.

STATE MACHINE:
  Open ----------> In Progress ----------> Closed
    \                   |
     \                  v
      +------------> Rejected        (terminal, like Closed)

  Escalation is an annotation on Open or In Progress, not a status: it
  flags the case and records a mandatory reason without leaving the status
  dimension or releasing capacity.

AUDIT-BEFORE-COMMIT:
  The audit entry for a transition is appended BEFORE the new state is
  published. If the append fails, the transition fails with
  AuditWriteFailed and no state changes.

SLA PROJECTION:
  The stored SLA status is a cached projection. It is refreshed whenever a
  case is read and by the periodic refresh job; the deadline itself is
  fixed at creation and never recomputed.

SEE ALSO:
  - allocation.go: Agency selection during creation and requeue
  - registry.go: Capacity bookkeeping and outcome accrual
  - audit.go: The recorder contract
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	ActionStart       Action = "start"
	ActionComplete    Action = "complete"
	ActionReject      Action = "reject"
	ActionEscalate    Action = "escalate"
	ActionRecordDelay Action = "recordDelay"
)

// =============================================================================
// LIFECYCLE SERVICE
// =============================================================================

type Lifecycle struct {
	Cases     CaseStore
	Registry  *Registry
	Allocator *Allocator
	Audit     AuditRecorder
	Scorer    RecoveryScorer
	Config    *Holder

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time

	// Transitions on one case are serialized by a per-case mutex, the
	// same way the registry serializes per-agency capacity changes. Two
	// concurrent transitions otherwise both pass the status guards.
	mu    sync.Mutex
	locks map[CaseID]*sync.Mutex
}

func NewLifecycle(cases CaseStore, registry *Registry, audit AuditRecorder, scorer RecoveryScorer, cfg *Holder) *Lifecycle {
	return &Lifecycle{
		Cases:     cases,
		Registry:  registry,
		Allocator: NewAllocator(registry),
		Audit:     audit,
		Scorer:    scorer,
		Config:    cfg,
		Now:       time.Now,
		locks:     make(map[CaseID]*sync.Mutex),
	}
}

// caseLock returns the mutex serializing transitions on one case.
func (l *Lifecycle) caseLock(id CaseID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[CaseID]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// =============================================================================
// CREATION
// =============================================================================

// CreateCase validates the attributes, classifies priority and SLA,
// computes the recovery score and allocates an agency. Allocation failure
// fails the whole creation unless the AllowUnassigned policy is on, in
// which case the case is created awaiting manual allocation.
func (l *Lifecycle) CreateCase(ctx context.Context, actorID string, attrs CaseAttributes, manualAgencyID *AgencyID) (Case, error) {
	cfg := l.Config.Current()

	if err := ValidateAttributes(attrs); err != nil {
		return Case{}, err
	}

	now := l.Now()
	priority, slaDue := Classify(attrs.OverdueAmount, attrs.AgeingDays, now, cfg)
	recovery := l.Scorer.PredictRecovery(attrs.OverdueAmount, attrs.AgeingDays)

	seq, err := l.Cases.NextCaseSequence(ctx, now.Year())
	if err != nil {
		return Case{}, fmt.Errorf("allocating case id: %w", err)
	}

	c := Case{
		ID:            CaseID(fmt.Sprintf("CASE-%d-%06d", now.Year(), seq)),
		CustomerName:  attrs.CustomerName,
		CustomerEmail: attrs.CustomerEmail,
		CustomerPhone: attrs.CustomerPhone,
		OverdueAmount: attrs.OverdueAmount,
		AgeingDays:    attrs.AgeingDays,
		Priority:      priority,
		SLADue:        slaDue,
		SLAStatus:     SLAStatusAt(slaDue, now, cfg),
		RecoveryScore: recovery,
		Status:        StatusOpen,
		Notes:         attrs.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	decision, err := l.allocateForCreation(ctx, attrs, manualAgencyID, cfg)
	if err != nil {
		return Case{}, err
	}
	if decision != nil {
		agencyID := decision.AgencyID
		c.AgencyID = &agencyID
		c.AllocationReason = decision.Rationale
		c.AssignedAt = &now
	} else {
		c.AllocationReason = "no eligible agency; awaiting manual allocation"
	}

	entry := l.newEntry(actorID, c.ID, AuditCaseCreated,
		fmt.Sprintf("Created case %s", c.ID), "",
		fmt.Sprintf("priority=%s amount=%s agency=%s", c.Priority, c.OverdueAmount, agencyRef(c.AgencyID)))
	if err := l.append(ctx, entry); err != nil {
		l.releaseOnFailure(ctx, c.AgencyID)
		return Case{}, err
	}

	if err := l.Cases.SaveCase(ctx, c); err != nil {
		l.releaseOnFailure(ctx, c.AgencyID)
		return Case{}, fmt.Errorf("saving case: %w", err)
	}
	return c, nil
}

// allocateForCreation returns nil when the case is created unassigned,
// which only happens under the explicit AllowUnassigned policy.
func (l *Lifecycle) allocateForCreation(ctx context.Context, attrs CaseAttributes, manualAgencyID *AgencyID, cfg *Config) (*Decision, error) {
	if manualAgencyID != nil {
		d, err := l.Allocator.AllocateManual(ctx, attrs.OverdueAmount, *manualAgencyID)
		if err != nil {
			return nil, err
		}
		return &d, nil
	}

	if !cfg.AutoAllocationEnabled {
		if cfg.AllowUnassigned {
			return nil, nil
		}
		return nil, fmt.Errorf("automatic allocation disabled and no agency supplied: %w", ErrNoEligibleAgency)
	}

	d, err := l.Allocator.Allocate(ctx, attrs.OverdueAmount, nil)
	if err != nil {
		if errors.Is(err, ErrNoEligibleAgency) && cfg.AllowUnassigned {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Transition applies one lifecycle action to a case. Terminal states reject
// every action with InvalidTransition. The guard check and the commit are
// one critical section per case, so concurrent requests cannot both slip
// past the same guard.
func (l *Lifecycle) Transition(ctx context.Context, actorID string, caseID CaseID, action Action, reason string) (Case, error) {
	lock := l.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	cfg := l.Config.Current()

	c, err := l.Cases.GetCase(ctx, caseID)
	if err != nil {
		return Case{}, err
	}

	now := l.Now()
	refreshSLA(&c, cfg, now)

	if c.Status.IsTerminal() {
		return Case{}, &TransitionError{CaseID: c.ID, From: c.Status, Action: action}
	}

	switch action {
	case ActionStart:
		return l.start(ctx, actorID, c, now)
	case ActionComplete:
		return l.complete(ctx, actorID, c, cfg, now)
	case ActionReject:
		return l.reject(ctx, actorID, c, cfg, now, reason)
	case ActionEscalate:
		return l.escalate(ctx, actorID, c, now, reason)
	case ActionRecordDelay:
		return l.recordDelay(ctx, actorID, c, cfg, now)
	default:
		return Case{}, &TransitionError{CaseID: c.ID, From: c.Status, Action: action}
	}
}

// start moves Open -> In Progress. No side effects beyond the audit entry.
func (l *Lifecycle) start(ctx context.Context, actorID string, c Case, now time.Time) (Case, error) {
	if c.Status != StatusOpen {
		return Case{}, &TransitionError{CaseID: c.ID, From: c.Status, Action: ActionStart}
	}

	old := string(c.Status)
	c.Status = StatusInProgress
	c.UpdatedAt = now

	entry := l.newEntry(actorID, c.ID, AuditCaseStarted,
		fmt.Sprintf("Case %s started", c.ID), old, string(c.Status))
	return l.commit(ctx, c, entry)
}

// complete moves In Progress -> Closed, accruing the completion outcome on
// the assigned agency and releasing its slot.
func (l *Lifecycle) complete(ctx context.Context, actorID string, c Case, cfg *Config, now time.Time) (Case, error) {
	if c.Status != StatusInProgress {
		return Case{}, &TransitionError{CaseID: c.ID, From: c.Status, Action: ActionComplete}
	}

	old := string(c.Status)
	c.Status = StatusClosed
	c.CompletedAt = &now
	c.UpdatedAt = now

	// The case commit lands before the agency accrual: a failed save must
	// not leave the agency charged with an outcome for a case that is
	// still In Progress and free to be retried.
	entry := l.newEntry(actorID, c.ID, AuditCaseCompleted,
		fmt.Sprintf("Case %s completed", c.ID), old, string(c.Status))
	c, err := l.commit(ctx, c, entry)
	if err != nil {
		return Case{}, err
	}

	if c.AgencyID != nil {
		outcome := Outcome{
			Kind:                  OutcomeCompleted,
			ProcessingDays:        processingDays(c, now),
			SLAStatusAtCompletion: c.SLAStatus,
		}
		if _, err := l.Registry.RecordOutcome(ctx, *c.AgencyID, cfg, outcome); err != nil {
			return Case{}, fmt.Errorf("recording completion outcome: %w", err)
		}
	}
	return c, nil
}

// reject accrues a rejection on the current agency and either requeues the
// case for reallocation (explicit RequeueOnRejection policy) or moves it to
// the terminal Rejected status.
func (l *Lifecycle) reject(ctx context.Context, actorID string, c Case, cfg *Config, now time.Time, reason string) (Case, error) {
	// Guard is implied: terminal states were rejected by the caller, so the
	// case is Open or In Progress here.
	old := string(c.Status)
	rejectedBy := c.AgencyID

	// The rejection outcome accrues on the old agency only after the case
	// state is committed; a failed save must leave the agency untouched so
	// the rejection can be retried without double-counting.
	entry := l.newEntry(actorID, c.ID, AuditCaseRejected,
		fmt.Sprintf("Case %s rejected: %s", c.ID, reason), old, string(StatusRejected))
	if err := l.append(ctx, entry); err != nil {
		return Case{}, err
	}

	if cfg.RequeueOnRejection && rejectedBy != nil {
		if d, err := l.Allocator.Allocate(ctx, c.OverdueAmount, rejectedBy); err == nil {
			agencyID := d.AgencyID
			c.Status = StatusOpen
			c.AgencyID = &agencyID
			c.AllocationReason = fmt.Sprintf("reassigned after rejection by %s: %s", *rejectedBy, d.Rationale)
			c.AssignedAt = &now
			c.UpdatedAt = now

			requeued := l.newEntry(actorID, c.ID, AuditCaseRequeued,
				fmt.Sprintf("Case %s requeued to %s after rejection", c.ID, agencyID),
				string(StatusRejected), string(c.Status))
			committed, err := l.commit(ctx, c, requeued)
			if err != nil {
				l.releaseOnFailure(ctx, &agencyID)
				return Case{}, err
			}
			return l.accrueRejection(ctx, committed, cfg, rejectedBy)
		}
		// Nothing eligible: fall through to the terminal status.
	}

	c.Status = StatusRejected
	c.AgencyID = nil
	c.AssignedAt = nil
	c.UpdatedAt = now
	if err := l.Cases.SaveCase(ctx, c); err != nil {
		return Case{}, fmt.Errorf("saving case: %w", err)
	}
	return l.accrueRejection(ctx, c, cfg, rejectedBy)
}

// accrueRejection charges the rejecting agency and releases its slot. It
// runs only after the case state has been saved.
func (l *Lifecycle) accrueRejection(ctx context.Context, c Case, cfg *Config, rejectedBy *AgencyID) (Case, error) {
	if rejectedBy == nil {
		return c, nil
	}
	if _, err := l.Registry.RecordOutcome(ctx, *rejectedBy, cfg, Outcome{Kind: OutcomeRejected}); err != nil {
		return Case{}, fmt.Errorf("recording rejection outcome: %w", err)
	}
	return c, nil
}

// escalate annotates the case without changing status or capacity. The
// reason is mandatory.
func (l *Lifecycle) escalate(ctx context.Context, actorID string, c Case, now time.Time, reason string) (Case, error) {
	if reason == "" {
		return Case{}, ErrEscalationReasonRequired
	}

	c.Escalated = true
	c.EscalationReason = reason
	c.UpdatedAt = now

	entry := l.newEntry(actorID, c.ID, AuditCaseEscalated,
		fmt.Sprintf("Case %s escalated: %s", c.ID, reason), "", reason)
	return l.commit(ctx, c, entry)
}

// recordDelay accrues a delay on the assigned agency. Status and capacity
// are untouched.
func (l *Lifecycle) recordDelay(ctx context.Context, actorID string, c Case, cfg *Config, now time.Time) (Case, error) {
	c.UpdatedAt = now
	entry := l.newEntry(actorID, c.ID, AuditCaseDelayed,
		fmt.Sprintf("Delay recorded on case %s", c.ID), string(c.Status), string(c.Status))
	c, err := l.commit(ctx, c, entry)
	if err != nil {
		return Case{}, err
	}

	if c.AgencyID != nil {
		if _, err := l.Registry.RecordOutcome(ctx, *c.AgencyID, cfg, Outcome{Kind: OutcomeDelayed}); err != nil {
			return Case{}, fmt.Errorf("recording delay outcome: %w", err)
		}
	}
	return c, nil
}

// =============================================================================
// READS
// =============================================================================

// GetCase returns a case with its SLA projection refreshed.
func (l *Lifecycle) GetCase(ctx context.Context, id CaseID) (Case, error) {
	c, err := l.Cases.GetCase(ctx, id)
	if err != nil {
		return Case{}, err
	}
	if refreshSLA(&c, l.Config.Current(), l.Now()) {
		// Cached projection only; persist best-effort without auditing.
		_ = l.Cases.SaveCase(ctx, c)
	}
	return c, nil
}

// ListCases returns filtered cases with refreshed SLA projections.
func (l *Lifecycle) ListCases(ctx context.Context, filter CaseFilter) ([]Case, error) {
	cases, err := l.Cases.ListCases(ctx, filter)
	if err != nil {
		return nil, err
	}
	cfg := l.Config.Current()
	now := l.Now()
	for i := range cases {
		if refreshSLA(&cases[i], cfg, now) {
			_ = l.Cases.SaveCase(ctx, cases[i])
		}
	}
	return cases, nil
}

// RefreshSLAStatuses recomputes the cached SLA projection for every
// non-terminal case and returns how many changed. Run periodically.
func (l *Lifecycle) RefreshSLAStatuses(ctx context.Context) (int, error) {
	cases, err := l.Cases.ListCases(ctx, CaseFilter{})
	if err != nil {
		return 0, err
	}
	cfg := l.Config.Current()
	now := l.Now()

	changed := 0
	for i := range cases {
		if cases[i].Status.IsTerminal() {
			continue
		}
		if refreshSLA(&cases[i], cfg, now) {
			if err := l.Cases.SaveCase(ctx, cases[i]); err != nil {
				return changed, fmt.Errorf("saving refreshed case %s: %w", cases[i].ID, err)
			}
			changed++
		}
	}
	return changed, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// refreshSLA updates the cached projection for non-terminal cases and
// reports whether it changed. Terminal cases keep the status they closed
// with, so completion penalties stay reproducible.
func refreshSLA(c *Case, cfg *Config, now time.Time) bool {
	if c.Status.IsTerminal() {
		return false
	}
	next := SLAStatusAt(c.SLADue, now, cfg)
	if next == c.SLAStatus {
		return false
	}
	c.SLAStatus = next
	return true
}

func processingDays(c Case, now time.Time) int {
	start := c.CreatedAt
	if c.AssignedAt != nil {
		start = *c.AssignedAt
	}
	days := int(now.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// commit appends the audit entry, then publishes the case state. The order
// is the audit-before-commit contract.
func (l *Lifecycle) commit(ctx context.Context, c Case, entry AuditEntry) (Case, error) {
	if err := l.append(ctx, entry); err != nil {
		return Case{}, err
	}
	if err := l.Cases.SaveCase(ctx, c); err != nil {
		return Case{}, fmt.Errorf("saving case: %w", err)
	}
	return c, nil
}

func (l *Lifecycle) append(ctx context.Context, entry AuditEntry) error {
	if err := l.Audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
	return nil
}

func (l *Lifecycle) newEntry(actorID string, caseID CaseID, action AuditAction, description, oldValue, newValue string) AuditEntry {
	id := caseID
	return AuditEntry{
		ID:          uuid.NewString(),
		ActorID:     actorID,
		CaseID:      &id,
		Action:      action,
		Description: description,
		OldValue:    oldValue,
		NewValue:    newValue,
		Timestamp:   l.Now(),
	}
}

func (l *Lifecycle) releaseOnFailure(ctx context.Context, agencyID *AgencyID) {
	if agencyID != nil {
		_ = l.Registry.ReleaseSlot(ctx, *agencyID)
	}
}

func agencyRef(id *AgencyID) string {
	if id == nil {
		return "unassigned"
	}
	return string(*id)
}
