/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Defines the JSON shapes crossing the API boundary. Internal domain types
  (decimal amounts, tagged scores, typed IDs) are converted here so the
  wire format stays stable when the engine evolves.

CONVENTIONS:
  - Amounts are JSON numbers (floats at the boundary, decimals inside)
  - Timestamps are RFC 3339
  - An undetermined performance score serializes as the string "TBD"

SEE ALSO:
  - handlers.go: Converts domain <-> DTO
  - factory/settings.go: The settings document shape
*/
package api

import (
	"time"

	"github.com/warp/allocation-engine/engine"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateCaseRequest is the POST /api/cases body. AgencyID forces a manual
// assignment; when omitted the engine allocates automatically.
type CreateCaseRequest struct {
	CustomerName  string  `json:"customer_name"`
	CustomerEmail string  `json:"customer_email,omitempty"`
	CustomerPhone string  `json:"customer_phone,omitempty"`
	OverdueAmount float64 `json:"overdue_amount"`
	AgeingDays    int     `json:"ageing_days"`
	Notes         string  `json:"notes,omitempty"`
	AgencyID      *string `json:"agency_id,omitempty"`
}

// TransitionRequest carries the actor and an optional reason. The reason is
// mandatory for escalations and recommended for rejections.
type TransitionRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// AgencyRequest is the agency create/update body.
type AgencyRequest struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ContactPerson string  `json:"contact_person,omitempty"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Capacity      int     `json:"capacity"`
	MinDebt       float64 `json:"min_debt_amount"`
	MaxDebt       float64 `json:"max_debt_amount"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CaseDTO struct {
	ID            string  `json:"id"`
	CustomerName  string  `json:"customer_name"`
	CustomerEmail string  `json:"customer_email,omitempty"`
	CustomerPhone string  `json:"customer_phone,omitempty"`
	OverdueAmount float64 `json:"overdue_amount"`
	AgeingDays    int     `json:"ageing_days"`

	Priority  string    `json:"priority"`
	SLADue    time.Time `json:"sla_due"`
	SLAStatus string    `json:"sla_status"`

	RecoveryScore float64 `json:"recovery_score"`

	AgencyID         *string    `json:"agency_id,omitempty"`
	AllocationReason string     `json:"allocation_reason,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	Status           string `json:"status"`
	Escalated        bool   `json:"escalated"`
	EscalationReason string `json:"escalation_reason,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AgencyDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	ContactPerson string  `json:"contact_person,omitempty"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Capacity      int     `json:"capacity"`
	ActiveCases   int     `json:"active_cases"`
	MinDebt       float64 `json:"min_debt_amount"`
	MaxDebt       float64 `json:"max_debt_amount"`
	Active        bool    `json:"active"`

	// PerformanceScore is "TBD" until the agency completes its first case,
	// then the numeric score rendered to one decimal place.
	PerformanceScore  string  `json:"performance_score"`
	CasesCompleted    int     `json:"cases_completed"`
	CasesRejected     int     `json:"cases_rejected"`
	Delays            int     `json:"delays"`
	AvgCompletionDays float64 `json:"avg_completion_days"`

	CreatedAt time.Time `json:"created_at"`
}

type AuditEntryDTO struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id"`
	CaseID      *string   `json:"case_id,omitempty"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// RefreshResultDTO reports a manual SLA refresh run.
type RefreshResultDTO struct {
	Changed int `json:"changed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toCaseDTO(c engine.Case) CaseDTO {
	amount, _ := c.OverdueAmount.Float64()
	dto := CaseDTO{
		ID:               string(c.ID),
		CustomerName:     c.CustomerName,
		CustomerEmail:    c.CustomerEmail,
		CustomerPhone:    c.CustomerPhone,
		OverdueAmount:    amount,
		AgeingDays:       c.AgeingDays,
		Priority:         string(c.Priority),
		SLADue:           c.SLADue,
		SLAStatus:        string(c.SLAStatus),
		RecoveryScore:    c.RecoveryScore,
		AllocationReason: c.AllocationReason,
		AssignedAt:       c.AssignedAt,
		CompletedAt:      c.CompletedAt,
		Status:           string(c.Status),
		Escalated:        c.Escalated,
		EscalationReason: c.EscalationReason,
		Notes:            c.Notes,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	if c.AgencyID != nil {
		id := string(*c.AgencyID)
		dto.AgencyID = &id
	}
	return dto
}

func toCaseDTOs(cases []engine.Case) []CaseDTO {
	out := make([]CaseDTO, 0, len(cases))
	for _, c := range cases {
		out = append(out, toCaseDTO(c))
	}
	return out
}

func toAgencyDTO(a engine.Agency) AgencyDTO {
	minDebt, _ := a.MinDebt.Float64()
	maxDebt, _ := a.MaxDebt.Float64()
	return AgencyDTO{
		ID:                string(a.ID),
		Name:              a.Name,
		ContactPerson:     a.ContactPerson,
		Email:             a.Email,
		Phone:             a.Phone,
		Capacity:          a.Capacity,
		ActiveCases:       a.ActiveCases,
		MinDebt:           minDebt,
		MaxDebt:           maxDebt,
		Active:            a.Active,
		PerformanceScore:  a.Performance.Score.String(),
		CasesCompleted:    a.Performance.CasesCompleted,
		CasesRejected:     a.Performance.CasesRejected,
		Delays:            a.Performance.Delays,
		AvgCompletionDays: a.Performance.AvgCompletionDays(),
		CreatedAt:         a.CreatedAt,
	}
}

func toAgencyDTOs(agencies []engine.Agency) []AgencyDTO {
	out := make([]AgencyDTO, 0, len(agencies))
	for _, a := range agencies {
		out = append(out, toAgencyDTO(a))
	}
	return out
}

func toAuditDTOs(entries []engine.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dto := AuditEntryDTO{
			ID:          e.ID,
			ActorID:     e.ActorID,
			Action:      string(e.Action),
			Description: e.Description,
			OldValue:    e.OldValue,
			NewValue:    e.NewValue,
			Timestamp:   e.Timestamp,
		}
		if e.CaseID != nil {
			id := string(*e.CaseID)
			dto.CaseID = &id
		}
		out = append(out, dto)
	}
	return out
}
