/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements persistence for cases, agencies, the audit log and the live
  settings document using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  engine.CaseStore:      Case records and per-year ID sequences
  engine.AgencyStore:    Agency records (written under the registry's locks)
  engine.AuditRecorder:  Append-only audit trail

APPEND-ONLY ENFORCEMENT:
  The audit_entries table has no UPDATE or DELETE statements anywhere in
  this package. Entries are immutable once written.

KEY TABLES:
  cases:          Case records, upserted by the lifecycle service
  agencies:       DCA records including capacity counters and perf state
  audit_entries:  Immutable trail of transitions and allocation decisions
  case_sequences: Per-year counters behind CASE-<year>-NNNNNN IDs
  settings:       Single-row live settings JSON document

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

USAGE:
  st, err := sqlite.New("./data/cases.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/allocation-engine/engine"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		customer_name TEXT NOT NULL,
		customer_email TEXT,
		customer_phone TEXT,
		overdue_amount TEXT NOT NULL,
		ageing_days INTEGER NOT NULL,
		priority TEXT NOT NULL,
		sla_due TEXT NOT NULL,
		sla_status TEXT NOT NULL,
		recovery_score REAL NOT NULL,
		agency_id TEXT,
		allocation_reason TEXT,
		assigned_at TEXT,
		completed_at TEXT,
		status TEXT NOT NULL,
		escalated INTEGER NOT NULL DEFAULT 0,
		escalation_reason TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
	CREATE INDEX IF NOT EXISTS idx_cases_agency ON cases(agency_id);
	CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at);

	CREATE TABLE IF NOT EXISTS agencies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		contact_person TEXT,
		email TEXT,
		phone TEXT,
		capacity INTEGER NOT NULL,
		active_cases INTEGER NOT NULL DEFAULT 0,
		min_debt TEXT NOT NULL,
		max_debt TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		score_determined INTEGER NOT NULL DEFAULT 0,
		score_value REAL NOT NULL DEFAULT 0,
		cases_completed INTEGER NOT NULL DEFAULT 0,
		cases_rejected INTEGER NOT NULL DEFAULT 0,
		delays INTEGER NOT NULL DEFAULT 0,
		processing_days_total INTEGER NOT NULL DEFAULT 0,
		pending_penalty REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Append-only: this package issues no UPDATE or DELETE against it.
	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		case_id TEXT,
		action TEXT NOT NULL,
		description TEXT,
		old_value TEXT,
		new_value TEXT,
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_case ON audit_entries(case_id);

	CREATE TABLE IF NOT EXISTS case_sequences (
		year INTEGER PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		document TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CASE STORE
// =============================================================================

func (s *Store) SaveCase(ctx context.Context, c engine.Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (
			id, customer_name, customer_email, customer_phone,
			overdue_amount, ageing_days, priority, sla_due, sla_status,
			recovery_score, agency_id, allocation_reason, assigned_at,
			completed_at, status, escalated, escalation_reason, notes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_name = excluded.customer_name,
			customer_email = excluded.customer_email,
			customer_phone = excluded.customer_phone,
			overdue_amount = excluded.overdue_amount,
			ageing_days = excluded.ageing_days,
			priority = excluded.priority,
			sla_due = excluded.sla_due,
			sla_status = excluded.sla_status,
			recovery_score = excluded.recovery_score,
			agency_id = excluded.agency_id,
			allocation_reason = excluded.allocation_reason,
			assigned_at = excluded.assigned_at,
			completed_at = excluded.completed_at,
			status = excluded.status,
			escalated = excluded.escalated,
			escalation_reason = excluded.escalation_reason,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		string(c.ID), c.CustomerName, c.CustomerEmail, c.CustomerPhone,
		c.OverdueAmount.String(), c.AgeingDays, string(c.Priority),
		formatTime(c.SLADue), string(c.SLAStatus),
		c.RecoveryScore, agencyIDValue(c.AgencyID), c.AllocationReason,
		timePtrValue(c.AssignedAt), timePtrValue(c.CompletedAt),
		string(c.Status), boolToInt(c.Escalated), c.EscalationReason, c.Notes,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving case %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id engine.CaseID) (engine.Case, error) {
	row := s.db.QueryRowContext(ctx, caseSelect+` WHERE id = ?`, string(id))
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return engine.Case{}, engine.ErrCaseNotFound
	}
	return c, err
}

func (s *Store) ListCases(ctx context.Context, filter engine.CaseFilter) ([]engine.Case, error) {
	query := caseSelect + ` WHERE 1=1`
	var args []any
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.Priority != nil {
		query += ` AND priority = ?`
		args = append(args, string(*filter.Priority))
	}
	if filter.SLAStatus != nil {
		query += ` AND sla_status = ?`
		args = append(args, string(*filter.SLAStatus))
	}
	if filter.AgencyID != nil {
		query += ` AND agency_id = ?`
		args = append(args, string(*filter.AgencyID))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) NextCaseSequence(ctx context.Context, year int) (int, error) {
	// Serialized: two creations must never draw the same number.
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO case_sequences (year, value) VALUES (?, 1)
		ON CONFLICT(year) DO UPDATE SET value = value + 1`, year); err != nil {
		return 0, err
	}

	var value int
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM case_sequences WHERE year = ?`, year).Scan(&value); err != nil {
		return 0, err
	}
	return value, tx.Commit()
}

const caseSelect = `
	SELECT id, customer_name, customer_email, customer_phone,
		overdue_amount, ageing_days, priority, sla_due, sla_status,
		recovery_score, agency_id, allocation_reason, assigned_at,
		completed_at, status, escalated, escalation_reason, notes,
		created_at, updated_at
	FROM cases`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (engine.Case, error) {
	var (
		c                            engine.Case
		amount                       string
		email, phone                 sql.NullString
		agencyID, allocationReason   sql.NullString
		assignedAt, completedAt      sql.NullString
		escalated                    int
		escalationReason, notes      sql.NullString
		slaDue, createdAt, updatedAt string
	)
	err := row.Scan(
		&c.ID, &c.CustomerName, &email, &phone,
		&amount, &c.AgeingDays, &c.Priority, &slaDue, &c.SLAStatus,
		&c.RecoveryScore, &agencyID, &allocationReason, &assignedAt,
		&completedAt, &c.Status, &escalated, &escalationReason, &notes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return engine.Case{}, err
	}

	c.CustomerEmail = email.String
	c.CustomerPhone = phone.String
	c.AllocationReason = allocationReason.String
	c.EscalationReason = escalationReason.String
	c.Notes = notes.String
	c.Escalated = escalated != 0

	if c.OverdueAmount, err = decimal.NewFromString(amount); err != nil {
		return engine.Case{}, fmt.Errorf("parsing overdue amount: %w", err)
	}
	if c.SLADue, err = parseTime(slaDue); err != nil {
		return engine.Case{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return engine.Case{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return engine.Case{}, err
	}
	if agencyID.Valid {
		id := engine.AgencyID(agencyID.String)
		c.AgencyID = &id
	}
	if c.AssignedAt, err = parseTimePtr(assignedAt); err != nil {
		return engine.Case{}, err
	}
	if c.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return engine.Case{}, err
	}
	return c, nil
}

// =============================================================================
// AGENCY STORE
// =============================================================================

func (s *Store) SaveAgency(ctx context.Context, a engine.Agency) error {
	scoreValue, determined := a.Performance.Score.Value()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agencies (
			id, name, contact_person, email, phone, capacity, active_cases,
			min_debt, max_debt, active, score_determined, score_value,
			cases_completed, cases_rejected, delays, processing_days_total,
			pending_penalty, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			contact_person = excluded.contact_person,
			email = excluded.email,
			phone = excluded.phone,
			capacity = excluded.capacity,
			active_cases = excluded.active_cases,
			min_debt = excluded.min_debt,
			max_debt = excluded.max_debt,
			active = excluded.active,
			score_determined = excluded.score_determined,
			score_value = excluded.score_value,
			cases_completed = excluded.cases_completed,
			cases_rejected = excluded.cases_rejected,
			delays = excluded.delays,
			processing_days_total = excluded.processing_days_total,
			pending_penalty = excluded.pending_penalty`,
		string(a.ID), a.Name, a.ContactPerson, a.Email, a.Phone,
		a.Capacity, a.ActiveCases, a.MinDebt.String(), a.MaxDebt.String(),
		boolToInt(a.Active), boolToInt(determined), scoreValue,
		a.Performance.CasesCompleted, a.Performance.CasesRejected,
		a.Performance.Delays, a.Performance.ProcessingDaysTotal,
		a.Performance.PendingPenalty,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving agency %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) LoadAgencies(ctx context.Context) ([]engine.Agency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, contact_person, email, phone, capacity,
			active_cases, min_debt, max_debt, active, score_determined,
			score_value, cases_completed, cases_rejected, delays,
			processing_days_total, pending_penalty, created_at
		FROM agencies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Agency
	for rows.Next() {
		var (
			a                                engine.Agency
			contact, email, phone            sql.NullString
			minDebt, maxDebt, createdAt      string
			active, determined               int
			scoreValue, pendingPenalty       float64
			completed, rejected, delays, pdt int
		)
		if err := rows.Scan(
			&a.ID, &a.Name, &contact, &email, &phone, &a.Capacity,
			&a.ActiveCases, &minDebt, &maxDebt, &active, &determined,
			&scoreValue, &completed, &rejected, &delays, &pdt,
			&pendingPenalty, &createdAt,
		); err != nil {
			return nil, err
		}

		a.ContactPerson = contact.String
		a.Email = email.String
		a.Phone = phone.String
		a.Active = active != 0

		if a.MinDebt, err = decimal.NewFromString(minDebt); err != nil {
			return nil, fmt.Errorf("parsing min debt: %w", err)
		}
		if a.MaxDebt, err = decimal.NewFromString(maxDebt); err != nil {
			return nil, fmt.Errorf("parsing max debt: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}

		a.Performance = engine.PerfState{
			CasesCompleted:      completed,
			CasesRejected:       rejected,
			Delays:              delays,
			ProcessingDaysTotal: pdt,
			PendingPenalty:      pendingPenalty,
		}
		if determined != 0 {
			a.Performance.Score = engine.DeterminedScore(scoreValue)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT RECORDER - Append-only
// =============================================================================

func (s *Store) Append(ctx context.Context, entry engine.AuditEntry) error {
	var caseID any
	if entry.CaseID != nil {
		caseID = string(*entry.CaseID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, actor_id, case_id, action, description, old_value,
			new_value, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorID, caseID, string(entry.Action),
		entry.Description, entry.OldValue, entry.NewValue,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter engine.AuditFilter) ([]engine.AuditEntry, error) {
	query := `
		SELECT id, actor_id, case_id, action, description, old_value,
			new_value, timestamp
		FROM audit_entries WHERE 1=1`
	var args []any
	if filter.ActorID != nil {
		query += ` AND actor_id = ?`
		args = append(args, *filter.ActorID)
	}
	if filter.CaseID != nil {
		query += ` AND case_id = ?`
		args = append(args, string(*filter.CaseID))
	}
	if len(filter.Actions) > 0 {
		query += ` AND action IN (` + placeholders(len(filter.Actions)) + `)`
		for _, a := range filter.Actions {
			args = append(args, string(a))
		}
	}
	if filter.From != nil {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		query += ` AND timestamp <= ?`
		args = append(args, formatTime(*filter.To))
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.AuditEntry
	for rows.Next() {
		var (
			e           engine.AuditEntry
			caseID      sql.NullString
			description sql.NullString
			oldV, newV  sql.NullString
			timestamp   string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &caseID, &e.Action,
			&description, &oldV, &newV, &timestamp); err != nil {
			return nil, err
		}
		e.Description = description.String
		e.OldValue = oldV.String
		e.NewValue = newV.String
		if caseID.Valid {
			id := engine.CaseID(caseID.String)
			e.CaseID = &id
		}
		if e.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTINGS DOCUMENT
// =============================================================================

// SaveSettings stores the live settings JSON document (single row).
func (s *Store) SaveSettings(ctx context.Context, document string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, document, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at`,
		document, formatTime(time.Now()),
	)
	return err
}

// LoadSettings returns the stored settings document, or ("", false, nil)
// when none has been saved yet.
func (s *Store) LoadSettings(ctx context.Context) (string, bool, error) {
	var document string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM settings WHERE id = 1`).Scan(&document)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return document, true, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func agencyIDValue(id *engine.AgencyID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
