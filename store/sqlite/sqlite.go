/*
Package sqlite provides a SQLite-backed implementation of lease.Store.

PURPOSE:
  Persists agreements, obligations, payment records, alerts, lead-time
  preferences, and run history. In production the same schema runs on
  PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  lease.AgreementStore, lease.ObligationStore, lease.PaymentStore,
  lease.AlertStore, lease.PreferenceStore, lease.RunStore

KEY TABLES:
  agreements:            Confirmed lease/license/franchise documents
  obligations:           Derived obligations, versioned, never deleted
  payment_records:       One row per (obligation, period)
  alerts:                One row per (agreement, type, reference date)
  lead_time_preferences: Per-organization lead-time overrides
  job_runs:              Scheduled and manual run reports

UNIQUENESS:
  The natural keys are enforced by the database, not by a read-then-write:
  - idx_payment_period_unique: (obligation_id, period_year, period_month)
  - idx_alert_event_unique:    (agreement_id, alert_type, reference_date)
  Inserts use ON CONFLICT DO NOTHING, and zero rows affected means the
  record already existed. Of two concurrent generators exactly one wins.

COMPARE-AND-SET:
  Status updates are UPDATE ... WHERE id = ? AND status = ?. Zero rows
  affected on an existing row means someone else moved it first.

WAL MODE:
  Opened with WAL for concurrent readers and a single writer.
  ":memory:" databases are limited to one connection so every query sees
  the same database.

USAGE:
  store, err := sqlite.New("./lease.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := lease.NewEngine(store, lease.DefaultConfig())

SEE ALSO:
  - lease/store.go: Interface definitions
  - lease/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/grospace/lease-engine/lease"
)

// Store implements lease.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ lease.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Agreements (confirmed documents)
	CREATE TABLE IF NOT EXISTS agreements (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		outlet_id TEXT NOT NULL DEFAULT '',
		document_type TEXT NOT NULL DEFAULT 'lease_loi',
		status TEXT NOT NULL,
		lease_commencement TEXT,
		rent_commencement TEXT,
		lease_expiry TEXT,
		lock_in_end TEXT,
		monthly_rent TEXT NOT NULL DEFAULT '0',
		cam_monthly TEXT NOT NULL DEFAULT '0',
		hvac_monthly TEXT NOT NULL DEFAULT '0',
		security_deposit TEXT NOT NULL DEFAULT '0',
		cam_deposit TEXT NOT NULL DEFAULT '0',
		escalation_percent TEXT NOT NULL DEFAULT '0',
		escalation_frequency_years INTEGER NOT NULL DEFAULT 0,
		rent_due_day INTEGER NOT NULL DEFAULT 0,
		supersedes_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agreements_org
		ON agreements(org_id);
	CREATE INDEX IF NOT EXISTS idx_agreements_status
		ON agreements(status);

	-- Obligations (deactivated, never deleted)
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		agreement_id TEXT NOT NULL REFERENCES agreements(id),
		org_id TEXT NOT NULL DEFAULT '',
		outlet_id TEXT NOT NULL DEFAULT '',
		obligation_type TEXT NOT NULL,
		frequency TEXT NOT NULL,
		amount TEXT NOT NULL,
		metered BOOLEAN NOT NULL DEFAULT FALSE,
		due_day INTEGER NOT NULL DEFAULT 0,
		start_date TEXT NOT NULL,
		end_date TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_obligations_agreement
		ON obligations(agreement_id);
	CREATE INDEX IF NOT EXISTS idx_obligations_active
		ON obligations(active);

	-- Payment records
	CREATE TABLE IF NOT EXISTS payment_records (
		id TEXT PRIMARY KEY,
		obligation_id TEXT NOT NULL REFERENCES obligations(id),
		agreement_id TEXT NOT NULL,
		outlet_id TEXT NOT NULL DEFAULT '',
		obligation_type TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		period_month INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		due_amount TEXT,
		status TEXT NOT NULL,
		paid_amount TEXT,
		paid_at TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: exactly one record per (obligation, period)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_period_unique
		ON payment_records(obligation_id, period_year, period_month);

	CREATE INDEX IF NOT EXISTS idx_payment_records_agreement
		ON payment_records(agreement_id);
	CREATE INDEX IF NOT EXISTS idx_payment_records_status_due
		ON payment_records(status, due_date);

	-- Alerts
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		outlet_id TEXT NOT NULL DEFAULT '',
		agreement_id TEXT NOT NULL REFERENCES agreements(id),
		obligation_id TEXT,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		trigger_date TEXT NOT NULL,
		lead_days INTEGER NOT NULL,
		reference_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		snoozed_until TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one alert per logical event, in any status
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_event_unique
		ON alerts(agreement_id, alert_type, reference_date);

	CREATE INDEX IF NOT EXISTS idx_alerts_org_trigger
		ON alerts(org_id, trigger_date);

	-- Lead-time overrides
	CREATE TABLE IF NOT EXISTS lead_time_preferences (
		org_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		lead_days INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (org_id, alert_type)
	);

	-- Job runs
	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		agreements_transitioned INTEGER NOT NULL DEFAULT 0,
		payments_created INTEGER NOT NULL DEFAULT 0,
		payments_duplicate INTEGER NOT NULL DEFAULT 0,
		payments_swept INTEGER NOT NULL DEFAULT 0,
		alerts_created INTEGER NOT NULL DEFAULT 0,
		alerts_duplicate INTEGER NOT NULL DEFAULT 0,
		alerts_skipped INTEGER NOT NULL DEFAULT 0,
		failures_json TEXT NOT NULL DEFAULT '[]',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_started
		ON job_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// AGREEMENTS
// =============================================================================

const agreementColumns = `id, org_id, outlet_id, document_type, status,
	lease_commencement, rent_commencement, lease_expiry, lock_in_end,
	monthly_rent, cam_monthly, hvac_monthly, security_deposit, cam_deposit,
	escalation_percent, escalation_frequency_years, rent_due_day, supersedes_id,
	created_at, updated_at`

// CreateAgreement inserts a new agreement.
func (s *Store) CreateAgreement(ctx context.Context, a lease.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO agreements (` + agreementColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.OrgID, a.OutletID, a.DocumentType, a.Status,
		dateValue(a.LeaseCommencement), dateValue(a.RentCommencement), dateValue(a.LeaseExpiry), dateValue(a.LockInEnd),
		a.MonthlyRent.String(), a.CAMMonthly.String(), a.HVACMonthly.String(), a.SecurityDeposit.String(), a.CAMDeposit.String(),
		a.EscalationPercent.String(), a.EscalationFrequencyYears, a.RentDueDay, nullString(string(a.SupersedesID)),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("agreement %s: %w", a.ID, lease.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create agreement: %w", err)
	}
	return nil
}

// GetAgreement returns one agreement.
func (s *Store) GetAgreement(ctx context.Context, id lease.AgreementID) (lease.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = ?`, id)
	a, err := scanAgreement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lease.Agreement{}, fmt.Errorf("agreement %s: %w", id, lease.ErrNotFound)
	}
	return a, err
}

// ListAgreements returns agreements matching the filter, ordered by ID.
func (s *Store) ListAgreements(ctx context.Context, f lease.AgreementFilter) ([]lease.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if f.OrgID != nil {
		w.add("org_id = ?", *f.OrgID)
	}
	if f.OutletID != nil {
		w.add("outlet_id = ?", *f.OutletID)
	}
	w.in("status", stringsOf(f.Statuses))

	rows, err := s.db.QueryContext(ctx, `SELECT `+agreementColumns+` FROM agreements`+w.sql()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agreements: %w", err)
	}
	defer rows.Close()

	var out []lease.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgreementStatus moves an agreement from expected to status.
func (s *Store) UpdateAgreementStatus(ctx context.Context, id lease.AgreementID, expected, status lease.AgreementStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE agreements SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, formatTime(at), id, expected)
	if err != nil {
		return fmt.Errorf("failed to update agreement: %w", err)
	}
	return s.checkCAS(ctx, res, "agreements", string(id))
}

// UpdateAgreementTerms rewrites every field except status and created_at.
func (s *Store) UpdateAgreementTerms(ctx context.Context, a lease.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE agreements SET
			org_id = ?, outlet_id = ?, document_type = ?,
			lease_commencement = ?, rent_commencement = ?, lease_expiry = ?, lock_in_end = ?,
			monthly_rent = ?, cam_monthly = ?, hvac_monthly = ?, security_deposit = ?, cam_deposit = ?,
			escalation_percent = ?, escalation_frequency_years = ?, rent_due_day = ?, supersedes_id = ?,
			updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		a.OrgID, a.OutletID, a.DocumentType,
		dateValue(a.LeaseCommencement), dateValue(a.RentCommencement), dateValue(a.LeaseExpiry), dateValue(a.LockInEnd),
		a.MonthlyRent.String(), a.CAMMonthly.String(), a.HVACMonthly.String(), a.SecurityDeposit.String(), a.CAMDeposit.String(),
		a.EscalationPercent.String(), a.EscalationFrequencyYears, a.RentDueDay, nullString(string(a.SupersedesID)),
		formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agreement terms: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agreement %s: %w", a.ID, lease.ErrNotFound)
	}
	return nil
}

func scanAgreement(row scanner) (lease.Agreement, error) {
	var a lease.Agreement
	var leaseStart, rentStart, expiry, lockIn, supersedes sql.NullString
	var rent, cam, hvac, deposit, camDeposit, escalation, createdAt, updatedAt string
	err := row.Scan(
		&a.ID, &a.OrgID, &a.OutletID, &a.DocumentType, &a.Status,
		&leaseStart, &rentStart, &expiry, &lockIn,
		&rent, &cam, &hvac, &deposit, &camDeposit,
		&escalation, &a.EscalationFrequencyYears, &a.RentDueDay, &supersedes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return lease.Agreement{}, err
	}
	a.LeaseCommencement = parseDate(leaseStart)
	a.RentCommencement = parseDate(rentStart)
	a.LeaseExpiry = parseDate(expiry)
	a.LockInEnd = parseDate(lockIn)
	a.MonthlyRent = parseDecimal(rent)
	a.CAMMonthly = parseDecimal(cam)
	a.HVACMonthly = parseDecimal(hvac)
	a.SecurityDeposit = parseDecimal(deposit)
	a.CAMDeposit = parseDecimal(camDeposit)
	a.EscalationPercent = parseDecimal(escalation)
	a.SupersedesID = lease.AgreementID(supersedes.String)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

const obligationColumns = `id, agreement_id, org_id, outlet_id, obligation_type, frequency,
	amount, metered, due_day, start_date, end_date, active, version, created_at`

// InsertObligations writes obligations atomically, skipping IDs that exist.
func (s *Store) InsertObligations(ctx context.Context, obs []lease.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO obligations (` + obligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	for _, o := range obs {
		_, err := tx.ExecContext(ctx, query,
			o.ID, o.AgreementID, o.OrgID, o.OutletID, o.Type, o.Frequency,
			o.Amount.String(), o.Metered, o.DueDay, dateValue(o.Start), dateValue(o.End),
			o.Active, o.Version, formatTime(o.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert obligation %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

// GetObligation returns one obligation.
func (s *Store) GetObligation(ctx context.Context, id lease.ObligationID) (lease.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lease.Obligation{}, fmt.Errorf("obligation %s: %w", id, lease.ErrNotFound)
	}
	return o, err
}

// ListObligations returns obligations matching the filter, ordered by ID.
func (s *Store) ListObligations(ctx context.Context, f lease.ObligationFilter) ([]lease.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if f.AgreementID != nil {
		w.add("agreement_id = ?", *f.AgreementID)
	}
	if f.ActiveOnly {
		w.add("active = ?", true)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+obligationColumns+` FROM obligations`+w.sql()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	var out []lease.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeactivateObligations clears the active flag for an agreement's obligations.
func (s *Store) DeactivateObligations(ctx context.Context, agreementID lease.AgreementID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE obligations SET active = FALSE WHERE agreement_id = ? AND active = TRUE`, agreementID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate obligations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanObligation(row scanner) (lease.Obligation, error) {
	var o lease.Obligation
	var amount, start, createdAt string
	var end sql.NullString
	err := row.Scan(
		&o.ID, &o.AgreementID, &o.OrgID, &o.OutletID, &o.Type, &o.Frequency,
		&amount, &o.Metered, &o.DueDay, &start, &end, &o.Active, &o.Version, &createdAt,
	)
	if err != nil {
		return lease.Obligation{}, err
	}
	o.Amount = parseDecimal(amount)
	o.Start = parseDate(sql.NullString{String: start, Valid: true})
	o.End = parseDate(end)
	o.CreatedAt = parseTime(createdAt)
	return o, nil
}

// =============================================================================
// PAYMENT RECORDS
// =============================================================================

const paymentColumns = `id, obligation_id, agreement_id, outlet_id, obligation_type,
	period_year, period_month, due_date, due_amount, status, paid_amount, paid_at,
	notes, created_at, updated_at`

// InsertPaymentRecord inserts r unless its (obligation, period) already exists.
func (s *Store) InsertPaymentRecord(ctx context.Context, r lease.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO payment_records (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		r.ID, r.ObligationID, r.AgreementID, r.OutletID, r.Type,
		r.Period.Year, int(r.Period.Month), dateValue(r.DueDate), nullDecimal(r.DueAmount), r.Status,
		nullDecimal(r.PaidAmount), nullTime(r.PaidAt), r.Notes,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetPaymentRecord returns one payment record.
func (s *Store) GetPaymentRecord(ctx context.Context, id lease.PaymentID) (lease.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE id = ?`, id)
	r, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lease.PaymentRecord{}, fmt.Errorf("payment %s: %w", id, lease.ErrNotFound)
	}
	return r, err
}

// ListPaymentRecords returns records matching the filter, ordered by due date.
func (s *Store) ListPaymentRecords(ctx context.Context, f lease.PaymentFilter) ([]lease.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if f.AgreementID != nil {
		w.add("agreement_id = ?", *f.AgreementID)
	}
	if f.ObligationID != nil {
		w.add("obligation_id = ?", *f.ObligationID)
	}
	if f.OutletID != nil {
		w.add("outlet_id = ?", *f.OutletID)
	}
	if f.DueFrom != nil {
		w.add("due_date >= ?", f.DueFrom.String())
	}
	if f.DueTo != nil {
		w.add("due_date <= ?", f.DueTo.String())
	}
	if f.ActiveObligationsOnly {
		w.add("obligation_id IN (SELECT id FROM obligations WHERE active = ?)", true)
	}
	w.in("status", stringsOf(f.Statuses))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records`+w.sql()+` ORDER BY due_date, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment records: %w", err)
	}
	defer rows.Close()

	var out []lease.PaymentRecord
	for rows.Next() {
		r, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PeriodsFor returns the periods already materialized for an obligation.
func (s *Store) PeriodsFor(ctx context.Context, obligationID lease.ObligationID) ([]lease.PeriodKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT period_year, period_month FROM payment_records
		WHERE obligation_id = ?
		ORDER BY period_year, period_month
	`, obligationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var out []lease.PeriodKey
	for rows.Next() {
		var k lease.PeriodKey
		var month int
		if err := rows.Scan(&k.Year, &month); err != nil {
			return nil, err
		}
		k.Month = time.Month(month)
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdatePaymentRecord writes the mutable fields if status is still expected.
// Due amount and due date are never rewritten.
func (s *Store) UpdatePaymentRecord(ctx context.Context, r lease.PaymentRecord, expected lease.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_records
		SET status = ?, paid_amount = ?, paid_at = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, r.Status, nullDecimal(r.PaidAmount), nullTime(r.PaidAt), r.Notes, formatTime(r.UpdatedAt), r.ID, expected)
	if err != nil {
		return fmt.Errorf("failed to update payment record: %w", err)
	}
	return s.checkCAS(ctx, res, "payment_records", string(r.ID))
}

func scanPayment(row scanner) (lease.PaymentRecord, error) {
	var r lease.PaymentRecord
	var month int
	var due, createdAt, updatedAt string
	var dueAmount, paidAmount, paidAt sql.NullString
	err := row.Scan(
		&r.ID, &r.ObligationID, &r.AgreementID, &r.OutletID, &r.Type,
		&r.Period.Year, &month, &due, &dueAmount, &r.Status, &paidAmount, &paidAt,
		&r.Notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return lease.PaymentRecord{}, err
	}
	r.Period.Month = time.Month(month)
	r.DueDate = parseDate(sql.NullString{String: due, Valid: true})
	r.DueAmount = parseDecimalPtr(dueAmount)
	r.PaidAmount = parseDecimalPtr(paidAmount)
	if paidAt.Valid {
		t := parseTime(paidAt.String)
		r.PaidAt = &t
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// ALERTS
// =============================================================================

const alertColumns = `id, org_id, outlet_id, agreement_id, obligation_id, alert_type, severity,
	title, message, trigger_date, lead_days, reference_date, status, snoozed_until,
	created_at, updated_at`

// InsertAlert inserts a unless an alert for the same event already exists.
func (s *Store) InsertAlert(ctx context.Context, a lease.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		a.ID, a.OrgID, a.OutletID, a.AgreementID, nullString(string(a.ObligationID)), a.Type, a.Severity,
		a.Title, a.Message, dateValue(a.TriggerDate), a.LeadDays, dateValue(a.ReferenceDate), a.Status,
		dateValue(a.SnoozedUntil), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetAlert returns one alert.
func (s *Store) GetAlert(ctx context.Context, id lease.AlertID) (lease.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lease.Alert{}, fmt.Errorf("alert %s: %w", id, lease.ErrNotFound)
	}
	return a, err
}

// ListAlerts returns alerts matching the filter, ordered by trigger date.
func (s *Store) ListAlerts(ctx context.Context, f lease.AlertFilter) ([]lease.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w where
	if f.OrgID != nil {
		w.add("org_id = ?", *f.OrgID)
	}
	if f.AgreementID != nil {
		w.add("agreement_id = ?", *f.AgreementID)
	}
	if f.TriggeredBy != nil {
		w.add("trigger_date <= ?", f.TriggeredBy.String())
	}
	w.in("status", stringsOf(f.Statuses))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts`+w.sql()+` ORDER BY trigger_date, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []lease.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AlertKeys returns the event keys of every alert for an agreement.
func (s *Store) AlertKeys(ctx context.Context, agreementID lease.AgreementID) (map[lease.AlertKey]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_type, reference_date FROM alerts WHERE agreement_id = ?`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert keys: %w", err)
	}
	defer rows.Close()

	out := make(map[lease.AlertKey]bool)
	for rows.Next() {
		var t lease.AlertType
		var ref string
		if err := rows.Scan(&t, &ref); err != nil {
			return nil, err
		}
		out[lease.AlertKey{
			AgreementID:   agreementID,
			Type:          t,
			ReferenceDate: parseDate(sql.NullString{String: ref, Valid: true}),
		}] = true
	}
	return out, rows.Err()
}

// UpdateAlertStatus writes status and snooze date if status is still expected.
func (s *Store) UpdateAlertStatus(ctx context.Context, a lease.Alert, expected lease.AlertStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, snoozed_until = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, a.Status, dateValue(a.SnoozedUntil), formatTime(a.UpdatedAt), a.ID, expected)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	return s.checkCAS(ctx, res, "alerts", string(a.ID))
}

func scanAlert(row scanner) (lease.Alert, error) {
	var a lease.Alert
	var obligation, snoozed sql.NullString
	var trigger, ref, createdAt, updatedAt string
	err := row.Scan(
		&a.ID, &a.OrgID, &a.OutletID, &a.AgreementID, &obligation, &a.Type, &a.Severity,
		&a.Title, &a.Message, &trigger, &a.LeadDays, &ref, &a.Status, &snoozed,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return lease.Alert{}, err
	}
	a.ObligationID = lease.ObligationID(obligation.String)
	a.TriggerDate = parseDate(sql.NullString{String: trigger, Valid: true})
	a.ReferenceDate = parseDate(sql.NullString{String: ref, Valid: true})
	a.SnoozedUntil = parseDate(snoozed)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// LEAD-TIME PREFERENCES
// =============================================================================

// GetLeadTimes returns the organization's overrides.
func (s *Store) GetLeadTimes(ctx context.Context, orgID string) (lease.LeadTimes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_type, lead_days FROM lead_time_preferences WHERE org_id = ?`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lead times: %w", err)
	}
	defer rows.Close()

	out := lease.LeadTimes{}
	for rows.Next() {
		var t lease.AlertType
		var days int
		if err := rows.Scan(&t, &days); err != nil {
			return nil, err
		}
		out[t] = days
	}
	return out, rows.Err()
}

// SetLeadTimes upserts overrides for an organization.
func (s *Store) SetLeadTimes(ctx context.Context, orgID string, lt lease.LeadTimes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for t, days := range lt {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lead_time_preferences (org_id, alert_type, lead_days, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(org_id, alert_type) DO UPDATE SET
				lead_days = excluded.lead_days,
				updated_at = excluded.updated_at
		`, orgID, t, days, now)
		if err != nil {
			return fmt.Errorf("failed to save lead time %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// JOB RUNS
// =============================================================================

// RecordRun saves a run report, replacing an earlier save of the same run.
func (s *Store) RecordRun(ctx context.Context, r lease.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures := r.Failures
	if failures == nil {
		failures = []lease.UnitFailure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, as_of, status, agreements_transitioned, payments_created,
			payments_duplicate, payments_swept, alerts_created, alerts_duplicate, alerts_skipped,
			failures_json, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			agreements_transitioned = excluded.agreements_transitioned,
			payments_created = excluded.payments_created,
			payments_duplicate = excluded.payments_duplicate,
			payments_swept = excluded.payments_swept,
			alerts_created = excluded.alerts_created,
			alerts_duplicate = excluded.alerts_duplicate,
			alerts_skipped = excluded.alerts_skipped,
			failures_json = excluded.failures_json,
			completed_at = excluded.completed_at
	`,
		r.ID, r.AsOf.String(), r.Status, r.AgreementsTransitioned, r.PaymentsCreated,
		r.PaymentsDuplicate, r.PaymentsSwept, r.AlertsCreated, r.AlertsDuplicate, r.AlertsSkipped,
		string(failuresJSON), formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	return err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]lease.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, as_of, status, agreements_transitioned, payments_created,
			payments_duplicate, payments_swept, alerts_created, alerts_duplicate, alerts_skipped,
			failures_json, started_at, completed_at
		FROM job_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []lease.RunReport
	for rows.Next() {
		var r lease.RunReport
		var asOf, failuresJSON, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(
			&r.ID, &asOf, &r.Status, &r.AgreementsTransitioned, &r.PaymentsCreated,
			&r.PaymentsDuplicate, &r.PaymentsSwept, &r.AlertsCreated, &r.AlertsDuplicate, &r.AlertsSkipped,
			&failuresJSON, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		r.AsOf = parseDate(sql.NullString{String: asOf, Valid: true})
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		if err := json.Unmarshal([]byte(failuresJSON), &r.Failures); err != nil {
			return nil, fmt.Errorf("run %s: bad failures_json: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"alerts", "payment_records", "obligations", "agreements", "lead_time_preferences", "job_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// checkCAS turns a zero-row conditional update into ErrNotFound or
// ErrConcurrentModification. Callers hold s.mu.
func (s *Store) checkCAS(ctx context.Context, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%s %s: %w", table, id, lease.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, lease.ErrConcurrentModification)
}

type scanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, arg)
}

func (w *where) in(col string, values []string) {
	if len(values) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	w.conds = append(w.conds, col+" IN ("+marks+")")
	for _, v := range values {
		w.args = append(w.args, v)
	}
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func dateValue(d lease.Date) sql.NullString {
	return nullString(d.String())
}

func parseDate(ns sql.NullString) lease.Date {
	if !ns.Valid || ns.String == "" {
		return lease.Date{}
	}
	d, _ := lease.ParseDate(ns.String)
	return d
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimalPtr(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d := parseDecimal(ns.String)
	return &d
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
