/*
engine.go - Orchestration of derivation, generation, sweeps, and scheduling

PURPOSE:
  Engine wires the pure functions in this package to a Store. Every method
  is safe to call repeatedly and concurrently with any other: confirmation,
  a manual "Generate Payments" action, and the scheduled Run all converge on
  the same persisted state.

RUN ORDER (Run):
  1. SweepAgreements   active → expiring → expired, deactivating closed ones
  2. GenerateAll       payment records for every active obligation
  3. SweepPayments     upcoming → due → overdue by date
  4. ScheduleAll       alerts for every open agreement

FAILURE ISOLATION:
  A failing agreement or obligation is recorded in the RunReport and the
  run moves on. Duplicate inserts are counted and logged, never failures.

VERSIONED RE-DERIVATION:
  Editing an agreement's terms deactivates the current obligations and
  derives version N+1. Periods already materialized for any version of an
  obligation type count as existing for the new version, so payment history
  stays attached to the old obligations and no period is generated twice.
*/
package lease

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the engine's tunables. Zero fields take package defaults.
type Config struct {
	HorizonMonths      int
	DueThresholdDays   int
	Window             Window
	RenewalWindowDays  int
	ExpiringWindowDays int
}

// DefaultExpiringWindowDays is how close to expiry an active agreement becomes expiring.
const DefaultExpiringWindowDays = 90

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		HorizonMonths:      DefaultHorizonMonths,
		DueThresholdDays:   DefaultDueThresholdDays,
		Window:             Window{LookaheadDays: DefaultLookaheadDays, LookbackDays: DefaultLookbackDays},
		RenewalWindowDays:  DefaultRenewalWindowDays,
		ExpiringWindowDays: DefaultExpiringWindowDays,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HorizonMonths <= 0 {
		c.HorizonMonths = d.HorizonMonths
	}
	if c.DueThresholdDays <= 0 {
		c.DueThresholdDays = d.DueThresholdDays
	}
	c.Window = c.Window.withDefaults()
	if c.RenewalWindowDays <= 0 {
		c.RenewalWindowDays = d.RenewalWindowDays
	}
	if c.ExpiringWindowDays <= 0 {
		c.ExpiringWindowDays = d.ExpiringWindowDays
	}
	return c
}

func (c Config) plan() PeriodPlan {
	return PeriodPlan{HorizonMonths: c.HorizonMonths, DueThresholdDays: c.DueThresholdDays}
}

// Notifier is told about alerts right after they are materialized.
type Notifier interface {
	AlertsScheduled(ctx context.Context, alerts []Alert) error
}

// Engine runs the lease core against a Store.
type Engine struct {
	store    Store
	cfg      Config
	notifier Notifier
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier publishes newly scheduled alerts to n.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine over store.
func NewEngine(store Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{store: store, cfg: cfg.withDefaults(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the resolved configuration.
func (e *Engine) Config() Config { return e.cfg }

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

// =============================================================================
// RESULTS
// =============================================================================

// ConfirmResult describes what confirming an agreement produced.
type ConfirmResult struct {
	Agreement   Agreement
	Obligations []Obligation
	Payments    GenerateResult
	Alerts      ScheduleResult

	// AlreadyConfirmed is true when the agreement and its obligations
	// existed before the call; nothing was derived.
	AlreadyConfirmed bool
}

// GenerateResult counts one payment generation pass.
type GenerateResult struct {
	Created    int
	Duplicates int
	Records    []PaymentRecord
}

func (g *GenerateResult) merge(o GenerateResult) {
	g.Created += o.Created
	g.Duplicates += o.Duplicates
	g.Records = append(g.Records, o.Records...)
}

// ScheduleResult counts one alert scheduling pass.
type ScheduleResult struct {
	Created    int
	Duplicates int
	Skipped    []error
	Alerts     []Alert
}

func (s *ScheduleResult) merge(o ScheduleResult) {
	s.Created += o.Created
	s.Duplicates += o.Duplicates
	s.Skipped = append(s.Skipped, o.Skipped...)
	s.Alerts = append(s.Alerts, o.Alerts...)
}

// =============================================================================
// AGREEMENTS
// =============================================================================

// ConfirmAgreement stores a confirmed agreement, derives its obligations,
// and materializes its first payment records and alerts.
//
// Confirming an agreement that already has obligations is a no-op that
// returns the stored state with AlreadyConfirmed set.
func (e *Engine) ConfirmAgreement(ctx context.Context, a Agreement, asOf Date) (ConfirmResult, error) {
	if a.Status == "" || a.Status == AgreementDraft {
		a.Status = AgreementActive
	}
	if a.DocumentType == "" {
		a.DocumentType = DocumentLease
	}
	if err := a.Validate(); err != nil {
		return ConfirmResult{}, err
	}
	// Nothing is stored for terms that cannot be derived.
	obs, err := DeriveObligations(a)
	if err != nil {
		return ConfirmResult{}, err
	}
	now := e.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	if err := e.store.CreateAgreement(ctx, a); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return ConfirmResult{}, err
		}
		stored, err := e.store.GetAgreement(ctx, a.ID)
		if err != nil {
			return ConfirmResult{}, err
		}
		existing, err := e.store.ListObligations(ctx, ObligationFilter{AgreementID: &a.ID})
		if err != nil {
			return ConfirmResult{}, err
		}
		if len(existing) > 0 {
			return ConfirmResult{Agreement: stored, Obligations: existing, AlreadyConfirmed: true}, nil
		}
		if stored.Status.IsClosed() {
			return ConfirmResult{}, &IllegalStatusTransition{ID: string(stored.ID), From: string(stored.Status), To: string(a.Status), Action: "confirm"}
		}
		// Stored earlier without obligations: the caller's terms replace it.
		a.Status, a.CreatedAt = stored.Status, stored.CreatedAt
		if err := e.store.UpdateAgreementTerms(ctx, a); err != nil {
			return ConfirmResult{}, err
		}
	}

	for i := range obs {
		obs[i].CreatedAt = now
	}
	if err := e.store.InsertObligations(ctx, obs); err != nil {
		return ConfirmResult{}, fmt.Errorf("insert obligations for %s: %w", a.ID, err)
	}
	log.Printf("[Engine] Confirmed agreement %s: %d obligations", a.ID, len(obs))

	res := ConfirmResult{Agreement: a, Obligations: obs}
	if res.Payments, err = e.GenerateForAgreement(ctx, a.ID, asOf); err != nil {
		return res, err
	}
	if res.Alerts, err = e.ScheduleAlertsFor(ctx, a.ID, asOf); err != nil {
		return res, err
	}
	return res, nil
}

// RederiveObligations replaces an agreement's obligations with a new version
// derived from terms. Pass the stored agreement to re-derive without edits.
func (e *Engine) RederiveObligations(ctx context.Context, terms Agreement, asOf Date) ([]Obligation, error) {
	stored, err := e.store.GetAgreement(ctx, terms.ID)
	if err != nil {
		return nil, err
	}
	if stored.Status.IsClosed() {
		return nil, &IllegalStatusTransition{ID: string(stored.ID), From: string(stored.Status), To: string(stored.Status), Action: "re-derive obligations of"}
	}

	if terms.OrgID == "" {
		terms.OrgID = stored.OrgID
	}
	if terms.OutletID == "" {
		terms.OutletID = stored.OutletID
	}
	if terms.DocumentType == "" {
		terms.DocumentType = stored.DocumentType
	}
	terms.SupersedesID = stored.SupersedesID
	terms.Status = stored.Status
	terms.CreatedAt = stored.CreatedAt
	terms.UpdatedAt = e.now().UTC()
	if err := terms.Validate(); err != nil {
		return nil, err
	}

	current, err := e.store.ListObligations(ctx, ObligationFilter{AgreementID: &terms.ID})
	if err != nil {
		return nil, err
	}
	version := 1
	for _, o := range current {
		if o.Version >= version {
			version = o.Version + 1
		}
	}

	obs, err := DeriveObligationsVersion(terms, version)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateAgreementTerms(ctx, terms); err != nil {
		return nil, err
	}
	n, err := e.store.DeactivateObligations(ctx, terms.ID)
	if err != nil {
		return nil, err
	}
	for i := range obs {
		obs[i].CreatedAt = terms.UpdatedAt
	}
	if err := e.store.InsertObligations(ctx, obs); err != nil {
		return nil, err
	}
	log.Printf("[Engine] Re-derived %s as version %d: %d deactivated, %d created", terms.ID, version, n, len(obs))

	if _, err := e.GenerateForAgreement(ctx, terms.ID, asOf); err != nil {
		return obs, err
	}
	return obs, nil
}

// TransitionAgreement moves an agreement to status to. Closed statuses
// deactivate the agreement's obligations.
func (e *Engine) TransitionAgreement(ctx context.Context, id AgreementID, to AgreementStatus) (Agreement, error) {
	a, err := e.store.GetAgreement(ctx, id)
	if err != nil {
		return Agreement{}, err
	}
	from := a.Status
	if err := a.Transition(to, e.now()); err != nil {
		return Agreement{}, err
	}
	if err := e.store.UpdateAgreementStatus(ctx, id, from, to, a.UpdatedAt); err != nil {
		return Agreement{}, err
	}
	if to.IsClosed() {
		n, err := e.store.DeactivateObligations(ctx, id)
		if err != nil {
			return a, err
		}
		log.Printf("[Engine] Agreement %s %s -> %s: %d obligations deactivated", id, from, to, n)
	} else {
		log.Printf("[Engine] Agreement %s %s -> %s", id, from, to)
	}
	return a, nil
}

// RenewAgreement confirms successor as the renewal of oldID and marks the
// old agreement renewed.
func (e *Engine) RenewAgreement(ctx context.Context, oldID AgreementID, successor Agreement, asOf Date) (ConfirmResult, error) {
	old, err := e.store.GetAgreement(ctx, oldID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if !CanTransitionAgreement(old.Status, AgreementRenewed) {
		return ConfirmResult{}, &IllegalStatusTransition{ID: string(oldID), From: string(old.Status), To: string(AgreementRenewed), Action: "renew"}
	}
	if successor.ID == oldID {
		return ConfirmResult{}, fmt.Errorf("%w: successor must have a new id", ErrInvalidAgreement)
	}
	successor.SupersedesID = oldID
	if successor.OrgID == "" {
		successor.OrgID = old.OrgID
	}
	if successor.OutletID == "" {
		successor.OutletID = old.OutletID
	}
	if successor.DocumentType == "" {
		successor.DocumentType = old.DocumentType
	}

	res, err := e.ConfirmAgreement(ctx, successor, asOf)
	if err != nil {
		return res, err
	}
	if _, err := e.TransitionAgreement(ctx, oldID, AgreementRenewed); err != nil {
		return res, err
	}
	return res, nil
}

// SweepAgreements applies date-driven lifecycle changes as of asOf.
func (e *Engine) SweepAgreements(ctx context.Context, asOf Date, report *RunReport) error {
	open, err := e.store.ListAgreements(ctx, AgreementFilter{Statuses: []AgreementStatus{AgreementActive, AgreementExpiring}})
	if err != nil {
		return err
	}
	for _, a := range open {
		to := a.LifecycleStatus(asOf, e.cfg.ExpiringWindowDays)
		if to == a.Status {
			continue
		}
		if _, err := e.TransitionAgreement(ctx, a.ID, to); err != nil {
			if !errors.Is(err, ErrConcurrentModification) {
				report.fail("agreement", string(a.ID), err)
			}
			continue
		}
		report.AgreementsTransitioned++
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// GeneratePayments materializes the missing payment records of one obligation.
func (e *Engine) GeneratePayments(ctx context.Context, id ObligationID, asOf Date) (GenerateResult, error) {
	ob, err := e.store.GetObligation(ctx, id)
	if err != nil {
		return GenerateResult{}, err
	}
	return e.generate(ctx, ob, asOf)
}

// GenerateForAgreement materializes payment records for an agreement's active obligations.
func (e *Engine) GenerateForAgreement(ctx context.Context, id AgreementID, asOf Date) (GenerateResult, error) {
	obs, err := e.store.ListObligations(ctx, ObligationFilter{AgreementID: &id, ActiveOnly: true})
	if err != nil {
		return GenerateResult{}, err
	}
	var total GenerateResult
	for _, ob := range obs {
		res, err := e.generate(ctx, ob, asOf)
		total.merge(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// GenerateAll materializes payment records for every active obligation.
func (e *Engine) GenerateAll(ctx context.Context, asOf Date, report *RunReport) error {
	obs, err := e.store.ListObligations(ctx, ObligationFilter{ActiveOnly: true})
	if err != nil {
		return err
	}
	for _, ob := range obs {
		res, err := e.generate(ctx, ob, asOf)
		report.PaymentsCreated += res.Created
		report.PaymentsDuplicate += res.Duplicates
		if err != nil {
			report.fail("obligation", string(ob.ID), err)
		}
	}
	return nil
}

func (e *Engine) generate(ctx context.Context, ob Obligation, asOf Date) (GenerateResult, error) {
	if !ob.Active {
		return GenerateResult{}, nil
	}
	existing, err := e.lineagePeriods(ctx, ob)
	if err != nil {
		return GenerateResult{}, err
	}
	records, err := GeneratePeriods(ob, existing, asOf, e.cfg.plan())
	if err != nil {
		return GenerateResult{}, err
	}

	var res GenerateResult
	now := e.now().UTC()
	for _, r := range records {
		r.CreatedAt, r.UpdatedAt = now, now
		inserted, err := e.store.InsertPaymentRecord(ctx, r)
		if err != nil {
			return res, fmt.Errorf("insert %s: %w", r.ID, err)
		}
		if !inserted {
			res.Duplicates++
			log.Printf("[Generator] %v (skipped)", &DuplicatePeriodConflict{ObligationID: ob.ID, Period: r.Period})
			continue
		}
		res.Created++
		res.Records = append(res.Records, r)
	}
	if res.Created > 0 {
		log.Printf("[Generator] %s: %d periods created as of %s", ob.ID, res.Created, asOf)
	}
	return res, nil
}

// lineagePeriods returns the periods materialized for every version of ob's type.
func (e *Engine) lineagePeriods(ctx context.Context, ob Obligation) ([]PeriodKey, error) {
	all, err := e.store.ListObligations(ctx, ObligationFilter{AgreementID: &ob.AgreementID})
	if err != nil {
		return nil, err
	}
	var keys []PeriodKey
	for _, o := range all {
		if o.Type != ob.Type {
			continue
		}
		ks, err := e.store.PeriodsFor(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, ks...)
	}
	return keys, nil
}

// RecordPayment marks a payment record paid with amount (nil = outstanding amount).
func (e *Engine) RecordPayment(ctx context.Context, id PaymentID, amount *decimal.Decimal, notes string) (PaymentRecord, error) {
	r, err := e.store.GetPaymentRecord(ctx, id)
	if err != nil {
		return PaymentRecord{}, err
	}
	prev := r.Status
	if err := r.MarkPaid(amount, e.now()); err != nil {
		return PaymentRecord{}, err
	}
	if notes != "" {
		r.Notes = notes
	}
	if err := e.store.UpdatePaymentRecord(ctx, r, prev); err != nil {
		return PaymentRecord{}, err
	}
	log.Printf("[Engine] Payment %s %s -> %s", id, prev, r.Status)
	return r, nil
}

// MarkOverdue marks a due payment record overdue.
func (e *Engine) MarkOverdue(ctx context.Context, id PaymentID) (PaymentRecord, error) {
	r, err := e.store.GetPaymentRecord(ctx, id)
	if err != nil {
		return PaymentRecord{}, err
	}
	prev := r.Status
	if err := r.MarkOverdue(e.now()); err != nil {
		return PaymentRecord{}, err
	}
	if err := e.store.UpdatePaymentRecord(ctx, r, prev); err != nil {
		return PaymentRecord{}, err
	}
	return r, nil
}

// SweepPayments applies date-driven status changes to upcoming and due records
// of active obligations. Records of deactivated obligations keep their status.
// A record changed concurrently by someone else is left to them.
func (e *Engine) SweepPayments(ctx context.Context, asOf Date, report *RunReport) error {
	records, err := e.store.ListPaymentRecords(ctx, PaymentFilter{
		Statuses:              []PaymentStatus{PaymentUpcoming, PaymentDue},
		ActiveObligationsOnly: true,
	})
	if err != nil {
		return err
	}
	now := e.now().UTC()
	for _, r := range records {
		next := r.SweepStatus(asOf, e.cfg.DueThresholdDays)
		if next == r.Status {
			continue
		}
		prev := r.Status
		r.Status = next
		r.UpdatedAt = now
		if err := e.store.UpdatePaymentRecord(ctx, r, prev); err != nil {
			if !errors.Is(err, ErrConcurrentModification) {
				report.fail("payment", string(r.ID), err)
			}
			continue
		}
		report.PaymentsSwept++
	}
	return nil
}

// =============================================================================
// ALERTS
// =============================================================================

// ScheduleAlertsFor materializes the missing alerts for one agreement.
// Closed agreements get no new alerts.
func (e *Engine) ScheduleAlertsFor(ctx context.Context, id AgreementID, asOf Date) (ScheduleResult, error) {
	a, err := e.store.GetAgreement(ctx, id)
	if err != nil {
		return ScheduleResult{}, err
	}
	if a.Status.IsClosed() || a.Status == AgreementDraft {
		return ScheduleResult{}, nil
	}

	obs, err := e.store.ListObligations(ctx, ObligationFilter{AgreementID: &id, ActiveOnly: true})
	if err != nil {
		return ScheduleResult{}, err
	}
	horizon := asOf.AddDays(e.cfg.Window.LookaheadDays)
	payments, err := e.store.ListPaymentRecords(ctx, PaymentFilter{
		AgreementID:           &id,
		Statuses:              []PaymentStatus{PaymentUpcoming, PaymentDue, PaymentOverdue, PaymentPartiallyPaid},
		DueTo:                 &horizon,
		ActiveObligationsOnly: true,
	})
	if err != nil {
		return ScheduleResult{}, err
	}
	lead, err := e.store.GetLeadTimes(ctx, a.OrgID)
	if err != nil {
		return ScheduleResult{}, err
	}
	existing, err := e.store.AlertKeys(ctx, id)
	if err != nil {
		return ScheduleResult{}, err
	}

	alerts, skipped := ScheduleAlerts(ScheduleInput{
		Agreement:         a,
		Obligations:       obs,
		Payments:          payments,
		LeadTimes:         lead,
		Window:            e.cfg.Window,
		RenewalWindowDays: e.cfg.RenewalWindowDays,
		AsOf:              asOf,
		Existing:          existing,
	})

	res := ScheduleResult{Skipped: skipped}
	now := e.now().UTC()
	for _, al := range alerts {
		al.CreatedAt, al.UpdatedAt = now, now
		inserted, err := e.store.InsertAlert(ctx, al)
		if err != nil {
			return res, fmt.Errorf("insert %s: %w", al.ID, err)
		}
		if !inserted {
			res.Duplicates++
			log.Printf("[Alerts] %s already exists (skipped)", al.ID)
			continue
		}
		res.Created++
		res.Alerts = append(res.Alerts, al)
	}

	if res.Created > 0 {
		log.Printf("[Alerts] %s: %d alerts scheduled as of %s", id, res.Created, asOf)
		if e.notifier != nil {
			if err := e.notifier.AlertsScheduled(ctx, res.Alerts); err != nil {
				log.Printf("[Alerts] Notify failed for %s: %v", id, err)
			}
		}
	}
	return res, nil
}

// ScheduleAll materializes alerts for every active or expiring agreement.
func (e *Engine) ScheduleAll(ctx context.Context, asOf Date, report *RunReport) error {
	open, err := e.store.ListAgreements(ctx, AgreementFilter{Statuses: []AgreementStatus{AgreementActive, AgreementExpiring}})
	if err != nil {
		return err
	}
	for _, a := range open {
		res, err := e.ScheduleAlertsFor(ctx, a.ID, asOf)
		report.AlertsCreated += res.Created
		report.AlertsDuplicate += res.Duplicates
		report.AlertsSkipped += len(res.Skipped)
		if err != nil {
			report.fail("agreement", string(a.ID), err)
		}
	}
	return nil
}

// AcknowledgeAlert marks an alert acknowledged.
func (e *Engine) AcknowledgeAlert(ctx context.Context, id AlertID) (Alert, error) {
	a, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	prev := a.Status
	if err := a.Acknowledge(e.now()); err != nil {
		return Alert{}, err
	}
	if err := e.store.UpdateAlertStatus(ctx, a, prev); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// SnoozeAlert snoozes an alert until the given date (zero = indefinitely).
func (e *Engine) SnoozeAlert(ctx context.Context, id AlertID, until Date) (Alert, error) {
	a, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	prev := a.Status
	if err := a.Snooze(until, e.now()); err != nil {
		return Alert{}, err
	}
	if err := e.store.UpdateAlertStatus(ctx, a, prev); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// LeadTimes returns the organization's effective lead times.
func (e *Engine) LeadTimes(ctx context.Context, orgID string) (LeadTimes, error) {
	lt, err := e.store.GetLeadTimes(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return lt.Resolved(), nil
}

// SetLeadTimes stores lead-time overrides for an organization. Alerts that
// already exist keep their trigger dates.
func (e *Engine) SetLeadTimes(ctx context.Context, orgID string, lt LeadTimes) error {
	if orgID == "" {
		return fmt.Errorf("%w: org_id is required", ErrInvalidAgreement)
	}
	known := DefaultLeadTimes()
	for t, days := range lt {
		if _, ok := known[t]; !ok && t != AlertCustom {
			return &InvalidDateError{Field: "lead_times", Value: string(t), Reason: "unknown alert type"}
		}
		if days < 0 || days > 3660 {
			return &InvalidDateError{Field: "lead_times." + string(t), Value: fmt.Sprint(days), Reason: "must be 0-3660 days"}
		}
	}
	return e.store.SetLeadTimes(ctx, orgID, lt)
}

// =============================================================================
// FULL RUN
// =============================================================================

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunReport summarizes one full run. Failures never stop the run.
type RunReport struct {
	ID          string
	AsOf        Date
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time

	AgreementsTransitioned int
	PaymentsCreated        int
	PaymentsDuplicate      int
	PaymentsSwept          int
	AlertsCreated          int
	AlertsDuplicate        int
	AlertsSkipped          int

	Failures []UnitFailure
}

// UnitFailure is one agreement, obligation, or payment that failed in a run.
type UnitFailure struct {
	Unit  string `json:"unit"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (r *RunReport) fail(unit, id string, err error) {
	log.Printf("[Engine] %s %s failed: %v", unit, id, err)
	r.Failures = append(r.Failures, UnitFailure{Unit: unit, ID: id, Error: err.Error()})
}

// Run performs a full pass as of asOf and records it. The returned error is
// only for failures that prevented a step from starting at all; per-unit
// failures are in the report.
func (e *Engine) Run(ctx context.Context, asOf Date) (RunReport, error) {
	started := e.now().UTC()
	report := RunReport{
		ID:        fmt.Sprintf("run-%d", started.UnixNano()),
		AsOf:      asOf,
		Status:    RunRunning,
		StartedAt: started,
	}
	log.Printf("[Engine] Run %s as of %s", report.ID, asOf)

	steps := []struct {
		name string
		fn   func(context.Context, Date, *RunReport) error
	}{
		{"sweep agreements", e.SweepAgreements},
		{"generate payments", e.GenerateAll},
		{"sweep payments", e.SweepPayments},
		{"schedule alerts", e.ScheduleAll},
	}

	var runErr error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := step.fn(ctx, asOf, &report); err != nil {
			runErr = fmt.Errorf("%s: %w", step.name, err)
			report.fail("step", step.name, err)
		}
	}

	done := e.now().UTC()
	report.CompletedAt = &done
	report.Status = RunCompleted
	if runErr != nil {
		report.Status = RunFailed
	}
	if err := e.store.RecordRun(ctx, report); err != nil {
		log.Printf("[Engine] Failed to record run %s: %v", report.ID, err)
	}

	log.Printf("[Engine] Run %s %s: %d agreements moved, %d payments created (%d duplicate), %d swept, %d alerts created (%d duplicate, %d skipped), %d failures",
		report.ID, report.Status, report.AgreementsTransitioned, report.PaymentsCreated, report.PaymentsDuplicate,
		report.PaymentsSwept, report.AlertsCreated, report.AlertsDuplicate, report.AlertsSkipped, len(report.Failures))
	return report, runErr
}
