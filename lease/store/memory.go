// Package store provides an in-memory lease.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grospace/lease-engine/lease"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	agreements  map[lease.AgreementID]lease.Agreement
	obligations map[lease.ObligationID]lease.Obligation
	payments    map[lease.PaymentID]lease.PaymentRecord
	periods     map[periodKey]lease.PaymentID
	alerts      map[lease.AlertID]lease.Alert
	alertKeys   map[lease.AlertKey]lease.AlertID
	leadTimes   map[string]lease.LeadTimes
	runs        []lease.RunReport
}

type periodKey struct {
	ObligationID lease.ObligationID
	Period       lease.PeriodKey
}

var _ lease.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		agreements:  make(map[lease.AgreementID]lease.Agreement),
		obligations: make(map[lease.ObligationID]lease.Obligation),
		payments:    make(map[lease.PaymentID]lease.PaymentRecord),
		periods:     make(map[periodKey]lease.PaymentID),
		alerts:      make(map[lease.AlertID]lease.Alert),
		alertKeys:   make(map[lease.AlertKey]lease.AlertID),
		leadTimes:   make(map[string]lease.LeadTimes),
	}
}

// =============================================================================
// AGREEMENTS
// =============================================================================

func (m *Memory) CreateAgreement(_ context.Context, a lease.Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agreements[a.ID]; ok {
		return fmt.Errorf("agreement %s: %w", a.ID, lease.ErrAlreadyExists)
	}
	m.agreements[a.ID] = a
	return nil
}

func (m *Memory) GetAgreement(_ context.Context, id lease.AgreementID) (lease.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agreements[id]
	if !ok {
		return lease.Agreement{}, fmt.Errorf("agreement %s: %w", id, lease.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) ListAgreements(_ context.Context, f lease.AgreementFilter) ([]lease.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []lease.Agreement
	for _, a := range m.agreements {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateAgreementStatus(_ context.Context, id lease.AgreementID, expected, status lease.AgreementStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return fmt.Errorf("agreement %s: %w", id, lease.ErrNotFound)
	}
	if a.Status != expected {
		return fmt.Errorf("agreement %s is %s, expected %s: %w", id, a.Status, expected, lease.ErrConcurrentModification)
	}
	a.Status = status
	a.UpdatedAt = at
	m.agreements[id] = a
	return nil
}

func (m *Memory) UpdateAgreementTerms(_ context.Context, a lease.Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.agreements[a.ID]
	if !ok {
		return fmt.Errorf("agreement %s: %w", a.ID, lease.ErrNotFound)
	}
	a.Status = stored.Status
	a.CreatedAt = stored.CreatedAt
	m.agreements[a.ID] = a
	return nil
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func (m *Memory) InsertObligations(_ context.Context, obs []lease.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range obs {
		if _, ok := m.obligations[o.ID]; ok {
			continue
		}
		m.obligations[o.ID] = o
	}
	return nil
}

func (m *Memory) GetObligation(_ context.Context, id lease.ObligationID) (lease.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.obligations[id]
	if !ok {
		return lease.Obligation{}, fmt.Errorf("obligation %s: %w", id, lease.ErrNotFound)
	}
	return o, nil
}

func (m *Memory) ListObligations(_ context.Context, f lease.ObligationFilter) ([]lease.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []lease.Obligation
	for _, o := range m.obligations {
		if f.Matches(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeactivateObligations(_ context.Context, agreementID lease.AgreementID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, o := range m.obligations {
		if o.AgreementID == agreementID && o.Active {
			o.Active = false
			m.obligations[id] = o
			n++
		}
	}
	return n, nil
}

// =============================================================================
// PAYMENT RECORDS
// =============================================================================

// InsertPaymentRecord checks and writes under one lock, so a second insert
// for the same (obligation, period) always sees the first.
func (m *Memory) InsertPaymentRecord(_ context.Context, r lease.PaymentRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := periodKey{ObligationID: r.ObligationID, Period: r.Period}
	if _, ok := m.periods[k]; ok {
		return false, nil
	}
	if _, ok := m.payments[r.ID]; ok {
		return false, nil
	}
	m.periods[k] = r.ID
	m.payments[r.ID] = clonePayment(r)
	return true, nil
}

func (m *Memory) GetPaymentRecord(_ context.Context, id lease.PaymentID) (lease.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.payments[id]
	if !ok {
		return lease.PaymentRecord{}, fmt.Errorf("payment %s: %w", id, lease.ErrNotFound)
	}
	return clonePayment(r), nil
}

func (m *Memory) ListPaymentRecords(_ context.Context, f lease.PaymentFilter) ([]lease.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []lease.PaymentRecord
	for _, r := range m.payments {
		if f.ActiveObligationsOnly && !m.obligations[r.ObligationID].Active {
			continue
		}
		if f.Matches(r) {
			out = append(out, clonePayment(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) PeriodsFor(_ context.Context, obligationID lease.ObligationID) ([]lease.PeriodKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []lease.PeriodKey
	for k := range m.periods {
		if k.ObligationID == obligationID {
			out = append(out, k.Period)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *Memory) UpdatePaymentRecord(_ context.Context, r lease.PaymentRecord, expected lease.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[r.ID]
	if !ok {
		return fmt.Errorf("payment %s: %w", r.ID, lease.ErrNotFound)
	}
	if stored.Status != expected {
		return fmt.Errorf("payment %s is %s, expected %s: %w", r.ID, stored.Status, expected, lease.ErrConcurrentModification)
	}
	stored.Status = r.Status
	stored.PaidAmount = r.PaidAmount
	stored.PaidAt = r.PaidAt
	stored.Notes = r.Notes
	stored.UpdatedAt = r.UpdatedAt
	m.payments[r.ID] = clonePayment(stored)
	return nil
}

func clonePayment(r lease.PaymentRecord) lease.PaymentRecord {
	if r.DueAmount != nil {
		d := *r.DueAmount
		r.DueAmount = &d
	}
	if r.PaidAmount != nil {
		d := *r.PaidAmount
		r.PaidAmount = &d
	}
	if r.PaidAt != nil {
		t := *r.PaidAt
		r.PaidAt = &t
	}
	return r
}

// =============================================================================
// ALERTS
// =============================================================================

func (m *Memory) InsertAlert(_ context.Context, a lease.Alert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := a.Key()
	if _, ok := m.alertKeys[k]; ok {
		return false, nil
	}
	if _, ok := m.alerts[a.ID]; ok {
		return false, nil
	}
	m.alertKeys[k] = a.ID
	m.alerts[a.ID] = a
	return true, nil
}

func (m *Memory) GetAlert(_ context.Context, id lease.AlertID) (lease.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return lease.Alert{}, fmt.Errorf("alert %s: %w", id, lease.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) ListAlerts(_ context.Context, f lease.AlertFilter) ([]lease.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []lease.Alert
	for _, a := range m.alerts {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TriggerDate.Equal(out[j].TriggerDate) {
			return out[i].TriggerDate.Before(out[j].TriggerDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) AlertKeys(_ context.Context, agreementID lease.AgreementID) (map[lease.AlertKey]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[lease.AlertKey]bool)
	for k := range m.alertKeys {
		if k.AgreementID == agreementID {
			out[k] = true
		}
	}
	return out, nil
}

func (m *Memory) UpdateAlertStatus(_ context.Context, a lease.Alert, expected lease.AlertStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.alerts[a.ID]
	if !ok {
		return fmt.Errorf("alert %s: %w", a.ID, lease.ErrNotFound)
	}
	if stored.Status != expected {
		return fmt.Errorf("alert %s is %s, expected %s: %w", a.ID, stored.Status, expected, lease.ErrConcurrentModification)
	}
	stored.Status = a.Status
	stored.SnoozedUntil = a.SnoozedUntil
	stored.UpdatedAt = a.UpdatedAt
	m.alerts[a.ID] = stored
	return nil
}

// =============================================================================
// PREFERENCES AND RUNS
// =============================================================================

func (m *Memory) GetLeadTimes(_ context.Context, orgID string) (lease.LeadTimes, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := lease.LeadTimes{}
	for t, d := range m.leadTimes[orgID] {
		out[t] = d
	}
	return out, nil
}

func (m *Memory) SetLeadTimes(_ context.Context, orgID string, lt lease.LeadTimes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leadTimes[orgID]
	if !ok {
		cur = lease.LeadTimes{}
		m.leadTimes[orgID] = cur
	}
	for t, d := range lt {
		cur[t] = d
	}
	return nil
}

func (m *Memory) RecordRun(_ context.Context, r lease.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]lease.RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]lease.RunReport(nil), m.runs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Reset clears all data.
func (m *Memory) Reset(_ context.Context) error {
	fresh := NewMemory()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agreements = fresh.agreements
	m.obligations = fresh.obligations
	m.payments = fresh.payments
	m.periods = fresh.periods
	m.alerts = fresh.alerts
	m.alertKeys = fresh.alertKeys
	m.leadTimes = fresh.leadTimes
	m.runs = nil
	return nil
}
