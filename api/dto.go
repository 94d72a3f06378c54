/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the lease domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

CONVENTIONS:
  - Dates are "YYYY-MM-DD"; timestamps are RFC3339
  - Money is a decimal string ("53460.00" style). Requests accept either a
    JSON string or a JSON number.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - lease/types.go: Domain types
*/
package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/grospace/lease-engine/lease"
)

// =============================================================================
// AGREEMENTS
// =============================================================================

// AgreementRequest is a confirmed agreement submitted for activation.
type AgreementRequest struct {
	ID                       string          `json:"id"`
	OrgID                    string          `json:"org_id"`
	OutletID                 string          `json:"outlet_id"`
	DocumentType             string          `json:"document_type"`
	LeaseCommencementDate    string          `json:"lease_commencement_date"`
	RentCommencementDate     string          `json:"rent_commencement_date"`
	LeaseExpiryDate          string          `json:"lease_expiry_date"`
	LockInEndDate            string          `json:"lock_in_end_date"`
	MonthlyRent              decimal.Decimal `json:"monthly_rent"`
	CAMMonthly               decimal.Decimal `json:"cam_monthly"`
	HVACMonthly              decimal.Decimal `json:"hvac_monthly"`
	SecurityDeposit          decimal.Decimal `json:"security_deposit"`
	CAMDeposit               decimal.Decimal `json:"cam_deposit"`
	EscalationPercent        decimal.Decimal `json:"escalation_percent"`
	EscalationFrequencyYears int             `json:"escalation_frequency_years"`
	RentDueDay               int             `json:"rent_due_day"`
}

// ToAgreement parses the request dates. An unparseable date is an
// InvalidDateError naming the field.
func (r AgreementRequest) ToAgreement() (lease.Agreement, error) {
	a := lease.Agreement{
		ID:                       lease.AgreementID(r.ID),
		OrgID:                    r.OrgID,
		OutletID:                 r.OutletID,
		DocumentType:             lease.DocumentType(r.DocumentType),
		MonthlyRent:              r.MonthlyRent,
		CAMMonthly:               r.CAMMonthly,
		HVACMonthly:              r.HVACMonthly,
		SecurityDeposit:          r.SecurityDeposit,
		CAMDeposit:               r.CAMDeposit,
		EscalationPercent:        r.EscalationPercent,
		EscalationFrequencyYears: r.EscalationFrequencyYears,
		RentDueDay:               r.RentDueDay,
	}
	var err error
	dates := []struct {
		field string
		value string
		dst   *lease.Date
	}{
		{"lease_commencement_date", r.LeaseCommencementDate, &a.LeaseCommencement},
		{"rent_commencement_date", r.RentCommencementDate, &a.RentCommencement},
		{"lease_expiry_date", r.LeaseExpiryDate, &a.LeaseExpiry},
		{"lock_in_end_date", r.LockInEndDate, &a.LockInEnd},
	}
	for _, d := range dates {
		if *d.dst, err = parseDateField(d.field, d.value); err != nil {
			return lease.Agreement{}, err
		}
	}
	return a, nil
}

// AgreementDTO represents an agreement in API responses.
type AgreementDTO struct {
	ID                       string          `json:"id"`
	OrgID                    string          `json:"org_id"`
	OutletID                 string          `json:"outlet_id"`
	DocumentType             string          `json:"document_type"`
	Status                   string          `json:"status"`
	LeaseCommencementDate    string          `json:"lease_commencement_date,omitempty"`
	RentCommencementDate     string          `json:"rent_commencement_date,omitempty"`
	LeaseExpiryDate          string          `json:"lease_expiry_date,omitempty"`
	LockInEndDate            string          `json:"lock_in_end_date,omitempty"`
	MonthlyRent              decimal.Decimal `json:"monthly_rent"`
	CAMMonthly               decimal.Decimal `json:"cam_monthly"`
	HVACMonthly              decimal.Decimal `json:"hvac_monthly"`
	SecurityDeposit          decimal.Decimal `json:"security_deposit"`
	CAMDeposit               decimal.Decimal `json:"cam_deposit"`
	EscalationPercent        decimal.Decimal `json:"escalation_percent"`
	EscalationFrequencyYears int             `json:"escalation_frequency_years"`
	RentDueDay               int             `json:"rent_due_day,omitempty"`
	SupersedesID             string          `json:"supersedes_id,omitempty"`
	NextEscalationDate       string          `json:"next_escalation_date,omitempty"`
	CreatedAt                string          `json:"created_at,omitempty"`
}

// ConfirmResponse is returned from confirm and renew.
type ConfirmResponse struct {
	Agreement        AgreementDTO    `json:"agreement"`
	Obligations      []ObligationDTO `json:"obligations"`
	PaymentsCreated  int             `json:"payments_created"`
	AlertsCreated    int             `json:"alerts_created"`
	AlertsSkipped    []string        `json:"alerts_skipped,omitempty"`
	AlreadyConfirmed bool            `json:"already_confirmed"`
}

// TransitionRequest moves an agreement to a new lifecycle status.
type TransitionRequest struct {
	Status string `json:"status"`
}

// ExtractRequest is a raw extraction payload to normalize.
type ExtractRequest struct {
	AgreementID  string          `json:"agreement_id"`
	OrgID        string          `json:"org_id"`
	OutletID     string          `json:"outlet_id"`
	DocumentType string          `json:"document_type"`
	Extraction   json.RawMessage `json:"extraction"`
}

// ExtractResponse is the draft agreement built from an extraction.
type ExtractResponse struct {
	Agreement  AgreementDTO `json:"agreement"`
	Unresolved []string     `json:"unresolved"`
}

// =============================================================================
// OBLIGATIONS AND PAYMENTS
// =============================================================================

// ObligationDTO represents an obligation in API responses.
type ObligationDTO struct {
	ID          string          `json:"id"`
	AgreementID string          `json:"agreement_id"`
	Type        string          `json:"type"`
	Frequency   string          `json:"frequency"`
	Amount      decimal.Decimal `json:"amount"`
	Metered     bool            `json:"metered"`
	DueDay      int             `json:"due_day"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date,omitempty"`
	Active      bool            `json:"active"`
	Version     int             `json:"version"`
}

// PaymentDTO represents a payment record in API responses.
type PaymentDTO struct {
	ID           string           `json:"id"`
	ObligationID string           `json:"obligation_id"`
	AgreementID  string           `json:"agreement_id"`
	OutletID     string           `json:"outlet_id"`
	Type         string           `json:"type"`
	Period       string           `json:"period"`
	DueDate      string           `json:"due_date"`
	DueAmount    *decimal.Decimal `json:"due_amount"`
	Status       string           `json:"status"`
	PaidAmount   *decimal.Decimal `json:"paid_amount"`
	Outstanding  *decimal.Decimal `json:"outstanding"`
	PaidAt       string           `json:"paid_at,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// GenerateResponse summarizes a payment generation pass.
type GenerateResponse struct {
	Created    int          `json:"created"`
	Duplicates int          `json:"duplicates"`
	Records    []PaymentDTO `json:"records"`
}

// PayRequest records a payment. Omit amount to pay what is outstanding.
type PayRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Notes  string           `json:"notes"`
}

// =============================================================================
// ALERTS
// =============================================================================

// AlertDTO represents an alert in API responses.
type AlertDTO struct {
	ID            string `json:"id"`
	OrgID         string `json:"org_id"`
	OutletID      string `json:"outlet_id,omitempty"`
	AgreementID   string `json:"agreement_id"`
	ObligationID  string `json:"obligation_id,omitempty"`
	Type          string `json:"type"`
	Severity      string `json:"severity"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	TriggerDate   string `json:"trigger_date"`
	LeadDays      int    `json:"lead_days"`
	ReferenceDate string `json:"reference_date"`
	Status        string `json:"status"`
	SnoozedUntil  string `json:"snoozed_until,omitempty"`
}

// ScheduleResponse summarizes an alert scheduling pass.
type ScheduleResponse struct {
	Created    int        `json:"created"`
	Duplicates int        `json:"duplicates"`
	Skipped    []string   `json:"skipped,omitempty"`
	Alerts     []AlertDTO `json:"alerts"`
}

// SnoozeRequest hides an alert until a date.
type SnoozeRequest struct {
	Until string `json:"until"`
}

// LeadTimesDTO maps alert type to lead days.
type LeadTimesDTO map[string]int

// =============================================================================
// RUNS AND SCHEDULER
// =============================================================================

// RunDTO represents a job run.
type RunDTO struct {
	ID                     string              `json:"id"`
	AsOf                   string              `json:"as_of"`
	Status                 string              `json:"status"`
	StartedAt              string              `json:"started_at"`
	CompletedAt            string              `json:"completed_at,omitempty"`
	AgreementsTransitioned int                 `json:"agreements_transitioned"`
	PaymentsCreated        int                 `json:"payments_created"`
	PaymentsDuplicate      int                 `json:"payments_duplicate"`
	PaymentsSwept          int                 `json:"payments_swept"`
	AlertsCreated          int                 `json:"alerts_created"`
	AlertsDuplicate        int                 `json:"alerts_duplicate"`
	AlertsSkipped          int                 `json:"alerts_skipped"`
	Failures               []lease.UnitFailure `json:"failures"`
}

// SchedulerDTO describes the background scheduler.
type SchedulerDTO struct {
	Enabled   bool    `json:"enabled"`
	Interval  string  `json:"interval"`
	NextRunAt string  `json:"next_run_at,omitempty"`
	LastRun   *RunDTO `json:"last_run,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AsOf        string `json:"as_of"`
}

// LoadScenarioRequest selects a scenario. AsOf defaults to the scenario's own date.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	AsOf       string `json:"as_of"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func parseDateField(field, value string) (lease.Date, error) {
	d, err := lease.ParseDate(value)
	if err != nil {
		var ide *lease.InvalidDateError
		if errors.As(err, &ide) {
			ide.Field = field
		}
		return lease.Date{}, err
	}
	return d, nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAgreementDTO(a lease.Agreement, asOf lease.Date) AgreementDTO {
	dto := AgreementDTO{
		ID:                       string(a.ID),
		OrgID:                    a.OrgID,
		OutletID:                 a.OutletID,
		DocumentType:             string(a.DocumentType),
		Status:                   string(a.Status),
		LeaseCommencementDate:    a.LeaseCommencement.String(),
		RentCommencementDate:     a.RentCommencement.String(),
		LeaseExpiryDate:          a.LeaseExpiry.String(),
		LockInEndDate:            a.LockInEnd.String(),
		MonthlyRent:              a.MonthlyRent,
		CAMMonthly:               a.CAMMonthly,
		HVACMonthly:              a.HVACMonthly,
		SecurityDeposit:          a.SecurityDeposit,
		CAMDeposit:               a.CAMDeposit,
		EscalationPercent:        a.EscalationPercent,
		EscalationFrequencyYears: a.EscalationFrequencyYears,
		RentDueDay:               a.RentDueDay,
		SupersedesID:             string(a.SupersedesID),
		CreatedAt:                formatTimestamp(a.CreatedAt),
	}
	if next, err := lease.NextEscalation(a, asOf); err == nil {
		dto.NextEscalationDate = next.String()
	}
	return dto
}

func toObligationDTOs(obs []lease.Obligation) []ObligationDTO {
	dtos := make([]ObligationDTO, len(obs))
	for i, o := range obs {
		dtos[i] = ObligationDTO{
			ID:          string(o.ID),
			AgreementID: string(o.AgreementID),
			Type:        string(o.Type),
			Frequency:   string(o.Frequency),
			Amount:      o.Amount,
			Metered:     o.Metered,
			DueDay:      o.DueDay,
			StartDate:   o.Start.String(),
			EndDate:     o.End.String(),
			Active:      o.Active,
			Version:     o.Version,
		}
	}
	return dtos
}

func toPaymentDTO(r lease.PaymentRecord) PaymentDTO {
	dto := PaymentDTO{
		ID:           string(r.ID),
		ObligationID: string(r.ObligationID),
		AgreementID:  string(r.AgreementID),
		OutletID:     r.OutletID,
		Type:         string(r.Type),
		Period:       r.Period.String(),
		DueDate:      r.DueDate.String(),
		DueAmount:    r.DueAmount,
		Status:       string(r.Status),
		PaidAmount:   r.PaidAmount,
		Outstanding:  r.Outstanding(),
		Notes:        r.Notes,
	}
	if r.PaidAt != nil {
		dto.PaidAt = formatTimestamp(*r.PaidAt)
	}
	return dto
}

func toPaymentDTOs(records []lease.PaymentRecord) []PaymentDTO {
	dtos := make([]PaymentDTO, len(records))
	for i, r := range records {
		dtos[i] = toPaymentDTO(r)
	}
	return dtos
}

func toAlertDTO(a lease.Alert) AlertDTO {
	return AlertDTO{
		ID:            string(a.ID),
		OrgID:         a.OrgID,
		OutletID:      a.OutletID,
		AgreementID:   string(a.AgreementID),
		ObligationID:  string(a.ObligationID),
		Type:          string(a.Type),
		Severity:      string(a.Severity),
		Title:         a.Title,
		Message:       a.Message,
		TriggerDate:   a.TriggerDate.String(),
		LeadDays:      a.LeadDays,
		ReferenceDate: a.ReferenceDate.String(),
		Status:        string(a.Status),
		SnoozedUntil:  a.SnoozedUntil.String(),
	}
}

func toAlertDTOs(alerts []lease.Alert) []AlertDTO {
	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}
	return dtos
}

func toScheduleResponse(res lease.ScheduleResult) ScheduleResponse {
	return ScheduleResponse{
		Created:    res.Created,
		Duplicates: res.Duplicates,
		Skipped:    errorStrings(res.Skipped),
		Alerts:     toAlertDTOs(res.Alerts),
	}
}

func toRunDTO(r lease.RunReport) RunDTO {
	dto := RunDTO{
		ID:                     r.ID,
		AsOf:                   r.AsOf.String(),
		Status:                 r.Status,
		StartedAt:              formatTimestamp(r.StartedAt),
		AgreementsTransitioned: r.AgreementsTransitioned,
		PaymentsCreated:        r.PaymentsCreated,
		PaymentsDuplicate:      r.PaymentsDuplicate,
		PaymentsSwept:          r.PaymentsSwept,
		AlertsCreated:          r.AlertsCreated,
		AlertsDuplicate:        r.AlertsDuplicate,
		AlertsSkipped:          r.AlertsSkipped,
		Failures:               r.Failures,
	}
	if dto.Failures == nil {
		dto.Failures = []lease.UnitFailure{}
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = formatTimestamp(*r.CompletedAt)
	}
	return dto
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
