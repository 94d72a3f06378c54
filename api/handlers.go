/*
handlers.go - HTTP API handlers for the lease engine

PURPOSE:
  Exposes the lease engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to lease.Engine.

ENDPOINTS:
  Agreements:
    GET    /api/agreements                     List (org_id, outlet_id, status)
    POST   /api/agreements                     Confirm an agreement
    POST   /api/agreements/extract             Normalize an extraction into a draft
    GET    /api/agreements/{id}                Get agreement
    POST   /api/agreements/{id}/transition     Lifecycle transition
    POST   /api/agreements/{id}/renew          Confirm a successor, mark renewed
    POST   /api/agreements/{id}/rederive       New obligation version from edited terms
    GET    /api/agreements/{id}/obligations    Obligations (all versions)
    POST   /api/agreements/{id}/generate       Generate payment records
    POST   /api/agreements/{id}/alerts         Schedule alerts

  Obligations and payments:
    POST   /api/obligations/{id}/generate      Generate one obligation's records
    GET    /api/payments                       List (agreement_id, outlet_id, status, due_from, due_to)
    POST   /api/payments/sweep                 upcoming→due→overdue sweep
    POST   /api/payments/{id}/pay              Record a payment
    POST   /api/payments/{id}/overdue          Mark a due record overdue

  Alerts:
    GET    /api/alerts                         List (org_id, agreement_id, status, visible)
    POST   /api/alerts/{id}/acknowledge        Acknowledge
    POST   /api/alerts/{id}/snooze             Snooze until a date

  Organizations:
    GET    /api/organizations/{org}/lead-times Resolved lead times
    PUT    /api/organizations/{org}/lead-times Save overrides

  Runs:
    POST   /api/run                            Full run now
    GET    /api/runs                           Recent runs
    GET    /api/scheduler                      Scheduler status

AS-OF DATE:
  Every endpoint that depends on "today" accepts ?as_of=YYYY-MM-DD and
  defaults to the server's UTC date.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid dates, invalid agreements, bad amounts, malformed JSON
  - 404: Resource not found
  - 409: Illegal transition, duplicate, concurrent modification
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grospace/lease-engine/extraction"
	"github.com/grospace/lease-engine/lease"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *lease.Engine
	Scheduler *JobScheduler

	now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over engine.
func NewHandler(engine *lease.Engine) *Handler {
	return &Handler{Engine: engine, now: time.Now}
}

func (h *Handler) store() lease.Store { return h.Engine.Store() }

// asOf reads ?as_of, defaulting to today.
func (h *Handler) asOf(r *http.Request) (lease.Date, error) {
	if v := r.URL.Query().Get("as_of"); v != "" {
		return parseDateField("as_of", v)
	}
	return lease.DateOf(h.now()), nil
}

// =============================================================================
// AGREEMENT HANDLERS
// =============================================================================

// ListAgreements returns agreements.
// GET /api/agreements
func (h *Handler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f lease.AgreementFilter
	if v := q.Get("org_id"); v != "" {
		f.OrgID = &v
	}
	if v := q.Get("outlet_id"); v != "" {
		f.OutletID = &v
	}
	for _, s := range q["status"] {
		f.Statuses = append(f.Statuses, lease.AgreementStatus(s))
	}
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}

	agreements, err := h.store().ListAgreements(r.Context(), f)
	if err != nil {
		writeServiceError(w, "Failed to list agreements", err)
		return
	}
	dtos := make([]AgreementDTO, len(agreements))
	for i, a := range agreements {
		dtos[i] = toAgreementDTO(a, asOf)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAgreement returns one agreement.
// GET /api/agreements/{id}
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	a, err := h.store().GetAgreement(r.Context(), lease.AgreementID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Agreement not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTO(a, asOf))
}

// ConfirmAgreement activates an agreement and derives everything from it.
// POST /api/agreements
func (h *Handler) ConfirmAgreement(w http.ResponseWriter, r *http.Request) {
	var req AgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	a, err := req.ToAgreement()
	if err != nil {
		writeServiceError(w, "Invalid agreement", err)
		return
	}
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}

	res, err := h.Engine.ConfirmAgreement(r.Context(), a, asOf)
	if err != nil {
		writeServiceError(w, "Failed to confirm agreement", err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyConfirmed {
		status = http.StatusOK
	}
	writeJSON(w, status, toConfirmResponse(res, asOf))
}

// ExtractAgreement normalizes a raw extraction payload into a draft agreement.
// Nothing is stored.
// POST /api/agreements/extract
func (h *Handler) ExtractAgreement(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	docType, err := extraction.ParseDocumentType(req.DocumentType)
	if err != nil {
		writeServiceError(w, "Invalid document type", err)
		return
	}
	e, err := extraction.Parse(req.Extraction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid extraction payload", err)
		return
	}

	res := extraction.Normalize(e, docType, extraction.Identity{
		AgreementID: lease.AgreementID(req.AgreementID),
		OrgID:       req.OrgID,
		OutletID:    req.OutletID,
	})
	unresolved := errorStrings(res.Unresolved)
	if unresolved == nil {
		unresolved = []string{}
	}
	writeJSON(w, http.StatusOK, ExtractResponse{
		Agreement:  toAgreementDTO(res.Agreement, lease.DateOf(h.now())),
		Unresolved: unresolved,
	})
}

// TransitionAgreement moves an agreement through its lifecycle.
// POST /api/agreements/{id}/transition
func (h *Handler) TransitionAgreement(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	a, err := h.Engine.TransitionAgreement(r.Context(), lease.AgreementID(chi.URLParam(r, "id")), lease.AgreementStatus(req.Status))
	if err != nil {
		writeServiceError(w, "Failed to transition agreement", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementDTO(a, lease.DateOf(h.now())))
}

// RenewAgreement confirms a successor and marks the agreement renewed.
// POST /api/agreements/{id}/renew
func (h *Handler) RenewAgreement(w http.ResponseWriter, r *http.Request) {
	var req AgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	successor, err := req.ToAgreement()
	if err != nil {
		writeServiceError(w, "Invalid successor agreement", err)
		return
	}
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}

	res, err := h.Engine.RenewAgreement(r.Context(), lease.AgreementID(chi.URLParam(r, "id")), successor, asOf)
	if err != nil {
		writeServiceError(w, "Failed to renew agreement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toConfirmResponse(res, asOf))
}

// RederiveObligations replaces obligations with a new version.
// An empty body re-derives from the stored terms.
// POST /api/agreements/{id}/rederive
func (h *Handler) RederiveObligations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := lease.AgreementID(chi.URLParam(r, "id"))
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}

	var terms lease.Agreement
	var req AgreementRequest
	switch err := json.NewDecoder(r.Body).Decode(&req); {
	case errors.Is(err, io.EOF):
		if terms, err = h.store().GetAgreement(ctx, id); err != nil {
			writeServiceError(w, "Agreement not found", err)
			return
		}
	case err != nil:
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	default:
		req.ID = string(id)
		if terms, err = req.ToAgreement(); err != nil {
			writeServiceError(w, "Invalid agreement", err)
			return
		}
	}

	obs, err := h.Engine.RederiveObligations(ctx, terms, asOf)
	if err != nil {
		writeServiceError(w, "Failed to re-derive obligations", err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTOs(obs))
}

// ListObligations returns every obligation version of an agreement.
// GET /api/agreements/{id}/obligations?active=true
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	id := lease.AgreementID(chi.URLParam(r, "id"))
	f := lease.ObligationFilter{AgreementID: &id, ActiveOnly: r.URL.Query().Get("active") == "true"}
	obs, err := h.store().ListObligations(r.Context(), f)
	if err != nil {
		writeServiceError(w, "Failed to list obligations", err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTOs(obs))
}

// GenerateForAgreement generates payment records for an agreement.
// POST /api/agreements/{id}/generate
func (h *Handler) GenerateForAgreement(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	res, err := h.Engine.GenerateForAgreement(r.Context(), lease.AgreementID(chi.URLParam(r, "id")), asOf)
	if err != nil {
		writeServiceError(w, "Failed to generate payments", err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Created: res.Created, Duplicates: res.Duplicates, Records: toPaymentDTOs(res.Records)})
}

// ScheduleAlerts schedules alerts for an agreement.
// POST /api/agreements/{id}/alerts
func (h *Handler) ScheduleAlerts(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	res, err := h.Engine.ScheduleAlertsFor(r.Context(), lease.AgreementID(chi.URLParam(r, "id")), asOf)
	if err != nil {
		writeServiceError(w, "Failed to schedule alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(res))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// GenerateForObligation generates one obligation's payment records.
// POST /api/obligations/{id}/generate
func (h *Handler) GenerateForObligation(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	res, err := h.Engine.GeneratePayments(r.Context(), lease.ObligationID(chi.URLParam(r, "id")), asOf)
	if err != nil {
		writeServiceError(w, "Failed to generate payments", err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Created: res.Created, Duplicates: res.Duplicates, Records: toPaymentDTOs(res.Records)})
}

// ListPayments returns payment records.
// GET /api/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f lease.PaymentFilter
	if v := q.Get("agreement_id"); v != "" {
		id := lease.AgreementID(v)
		f.AgreementID = &id
	}
	if v := q.Get("obligation_id"); v != "" {
		id := lease.ObligationID(v)
		f.ObligationID = &id
	}
	if v := q.Get("outlet_id"); v != "" {
		f.OutletID = &v
	}
	for _, s := range q["status"] {
		f.Statuses = append(f.Statuses, lease.PaymentStatus(s))
	}
	for _, p := range []struct {
		name string
		dst  **lease.Date
	}{{"due_from", &f.DueFrom}, {"due_to", &f.DueTo}} {
		if v := q.Get(p.name); v != "" {
			d, err := parseDateField(p.name, v)
			if err != nil {
				writeServiceError(w, "Invalid "+p.name, err)
				return
			}
			*p.dst = &d
		}
	}

	records, err := h.store().ListPaymentRecords(r.Context(), f)
	if err != nil {
		writeServiceError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(records))
}

// PayPayment records a full or partial payment.
// POST /api/payments/{id}/pay
func (h *Handler) PayPayment(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Engine.RecordPayment(r.Context(), lease.PaymentID(chi.URLParam(r, "id")), req.Amount, req.Notes)
	if err != nil {
		writeServiceError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(rec))
}

// MarkOverdue marks a due record overdue.
// POST /api/payments/{id}/overdue
func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.MarkOverdue(r.Context(), lease.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to mark overdue", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(rec))
}

// SweepPayments moves records through upcoming→due→overdue.
// POST /api/payments/sweep
func (h *Handler) SweepPayments(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	var report lease.RunReport
	if err := h.Engine.SweepPayments(r.Context(), asOf, &report); err != nil {
		writeServiceError(w, "Failed to sweep payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":    asOf.String(),
		"swept":    report.PaymentsSwept,
		"failures": len(report.Failures),
	})
}

// =============================================================================
// ALERT HANDLERS
// =============================================================================

// ListAlerts returns alerts. With visible=true only alerts that should show
// as of the as_of date are returned.
// GET /api/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f lease.AlertFilter
	if v := q.Get("org_id"); v != "" {
		f.OrgID = &v
	}
	if v := q.Get("agreement_id"); v != "" {
		id := lease.AgreementID(v)
		f.AgreementID = &id
	}
	for _, s := range q["status"] {
		f.Statuses = append(f.Statuses, lease.AlertStatus(s))
	}
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	visible := q.Get("visible") == "true"
	if visible {
		f.TriggeredBy = &asOf
	}

	alerts, err := h.store().ListAlerts(r.Context(), f)
	if err != nil {
		writeServiceError(w, "Failed to list alerts", err)
		return
	}
	if visible {
		shown := alerts[:0]
		for _, a := range alerts {
			if a.Visible(asOf) {
				shown = append(shown, a)
			}
		}
		alerts = shown
	}
	writeJSON(w, http.StatusOK, toAlertDTOs(alerts))
}

// AcknowledgeAlert acknowledges an alert.
// POST /api/alerts/{id}/acknowledge
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.AcknowledgeAlert(r.Context(), lease.AlertID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to acknowledge alert", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(a))
}

// SnoozeAlert hides an alert until a date.
// POST /api/alerts/{id}/snooze
func (h *Handler) SnoozeAlert(w http.ResponseWriter, r *http.Request) {
	var req SnoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	until, err := parseDateField("until", req.Until)
	if err != nil {
		writeServiceError(w, "Invalid snooze date", err)
		return
	}
	a, err := h.Engine.SnoozeAlert(r.Context(), lease.AlertID(chi.URLParam(r, "id")), until)
	if err != nil {
		writeServiceError(w, "Failed to snooze alert", err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertDTO(a))
}

// =============================================================================
// LEAD-TIME HANDLERS
// =============================================================================

// GetLeadTimes returns the organization's resolved lead times.
// GET /api/organizations/{org}/lead-times
func (h *Handler) GetLeadTimes(w http.ResponseWriter, r *http.Request) {
	lt, err := h.Engine.LeadTimes(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		writeServiceError(w, "Failed to load lead times", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadTimesDTO(lt))
}

// SetLeadTimes saves lead-time overrides and returns the resolved set.
// PUT /api/organizations/{org}/lead-times
func (h *Handler) SetLeadTimes(w http.ResponseWriter, r *http.Request) {
	var req LeadTimesDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	org := chi.URLParam(r, "org")
	lt := make(lease.LeadTimes, len(req))
	for k, v := range req {
		lt[lease.AlertType(k)] = v
	}
	if err := h.Engine.SetLeadTimes(r.Context(), org, lt); err != nil {
		writeServiceError(w, "Failed to save lead times", err)
		return
	}
	resolved, err := h.Engine.LeadTimes(r.Context(), org)
	if err != nil {
		writeServiceError(w, "Failed to load lead times", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadTimesDTO(resolved))
}

func toLeadTimesDTO(lt lease.LeadTimes) LeadTimesDTO {
	out := make(LeadTimesDTO, len(lt))
	for k, v := range lt {
		out[string(k)] = v
	}
	return out
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// TriggerRun performs a full run now.
// POST /api/run
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeServiceError(w, "Invalid as_of", err)
		return
	}
	report, err := h.Engine.Run(r.Context(), asOf)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Run failed",
			"run":   toRunDTO(report),
		})
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(report))
}

// ListRuns returns recent runs, newest first.
// GET /api/runs?limit=20
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	runs, err := h.store().ListRuns(r.Context(), limit)
	if err != nil {
		writeServiceError(w, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetScheduler describes the background scheduler.
// GET /api/scheduler
func (h *Handler) GetScheduler(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, SchedulerDTO{Enabled: false})
		return
	}
	dto := SchedulerDTO{
		Enabled:  h.Scheduler.Enabled,
		Interval: h.Scheduler.CheckInterval.String(),
	}
	if h.Scheduler.Enabled {
		dto.NextRunAt = formatTimestamp(h.Scheduler.GetNextRunTime())
	}
	if last, ok := h.Scheduler.LastRun(); ok {
		run := toRunDTO(last)
		dto.LastRun = &run
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func toConfirmResponse(res lease.ConfirmResult, asOf lease.Date) ConfirmResponse {
	return ConfirmResponse{
		Agreement:        toAgreementDTO(res.Agreement, asOf),
		Obligations:      toObligationDTOs(res.Obligations),
		PaymentsCreated:  res.Payments.Created,
		AlertsCreated:    res.Alerts.Created,
		AlertsSkipped:    errorStrings(res.Alerts.Skipped),
		AlreadyConfirmed: res.AlreadyConfirmed,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps engine errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case lease.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case lease.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case lease.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
