/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built portfolios that populate the database with realistic
  agreements for dashboards and demos. Each scenario confirms agreements
  through the engine, so obligations, payment records and alerts are
  produced exactly as they would be in production.

AVAILABLE SCENARIOS:
  sample-lease:      One lease expiring soon, lock-in already passed
  expiring-license:  A trade license about to lapse next to a running lease
  portfolio:         Three outlets: lease, long lease with escalations and
                     HVAC, franchise agreement; org lead-time override

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save organization preferences if the scenario has any
 3. Confirm each agreement as of the scenario date

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "portfolio", "as_of": "2026-02-22"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Engine-backed handlers
  - lease/engine.go: ConfirmAgreement
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/grospace/lease-engine/lease"
)

// resetter is implemented by stores that can be cleared for demos.
type resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const scenarioDate = "2026-02-22"

var scenarios = []ScenarioDTO{
	{
		ID:          "sample-lease",
		Name:        "Sample Lease",
		Description: "Lease expiring 2026-04-01 with 15% escalation every 3 years; lock-in already ended",
		AsOf:        scenarioDate,
	},
	{
		ID:          "expiring-license",
		Name:        "Expiring License",
		Description: "Trade license lapsing inside the alert window next to a running lease",
		AsOf:        scenarioDate,
	},
	{
		ID:          "portfolio",
		Name:        "Portfolio",
		Description: "Three outlets with escalations, HVAC, CAM deposit and a custom lead time",
		AsOf:        scenarioDate,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	asOf := lease.MustParseDate(scenarioDate)
	if req.AsOf != "" {
		d, err := parseDateField("as_of", req.AsOf)
		if err != nil {
			writeServiceError(w, "Invalid as_of", err)
			return
		}
		asOf = d
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	for _, a := range loader.agreements() {
		if _, err := h.Engine.ConfirmAgreement(ctx, a, asOf); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
			return
		}
	}
	for org, lt := range loader.leadTimes {
		if err := h.Engine.SetLeadTimes(ctx, org, lt); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save lead times", err)
			return
		}
	}
	if len(loader.leadTimes) > 0 {
		// Lead times changed after confirmation; schedule what they add.
		var report lease.RunReport
		if err := h.Engine.ScheduleAll(ctx, asOf, &report); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to schedule alerts", err)
			return
		}
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	log.Printf("[Scenarios] Loaded %s as of %s", req.ScenarioID, asOf)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID, "as_of": asOf.String()})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.store().(resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type scenarioLoader struct {
	agreements func() []lease.Agreement
	leadTimes  map[string]lease.LeadTimes
}

var scenarioLoaders = map[string]scenarioLoader{
	"sample-lease": {agreements: func() []lease.Agreement {
		return []lease.Agreement{sampleLease()}
	}},
	"expiring-license": {agreements: func() []lease.Agreement {
		return []lease.Agreement{
			sampleLease(),
			{
				ID:                "lic-fssai-out-1",
				OrgID:             "org-demo",
				OutletID:          "out-koramangala",
				DocumentType:      lease.DocumentLicense,
				LeaseCommencement: lease.MustParseDate("2025-03-16"),
				LeaseExpiry:       lease.MustParseDate("2026-03-15"),
			},
		}
	}},
	"portfolio": {
		agreements: func() []lease.Agreement {
			return []lease.Agreement{
				sampleLease(),
				{
					ID:                       "agr-indiranagar",
					OrgID:                    "org-demo",
					OutletID:                 "out-indiranagar",
					DocumentType:             lease.DocumentLease,
					LeaseCommencement:        lease.MustParseDate("2023-01-01"),
					RentCommencement:         lease.MustParseDate("2023-03-01"),
					LeaseExpiry:              lease.MustParseDate("2032-12-31"),
					LockInEnd:                lease.MustParseDate("2026-01-01"),
					MonthlyRent:              decimal.NewFromInt(120000),
					CAMMonthly:               decimal.NewFromInt(22000),
					HVACMonthly:              decimal.NewFromInt(8000),
					SecurityDeposit:          decimal.NewFromInt(720000),
					CAMDeposit:               decimal.NewFromInt(66000),
					EscalationPercent:        decimal.NewFromInt(10),
					EscalationFrequencyYears: 3,
					RentDueDay:               5,
				},
				{
					ID:                "frn-hsr",
					OrgID:             "org-demo",
					OutletID:          "out-hsr",
					DocumentType:      lease.DocumentFranchise,
					LeaseCommencement: lease.MustParseDate("2025-06-01"),
					LeaseExpiry:       lease.MustParseDate("2030-05-31"),
					LockInEnd:         lease.MustParseDate("2026-06-01"),
					MonthlyRent:       decimal.NewFromInt(85000),
					SecurityDeposit:   decimal.NewFromInt(255000),
					RentDueDay:        1,
				},
			}
		},
		leadTimes: map[string]lease.LeadTimes{
			"org-demo": {lease.AlertEscalation: 400, lease.AlertLockInExpiry: 120},
		},
	},
}

// sampleLease is a lease with rent 53,460, CAM 41,580, deposit 784,080
// and 15% escalation every 3 years.
func sampleLease() lease.Agreement {
	return lease.Agreement{
		ID:                       "agr-koramangala",
		OrgID:                    "org-demo",
		OutletID:                 "out-koramangala",
		DocumentType:             lease.DocumentLease,
		LeaseCommencement:        lease.MustParseDate("2024-10-04"),
		RentCommencement:         lease.MustParseDate("2024-12-04"),
		LeaseExpiry:              lease.MustParseDate("2026-04-01"),
		LockInEnd:                lease.MustParseDate("2025-04-01"),
		MonthlyRent:              decimal.NewFromInt(53460),
		CAMMonthly:               decimal.NewFromInt(41580),
		SecurityDeposit:          decimal.NewFromInt(784080),
		EscalationPercent:        decimal.NewFromInt(15),
		EscalationFrequencyYears: 3,
	}
}
