/*
scenarios.go - Demo society loaders for testing and demonstrations

PURPOSE:
  Populates the ledger with small societies that show the carry-forward
  rules at work, so the front end has something to display.

AVAILABLE SCENARIOS:
  carry-forward:      One flat, partial then full payment, three months
  maintenance-change: Rate raised after two unpaid months, cascade applied
  defaulters:         Mixed payers over six months, two chronic defaulters

HOW SCENARIOS WORK:
  1. Reset database (clear all data)
  2. Create residents
  3. Generate months oldest first through the billing service
  4. Record payments between generations

All months are relative to the current month, so every scenario stays
inside the back-fill window.

NOTE:
  Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/rwa-ledger/billing"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "carry-forward",
		Name:        "Carry-Forward",
		Description: "Flat A-101 at 800/month: pays 400, then clears 1200, then owes a clean 800",
	},
	{
		ID:          "maintenance-change",
		Name:        "Maintenance Change",
		Description: "Two unpaid months at 800, rate raised to 1200 and recalculated from the first month",
	},
	{
		ID:          "defaulters",
		Name:        "Defaulters",
		Description: "Five flats over six months with regular, late and non-paying residents",
	},
}

var errResetUnsupported = errors.New("store does not support reset")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"carry-forward":      h.loadCarryForwardScenario,
		"maintenance-change": h.loadMaintenanceChangeScenario,
		"defaulters":         h.loadDefaultersScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.setScenario(req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if h.Store == nil {
		return errResetUnsupported
	}
	h.setScenario("")
	return h.Store.Reset(ctx)
}

func (h *Handler) scenario() string {
	h.scenarioMu.RLock()
	defer h.scenarioMu.RUnlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.scenarioMu.Lock()
	h.currentScenario = id
	h.scenarioMu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadCarryForwardScenario(ctx context.Context) error {
	if err := h.seedResident(ctx, "A-101", "Asha Menon", "A-101", "800"); err != nil {
		return err
	}
	m1 := billing.PeriodOf(h.now()).AddMonths(-2)

	steps := []struct {
		period billing.Period
		paid   string
	}{
		{m1, "400"},
		{m1.Next(), "1200"},
		{m1.AddMonths(2), ""},
	}
	for _, s := range steps {
		if err := h.generate(ctx, s.period); err != nil {
			return err
		}
		if s.paid != "" {
			if err := h.pay(ctx, "A-101", s.period, s.paid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) loadMaintenanceChangeScenario(ctx context.Context) error {
	if err := h.seedResident(ctx, "B-201", "Bilal Khan", "B-201", "800"); err != nil {
		return err
	}
	if err := h.seedResident(ctx, "B-202", "Chitra Rao", "B-202", "800"); err != nil {
		return err
	}
	m1 := billing.PeriodOf(h.now()).AddMonths(-1)
	for _, p := range []billing.Period{m1, m1.Next()} {
		if err := h.generate(ctx, p); err != nil {
			return err
		}
	}
	if err := h.pay(ctx, "B-202", m1, "800"); err != nil {
		return err
	}
	if err := h.pay(ctx, "B-202", m1.Next(), "800"); err != nil {
		return err
	}

	_, err := h.Service.ChangeMaintenance(ctx, "B-201", billing.MaintenanceChange{
		Amount:        decimal.NewFromInt(1200),
		EffectiveFrom: m1,
		Recalculate:   true,
	})
	return err
}

func (h *Handler) loadDefaultersScenario(ctx context.Context) error {
	flats := []struct {
		id, name, base string
		// paid per month, oldest first; "" leaves the month unpaid
		payments []string
	}{
		{"C-301", "Deepak Iyer", "1000", []string{"1000", "1000", "1000", "1000", "1000", "1000"}},
		{"C-302", "Esther Fernandes", "1000", []string{"1000", "1000", "", "", "", ""}},
		{"C-303", "Farhan Ali", "1500", []string{"", "", "", "", "", ""}},
		{"C-304", "Gita Sharma", "1000", []string{"1000", "500", "", "", "", ""}},
		{"C-305", "Harish Patel", "1200", []string{"1200", "1200", "1200", "1200", "", ""}},
	}
	for _, f := range flats {
		if err := h.seedResident(ctx, billing.ResidentID(f.id), f.name, f.id, f.base); err != nil {
			return err
		}
	}

	first := billing.PeriodOf(h.now()).AddMonths(-5)
	for i := 0; i < 6; i++ {
		period := first.AddMonths(i)
		if err := h.generate(ctx, period); err != nil {
			return err
		}
		for _, f := range flats {
			if f.payments[i] == "" {
				continue
			}
			// Pay whatever is due when the flat pays in full.
			amount := f.payments[i]
			if amount == f.base {
				rec, err := h.Service.Store.GetPaymentPeriod(ctx, billing.ResidentID(f.id), period)
				if err != nil {
					return err
				}
				amount = rec.AmountDue.String()
			}
			if err := h.pay(ctx, billing.ResidentID(f.id), period, amount); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Handler) seedResident(ctx context.Context, id billing.ResidentID, name, unit, base string) error {
	_, err := h.Service.CreateResident(ctx, billing.NewResident{
		ID:              id,
		Name:            name,
		Unit:            unit,
		Email:           fmt.Sprintf("%s@example.com", id),
		BaseMaintenance: decimal.RequireFromString(base),
	})
	return err
}

func (h *Handler) generate(ctx context.Context, period billing.Period) error {
	report, err := h.Service.GenerateForMonth(ctx, period, billing.GenerateOptions{Force: true})
	if err != nil {
		return err
	}
	if report.Failed() > 0 {
		return fmt.Errorf("generate %s: %s", period, report.Failures[0].Reason)
	}
	return nil
}

func (h *Handler) pay(ctx context.Context, id billing.ResidentID, period billing.Period, amount string) error {
	_, err := h.Service.RecordPayment(ctx, id, period, billing.PaymentUpdate{
		AmountPaid:    decimal.RequireFromString(amount),
		PaymentMethod: billing.MethodUPI,
	})
	return err
}
