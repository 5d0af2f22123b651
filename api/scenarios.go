/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	receivables data. Each scenario registers customers and records
	transactions through ledger.Engine, so settlement, advance allocation
	and reconciliation run exactly as they would for API traffic.

AVAILABLE SCENARIOS:

	fifo-settlement:  One customer, three invoices, one payment settling
	                  the oldest invoices first
	advance-credit:   Advance deposit drawn down by invoices at creation
	                  and by an explicit deduction
	collections-book: Several customers with invoices spread around "now",
	                  producing one alert of every priority

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register customers
 3. Record transactions via the engine (dates relative to now)
 4. Aggregates are reconciled by each engine call

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "collections-book"}

USAGE VIA CLI:

	receivables seed collections-book

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: seedXxx(ctx, e, now)
 3. Add case to SeedScenario

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Resetter, Handler
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/receivables-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fifo-settlement",
		Name:        "FIFO Settlement",
		Description: "A payment settles the oldest pending invoices first",
	},
	{
		ID:          "advance-credit",
		Name:        "Advance Credit",
		Description: "Advance deposit consumed by new invoices and a manual deduction",
	},
	{
		ID:          "collections-book",
		Name:        "Collections Book",
		Description: "Invoices due and overdue across customers, one alert per priority",
	},
}

// Scenarios returns the available demo scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if !IsScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if h.Store == nil {
		writeError(w, http.StatusInternalServerError, "Reset is not supported by this store", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := SeedScenario(ctx, h.Engine, req.ScenarioID, h.Now()); err != nil {
		h.Logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusInternalServerError, "Reset is not supported by this store", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	h.Logger.Warn("database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// IsScenario reports whether id names a known scenario.
func IsScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// SeedScenario records the named scenario through the engine. It does not
// reset the store; callers do that first.
func SeedScenario(ctx context.Context, e *ledger.Engine, id string, now time.Time) error {
	now = now.UTC()
	switch id {
	case "fifo-settlement":
		return seedFIFOSettlement(ctx, e, now)
	case "advance-credit":
		return seedAdvanceCredit(ctx, e, now)
	case "collections-book":
		return seedCollectionsBook(ctx, e, now)
	default:
		return fmt.Errorf("unknown scenario %q", id)
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func seedFIFOSettlement(ctx context.Context, e *ledger.Engine, now time.Time) error {
	acme, err := e.RegisterCustomer(ctx, ledger.CustomerProfile{
		Name:  "Acme Traders",
		Phone: "+1-555-0100",
		Email: "accounts@acme.example",
	})
	if err != nil {
		return err
	}

	// Oldest first: 100 + 200 are covered by the 300 payment, 150 stays open.
	invoices := []struct {
		amount string
		age    int
		ref    string
	}{
		{"100.00", 60, "INV-1001"},
		{"200.00", 45, "INV-1002"},
		{"150.00", 20, "INV-1003"},
	}
	for _, inv := range invoices {
		if _, err := createInvoice(ctx, e, acme.ID, inv.amount, now.AddDate(0, 0, -inv.age), 30, inv.ref); err != nil {
			return err
		}
	}

	_, err = e.CreateTransaction(ctx, ledger.CreateTransactionInput{
		CustomerID:    acme.ID,
		Type:          string(ledger.TypePayment),
		Amount:        decimal.RequireFromString("300.00"),
		Date:          now.AddDate(0, 0, -5),
		Status:        string(ledger.StatusCompleted),
		PaymentMethod: "bank_transfer",
		Description:   "Payment on account",
	})
	return err
}

func seedAdvanceCredit(ctx context.Context, e *ledger.Engine, now time.Time) error {
	globex, err := e.RegisterCustomer(ctx, ledger.CustomerProfile{
		Name:    "Globex Retail",
		Phone:   "+1-555-0142",
		Address: "42 Market Street",
	})
	if err != nil {
		return err
	}

	_, err = e.CreateTransaction(ctx, ledger.CreateTransactionInput{
		CustomerID:    globex.ID,
		Type:          string(ledger.TypeAdvance),
		Amount:        decimal.RequireFromString("500.00"),
		Date:          now.AddDate(0, 0, -30),
		Status:        string(ledger.StatusCompleted),
		PaymentMethod: "cash",
		Description:   "Advance deposit",
	})
	if err != nil {
		return err
	}

	// Fully covered by the advance.
	if _, err := createInvoiceWithAdvance(ctx, e, globex.ID, "200.00", now.AddDate(0, 0, -20), "INV-2001"); err != nil {
		return err
	}
	// Partially covered: 300 left in the pool, 100 stays pending.
	if _, err := createInvoiceWithAdvance(ctx, e, globex.ID, "400.00", now.AddDate(0, 0, -10), "INV-2002"); err != nil {
		return err
	}

	// A second deposit, then part of it deducted from an open invoice.
	_, err = e.CreateTransaction(ctx, ledger.CreateTransactionInput{
		CustomerID:    globex.ID,
		Type:          string(ledger.TypeAdvance),
		Amount:        decimal.RequireFromString("100.00"),
		Date:          now.AddDate(0, 0, -3),
		Status:        string(ledger.StatusCompleted),
		PaymentMethod: "bank_transfer",
		Description:   "Top-up advance",
	})
	if err != nil {
		return err
	}
	open, err := createInvoice(ctx, e, globex.ID, "250.00", now.AddDate(0, 0, -2), 14, "INV-2003")
	if err != nil {
		return err
	}
	_, err = e.ApplyAdvanceDeduction(ctx, open.ID, decimal.RequireFromString("60.00"))
	return err
}

func seedCollectionsBook(ctx context.Context, e *ledger.Engine, now time.Time) error {
	// dueIn is relative to now; negative is overdue.
	book := []struct {
		customer ledger.CustomerProfile
		amount   string
		dueIn    int
		ref      string
	}{
		{ledger.CustomerProfile{Name: "Initech", Phone: "+1-555-0199"}, "1200.00", -40, "INV-3001"}, // urgent
		{ledger.CustomerProfile{Name: "Umbrella Supplies"}, "640.00", -15, "INV-3002"},              // high
		{ledger.CustomerProfile{Name: "Stark Hardware"}, "310.50", -8, "INV-3003"},                  // medium
		{ledger.CustomerProfile{Name: "Wayne Foods"}, "95.25", -2, "INV-3004"},                      // medium
		{ledger.CustomerProfile{Name: "Hooli Labs"}, "480.00", 0, "INV-3005"},                       // high
		{ledger.CustomerProfile{Name: "Vandelay Imports"}, "220.00", 2, "INV-3006"},                 // medium
		{ledger.CustomerProfile{Name: "Soylent Corp"}, "150.00", 6, "INV-3007"},                     // low
		{ledger.CustomerProfile{Name: "Cyberdyne Parts"}, "900.00", 25, "INV-3008"},                 // outside window
	}

	for _, entry := range book {
		c, err := e.RegisterCustomer(ctx, entry.customer)
		if err != nil {
			return err
		}
		due := now.AddDate(0, 0, entry.dueIn)
		if _, err := createInvoice(ctx, e, c.ID, entry.amount, due.AddDate(0, 0, -30), 30, entry.ref); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func createInvoice(ctx context.Context, e *ledger.Engine, customerID ledger.CustomerID, amount string, date time.Time, termDays int, ref string) (ledger.Transaction, error) {
	due := date.AddDate(0, 0, termDays)
	res, err := e.CreateTransaction(ctx, ledger.CreateTransactionInput{
		CustomerID:  customerID,
		Type:        string(ledger.TypeInvoice),
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		DueDate:     &due,
		Description: "Invoice " + ref,
		Reference:   ref,
	})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("invoice %s: %w", ref, err)
	}
	return res.Transaction, nil
}

func createInvoiceWithAdvance(ctx context.Context, e *ledger.Engine, customerID ledger.CustomerID, amount string, date time.Time, ref string) (ledger.Transaction, error) {
	due := date.AddDate(0, 0, 30)
	res, err := e.CreateTransaction(ctx, ledger.CreateTransactionInput{
		CustomerID:  customerID,
		Type:        string(ledger.TypeInvoice),
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		DueDate:     &due,
		Description: "Invoice " + ref,
		Reference:   ref,
		UseAdvance:  true,
	})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("invoice %s: %w", ref, err)
	}
	return res.Transaction, nil
}
