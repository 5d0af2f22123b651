/*
handlers.go - HTTP API handlers for the receivables ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to ledger.Engine.

ENDPOINTS:
  Customers:
    GET    /api/customers                   List customers (newest first)
    POST   /api/customers                   Register customer
    GET    /api/customers/{id}              Customer with aggregates
    PUT    /api/customers/{id}              Update profile
    DELETE /api/customers/{id}              Delete customer
    GET    /api/customers/{id}/transactions Full history, oldest first
    POST   /api/customers/{id}/reconcile    Recompute aggregates

  Transactions:
    GET    /api/transactions                List (filters + pagination)
    POST   /api/transactions                Create (optionally using advance)
    GET    /api/transactions/stats          Dashboard totals
    GET    /api/transactions/due-date-alerts Due-date alerts as of now
    DELETE /api/transactions/bulk           Bulk delete {"ids": [...]}
    GET    /api/transactions/{id}           Single transaction
    PUT    /api/transactions/{id}           Field update
    PATCH  /api/transactions/{id}/status    Status change
    DELETE /api/transactions/{id}           Delete
    POST   /api/transactions/{id}/advance-deduction Apply advance credit

  Alerts:
    GET    /api/alerts/latest               Last scheduler run

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    GET    /api/scenarios/current           Loaded scenario
    POST   /api/scenarios/load              Reset and load a scenario
    POST   /api/scenarios/reset             Reset database

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate shape (go-playground/validator struct tags)
  3. Call ledger.Engine
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as ErrorResponse JSON:
  - 400 VALIDATION_ERROR:  malformed input (ledger.ErrValidation)
  - 404 NOT_FOUND:         customer or transaction absent (ledger.ErrNotFound)
  - 422 INVALID_OPERATION: request the ledger refuses (ledger.ErrInvalidOperation)
  - 500 INTERNAL_ERROR:    everything else (logged)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/receivables-engine/ledger"
	"github.com/warp/receivables-engine/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all stored data (demo/dev only).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *ledger.Engine
	Store     Resetter        // nil disables reset and scenario loading
	Scheduler *AlertScheduler // nil when the scheduler is disabled
	Logger    *zap.Logger
	Now       func() time.Time

	validate *validator.Validate

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *ledger.Engine, store Resetter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		Logger:   log,
		Now:      time.Now,
		validate: newValidator(),
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Engine.ListCustomers(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list customers", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTOs(customers))
}

// CreateCustomer registers a customer.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.Engine.RegisterCustomer(r.Context(), ledger.CustomerProfile{
		Name:    req.Name,
		Phone:   req.Phone,
		Email:   req.Email,
		Address: req.Address,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.GetCustomer(r.Context(), customerID(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// UpdateCustomer changes profile fields.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req UpdateCustomerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.Engine.UpdateCustomerProfile(r.Context(), customerID(r), ledger.CustomerProfileUpdate{
		Name:    req.Name,
		Phone:   req.Phone,
		Email:   req.Email,
		Address: req.Address,
	})
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// DeleteCustomer removes a customer record.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteCustomer(r.Context(), customerID(r)); err != nil {
		h.writeLedgerError(w, r, "Failed to delete customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCustomerTransactions returns a customer's history, oldest first.
func (h *Handler) GetCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Engine.CustomerTransactions(r.Context(), customerID(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// ReconcileCustomer recomputes a customer's aggregates on demand.
func (h *Handler) ReconcileCustomer(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ReconcileCustomer(r.Context(), customerID(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reconcile customer", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconcileDTO{
		CustomerID:  string(res.CustomerID),
		TotalCredit: res.TotalCredit,
		TotalPaid:   res.TotalPaid,
		Balance:     res.Balance,
		Skipped:     res.Skipped,
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns one page of transactions, newest first.
//
// Query: customer_id, type, status, start_date, end_date, page, limit.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{
		CustomerID: ledger.CustomerID(q.Get("customer_id")),
		Type:       ledger.TransactionType(q.Get("type")),
		Status:     ledger.Status(q.Get("status")),
	}

	var err error
	if filter.Page, err = parsePositiveInt(q.Get("page"), ledger.DefaultPage); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	if filter.Limit, err = parsePositiveInt(q.Get("limit"), ledger.DefaultLimit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if s := q.Get("start_date"); s != "" {
		from, err := parseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
			return
		}
		filter.From = &from
	}
	if s := q.Get("end_date"); s != "" {
		to, err := parseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		// A bare date includes the whole day.
		if len(s) == len(dateLayout) {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		filter.To = &to
	}

	page, err := h.Engine.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionListResponse{
		Transactions: toTransactionDTOs(page.Transactions),
		Total:        page.Total,
		Page:         page.Page,
		Limit:        page.Limit,
		Pages:        page.Pages(),
	})
}

// CreateTransaction records an invoice, payment or advance.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	in := ledger.CreateTransactionInput{
		CustomerID:    ledger.CustomerID(req.CustomerID),
		Type:          req.Type,
		Amount:        req.Amount,
		Status:        req.Status,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
		Reference:     req.Reference,
		Items:         toLineItems(req.Items),
		UseAdvance:    req.UseAdvance,
	}
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		in.Date = d
	}
	if req.DueDate != "" {
		d, err := parseDate(req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
			return
		}
		in.DueDate = &d
	}

	res, err := h.Engine.CreateTransaction(r.Context(), in)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateTransactionResponse{
		Transaction:     toTransactionDTO(res.Transaction),
		CustomerBalance: res.CustomerBalance,
		AdvanceUsed:     res.AdvanceUsed,
	})
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Engine.GetTransaction(r.Context(), transactionID(r))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransaction applies a field update.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	upd := ledger.TransactionUpdate{
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
		Reference:     req.Reference,
	}
	if req.Status != nil {
		s := ledger.Status(*req.Status)
		upd.Status = &s
	}
	if req.Items != nil {
		items := toLineItems(*req.Items)
		upd.Items = &items
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		upd.Date = &d
	}
	if req.DueDate != nil {
		d, err := parseDate(*req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
			return
		}
		upd.DueDate = &d
	}

	tx, err := h.Engine.UpdateTransaction(r.Context(), transactionID(r), upd)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransactionStatus changes only the status.
func (h *Handler) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	tx, err := h.Engine.UpdateTransactionStatus(r.Context(), transactionID(r), req.Status)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update transaction status", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteTransaction(r.Context(), transactionID(r)); err != nil {
		h.writeLedgerError(w, r, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkDeleteTransactions removes several transactions at once.
func (h *Handler) BulkDeleteTransactions(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ids := make([]ledger.TransactionID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = ledger.TransactionID(id)
	}
	n, err := h.Engine.DeleteTransactions(r.Context(), ids)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to delete transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, BulkDeleteResponse{Deleted: n})
}

// ApplyAdvanceDeduction draws on the customer's advance pool for an invoice.
func (h *Handler) ApplyAdvanceDeduction(w http.ResponseWriter, r *http.Request) {
	var req AdvanceDeductionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.Engine.ApplyAdvanceDeduction(r.Context(), transactionID(r), req.Amount)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to apply advance deduction", err)
		return
	}
	writeJSON(w, http.StatusOK, DeductionDTO{
		DeductionAmount:  res.DeductionAmount,
		RemainingAdvance: res.RemainingAdvance,
		RemainingBalance: res.RemainingBalance,
		InvoiceStatus:    string(res.InvoiceStatus),
	})
}

// GetStats returns dashboard totals.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.Stats(r.Context(), h.Now())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		TotalSales:       st.TotalSales,
		TotalPayments:    st.TotalPayments,
		TotalOutstanding: st.TotalOutstanding,
		CustomerCount:    st.CustomerCount,
		OverdueCount:     st.OverdueCount,
		TransactionCount: st.TransactionCount,
	})
}

// GetDueDateAlerts classifies pending invoices as of now.
func (h *Handler) GetDueDateAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Engine.GetDueDateAlerts(r.Context(), h.Now())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get due-date alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, ToAlertDTOs(alerts))
}

// =============================================================================
// ALERT SCHEDULER HANDLERS
// =============================================================================

// GetLatestAlertRun returns the last scheduler pass, or null before the first.
func (h *Handler) GetLatestAlertRun(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Alert scheduler is disabled", nil)
		return
	}
	run, ok := h.Scheduler.LatestRun()
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toAlertRunDTO(run))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: errorCode(status)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps ledger errors to HTTP status codes. Server-side
// failures are logged with the request-scoped logger.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case ledger.IsNotFound(err):
		status = http.StatusNotFound
	case ledger.IsValidation(err):
		status = http.StatusBadRequest
	case ledger.IsInvalidOperation(err):
		status = http.StatusUnprocessableEntity
	default:
		logger.FromContext(r.Context()).Error(message, zap.Error(err))
	}

	resp := ErrorResponse{Error: message, Code: errorCode(status), Details: err.Error()}
	var ve *ledger.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		resp.Details = []ValidationDetail{{Field: ve.Field, Message: ve.Message}}
	}
	writeJSON(w, status, resp)
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "VALIDATION_ERROR"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return "INVALID_OPERATION"
	case http.StatusInternalServerError:
		return "INTERNAL_ERROR"
	}
	return ""
}

// decodeAndValidate reads the JSON body into dst and runs struct validation.
// It writes the 400 response itself and returns false on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Request validation failed", err)
			return false
		}
		details := make([]ValidationDetail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, ValidationDetail{Field: fe.Field(), Message: validationMessage(fe)})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Request validation failed",
			Code:    errorCode(http.StatusBadRequest),
			Details: details,
		})
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		if fe.Kind() == reflect.String {
			return "Must be at least " + fe.Param() + " characters"
		}
		return "Must contain at least " + fe.Param() + " item(s)"
	case "max":
		if fe.Kind() == reflect.String {
			return "Must be at most " + fe.Param() + " characters"
		}
		return "Must be at most " + fe.Param()
	default:
		return "Invalid value"
	}
}

const dateLayout = "2006-01-02"

// parseDate accepts a bare date (midnight UTC) or an RFC3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func parsePositiveInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("must be a positive integer, got %q", s)
	}
	return n, nil
}

func customerID(r *http.Request) ledger.CustomerID {
	return ledger.CustomerID(chi.URLParam(r, "id"))
}

func transactionID(r *http.Request) ledger.TransactionID {
	return ledger.TransactionID(chi.URLParam(r, "id"))
}
