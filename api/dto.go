/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal. They are written as JSON strings ("150.25")
  and accepted as either strings or numbers.

DATES:
  Accepted as "2006-01-02" or RFC3339; returned as RFC3339.

VALIDATION:
  Shape rules (required, lengths, email format) are struct tags checked by
  go-playground/validator in handlers.go. Ledger rules (negative amounts,
  due dates on invoices, known statuses) are enforced by the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/receivables-engine/ledger"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	Email          string          `json:"email,omitempty"`
	Address        string          `json:"address,omitempty"`
	TotalCredit    decimal.Decimal `json:"total_credit"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	Balance        decimal.Decimal `json:"balance"`
	AdvancePayment decimal.Decimal `json:"advance_payment"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type CreateCustomerRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Phone   string `json:"phone" validate:"omitempty,max=20"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address"`
}

// UpdateCustomerRequest changes profile fields only; omitted fields are kept.
type UpdateCustomerRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=100"`
	Phone   *string `json:"phone" validate:"omitempty,max=20"`
	Email   *string `json:"email" validate:"omitempty,email"`
	Address *string `json:"address"`
}

// ReconcileDTO reports the aggregates persisted by a reconciliation.
type ReconcileDTO struct {
	CustomerID  string          `json:"customer_id"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Balance     decimal.Decimal `json:"balance"`
	Skipped     bool            `json:"skipped,omitempty"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID             string           `json:"id"`
	CustomerID     string           `json:"customer_id"`
	CustomerName   string           `json:"customer_name,omitempty"`
	Type           string           `json:"type"`
	Amount         decimal.Decimal  `json:"amount"`
	OriginalAmount *decimal.Decimal `json:"original_amount,omitempty"`
	Date           string           `json:"date"`
	DueDate        *string          `json:"due_date,omitempty"`
	Status         string           `json:"status"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
	Description    string           `json:"description,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	Items          []LineItemDTO    `json:"items,omitempty"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

// LineItemDTO is one billed line. An omitted total is quantity × price.
type LineItemDTO struct {
	ProductID    string          `json:"product_id,omitempty" validate:"max=64"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Total        decimal.Decimal `json:"total"`
}

type CreateTransactionRequest struct {
	CustomerID    string          `json:"customer_id" validate:"required"`
	Type          string          `json:"type" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date"`
	DueDate       string          `json:"due_date"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method" validate:"max=50"`
	Description   string          `json:"description" validate:"max=500"`
	Reference     string          `json:"reference" validate:"max=100"`
	Items         []LineItemDTO   `json:"items" validate:"max=100,dive"`
	UseAdvance    bool            `json:"use_advance"`
}

type CreateTransactionResponse struct {
	Transaction     TransactionDTO  `json:"transaction"`
	CustomerBalance decimal.Decimal `json:"customer_balance"`
	AdvanceUsed     decimal.Decimal `json:"advance_used"`
}

// UpdateTransactionRequest changes the given fields; omitted fields are kept.
type UpdateTransactionRequest struct {
	Amount        *decimal.Decimal `json:"amount"`
	Date          *string          `json:"date"`
	DueDate       *string          `json:"due_date"`
	Status        *string          `json:"status"`
	PaymentMethod *string          `json:"payment_method" validate:"omitempty,max=50"`
	Description   *string          `json:"description" validate:"omitempty,max=500"`
	Reference     *string          `json:"reference" validate:"omitempty,max=100"`
	Items         *[]LineItemDTO   `json:"items" validate:"omitempty,max=100,dive"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type BulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}

type AdvanceDeductionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type DeductionDTO struct {
	DeductionAmount  decimal.Decimal `json:"deduction_amount"`
	RemainingAdvance decimal.Decimal `json:"remaining_advance"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	InvoiceStatus    string          `json:"invoice_status"`
}

type TransactionListResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	Total        int              `json:"total"`
	Page         int              `json:"page"`
	Limit        int              `json:"limit"`
	Pages        int              `json:"pages"`
}

type StatsDTO struct {
	TotalSales       decimal.Decimal `json:"total_sales"`
	TotalPayments    decimal.Decimal `json:"total_payments"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	CustomerCount    int             `json:"customer_count"`
	OverdueCount     int             `json:"overdue_count"`
	TransactionCount int             `json:"transaction_count"`
}

// =============================================================================
// ALERTS
// =============================================================================

type AlertCustomerDTO struct {
	Name        string          `json:"name"`
	Phone       string          `json:"phone,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
}

type AlertDTO struct {
	TransactionID  string            `json:"transaction_id"`
	CustomerID     string            `json:"customer_id"`
	CustomerName   string            `json:"customer_name"`
	Amount         decimal.Decimal   `json:"amount"`
	OriginalAmount decimal.Decimal   `json:"original_amount"`
	DueDate        string            `json:"due_date"`
	AlertType      string            `json:"alert_type"`
	Priority       string            `json:"priority"`
	DaysUntilDue   *int              `json:"days_until_due,omitempty"`
	DaysOverdue    *int              `json:"days_overdue,omitempty"`
	Description    string            `json:"description,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	Customer       *AlertCustomerDTO `json:"customer,omitempty"`
}

// AlertRunDTO is one pass of the alert scheduler.
type AlertRunDTO struct {
	StartedAt   string     `json:"started_at"`
	CompletedAt string     `json:"completed_at"`
	Reconciled  int        `json:"reconciled"`
	Alerts      []AlertDTO `json:"alerts"`
	Error       string     `json:"error,omitempty"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ValidationDetail names one rejected request field.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:             string(c.ID),
		Name:           c.Name,
		Phone:          c.Phone,
		Email:          c.Email,
		Address:        c.Address,
		TotalCredit:    c.TotalCredit,
		TotalPaid:      c.TotalPaid,
		Balance:        c.Balance,
		AdvancePayment: c.AdvancePayment,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      c.UpdatedAt.Format(time.RFC3339),
	}
}

func toCustomerDTOs(cs []ledger.Customer) []CustomerDTO {
	dtos := make([]CustomerDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toCustomerDTO(c)
	}
	return dtos
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            string(tx.ID),
		CustomerID:    string(tx.CustomerID),
		CustomerName:  tx.CustomerName,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Date:          tx.Date.Format(time.RFC3339),
		Status:        string(tx.Status),
		PaymentMethod: tx.PaymentMethod,
		Description:   tx.Description,
		Reference:     tx.Reference,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     tx.UpdatedAt.Format(time.RFC3339),
	}
	if !tx.OriginalAmount.IsZero() {
		orig := tx.OriginalAmount
		dto.OriginalAmount = &orig
	}
	if tx.DueDate != nil {
		due := tx.DueDate.Format(time.RFC3339)
		dto.DueDate = &due
	}
	for _, it := range tx.Items {
		dto.Items = append(dto.Items, LineItemDTO{
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			PricePerUnit: it.PricePerUnit,
			Total:        it.Total,
		})
	}
	return dto
}

func toLineItems(dtos []LineItemDTO) []ledger.LineItem {
	if len(dtos) == 0 {
		return nil
	}
	items := make([]ledger.LineItem, len(dtos))
	for i, d := range dtos {
		total := d.Total
		if total.IsZero() {
			total = d.Quantity.Mul(d.PricePerUnit)
		}
		items[i] = ledger.LineItem{
			ProductID:    d.ProductID,
			Quantity:     d.Quantity,
			PricePerUnit: d.PricePerUnit,
			Total:        total,
		}
	}
	return items
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toAlertDTO(a ledger.Alert) AlertDTO {
	dto := AlertDTO{
		TransactionID:  string(a.TransactionID),
		CustomerID:     string(a.CustomerID),
		CustomerName:   a.CustomerName,
		Amount:         a.Amount,
		OriginalAmount: a.OriginalAmount,
		DueDate:        a.DueDate.Format(time.RFC3339),
		AlertType:      string(a.Type),
		Priority:       string(a.Priority),
		DaysUntilDue:   a.DaysUntilDue,
		DaysOverdue:    a.DaysOverdue,
		Description:    a.Description,
		Reference:      a.Reference,
	}
	if a.Customer != nil {
		dto.Customer = &AlertCustomerDTO{
			Name:        a.Customer.Name,
			Phone:       a.Customer.Phone,
			Balance:     a.Customer.Balance,
			TotalCredit: a.Customer.TotalCredit,
			TotalPaid:   a.Customer.TotalPaid,
		}
	}
	return dto
}

// ToAlertDTOs converts ledger alerts to their JSON form.
func ToAlertDTOs(alerts []ledger.Alert) []AlertDTO {
	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}
	return dtos
}
