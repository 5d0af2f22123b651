/*
Package ledger provides the customer ledger reconciliation engine.

PURPOSE:
  This package keeps every customer's receivable balance consistent with the
  stream of financial transactions recorded against it. Invoices, payments and
  advance credit are written to a Store; the customer's aggregates are always
  derived from that history, never patched in place.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: A financial event (invoice, payment, advance, credit, debit)
  - Customer:    Profile plus derived aggregates (credit, paid, balance, pool)
  - Status/Type: Fixed enumerations, normalized at the boundary

DESIGN PRINCIPLES:
  1. Single source of truth: Balance is recomputed from transactions
  2. Precision: Money uses decimal.Decimal, never float64
  3. Strict input: Unknown statuses and types are rejected, not ignored

USAGE:
  tx := ledger.Transaction{
      CustomerID: "cust-1",
      Type:       ledger.TypeInvoice,
      Amount:     decimal.NewFromInt(100),
      Date:       time.Now(),
      DueDate:    &due,
      Status:     ledger.StatusPending,
  }

SEE ALSO:
  - reconciler.go: Balance recomputation
  - settlement.go: FIFO invoice settlement
  - advance.go:    Prepaid credit pool
  - alerts.go:     Due-date alert classification
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type TransactionID string

// =============================================================================
// TRANSACTION TYPE & STATUS
// =============================================================================

type TransactionType string

const (
	TypeInvoice TransactionType = "invoice" // Amount owed by the customer
	TypePayment TransactionType = "payment" // Amount received from the customer
	TypeAdvance TransactionType = "advance" // Prepaid credit movement
	TypeCredit  TransactionType = "credit"
	TypeDebit   TransactionType = "debit"
)

// ParseType normalizes a transaction type case-insensitively.
func ParseType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeInvoice, TypePayment, TypeAdvance, TypeCredit, TypeDebit:
		return t, nil
	}
	return "", &ValidationError{Field: "type", Message: "unknown transaction type " + quote(s)}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus normalizes a status string into the fixed enumeration.
// Legacy spellings are folded in: unpaid/partial are pending, paid is completed.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "unpaid", "partial":
		return StatusPending, nil
	case "completed", "paid":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	}
	return "", &ValidationError{Field: "status", Message: "unknown transaction status " + quote(s)}
}

// PaymentMethodAdvance marks a payment funded from the customer's advance pool.
const PaymentMethodAdvance = "advance"

// IsAdvanceMethod reports whether a payment method names the advance pool.
func IsAdvanceMethod(method string) bool {
	return strings.EqualFold(strings.TrimSpace(method), PaymentMethodAdvance)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Transaction struct {
	ID           TransactionID
	CustomerID   CustomerID
	CustomerName string
	Type         TransactionType
	Amount       decimal.Decimal

	// OriginalAmount is the invoice face value when advance credit reduced Amount.
	OriginalAmount decimal.Decimal

	Date          time.Time
	DueDate       *time.Time
	Status        Status
	PaymentMethod string
	Description   string
	Reference     string

	// Items are the billed lines; when present their totals add up to FaceValue.
	Items []LineItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is one billed line of an invoice. ProductID is opaque to the ledger.
type LineItem struct {
	ProductID    string
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
	Total        decimal.Decimal
}

// FaceValue is the amount billed before any advance credit was applied.
func (t Transaction) FaceValue() decimal.Decimal {
	if t.OriginalAmount.IsPositive() {
		return t.OriginalAmount
	}
	return t.Amount
}

// Validate checks required-field presence. It holds no cross-record rules.
func (t Transaction) Validate() error {
	if t.CustomerID == "" {
		return &ValidationError{Field: "customer_id", Message: "customer id is required"}
	}
	typ, err := ParseType(string(t.Type))
	if err != nil {
		return err
	}
	if _, err := ParseStatus(string(t.Status)); err != nil {
		return err
	}
	if t.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "amount must not be negative"}
	}
	if typ == TypeInvoice && (t.DueDate == nil || t.DueDate.IsZero()) {
		return &ValidationError{Field: "due_date", Message: "due date is required for invoices"}
	}
	return validateItems(t.Items, t.FaceValue())
}

func validateItems(items []LineItem, face decimal.Decimal) error {
	if len(items) == 0 {
		return nil
	}
	sum := decimal.Zero
	for i, it := range items {
		field := fmt.Sprintf("items[%d]", i)
		if !it.Quantity.IsPositive() {
			return &ValidationError{Field: field + ".quantity", Message: "quantity must be positive"}
		}
		if it.PricePerUnit.IsNegative() {
			return &ValidationError{Field: field + ".price_per_unit", Message: "price per unit must not be negative"}
		}
		if it.Total.IsNegative() {
			return &ValidationError{Field: field + ".total", Message: "total must not be negative"}
		}
		sum = sum.Add(it.Total)
	}
	if !SnapToZero(sum.Sub(face)).IsZero() {
		return &ValidationError{Field: "items", Message: fmt.Sprintf("item totals %s do not add up to amount %s", sum.StringFixed(2), face.StringFixed(2))}
	}
	return nil
}

// ItemsTotal sums the line totals.
func ItemsTotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Total)
	}
	return sum
}

func (t Transaction) IsInvoice() bool { return t.Type == TypeInvoice }
func (t Transaction) IsPayment() bool { return t.Type == TypePayment }

// IsDeposit reports whether this is completed prepaid money that feeds the
// advance pool. Pool deductions carry the advance method and are not deposits.
func (t Transaction) IsDeposit() bool {
	return t.Type == TypeAdvance && t.Status == StatusCompleted &&
		!IsAdvanceMethod(t.PaymentMethod) && t.Amount.IsPositive()
}

// IsAdvanceFunded reports whether this is a payment drawn from the advance pool.
func (t Transaction) IsAdvanceFunded() bool {
	return t.Type == TypePayment && IsAdvanceMethod(t.PaymentMethod)
}

// TransactionUpdate carries the fields of an update; nil fields are left unchanged.
type TransactionUpdate struct {
	Amount         *decimal.Decimal
	OriginalAmount *decimal.Decimal
	Date           *time.Time
	DueDate        *time.Time
	Status         *Status
	PaymentMethod  *string
	Description    *string
	Reference      *string
	Items          *[]LineItem
}

// Apply returns a copy of tx with the update applied.
func (u TransactionUpdate) Apply(tx Transaction) Transaction {
	if u.Amount != nil {
		tx.Amount = *u.Amount
	}
	if u.OriginalAmount != nil {
		tx.OriginalAmount = *u.OriginalAmount
	}
	if u.Date != nil {
		tx.Date = *u.Date
	}
	if u.DueDate != nil {
		due := *u.DueDate
		tx.DueDate = &due
	}
	if u.Status != nil {
		tx.Status = *u.Status
	}
	if u.PaymentMethod != nil {
		tx.PaymentMethod = *u.PaymentMethod
	}
	if u.Description != nil {
		tx.Description = *u.Description
	}
	if u.Reference != nil {
		tx.Reference = *u.Reference
	}
	if u.Items != nil {
		tx.Items = cloneItems(*u.Items)
	}
	return tx
}

func cloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	return append([]LineItem(nil), items...)
}

// Clone returns a copy of t that shares no slices with it.
func (t Transaction) Clone() Transaction {
	t.Items = cloneItems(t.Items)
	return t
}

// IsZero reports whether the update changes nothing.
func (u TransactionUpdate) IsZero() bool {
	return u == TransactionUpdate{}
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer holds profile data and the derived receivable aggregates.
// TotalCredit, TotalPaid and Balance are written only by the Reconciler;
// AdvancePayment only by the AdvanceAllocator.
type Customer struct {
	ID      CustomerID
	Name    string
	Phone   string
	Email   string
	Address string

	TotalCredit    decimal.Decimal
	TotalPaid      decimal.Decimal
	Balance        decimal.Decimal
	AdvancePayment decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Tolerance is the rounding band inside which a balance is snapped to zero.
var Tolerance = decimal.RequireFromString("0.01")

// SnapToZero returns zero when d lies strictly inside (-Tolerance, Tolerance).
func SnapToZero(d decimal.Decimal) decimal.Decimal {
	if d.Abs().LessThan(Tolerance) {
		return decimal.Zero
	}
	return d
}

// ClampZero floors d at zero.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func quote(s string) string { return `"` + s + `"` }
