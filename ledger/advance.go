/*
advance.go - Prepaid credit pool (advance payments)

PURPOSE:
  Manages Customer.AdvancePayment and its application to invoices. Every use
  of the pool is recorded as a transaction so the history explains it.

OPERATIONS:
  Deposit / Withdraw:
    A completed "advance" transaction adds its amount to the pool. When it
    leaves completed, changes amount or is deleted, the difference is taken
    back out (capped at the pool).

  Apply-on-create (ApplyOnCreate):
    used = min(pool, invoice amount); pool -= used
    used covers the invoice → invoice is created completed
    otherwise              → invoice is created pending for the remainder
                             (OriginalAmount keeps the face value)
    An audit payment {completed, method "advance", amount used} is recorded.
    The reconciler skips advance-method payments, so the credit is not
    counted twice.

  Apply-to-existing (ApplyDeduction):
    deduction = min(pool, requested); pool -= deduction
    balance = max(0, balance - deduction), written directly
    the invoice's outstanding amount drops by the deduction
    balance reached 0 → the invoice is marked completed
    An "advance" transaction {completed, amount deduction} is recorded.

INVARIANT:
  AdvancePayment >= 0. Requests larger than the pool are capped silently.

KNOWN QUIRK:
  The completion check in ApplyDeduction looks at the customer's whole
  balance, not at the invoice's own remainder. An invoice can therefore be
  completed because other invoices were paid elsewhere.

SEE ALSO:
  - engine.go: Runs Reconcile after every allocation
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdvanceApplication is the outcome of creating an invoice against the pool.
type AdvanceApplication struct {
	Invoice          Transaction
	Audit            *Transaction // nil when nothing was drawn from the pool
	Used             decimal.Decimal
	RemainingAdvance decimal.Decimal
}

// DeductionResult is the outcome of ApplyDeduction.
type DeductionResult struct {
	DeductionAmount  decimal.Decimal
	RemainingAdvance decimal.Decimal
	RemainingBalance decimal.Decimal
	InvoiceStatus    Status
	Invoice          Transaction
	Record           Transaction
}

// AdvanceAllocator owns Customer.AdvancePayment.
type AdvanceAllocator struct {
	Transactions TransactionStore
	Customers    CustomerStore
	Logger       *zap.Logger
	NewID        func() TransactionID
	Now          func() time.Time
}

func NewAdvanceAllocator(store Store, newID func() TransactionID, logger *zap.Logger) *AdvanceAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvanceAllocator{
		Transactions: store,
		Customers:    store,
		Logger:       logger,
		NewID:        newID,
		Now:          time.Now,
	}
}

// Deposit adds amount to the customer's pool.
func (a *AdvanceAllocator) Deposit(ctx context.Context, customerID CustomerID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &InvalidOperationError{Op: "advance deposit", Message: "amount must be positive"}
	}
	customer, err := a.Customers.GetCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	customer.AdvancePayment = customer.AdvancePayment.Add(amount)
	customer.UpdatedAt = a.Now().UTC()
	if err := a.Customers.SaveCustomer(ctx, customer); err != nil {
		return decimal.Zero, fmt.Errorf("save customer: %w", err)
	}

	a.Logger.Info("advance deposited",
		zap.String("customer_id", string(customerID)),
		zap.String("amount", amount.String()),
		zap.String("pool", customer.AdvancePayment.String()),
	)
	return customer.AdvancePayment, nil
}

// Withdraw takes a reversed deposit back out of the pool. The pool may
// already have been spent, so the reversal is capped at what is left.
func (a *AdvanceAllocator) Withdraw(ctx context.Context, customerID CustomerID, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &InvalidOperationError{Op: "advance withdrawal", Message: "amount must be positive"}
	}
	customer, err := a.Customers.GetCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	taken := decimal.Min(customer.AdvancePayment, amount)
	customer.AdvancePayment = customer.AdvancePayment.Sub(taken)
	customer.UpdatedAt = a.Now().UTC()
	if err := a.Customers.SaveCustomer(ctx, customer); err != nil {
		return decimal.Zero, fmt.Errorf("save customer: %w", err)
	}

	a.Logger.Info("advance deposit reversed",
		zap.String("customer_id", string(customerID)),
		zap.String("amount", amount.String()),
		zap.String("taken", taken.String()),
		zap.String("pool", customer.AdvancePayment.String()),
	)
	return customer.AdvancePayment, nil
}

// ApplyOnCreate creates a pending invoice, drawing on the pool first.
// The invoice must already be validated and carry its ID.
func (a *AdvanceAllocator) ApplyOnCreate(ctx context.Context, customer Customer, invoice Transaction) (AdvanceApplication, error) {
	app := AdvanceApplication{Used: decimal.Zero, RemainingAdvance: customer.AdvancePayment}

	if invoice.Type != TypeInvoice || invoice.Status != StatusPending || !customer.AdvancePayment.IsPositive() {
		created, err := a.Transactions.CreateTransaction(ctx, invoice)
		if err != nil {
			return app, err
		}
		app.Invoice = created
		return app, nil
	}

	faceValue := invoice.Amount
	used := decimal.Min(customer.AdvancePayment, faceValue)
	if used.GreaterThanOrEqual(faceValue) {
		invoice.Status = StatusCompleted
	} else {
		invoice.OriginalAmount = faceValue
		invoice.Amount = faceValue.Sub(used)
	}

	created, err := a.Transactions.CreateTransaction(ctx, invoice)
	if err != nil {
		return app, err
	}
	app.Invoice = created

	customer.AdvancePayment = customer.AdvancePayment.Sub(used)
	customer.UpdatedAt = a.Now().UTC()
	if err := a.Customers.SaveCustomer(ctx, customer); err != nil {
		return app, fmt.Errorf("save customer: %w", err)
	}
	app.Used = used
	app.RemainingAdvance = customer.AdvancePayment

	audit, err := a.Transactions.CreateTransaction(ctx, Transaction{
		ID:            a.NewID(),
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		Type:          TypePayment,
		Amount:        used,
		Date:          invoice.Date,
		Status:        StatusCompleted,
		PaymentMethod: PaymentMethodAdvance,
		Description:   "Advance payment applied to invoice",
		Reference:     string(created.ID),
	})
	if err != nil {
		return app, fmt.Errorf("record advance usage: %w", err)
	}
	app.Audit = &audit

	a.Logger.Info("advance applied to new invoice",
		zap.String("customer_id", string(customer.ID)),
		zap.String("invoice_id", string(created.ID)),
		zap.String("used", used.String()),
		zap.String("invoice_status", string(created.Status)),
		zap.String("pool", customer.AdvancePayment.String()),
	)
	return app, nil
}

// ApplyDeduction draws up to requested from the pool against a pending invoice.
func (a *AdvanceAllocator) ApplyDeduction(ctx context.Context, invoiceID TransactionID, requested decimal.Decimal) (DeductionResult, error) {
	const op = "advance deduction"
	var result DeductionResult

	if !requested.IsPositive() {
		return result, &InvalidOperationError{Op: op, Message: "deduction amount must be positive"}
	}

	invoice, err := a.Transactions.GetTransaction(ctx, invoiceID)
	if err != nil {
		return result, err
	}
	if invoice.Type != TypeInvoice {
		return result, &InvalidOperationError{Op: op, Message: fmt.Sprintf("transaction %s is a %s, not an invoice", invoiceID, invoice.Type)}
	}
	if invoice.Status != StatusPending {
		return result, &InvalidOperationError{Op: op, Message: fmt.Sprintf("invoice %s is %s, not pending", invoiceID, invoice.Status)}
	}

	customer, err := a.Customers.GetCustomer(ctx, invoice.CustomerID)
	if err != nil {
		return result, err
	}
	if !customer.AdvancePayment.IsPositive() {
		return result, &InvalidOperationError{Op: op, Message: "customer has no advance payment available"}
	}

	deduction := decimal.Min(customer.AdvancePayment, requested)
	now := a.Now().UTC()

	customer.AdvancePayment = customer.AdvancePayment.Sub(deduction)
	customer.Balance = ClampZero(customer.Balance.Sub(deduction))
	customer.UpdatedAt = now

	upd := TransactionUpdate{}
	remaining := ClampZero(invoice.Amount.Sub(deduction))
	upd.Amount = &remaining
	if invoice.OriginalAmount.IsZero() {
		face := invoice.Amount
		upd.OriginalAmount = &face
	}
	if customer.Balance.IsZero() {
		completed := StatusCompleted
		upd.Status = &completed
	}

	updated, err := a.Transactions.UpdateTransaction(ctx, invoiceID, upd)
	if err != nil {
		return result, fmt.Errorf("update invoice: %w", err)
	}
	if err := a.Customers.SaveCustomer(ctx, customer); err != nil {
		return result, fmt.Errorf("save customer: %w", err)
	}

	record, err := a.Transactions.CreateTransaction(ctx, Transaction{
		ID:            a.NewID(),
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		Type:          TypeAdvance,
		Amount:        deduction,
		Date:          now,
		Status:        StatusCompleted,
		PaymentMethod: PaymentMethodAdvance,
		Description:   "Advance payment deducted from invoice",
		Reference:     string(invoiceID),
	})
	if err != nil {
		return result, fmt.Errorf("record advance deduction: %w", err)
	}

	a.Logger.Info("advance deducted from invoice",
		zap.String("customer_id", string(customer.ID)),
		zap.String("invoice_id", string(invoiceID)),
		zap.String("requested", requested.String()),
		zap.String("deducted", deduction.String()),
		zap.String("pool", customer.AdvancePayment.String()),
	)

	return DeductionResult{
		DeductionAmount:  deduction,
		RemainingAdvance: customer.AdvancePayment,
		RemainingBalance: customer.Balance,
		InvoiceStatus:    updated.Status,
		Invoice:          updated,
		Record:           record,
	}, nil
}
