/*
engine.go - Ledger operations exposed to the request layer

PURPOSE:
  Engine is the single entry point for callers (HTTP handlers, CLI, scheduler).
  It validates input, performs the store mutation, then runs the follow-up
  steps in a fixed order so the customer's aggregates are always current.

MUTATION WORKFLOW:
  1. Validate input (nothing is written on failure)
  2. Store mutation (create / update / delete)
  3. Advance pool movement, if the transaction draws on the pool or a
     deposit was added, changed or withdrawn
  4. FIFO settlement, if a non-advance payment has just become completed
  5. Reconcile the affected customer(s) (always last)

  Reconciliation of a customer deleted in the meantime is a silent no-op.

SEE ALSO:
  - reconciler.go, settlement.go, advance.go, alerts.go
  - api/handlers.go: HTTP mapping of these operations
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store      Store
	Reconciler *Reconciler
	Matcher    *SettlementMatcher
	Allocator  *AdvanceAllocator
	Classifier *AlertClassifier
	Logger     *zap.Logger

	NewID func() string
	Now   func() time.Time
}

// NewEngine wires the ledger components around store. A nil logger disables logging.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		Store:  store,
		Logger: logger,
		NewID:  uuid.NewString,
		Now:    time.Now,
	}
	newTxID := func() TransactionID { return TransactionID(e.NewID()) }
	now := func() time.Time { return e.Now() }

	e.Reconciler = NewReconciler(store, logger.Named("reconciler"))
	e.Reconciler.Now = now
	e.Matcher = NewSettlementMatcher(store, logger.Named("settlement"))
	e.Allocator = NewAdvanceAllocator(store, newTxID, logger.Named("advance"))
	e.Allocator.Now = now
	e.Classifier = NewAlertClassifier(store, DefaultAlertWindow, logger.Named("alerts"))
	return e
}

// SetAlertWindow changes how far ahead due-date alerts look.
func (e *Engine) SetAlertWindow(window time.Duration) {
	if window > 0 {
		e.Classifier.Window = window
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type CreateTransactionInput struct {
	CustomerID    CustomerID
	Type          string
	Amount        decimal.Decimal
	Date          time.Time // defaults to now
	DueDate       *time.Time
	Status        string // defaults to pending
	PaymentMethod string
	Description   string
	Reference     string
	Items         []LineItem // Amount defaults to their total when zero

	// UseAdvance draws an invoice from the customer's advance pool first.
	UseAdvance bool
}

type CreateTransactionResult struct {
	Transaction     Transaction
	CustomerBalance decimal.Decimal
	AdvanceUsed     decimal.Decimal
}

// CreateTransaction records a transaction and brings the customer up to date.
func (e *Engine) CreateTransaction(ctx context.Context, in CreateTransactionInput) (*CreateTransactionResult, error) {
	typ, err := ParseType(in.Type)
	if err != nil {
		return nil, err
	}
	status := StatusPending
	if strings.TrimSpace(in.Status) != "" {
		if status, err = ParseStatus(in.Status); err != nil {
			return nil, err
		}
	}

	customer, err := e.Store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}

	date := in.Date
	if date.IsZero() {
		date = e.Now()
	}
	amount := in.Amount
	if amount.IsZero() && len(in.Items) > 0 {
		amount = ItemsTotal(in.Items)
	}
	tx := Transaction{
		ID:            TransactionID(e.NewID()),
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		Type:          typ,
		Amount:        amount,
		Date:          date.UTC(),
		Status:        status,
		PaymentMethod: strings.TrimSpace(in.PaymentMethod),
		Description:   in.Description,
		Reference:     in.Reference,
		Items:         cloneItems(in.Items),
	}
	if in.DueDate != nil {
		due := in.DueDate.UTC()
		tx.DueDate = &due
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	result := &CreateTransactionResult{AdvanceUsed: decimal.Zero}

	if in.UseAdvance && typ == TypeInvoice {
		app, err := e.Allocator.ApplyOnCreate(ctx, customer, tx)
		if err != nil {
			return nil, err
		}
		result.Transaction = app.Invoice
		result.AdvanceUsed = app.Used
	} else {
		created, err := e.Store.CreateTransaction(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("create transaction: %w", err)
		}
		result.Transaction = created
	}

	if err := e.afterStatusChange(ctx, Transaction{}, result.Transaction); err != nil {
		return nil, err
	}

	balance, err := e.reconcile(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	result.CustomerBalance = balance

	e.Logger.Info("transaction created",
		zap.String("transaction_id", string(result.Transaction.ID)),
		zap.String("customer_id", string(customer.ID)),
		zap.String("type", string(typ)),
		zap.String("status", string(result.Transaction.Status)),
		zap.String("amount", result.Transaction.Amount.String()),
	)
	return result, nil
}

// UpdateTransactionStatus moves a transaction to a new status.
func (e *Engine) UpdateTransactionStatus(ctx context.Context, id TransactionID, status string) (Transaction, error) {
	s, err := ParseStatus(status)
	if err != nil {
		return Transaction{}, err
	}
	return e.UpdateTransaction(ctx, id, TransactionUpdate{Status: &s})
}

// UpdateTransaction applies a field update. The resulting transaction must
// still validate.
func (e *Engine) UpdateTransaction(ctx context.Context, id TransactionID, upd TransactionUpdate) (Transaction, error) {
	if upd.IsZero() {
		return Transaction{}, &ValidationError{Message: "no fields to update"}
	}
	if upd.Status != nil {
		s, err := ParseStatus(string(*upd.Status))
		if err != nil {
			return Transaction{}, err
		}
		upd.Status = &s
	}
	if upd.PaymentMethod != nil {
		m := strings.TrimSpace(*upd.PaymentMethod)
		upd.PaymentMethod = &m
	}

	before, err := e.Store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if err := upd.Apply(before).Validate(); err != nil {
		return Transaction{}, err
	}

	after, err := e.Store.UpdateTransaction(ctx, id, upd)
	if err != nil {
		return Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	if err := e.afterStatusChange(ctx, before, after); err != nil {
		return Transaction{}, err
	}
	if _, err := e.reconcile(ctx, after.CustomerID); err != nil {
		return Transaction{}, err
	}

	// Settlement may have completed this very transaction.
	return e.Store.GetTransaction(ctx, id)
}

// DeleteTransaction removes a transaction and reconciles its customer.
func (e *Engine) DeleteTransaction(ctx context.Context, id TransactionID) error {
	tx, err := e.Store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := e.Store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if err := e.adjustPool(ctx, tx.CustomerID, depositValue(tx).Neg()); err != nil {
		return err
	}
	if _, err := e.reconcile(ctx, tx.CustomerID); err != nil {
		return err
	}

	e.Logger.Info("transaction deleted",
		zap.String("transaction_id", string(id)),
		zap.String("customer_id", string(tx.CustomerID)),
	)
	return nil
}

// DeleteTransactions removes every listed transaction that exists and
// reconciles each affected customer once. Unknown ids are ignored.
func (e *Engine) DeleteTransactions(ctx context.Context, ids []TransactionID) (int, error) {
	if len(ids) == 0 {
		return 0, &ValidationError{Field: "ids", Message: "at least one transaction id is required"}
	}

	affected := make(map[CustomerID]struct{})
	deleted := 0
	for _, id := range ids {
		tx, err := e.Store.GetTransaction(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		if err := e.Store.DeleteTransaction(ctx, id); err != nil {
			if IsNotFound(err) {
				continue
			}
			return deleted, fmt.Errorf("delete transaction %s: %w", id, err)
		}
		if err := e.adjustPool(ctx, tx.CustomerID, depositValue(tx).Neg()); err != nil {
			return deleted, err
		}
		affected[tx.CustomerID] = struct{}{}
		deleted++
	}

	customers := make([]CustomerID, 0, len(affected))
	for id := range affected {
		customers = append(customers, id)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i] < customers[j] })
	for _, id := range customers {
		if _, err := e.reconcile(ctx, id); err != nil {
			return deleted, err
		}
	}

	e.Logger.Info("transactions deleted",
		zap.Int("requested", len(ids)),
		zap.Int("deleted", deleted),
		zap.Int("customers", len(customers)),
	)
	return deleted, nil
}

// ApplyAdvanceDeduction draws on the customer's pool against a pending invoice.
// RemainingBalance is the balance after reconciliation.
func (e *Engine) ApplyAdvanceDeduction(ctx context.Context, invoiceID TransactionID, amount decimal.Decimal) (*DeductionResult, error) {
	res, err := e.Allocator.ApplyDeduction(ctx, invoiceID, amount)
	if err != nil {
		return nil, err
	}
	rec, err := e.Reconciler.Reconcile(ctx, res.Invoice.CustomerID)
	if err != nil {
		return nil, err
	}
	if !rec.Skipped {
		res.RemainingBalance = rec.Balance
	}
	return &res, nil
}

// GetDueDateAlerts classifies pending invoices as of now.
func (e *Engine) GetDueDateAlerts(ctx context.Context, now time.Time) ([]Alert, error) {
	return e.Classifier.Classify(ctx, now)
}

func (e *Engine) GetTransaction(ctx context.Context, id TransactionID) (Transaction, error) {
	return e.Store.GetTransaction(ctx, id)
}

func (e *Engine) ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	if filter.Type != "" {
		typ, err := ParseType(string(filter.Type))
		if err != nil {
			return TransactionPage{}, err
		}
		filter.Type = typ
	}
	if filter.Status != "" {
		s, err := ParseStatus(string(filter.Status))
		if err != nil {
			return TransactionPage{}, err
		}
		filter.Status = s
	}
	return e.Store.ListTransactions(ctx, filter.Normalized())
}

// CustomerTransactions returns a customer's full history, oldest first.
func (e *Engine) CustomerTransactions(ctx context.Context, id CustomerID) ([]Transaction, error) {
	if _, err := e.Store.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.FindByCustomer(ctx, id)
}

// afterStatusChange runs the pool and settlement steps a status transition
// triggers. before is the zero Transaction for a fresh create.
func (e *Engine) afterStatusChange(ctx context.Context, before, after Transaction) error {
	if err := e.adjustPool(ctx, after.CustomerID, depositValue(after).Sub(depositValue(before))); err != nil {
		return err
	}

	becameCompleted := after.Status == StatusCompleted && before.Status != StatusCompleted
	if becameCompleted && after.Type == TypePayment && !after.IsAdvanceFunded() {
		if _, err := e.Matcher.Settle(ctx, after.CustomerID); err != nil {
			return err
		}
	}
	return nil
}

// depositValue is what tx currently contributes to the advance pool.
func depositValue(tx Transaction) decimal.Decimal {
	if tx.IsDeposit() {
		return tx.Amount
	}
	return decimal.Zero
}

// adjustPool credits or reverses deposits. A deleted customer has no pool.
func (e *Engine) adjustPool(ctx context.Context, id CustomerID, delta decimal.Decimal) error {
	var err error
	switch {
	case delta.IsPositive():
		_, err = e.Allocator.Deposit(ctx, id, delta)
	case delta.IsNegative():
		_, err = e.Allocator.Withdraw(ctx, id, delta.Neg())
	}
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("adjust advance pool: %w", err)
	}
	return nil
}

// reconcile returns the customer's new balance, or zero when it is gone.
func (e *Engine) reconcile(ctx context.Context, id CustomerID) (decimal.Decimal, error) {
	res, err := e.Reconciler.Reconcile(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reconcile customer %s: %w", id, err)
	}
	if res.Skipped {
		return decimal.Zero, nil
	}
	return res.Balance, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const (
	maxNameLength  = 100
	maxPhoneLength = 20
)

type CustomerProfile struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

func (p CustomerProfile) validate() error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return &ValidationError{Field: "name", Message: "customer name is required"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}
	if utf8.RuneCountInString(strings.TrimSpace(p.Phone)) > maxPhoneLength {
		return &ValidationError{Field: "phone", Message: fmt.Sprintf("must be at most %d characters", maxPhoneLength)}
	}
	return nil
}

// CustomerProfileUpdate carries profile fields; nil fields are left unchanged.
// Aggregates are not part of it.
type CustomerProfileUpdate struct {
	Name    *string
	Phone   *string
	Email   *string
	Address *string
}

// RegisterCustomer creates a customer with zero aggregates.
func (e *Engine) RegisterCustomer(ctx context.Context, p CustomerProfile) (Customer, error) {
	if err := p.validate(); err != nil {
		return Customer{}, err
	}
	now := e.Now().UTC()
	c := Customer{
		ID:             CustomerID(e.NewID()),
		Name:           strings.TrimSpace(p.Name),
		Phone:          strings.TrimSpace(p.Phone),
		Email:          strings.TrimSpace(p.Email),
		Address:        strings.TrimSpace(p.Address),
		TotalCredit:    decimal.Zero,
		TotalPaid:      decimal.Zero,
		Balance:        decimal.Zero,
		AdvancePayment: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Store.SaveCustomer(ctx, c); err != nil {
		return Customer{}, fmt.Errorf("save customer: %w", err)
	}
	e.Logger.Info("customer registered", zap.String("customer_id", string(c.ID)))
	return c, nil
}

// UpdateCustomerProfile changes profile fields only.
func (e *Engine) UpdateCustomerProfile(ctx context.Context, id CustomerID, upd CustomerProfileUpdate) (Customer, error) {
	c, err := e.Store.GetCustomer(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	p := CustomerProfile{Name: c.Name, Phone: c.Phone, Email: c.Email, Address: c.Address}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Phone != nil {
		p.Phone = *upd.Phone
	}
	if upd.Email != nil {
		p.Email = *upd.Email
	}
	if upd.Address != nil {
		p.Address = *upd.Address
	}
	if err := p.validate(); err != nil {
		return Customer{}, err
	}

	c.Name = strings.TrimSpace(p.Name)
	c.Phone = strings.TrimSpace(p.Phone)
	c.Email = strings.TrimSpace(p.Email)
	c.Address = strings.TrimSpace(p.Address)
	c.UpdatedAt = e.Now().UTC()
	if err := e.Store.SaveCustomer(ctx, c); err != nil {
		return Customer{}, fmt.Errorf("save customer: %w", err)
	}
	return c, nil
}

func (e *Engine) GetCustomer(ctx context.Context, id CustomerID) (Customer, error) {
	return e.Store.GetCustomer(ctx, id)
}

func (e *Engine) ListCustomers(ctx context.Context) ([]Customer, error) {
	return e.Store.ListCustomers(ctx)
}

// DeleteCustomer removes the customer record. Its transactions are kept;
// alerts for them fall back to the denormalized customer name.
func (e *Engine) DeleteCustomer(ctx context.Context, id CustomerID) error {
	if err := e.Store.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	e.Logger.Info("customer deleted", zap.String("customer_id", string(id)))
	return nil
}

// ReconcileCustomer recomputes one customer on request.
func (e *Engine) ReconcileCustomer(ctx context.Context, id CustomerID) (ReconcileResult, error) {
	if _, err := e.Store.GetCustomer(ctx, id); err != nil {
		return ReconcileResult{}, err
	}
	return e.Reconciler.Reconcile(ctx, id)
}

// ReconcileAll recomputes every customer.
func (e *Engine) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	return e.Reconciler.ReconcileAll(ctx)
}

// =============================================================================
// STATS
// =============================================================================

// OverdueAfterDays is the invoice age at which Stats counts a pending
// invoice as overdue, regardless of its due date.
const OverdueAfterDays = 30

type Stats struct {
	TotalSales       decimal.Decimal // Σ invoice amounts
	TotalPayments    decimal.Decimal // Σ payment amounts
	TotalOutstanding decimal.Decimal // Σ pending invoice amounts
	CustomerCount    int
	OverdueCount     int // pending invoices issued more than OverdueAfterDays ago
	TransactionCount int
}

func (e *Engine) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	var err error

	if st.TotalSales, err = e.Store.SumAmounts(ctx, TransactionFilter{Type: TypeInvoice}); err != nil {
		return st, fmt.Errorf("sum invoices: %w", err)
	}
	if st.TotalPayments, err = e.Store.SumAmounts(ctx, TransactionFilter{Type: TypePayment}); err != nil {
		return st, fmt.Errorf("sum payments: %w", err)
	}
	if st.TotalOutstanding, err = e.Store.SumAmounts(ctx, TransactionFilter{Type: TypeInvoice, Status: StatusPending}); err != nil {
		return st, fmt.Errorf("sum outstanding: %w", err)
	}

	customers, err := e.Store.ListCustomers(ctx)
	if err != nil {
		return st, fmt.Errorf("list customers: %w", err)
	}
	st.CustomerCount = len(customers)

	cutoff := now.AddDate(0, 0, -OverdueAfterDays)
	overdue, err := e.Store.FindTransactions(ctx, TransactionFilter{Type: TypeInvoice, Status: StatusPending, To: &cutoff})
	if err != nil {
		return st, fmt.Errorf("find overdue invoices: %w", err)
	}
	for _, tx := range overdue {
		if tx.Date.Before(cutoff) {
			st.OverdueCount++
		}
	}

	page, err := e.Store.ListTransactions(ctx, TransactionFilter{Page: 1, Limit: 1})
	if err != nil {
		return st, fmt.Errorf("count transactions: %w", err)
	}
	st.TransactionCount = page.Total
	return st, nil
}
