/*
settlement.go - FIFO invoice settlement

PURPOSE:
  When a payment completes, mark the customer's oldest pending invoices as
  completed, as far as the customer's cumulative completed payments cover them.

ALGORITHM:
  1. Pending invoices, ascending by Date (ties keep store order).
  2. totalPaid = Σ completed payments, advance-funded ones excluded.
  3. Walk oldest-first with a running sum; an invoice is settled when
     running + amount <= totalPaid. The walk stops at the first invoice
     that does not fit: settlement is all-or-nothing per invoice.

MODEL:
  Payments are matched against the whole history, not bound to specific
  invoices. Surplus payments stay surplus; they are never turned into
  advance credit here (see advance.go for that pool).

SEE ALSO:
  - engine.go: Runs Settle before Reconcile
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementResult lists the invoices a Settle call completed.
type SettlementResult struct {
	CustomerID CustomerID
	TotalPaid  decimal.Decimal
	Settled    []TransactionID
	Allocated  decimal.Decimal // sum of settled invoice amounts
}

// PlanSettlement returns the invoices that the FIFO walk settles, without
// persisting anything. Only pending invoices in txs are candidates.
func PlanSettlement(txs []Transaction) (settled []Transaction, totalPaid, allocated decimal.Decimal) {
	var pending []Transaction
	totalPaid = decimal.Zero
	for _, tx := range txs {
		switch {
		case tx.Type == TypeInvoice && tx.Status == StatusPending:
			pending = append(pending, tx)
		case tx.Type == TypePayment && tx.Status == StatusCompleted && !tx.IsAdvanceFunded():
			totalPaid = totalPaid.Add(tx.Amount)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Date.Before(pending[j].Date)
	})

	allocated = decimal.Zero
	for _, inv := range pending {
		next := allocated.Add(inv.Amount)
		if next.GreaterThan(totalPaid) {
			break
		}
		allocated = next
		settled = append(settled, inv)
	}
	return settled, totalPaid, allocated
}

// SettlementMatcher applies completed payments to pending invoices.
type SettlementMatcher struct {
	Transactions TransactionStore
	Logger       *zap.Logger
}

func NewSettlementMatcher(store TransactionStore, logger *zap.Logger) *SettlementMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementMatcher{Transactions: store, Logger: logger}
}

// Settle completes every invoice the customer's payments cover, oldest first.
func (m *SettlementMatcher) Settle(ctx context.Context, customerID CustomerID) (SettlementResult, error) {
	result := SettlementResult{CustomerID: customerID}

	txs, err := m.Transactions.FindByCustomer(ctx, customerID)
	if err != nil {
		return result, fmt.Errorf("load transactions: %w", err)
	}

	settled, totalPaid, allocated := PlanSettlement(txs)
	result.TotalPaid = totalPaid
	result.Allocated = allocated

	completed := StatusCompleted
	for _, inv := range settled {
		if _, err := m.Transactions.UpdateTransaction(ctx, inv.ID, TransactionUpdate{Status: &completed}); err != nil {
			return result, fmt.Errorf("settle invoice %s: %w", inv.ID, err)
		}
		result.Settled = append(result.Settled, inv.ID)
	}

	if len(result.Settled) > 0 {
		m.Logger.Info("invoices settled",
			zap.String("customer_id", string(customerID)),
			zap.Int("count", len(result.Settled)),
			zap.String("allocated", allocated.String()),
			zap.String("total_paid", totalPaid.String()),
		)
	}
	return result, nil
}

// byDate orders transactions by Date, then CreatedAt.
func byDate(txs []Transaction) func(i, j int) bool {
	return func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	}
}

// SortByDate sorts transactions oldest first, ties by creation time.
func SortByDate(txs []Transaction) {
	sort.SliceStable(txs, byDate(txs))
}

// dueDateOf is the zero time for transactions without a due date.
func dueDateOf(tx Transaction) time.Time {
	if tx.DueDate == nil {
		return time.Time{}
	}
	return *tx.DueDate
}
