/*
reconciler.go - Full-rescan balance reconciliation

PURPOSE:
  Recomputes a customer's TotalCredit, TotalPaid and Balance from its entire
  transaction history and persists them. This is the only code path that
  writes those three fields.

ALGORITHM:
  For every transaction of the customer:
    invoice ∧ status pending            → TotalCredit += amount
    payment ∧ status completed ∧ method ≠ "advance" → TotalPaid += amount
  Balance = TotalCredit - TotalPaid, snapped to 0 inside (-0.01, 0.01).

  Statuses are normalized through ParseStatus so legacy spellings
  ("Paid", "UNPAID", "partial") land in the right bucket; anything unknown
  is a ValidationError.

WHY NEVER INCREMENTAL?
  Creation, status change, deletion and bulk deletion all touch the same
  aggregates. Adjusting them with += / -= at each call site compounds drift;
  a rescan after every mutation cannot drift.

MISSING CUSTOMER:
  If the customer vanished (deleted concurrently) the call is a no-op and
  returns a result with Skipped set. It is not an error.

SEE ALSO:
  - engine.go: Calls Reconcile as the last step of every mutation
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Aggregates are the derived receivable figures of one customer.
type Aggregates struct {
	TotalCredit decimal.Decimal
	TotalPaid   decimal.Decimal
	Balance     decimal.Decimal
}

// ComputeAggregates derives the aggregates from a transaction set.
func ComputeAggregates(txs []Transaction) (Aggregates, error) {
	credit := decimal.Zero
	paid := decimal.Zero

	for _, tx := range txs {
		status, err := ParseStatus(string(tx.Status))
		if err != nil {
			return Aggregates{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		typ, err := ParseType(string(tx.Type))
		if err != nil {
			return Aggregates{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}

		switch {
		case typ == TypeInvoice && status == StatusPending:
			credit = credit.Add(tx.Amount)
		case typ == TypePayment && status == StatusCompleted && !IsAdvanceMethod(tx.PaymentMethod):
			paid = paid.Add(tx.Amount)
		}
	}

	return Aggregates{
		TotalCredit: credit,
		TotalPaid:   paid,
		Balance:     SnapToZero(credit.Sub(paid)),
	}, nil
}

// ReconcileResult reports what a reconciliation persisted.
type ReconcileResult struct {
	CustomerID CustomerID
	Aggregates
	Skipped bool // customer no longer exists
}

// Reconciler owns the derived balance fields of every customer.
type Reconciler struct {
	Transactions TransactionStore
	Customers    CustomerStore
	Logger       *zap.Logger
	Now          func() time.Time
}

func NewReconciler(store Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{Transactions: store, Customers: store, Logger: logger, Now: time.Now}
}

// Reconcile recomputes and persists the aggregates of one customer.
func (r *Reconciler) Reconcile(ctx context.Context, customerID CustomerID) (ReconcileResult, error) {
	result := ReconcileResult{CustomerID: customerID}

	customer, err := r.Customers.GetCustomer(ctx, customerID)
	if IsNotFound(err) {
		r.Logger.Debug("reconcile skipped, customer gone", zap.String("customer_id", string(customerID)))
		result.Skipped = true
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("load customer: %w", err)
	}

	txs, err := r.Transactions.FindByCustomer(ctx, customerID)
	if err != nil {
		return result, fmt.Errorf("load transactions: %w", err)
	}

	agg, err := ComputeAggregates(txs)
	if err != nil {
		return result, err
	}

	customer.TotalCredit = agg.TotalCredit
	customer.TotalPaid = agg.TotalPaid
	customer.Balance = agg.Balance
	customer.UpdatedAt = r.Now().UTC()

	if err := r.Customers.SaveCustomer(ctx, customer); err != nil {
		return result, fmt.Errorf("save customer: %w", err)
	}

	r.Logger.Debug("customer reconciled",
		zap.String("customer_id", string(customerID)),
		zap.Int("transactions", len(txs)),
		zap.String("total_credit", agg.TotalCredit.String()),
		zap.String("total_paid", agg.TotalPaid.String()),
		zap.String("balance", agg.Balance.String()),
	)

	result.Aggregates = agg
	return result, nil
}

// ReconcileAll sweeps every customer. Failures for one customer do not stop
// the sweep; they are joined into the returned error.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]ReconcileResult, error) {
	customers, err := r.Customers.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	results := make([]ReconcileResult, 0, len(customers))
	var errs []error
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.Reconcile(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("customer %s: %w", c.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
