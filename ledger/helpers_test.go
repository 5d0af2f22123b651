package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/receivables-engine/ledger"
	"github.com/warp/receivables-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// testNow is the fixed engine clock used across the package tests.
var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	eng := ledger.NewEngine(mem, zaptest.NewLogger(t))
	eng.Now = func() time.Time { return testNow }
	return eng, mem
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// day returns testNow shifted by n days.
func day(n int) time.Time {
	return testNow.AddDate(0, 0, n)
}

func ptrTime(t time.Time) *time.Time { return &t }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, fmt.Sprintf("want %s, got %s", want, got), msgAndArgs...)
	}
}

func registerCustomer(t *testing.T, eng *ledger.Engine, name string) ledger.Customer {
	t.Helper()
	c, err := eng.RegisterCustomer(context.Background(), ledger.CustomerProfile{Name: name})
	require.NoError(t, err)
	return c
}

func createInvoice(t *testing.T, eng *ledger.Engine, customerID ledger.CustomerID, amount string, date, due time.Time) ledger.Transaction {
	t.Helper()
	res, err := eng.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		CustomerID: customerID,
		Type:       "invoice",
		Amount:     dec(amount),
		Date:       date,
		DueDate:    &due,
	})
	require.NoError(t, err)
	return res.Transaction
}

func createPayment(t *testing.T, eng *ledger.Engine, customerID ledger.CustomerID, amount string, date time.Time, status string) ledger.Transaction {
	t.Helper()
	res, err := eng.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		CustomerID:    customerID,
		Type:          "payment",
		Amount:        dec(amount),
		Date:          date,
		Status:        status,
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)
	return res.Transaction
}

func depositAdvance(t *testing.T, eng *ledger.Engine, customerID ledger.CustomerID, amount string) {
	t.Helper()
	_, err := eng.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		CustomerID:    customerID,
		Type:          "advance",
		Amount:        dec(amount),
		Date:          day(-30),
		Status:        "completed",
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
}

func getCustomer(t *testing.T, eng *ledger.Engine, id ledger.CustomerID) ledger.Customer {
	t.Helper()
	c, err := eng.GetCustomer(context.Background(), id)
	require.NoError(t, err)
	return c
}

func getTransaction(t *testing.T, eng *ledger.Engine, id ledger.TransactionID) ledger.Transaction {
	t.Helper()
	tx, err := eng.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// assertReconciled checks the stored aggregates against a fresh scan of
// the customer's history.
func assertReconciled(t *testing.T, eng *ledger.Engine, id ledger.CustomerID) {
	t.Helper()
	ctx := context.Background()

	txs, err := eng.Store.FindByCustomer(ctx, id)
	require.NoError(t, err)
	want, err := ledger.ComputeAggregates(txs)
	require.NoError(t, err)

	c := getCustomer(t, eng, id)
	assertDec(t, want.TotalCredit.String(), c.TotalCredit, "total credit")
	assertDec(t, want.TotalPaid.String(), c.TotalPaid, "total paid")
	assertDec(t, want.Balance.String(), c.Balance, "balance")
}
