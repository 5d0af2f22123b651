package ledger_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/receivables-engine/ledger"
)

// =============================================================================
// TRANSACTION LIFECYCLE
// =============================================================================

func TestEngine_CreateInvoice_RaisesBalance(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")

	res, err := eng.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		CustomerID:  c.ID,
		Type:        "Invoice",
		Amount:      dec("120.50"),
		Date:        day(-1),
		DueDate:     ptrTime(day(29)),
		Description: "March order",
	})

	require.NoError(t, err)
	assert.Equal(t, ledger.TypeInvoice, res.Transaction.Type)
	assert.Equal(t, ledger.StatusPending, res.Transaction.Status)
	assert.Equal(t, "Acme", res.Transaction.CustomerName)
	assertDec(t, "120.50", res.CustomerBalance)
	assert.True(t, res.AdvanceUsed.IsZero())
	assertReconciled(t, eng, c.ID)
}

func TestEngine_CreateTransaction_DefaultsDateToNow(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")

	res, err := eng.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		CustomerID: c.ID,
		Type:       "payment",
		Amount:     dec("10"),
	})

	require.NoError(t, err)
	assert.True(t, res.Transaction.Date.Equal(testNow))
}

func TestEngine_CreateTransaction_Rejected(t *testing.T) {
	// GIVEN: Inputs that fail validation or reference a missing customer
	// WHEN: Each is submitted
	// THEN: The matching error is returned and nothing is stored

	eng, mem := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	ctx := context.Background()

	tests := []struct {
		name      string
		in        ledger.CreateTransactionInput
		wantField string
		notFound  bool
	}{
		{
			name:      "invoice without due date",
			in:        ledger.CreateTransactionInput{CustomerID: c.ID, Type: "invoice", Amount: dec("100")},
			wantField: "due_date",
		},
		{
			name:      "negative amount",
			in:        ledger.CreateTransactionInput{CustomerID: c.ID, Type: "payment", Amount: dec("-5")},
			wantField: "amount",
		},
		{
			name:      "unknown type",
			in:        ledger.CreateTransactionInput{CustomerID: c.ID, Type: "refund", Amount: dec("5")},
			wantField: "type",
		},
		{
			name:      "unknown status",
			in:        ledger.CreateTransactionInput{CustomerID: c.ID, Type: "payment", Amount: dec("5"), Status: "bounced"},
			wantField: "status",
		},
		{
			name:     "unknown customer",
			in:       ledger.CreateTransactionInput{CustomerID: "nobody", Type: "payment", Amount: dec("5")},
			notFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.CreateTransaction(ctx, tt.in)
			require.Error(t, err)

			if tt.notFound {
				assert.True(t, ledger.IsNotFound(err))
				return
			}
			var verr *ledger.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}

	all, err := mem.FindTransactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.True(t, getCustomer(t, eng, c.ID).Balance.IsZero())
}

func TestEngine_DeletePayment_RestoresBalance(t *testing.T) {
	// GIVEN: A completed payment of 100 recorded before an invoice of 100,
	//        so the balance is 0 while the invoice stays pending
	// WHEN: The payment is deleted
	// THEN: The balance returns to 100

	eng, _ := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")

	pay := createPayment(t, eng, c.ID, "100", day(-5), "completed")
	inv := createInvoice(t, eng, c.ID, "100", day(-1), day(29))
	require.True(t, getCustomer(t, eng, c.ID).Balance.IsZero())
	require.Equal(t, ledger.StatusPending, getTransaction(t, eng, inv.ID).Status)

	require.NoError(t, eng.DeleteTransaction(ctx, pay.ID))

	assertDec(t, "100", getCustomer(t, eng, c.ID).Balance)
	assertReconciled(t, eng, c.ID)

	_, err := eng.GetTransaction(ctx, pay.ID)
	assert.True(t, ledger.IsNotFound(err))
}

func TestEngine_DeleteTransaction_Unknown(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.DeleteTransaction(context.Background(), "missing")

	assert.True(t, ledger.IsNotFound(err))
}

func TestEngine_DeleteTransactions_Bulk(t *testing.T) {
	// GIVEN: Two customers with invoices
	// WHEN: A bulk delete names invoices of both plus an unknown id
	// THEN: Known ids are removed, the unknown one is skipped, and both
	//       customers are reconciled

	eng, _ := newTestEngine(t)
	ctx := context.Background()
	acme := registerCustomer(t, eng, "Acme")
	globex := registerCustomer(t, eng, "Globex")

	a1 := createInvoice(t, eng, acme.ID, "100", day(-3), day(27))
	createInvoice(t, eng, acme.ID, "50", day(-2), day(28))
	g1 := createInvoice(t, eng, globex.ID, "70", day(-1), day(29))

	n, err := eng.DeleteTransactions(ctx, []ledger.TransactionID{a1.ID, "missing", g1.ID})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assertDec(t, "50", getCustomer(t, eng, acme.ID).Balance)
	assert.True(t, getCustomer(t, eng, globex.ID).Balance.IsZero())
}

func TestEngine_DeleteTransactions_EmptyList(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.DeleteTransactions(context.Background(), nil)

	var verr *ledger.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "ids", verr.Field)
}

func TestEngine_UpdateInvoiceStatus_PaidAlias(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	inv := createInvoice(t, eng, c.ID, "100", day(-5), day(25))

	updated, err := eng.UpdateTransactionStatus(context.Background(), inv.ID, "Paid")

	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, updated.Status)
	assert.True(t, getCustomer(t, eng, c.ID).Balance.IsZero())
}

func TestEngine_UpdateTransaction_Fields(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	inv := createInvoice(t, eng, c.ID, "100", day(-5), day(25))

	amount := dec("80")
	desc := "corrected"
	updated, err := eng.UpdateTransaction(context.Background(), inv.ID, ledger.TransactionUpdate{
		Amount:      &amount,
		Description: &desc,
	})

	require.NoError(t, err)
	assertDec(t, "80", updated.Amount)
	assert.Equal(t, "corrected", updated.Description)
	assertDec(t, "80", getCustomer(t, eng, c.ID).Balance)
}

func TestEngine_EditCompletedPayment_DoesNotSettleAgain(t *testing.T) {
	// GIVEN: Invoice A of 100 settled by a completed payment of 100, then a
	//        newer pending invoice B of 100
	// WHEN: Only the payment's description is edited
	// THEN: B stays pending and the balance stays 0

	eng, _ := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")

	a := createInvoice(t, eng, c.ID, "100", day(-10), day(20))
	pay := createPayment(t, eng, c.ID, "100", day(-9), "completed")
	require.Equal(t, ledger.StatusCompleted, getTransaction(t, eng, a.ID).Status)
	b := createInvoice(t, eng, c.ID, "100", day(-5), day(25))
	assert.True(t, getCustomer(t, eng, c.ID).Balance.IsZero())

	desc := "wire ref 4471"
	_, err := eng.UpdateTransaction(ctx, pay.ID, ledger.TransactionUpdate{Description: &desc})
	require.NoError(t, err)
	_, err = eng.UpdateTransactionStatus(ctx, pay.ID, "completed")
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, getTransaction(t, eng, b.ID).Status)
	assert.True(t, getCustomer(t, eng, c.ID).Balance.IsZero())
	assertReconciled(t, eng, c.ID)
}

func TestEngine_UpdateTransaction_Rejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")
	inv := createInvoice(t, eng, c.ID, "100", day(-5), day(25))

	t.Run("empty update", func(t *testing.T) {
		_, err := eng.UpdateTransaction(ctx, inv.ID, ledger.TransactionUpdate{})
		var verr *ledger.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Empty(t, verr.Field)
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := eng.UpdateTransactionStatus(ctx, inv.ID, "overdue")
		assert.True(t, ledger.IsValidation(err))
	})

	t.Run("negative amount", func(t *testing.T) {
		neg := dec("-1")
		_, err := eng.UpdateTransaction(ctx, inv.ID, ledger.TransactionUpdate{Amount: &neg})
		assert.True(t, ledger.IsValidation(err))
		assertDec(t, "100", getTransaction(t, eng, inv.ID).Amount)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := eng.UpdateTransactionStatus(ctx, "missing", "completed")
		assert.True(t, ledger.IsNotFound(err))
	})
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func lineItem(product, qty, price string) ledger.LineItem {
	return ledger.LineItem{
		ProductID:    product,
		Quantity:     dec(qty),
		PricePerUnit: dec(price),
		Total:        dec(qty).Mul(dec(price)),
	}
}

func TestEngine_CreateInvoice_WithItems(t *testing.T) {
	// GIVEN: Two billed lines, 3 × 20 and 2 × 15
	// WHEN: An invoice is created without an explicit amount
	// THEN: The amount is the item total and the lines are kept

	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	due := day(30)

	res, err := eng.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
		CustomerID: c.ID,
		Type:       "invoice",
		DueDate:    &due,
		Items:      []ledger.LineItem{lineItem("sku-1", "3", "20"), lineItem("sku-2", "2", "15")},
	})

	require.NoError(t, err)
	assertDec(t, "90", res.Transaction.Amount)
	stored := getTransaction(t, eng, res.Transaction.ID)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "sku-2", stored.Items[1].ProductID)
	assertDec(t, "30", stored.Items[1].Total)
	assertDec(t, "90", getCustomer(t, eng, c.ID).Balance)
}

func TestEngine_CreateInvoice_ItemsMustMatchAmount(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	due := day(30)

	tests := []struct {
		name  string
		items []ledger.LineItem
		field string
	}{
		{"totals differ", []ledger.LineItem{lineItem("sku-1", "3", "20")}, "items"},
		{"zero quantity", []ledger.LineItem{{ProductID: "sku-1", Quantity: dec("0"), Total: dec("100")}}, "items[0].quantity"},
		{"negative price", []ledger.LineItem{{Quantity: dec("1"), PricePerUnit: dec("-5"), Total: dec("100")}}, "items[0].price_per_unit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.CreateTransaction(context.Background(), ledger.CreateTransactionInput{
				CustomerID: c.ID,
				Type:       "invoice",
				Amount:     dec("100"),
				DueDate:    &due,
				Items:      tt.items,
			})

			var verr *ledger.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	txs, err := eng.CustomerTransactions(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestEngine_ItemsSurviveAdvanceCoverage(t *testing.T) {
	// GIVEN: A pool of 50 and an itemized invoice of 90
	// WHEN: The invoice is created against the pool, then 20 more is deducted
	// THEN: Items still add up to the face value kept in OriginalAmount

	eng, _ := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")
	depositAdvance(t, eng, c.ID, "50")
	due := day(30)

	res, err := eng.CreateTransaction(ctx, ledger.CreateTransactionInput{
		CustomerID: c.ID,
		Type:       "invoice",
		DueDate:    &due,
		Items:      []ledger.LineItem{lineItem("sku-1", "3", "20"), lineItem("sku-2", "2", "15")},
		UseAdvance: true,
	})
	require.NoError(t, err)
	assertDec(t, "40", res.Transaction.Amount)
	assertDec(t, "90", res.Transaction.FaceValue())

	depositAdvance(t, eng, c.ID, "20")
	_, err = eng.ApplyAdvanceDeduction(ctx, res.Transaction.ID, dec("20"))
	require.NoError(t, err)

	inv := getTransaction(t, eng, res.Transaction.ID)
	assertDec(t, "20", inv.Amount)
	assertDec(t, "90", ledger.ItemsTotal(inv.Items))
}

func TestEngine_UpdateTransaction_Items(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")
	inv := createInvoice(t, eng, c.ID, "60", day(-2), day(28))

	amount := dec("75")
	items := []ledger.LineItem{lineItem("sku-1", "3", "25")}
	updated, err := eng.UpdateTransaction(ctx, inv.ID, ledger.TransactionUpdate{Amount: &amount, Items: &items})
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)
	assertDec(t, "75", getCustomer(t, eng, c.ID).Balance)

	// Changing the amount alone would break the item total.
	other := dec("80")
	_, err = eng.UpdateTransaction(ctx, inv.ID, ledger.TransactionUpdate{Amount: &other})
	assert.True(t, ledger.IsValidation(err))
	assertDec(t, "75", getTransaction(t, eng, inv.ID).Amount)
}

func TestEngine_CustomerTransactions_OldestFirst(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	newer := createInvoice(t, eng, c.ID, "10", day(-1), day(29))
	older := createInvoice(t, eng, c.ID, "20", day(-9), day(21))

	txs, err := eng.CustomerTransactions(context.Background(), c.ID)

	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, older.ID, txs[0].ID)
	assert.Equal(t, newer.ID, txs[1].ID)

	_, err = eng.CustomerTransactions(context.Background(), "missing")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// LISTING
// =============================================================================

func TestEngine_ListTransactions_FiltersAndPages(t *testing.T) {
	// GIVEN: Five invoices and two payments for one customer
	// WHEN: Listed with filters and a page size of 2
	// THEN: Results are newest first with totals counting every match

	eng, _ := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")
	other := registerCustomer(t, eng, "Globex")

	for i := 1; i <= 5; i++ {
		createInvoice(t, eng, c.ID, "10", day(-i), day(30-i))
	}
	createPayment(t, eng, c.ID, "5", day(-10), "pending")
	createPayment(t, eng, other.ID, "5", day(-10), "completed")

	page, err := eng.ListTransactions(ctx, ledger.TransactionFilter{
		CustomerID: c.ID,
		Type:       "INVOICE",
		Page:       2,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Transactions, 2)
	assert.True(t, page.Transactions[0].Date.Equal(day(-3)))
	assert.True(t, page.Transactions[1].Date.Equal(day(-4)))

	from, to := day(-2), day(-1)
	page, err = eng.ListTransactions(ctx, ledger.TransactionFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = eng.ListTransactions(ctx, ledger.TransactionFilter{Status: "unpaid", Type: "payment"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, ledger.DefaultLimit, page.Limit)

	_, err = eng.ListTransactions(ctx, ledger.TransactionFilter{Type: "refund"})
	assert.True(t, ledger.IsValidation(err))
}

func TestEngine_Stats(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	acme := registerCustomer(t, eng, "Acme")
	registerCustomer(t, eng, "Globex")

	createInvoice(t, eng, acme.ID, "100", day(-40), day(-10))
	createInvoice(t, eng, acme.ID, "200", day(-20), day(10))
	createPayment(t, eng, acme.ID, "100", day(-1), "completed")
	createPayment(t, eng, acme.ID, "25", day(-1), "pending")

	st, err := eng.Stats(ctx, testNow)

	require.NoError(t, err)
	assertDec(t, "300", st.TotalSales)
	assertDec(t, "125", st.TotalPayments)
	assertDec(t, "200", st.TotalOutstanding, "the overdue invoice was settled")
	assert.Equal(t, 2, st.CustomerCount)
	assert.Equal(t, 0, st.OverdueCount)
	assert.Equal(t, 4, st.TransactionCount)
}

func TestEngine_Stats_OverdueCount(t *testing.T) {
	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	createInvoice(t, eng, c.ID, "100", day(-40), day(-10))
	createInvoice(t, eng, c.ID, "100", day(-40), day(-1))
	createInvoice(t, eng, c.ID, "100", day(-5), day(5))
	// Past its due date but issued less than 30 days ago.
	createInvoice(t, eng, c.ID, "100", day(-10), day(-1))
	// Exactly 30 days old is not older than 30 days.
	createInvoice(t, eng, c.ID, "100", day(-30), day(1))

	st, err := eng.Stats(context.Background(), testNow)

	require.NoError(t, err)
	assert.Equal(t, 2, st.OverdueCount)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestEngine_RegisterCustomer(t *testing.T) {
	eng, _ := newTestEngine(t)

	c, err := eng.RegisterCustomer(context.Background(), ledger.CustomerProfile{
		Name:  "  Acme Traders  ",
		Phone: "+1-555-0100",
		Email: "ap@acme.test",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Acme Traders", c.Name)
	assert.True(t, c.Balance.IsZero())
	assert.True(t, c.AdvancePayment.IsZero())
	assert.True(t, c.CreatedAt.Equal(testNow))
}

func TestEngine_RegisterCustomer_Validation(t *testing.T) {
	eng, _ := newTestEngine(t)

	tests := []struct {
		name      string
		profile   ledger.CustomerProfile
		wantField string
	}{
		{"blank name", ledger.CustomerProfile{Name: "   "}, "name"},
		{"long name", ledger.CustomerProfile{Name: strings.Repeat("n", 101)}, "name"},
		{"long phone", ledger.CustomerProfile{Name: "Acme", Phone: strings.Repeat("1", 21)}, "phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.RegisterCustomer(context.Background(), tt.profile)
			var verr *ledger.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}

	// 100 multi-byte runes is still within the limit.
	_, err := eng.RegisterCustomer(context.Background(), ledger.CustomerProfile{Name: strings.Repeat("é", 100)})
	assert.NoError(t, err)
}

func TestEngine_UpdateCustomerProfile_LeavesAggregates(t *testing.T) {
	// GIVEN: A customer with an outstanding invoice
	// WHEN: The profile is updated
	// THEN: Profile fields change and the aggregates do not

	eng, _ := newTestEngine(t)
	c := registerCustomer(t, eng, "Acme")
	createInvoice(t, eng, c.ID, "100", day(-5), day(25))

	name, phone := "Acme Holdings", "555"
	updated, err := eng.UpdateCustomerProfile(context.Background(), c.ID, ledger.CustomerProfileUpdate{
		Name:  &name,
		Phone: &phone,
	})

	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", updated.Name)
	assert.Equal(t, "555", updated.Phone)
	assertDec(t, "100", updated.Balance)
	assertDec(t, "100", getCustomer(t, eng, c.ID).TotalCredit)

	blank := ""
	_, err = eng.UpdateCustomerProfile(context.Background(), c.ID, ledger.CustomerProfileUpdate{Name: &blank})
	assert.True(t, ledger.IsValidation(err))
}

func TestEngine_DeleteCustomer_KeepsTransactions(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")
	inv := createInvoice(t, eng, c.ID, "100", day(-5), day(25))

	require.NoError(t, eng.DeleteCustomer(ctx, c.ID))

	_, err := eng.GetCustomer(ctx, c.ID)
	assert.True(t, ledger.IsNotFound(err))
	kept, err := mem.GetTransaction(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", kept.CustomerName)

	// Mutating an orphaned transaction still succeeds; reconcile is a no-op.
	_, err = eng.UpdateTransactionStatus(ctx, inv.ID, "completed")
	assert.NoError(t, err)

	assert.True(t, ledger.IsNotFound(eng.DeleteCustomer(ctx, c.ID)))
}

func TestEngine_ReconcileCustomer(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	c := registerCustomer(t, eng, "Acme")
	createInvoice(t, eng, c.ID, "100", day(-5), day(25))

	// Corrupt the stored aggregates directly.
	stale := getCustomer(t, eng, c.ID)
	stale.Balance = dec("999")
	require.NoError(t, mem.SaveCustomer(ctx, stale))

	res, err := eng.ReconcileCustomer(ctx, c.ID)

	require.NoError(t, err)
	assertDec(t, "100", res.Balance)
	assertDec(t, "100", getCustomer(t, eng, c.ID).Balance)

	_, err = eng.ReconcileCustomer(ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))
}
