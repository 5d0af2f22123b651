package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/receivables-engine/ledger"
)

func invoiceDue(due time.Time) ledger.Transaction {
	inv := tx("inv-1", "invoice", "100", "pending")
	inv.CustomerName = "Acme (denormalized)"
	inv.DueDate = &due
	return inv
}

// =============================================================================
// CLASSIFICATION TABLE
// =============================================================================

func TestClassifyInvoice_Tiers(t *testing.T) {
	tests := []struct {
		name        string
		due         time.Time
		wantType    ledger.AlertType
		wantPrio    ledger.Priority
		wantUntil   *int
		wantOverdue *int
	}{
		{"due exactly now", testNow, ledger.AlertDueSoon, ledger.PriorityHigh, intPtr(0), nil},
		{"due in 12 hours", testNow.Add(12 * time.Hour), ledger.AlertDueSoon, ledger.PriorityMedium, intPtr(1), nil},
		{"due 12 hours ago counts as today", testNow.Add(-12 * time.Hour), ledger.AlertDueSoon, ledger.PriorityHigh, intPtr(0), nil},
		{"due in 2 days", day(2), ledger.AlertDueSoon, ledger.PriorityMedium, intPtr(2), nil},
		{"due in 3 days", day(3), ledger.AlertDueSoon, ledger.PriorityMedium, intPtr(3), nil},
		{"due in 5 days", day(5), ledger.AlertDueSoon, ledger.PriorityLow, intPtr(5), nil},
		{"3 days overdue", day(-3), ledger.AlertOverdue, ledger.PriorityMedium, nil, intPtr(3)},
		{"7 days overdue", day(-7), ledger.AlertOverdue, ledger.PriorityMedium, nil, intPtr(7)},
		{"10 days overdue", day(-10), ledger.AlertOverdue, ledger.PriorityMedium, nil, intPtr(10)},
		{"14 days overdue", day(-14), ledger.AlertOverdue, ledger.PriorityHigh, nil, intPtr(14)},
		{"20 days overdue", day(-20), ledger.AlertOverdue, ledger.PriorityHigh, nil, intPtr(20)},
		{"30 days overdue", day(-30), ledger.AlertOverdue, ledger.PriorityUrgent, nil, intPtr(30)},
		{"90 days overdue", day(-90), ledger.AlertOverdue, ledger.PriorityUrgent, nil, intPtr(90)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ledger.ClassifyInvoice(invoiceDue(tt.due), nil, testNow)

			assert.Equal(t, tt.wantType, a.Type)
			assert.Equal(t, tt.wantPrio, a.Priority)
			assert.Equal(t, tt.wantUntil, a.DaysUntilDue)
			assert.Equal(t, tt.wantOverdue, a.DaysOverdue)
		})
	}
}

func intPtr(n int) *int { return &n }

func TestClassifyInvoice_UsesLiveCustomerBalance(t *testing.T) {
	// GIVEN: An invoice of 100 and a customer whose balance is 340
	// WHEN: The invoice is classified
	// THEN: The alert amount is the customer balance, not the invoice amount

	cust := &ledger.Customer{
		ID:          "cust-1",
		Name:        "Acme Traders",
		Phone:       "+1-555-0100",
		Balance:     dec("340"),
		TotalCredit: dec("400"),
		TotalPaid:   dec("60"),
	}

	a := ledger.ClassifyInvoice(invoiceDue(day(2)), cust, testNow)

	assertDec(t, "340", a.Amount)
	assertDec(t, "100", a.OriginalAmount)
	assert.Equal(t, "Acme (denormalized)", a.CustomerName, "the name stored on the invoice wins")
	require.NotNil(t, a.Customer)
	assert.Equal(t, "+1-555-0100", a.Customer.Phone)
	assertDec(t, "400", a.Customer.TotalCredit)
}

func TestClassifyInvoice_CustomerNamePrecedence(t *testing.T) {
	// GIVEN: A customer renamed after the invoice was issued
	// WHEN: The invoice is classified with and without its stored name
	// THEN: The stored name is used first and the live name fills a blank

	cust := &ledger.Customer{ID: "cust-1", Name: "Acme Holdings", Balance: dec("100")}

	a := ledger.ClassifyInvoice(invoiceDue(day(2)), cust, testNow)
	assert.Equal(t, "Acme (denormalized)", a.CustomerName)
	assert.Equal(t, "Acme Holdings", a.Customer.Name)

	blank := invoiceDue(day(2))
	blank.CustomerName = ""
	a = ledger.ClassifyInvoice(blank, cust, testNow)
	assert.Equal(t, "Acme Holdings", a.CustomerName)
}

func TestClassifyInvoice_NegativeBalanceClampedToZero(t *testing.T) {
	cust := &ledger.Customer{ID: "cust-1", Name: "Acme", Balance: dec("-25")}

	a := ledger.ClassifyInvoice(invoiceDue(day(2)), cust, testNow)

	assert.True(t, a.Amount.IsZero())
}

func TestClassifyInvoice_MissingCustomerFallsBack(t *testing.T) {
	a := ledger.ClassifyInvoice(invoiceDue(day(1)), nil, testNow)
	assert.Equal(t, "Acme (denormalized)", a.CustomerName)
	assertDec(t, "100", a.Amount)
	assert.Nil(t, a.Customer)

	bare := invoiceDue(day(1))
	bare.CustomerName = ""
	a = ledger.ClassifyInvoice(bare, nil, testNow)
	assert.Equal(t, "Unknown Customer", a.CustomerName)
}

// =============================================================================
// CLASSIFIER OVER STORE
// =============================================================================

func TestClassify_FiltersAndOrders(t *testing.T) {
	// GIVEN: Pending invoices due in 20 days, in 2 days and 15 days ago,
	//        a completed invoice due tomorrow, and a customer whose balance
	//        is already zero
	// WHEN: Alerts are classified with the default 7-day window
	// THEN: Only the overdue and the 2-day invoice alert, ordered by due date

	eng, _ := newTestEngine(t)
	ctx := context.Background()

	acme := registerCustomer(t, eng, "Acme")
	far := createInvoice(t, eng, acme.ID, "500", day(-5), day(20))
	soon := createInvoice(t, eng, acme.ID, "100", day(-5), day(2))
	late := createInvoice(t, eng, acme.ID, "40", day(-45), day(-15))
	done := createInvoice(t, eng, acme.ID, "10", day(-5), day(1))
	_, err := eng.UpdateTransactionStatus(ctx, done.ID, "completed")
	require.NoError(t, err)

	// Paid up front, so its invoice stays pending while the balance is zero.
	settled := registerCustomer(t, eng, "Settled Co")
	createPayment(t, eng, settled.ID, "75", day(-10), "completed")
	createInvoice(t, eng, settled.ID, "75", day(-5), day(1))
	require.True(t, getCustomer(t, eng, settled.ID).Balance.IsZero())

	alerts, err := eng.GetDueDateAlerts(ctx, testNow)
	require.NoError(t, err)

	require.Len(t, alerts, 2)
	assert.Equal(t, late.ID, alerts[0].TransactionID)
	assert.Equal(t, ledger.AlertOverdue, alerts[0].Type)
	assert.Equal(t, ledger.PriorityHigh, alerts[0].Priority)
	assert.Equal(t, soon.ID, alerts[1].TransactionID)
	assert.Equal(t, ledger.AlertDueSoon, alerts[1].Type)
	assertDec(t, "640", alerts[1].Amount, "alert amount is the customer balance")

	for _, a := range alerts {
		assert.NotEqual(t, far.ID, a.TransactionID)
	}
}

func TestClassify_WiderWindow(t *testing.T) {
	eng, _ := newTestEngine(t)
	acme := registerCustomer(t, eng, "Acme")
	createInvoice(t, eng, acme.ID, "500", day(-5), day(20))

	alerts, err := eng.GetDueDateAlerts(context.Background(), testNow)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	eng.SetAlertWindow(30 * 24 * time.Hour)
	alerts, err = eng.GetDueDateAlerts(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, ledger.PriorityLow, alerts[0].Priority)
}

func TestClassify_DeletedCustomerUsesDenormalizedName(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	gone := registerCustomer(t, eng, "Gone Ltd")
	inv := createInvoice(t, eng, gone.ID, "90", day(-5), day(-1))
	require.NoError(t, eng.DeleteCustomer(ctx, gone.ID))

	alerts, err := eng.GetDueDateAlerts(ctx, testNow)
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, inv.ID, alerts[0].TransactionID)
	assert.Equal(t, "Gone Ltd", alerts[0].CustomerName)
	assertDec(t, "90", alerts[0].Amount)
	assert.Nil(t, alerts[0].Customer)
}
