/*
alerts.go - Due-date alert classification

PURPOSE:
  Read-only scan that turns pending invoices near or past their due date into
  prioritized alerts for collections. Nothing is persisted.

SELECTION:
  pending invoices with DueDate <= now + Window (default 7 days), skipping
  customers whose balance is already <= 0.01.

PRIORITY (first match wins):
  overdue >= 30 days  → urgent
  overdue >= 14 days  → high
  overdue >= 7 days   → medium
  due today           → high
  due within 3 days   → medium (includes overdue by under a week)
  otherwise           → low

  Day counts round up: an invoice due in 30 hours is 2 days from due, one
  that fell due 30 hours ago is 2 days overdue. Less than a day on either
  side counts as due today.

CUSTOMER NAME:
  The name stored on the invoice, then the live customer name, then
  "Unknown Customer".

SEE ALSO:
  - api/scheduler.go: Periodic scan
*/
package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultAlertWindow is how far ahead of a due date alerts start.
const DefaultAlertWindow = 7 * 24 * time.Hour

const unknownCustomerName = "Unknown Customer"

type AlertType string

const (
	AlertDueSoon AlertType = "due_soon"
	AlertOverdue AlertType = "overdue"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// CustomerSnapshot is the customer state at classification time.
type CustomerSnapshot struct {
	Name        string
	Phone       string
	Balance     decimal.Decimal
	TotalCredit decimal.Decimal
	TotalPaid   decimal.Decimal
}

type Alert struct {
	TransactionID TransactionID
	CustomerID    CustomerID
	CustomerName  string

	// Amount is the customer's outstanding balance, or the invoice amount
	// when the customer record is gone.
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal

	DueDate      time.Time
	Type         AlertType
	Priority     Priority
	DaysUntilDue *int // set when not overdue
	DaysOverdue  *int // set when overdue
	Description  string
	Reference    string

	Customer *CustomerSnapshot
}

// AlertClassifier builds due-date alerts from the stores.
type AlertClassifier struct {
	Transactions TransactionStore
	Customers    CustomerStore
	Window       time.Duration
	Logger       *zap.Logger
}

func NewAlertClassifier(store Store, window time.Duration, logger *zap.Logger) *AlertClassifier {
	if window <= 0 {
		window = DefaultAlertWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertClassifier{Transactions: store, Customers: store, Window: window, Logger: logger}
}

// Classify returns the alerts as of now, ordered by due date.
func (c *AlertClassifier) Classify(ctx context.Context, now time.Time) ([]Alert, error) {
	horizon := now.Add(c.Window)
	invoices, err := c.Transactions.FindTransactions(ctx, TransactionFilter{
		Type:      TypeInvoice,
		Status:    StatusPending,
		DueBefore: &horizon,
	})
	if err != nil {
		return nil, fmt.Errorf("load pending invoices: %w", err)
	}

	customers := make(map[CustomerID]*Customer)
	lookup := func(id CustomerID) (*Customer, error) {
		if cached, ok := customers[id]; ok {
			return cached, nil
		}
		cust, err := c.Customers.GetCustomer(ctx, id)
		if IsNotFound(err) {
			customers[id] = nil
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load customer %s: %w", id, err)
		}
		customers[id] = &cust
		return &cust, nil
	}

	alerts := make([]Alert, 0, len(invoices))
	for _, inv := range invoices {
		if inv.DueDate == nil {
			continue
		}
		cust, err := lookup(inv.CustomerID)
		if err != nil {
			return nil, err
		}
		if cust != nil && cust.Balance.LessThanOrEqual(Tolerance) {
			continue
		}
		alerts = append(alerts, ClassifyInvoice(inv, cust, now))
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].DueDate.Before(alerts[j].DueDate)
	})

	c.Logger.Debug("due-date alerts classified",
		zap.Int("candidates", len(invoices)),
		zap.Int("alerts", len(alerts)),
	)
	return alerts, nil
}

// ClassifyInvoice builds the alert for one pending invoice. cust may be nil.
func ClassifyInvoice(inv Transaction, cust *Customer, now time.Time) Alert {
	due := dueDateOf(inv)
	daysUntil := ceilDays(due.Sub(now))

	alert := Alert{
		TransactionID:  inv.ID,
		CustomerID:     inv.CustomerID,
		CustomerName:   inv.CustomerName,
		Amount:         inv.Amount,
		OriginalAmount: inv.Amount,
		DueDate:        due,
		Description:    inv.Description,
		Reference:      inv.Reference,
	}

	if cust != nil {
		alert.Amount = ClampZero(cust.Balance)
		if alert.CustomerName == "" {
			alert.CustomerName = cust.Name
		}
		alert.Customer = &CustomerSnapshot{
			Name:        cust.Name,
			Phone:       cust.Phone,
			Balance:     cust.Balance,
			TotalCredit: cust.TotalCredit,
			TotalPaid:   cust.TotalPaid,
		}
	}
	if alert.CustomerName == "" {
		alert.CustomerName = unknownCustomerName
	}

	daysOverdue := ceilDays(now.Sub(due))
	alert.Priority = priorityFor(daysUntil, daysOverdue)
	if daysUntil < 0 {
		alert.Type = AlertOverdue
		alert.DaysOverdue = &daysOverdue
	} else {
		alert.Type = AlertDueSoon
		alert.DaysUntilDue = &daysUntil
	}
	return alert
}

// priorityFor applies the tiers in order. An invoice overdue by less than a
// week falls through to the due-soon tiers and lands on medium.
func priorityFor(daysUntil, daysOverdue int) Priority {
	switch {
	case daysOverdue >= 30:
		return PriorityUrgent
	case daysOverdue >= 14:
		return PriorityHigh
	case daysOverdue >= 7:
		return PriorityMedium
	case daysUntil == 0:
		return PriorityHigh
	case daysUntil <= 3:
		return PriorityMedium
	}
	return PriorityLow
}

// ceilDays rounds a duration up to whole days. Negative fractions round
// toward zero, so -0.5 days is 0.
func ceilDays(d time.Duration) int {
	return int(math.Ceil(d.Hours() / 24))
}
