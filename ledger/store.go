/*
store.go - Persistence interfaces for transactions and customers

PURPOSE:
  Defines the boundary between the ledger logic and whatever database holds
  the records. The engine never talks SQL; it consumes these interfaces.

KEY INTERFACES:
  TransactionStore: create, read, field update, delete, filtered queries, sums
  CustomerStore:    customer records including the derived aggregates
  Store:            both of the above

CONTRACT:
  - Stores enforce required-field presence only (Transaction.Validate).
  - Missing records are reported as *NotFoundError (errors.Is ErrNotFound).
  - Each call is atomic on its own; there is no cross-call transaction.
  - FindByCustomer is ordered by Date ascending, ties by CreatedAt.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and demos
  - store/sqlite/sqlite.go: SQLite
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Interfaces for record persistence
// =============================================================================

type TransactionStore interface {
	// CreateTransaction persists tx and returns it with store-assigned timestamps.
	CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	GetTransaction(ctx context.Context, id TransactionID) (Transaction, error)

	// UpdateTransaction applies the non-nil fields of upd and returns the result.
	UpdateTransaction(ctx context.Context, id TransactionID, upd TransactionUpdate) (Transaction, error)

	DeleteTransaction(ctx context.Context, id TransactionID) error

	// FindByCustomer returns every transaction of a customer, oldest first.
	FindByCustomer(ctx context.Context, customerID CustomerID) ([]Transaction, error)

	// FindTransactions returns every matching transaction, oldest first.
	// Pagination fields of the filter are ignored.
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// ListTransactions returns one page of matching transactions, newest first.
	ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error)

	// SumAmounts returns the sum of Amount over all matching transactions.
	// Pagination fields of the filter are ignored.
	SumAmounts(ctx context.Context, filter TransactionFilter) (decimal.Decimal, error)
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, id CustomerID) (Customer, error)

	// SaveCustomer inserts or replaces the customer record.
	SaveCustomer(ctx context.Context, c Customer) error

	// ListCustomers returns all customers, newest first.
	ListCustomers(ctx context.Context) ([]Customer, error)

	DeleteCustomer(ctx context.Context, id CustomerID) error
}

type Store interface {
	TransactionStore
	CustomerStore
}

// =============================================================================
// FILTERING & PAGINATION
// =============================================================================

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// TransactionFilter selects transactions. Zero-valued fields do not filter.
type TransactionFilter struct {
	CustomerID CustomerID
	Type       TransactionType
	Status     Status

	// From/To bound Date, inclusive.
	From *time.Time
	To   *time.Time

	// DueBefore keeps transactions with a due date at or before the given time.
	DueBefore *time.Time

	Page  int
	Limit int
}

// Normalized returns the filter with default pagination applied.
func (f TransactionFilter) Normalized() TransactionFilter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	return f
}

// Offset is the number of rows skipped before the current page.
func (f TransactionFilter) Offset() int {
	f = f.Normalized()
	return (f.Page - 1) * f.Limit
}

// Matches reports whether tx satisfies the non-pagination criteria.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.CustomerID != "" && tx.CustomerID != f.CustomerID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	if f.DueBefore != nil && (tx.DueDate == nil || tx.DueDate.After(*f.DueBefore)) {
		return false
	}
	return true
}

type TransactionPage struct {
	Transactions []Transaction
	Total        int
	Page         int
	Limit        int
}

// Pages is the number of pages needed for Total rows.
func (p TransactionPage) Pages() int {
	if p.Limit < 1 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}
