// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/receivables-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[ledger.TransactionID]ledger.Transaction
	order        []ledger.TransactionID // insertion order, breaks sort ties
	customers    map[ledger.CustomerID]ledger.Customer
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		customers:    make(map[ledger.CustomerID]ledger.Customer),
		now:          time.Now,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		return ledger.Transaction{}, &ledger.ValidationError{Field: "id", Message: "transaction id is required"}
	}
	if err := tx.Validate(); err != nil {
		return ledger.Transaction{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[tx.ID]; exists {
		return ledger.Transaction{}, &ledger.ValidationError{Field: "id", Message: "duplicate transaction id " + string(tx.ID)}
	}
	now := m.now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	tx = tx.Clone()
	m.transactions[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	return tx.Clone(), nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.TransactionNotFound(id)
	}
	return tx.Clone(), nil
}

func (m *Memory) UpdateTransaction(_ context.Context, id ledger.TransactionID, upd ledger.TransactionUpdate) (ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.TransactionNotFound(id)
	}
	tx = upd.Apply(tx)
	if err := tx.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	tx.UpdatedAt = m.now().UTC()
	m.transactions[id] = tx
	return tx.Clone(), nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[id]; !ok {
		return ledger.TransactionNotFound(id)
	}
	delete(m.transactions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) FindByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return m.FindTransactions(ctx, ledger.TransactionFilter{CustomerID: customerID})
}

func (m *Memory) FindTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.matchLocked(filter)
	ledger.SortByDate(result)
	return result, nil
}

func (m *Memory) ListTransactions(_ context.Context, filter ledger.TransactionFilter) (ledger.TransactionPage, error) {
	filter = filter.Normalized()

	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.matchLocked(filter)
	ledger.SortByDate(matched)
	// Newest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	page := ledger.TransactionPage{Total: len(matched), Page: filter.Page, Limit: filter.Limit}
	start := filter.Offset()
	if start >= len(matched) {
		page.Transactions = []ledger.Transaction{}
		return page, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Transactions = append([]ledger.Transaction(nil), matched[start:end]...)
	return page, nil
}

func (m *Memory) SumAmounts(_ context.Context, filter ledger.TransactionFilter) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, tx := range m.matchLocked(filter) {
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}

// matchLocked returns matching transactions in insertion order.
func (m *Memory) matchLocked(filter ledger.TransactionFilter) []ledger.Transaction {
	var result []ledger.Transaction
	for _, id := range m.order {
		tx := m.transactions[id]
		if filter.Matches(tx) {
			result = append(result, tx.Clone())
		}
	}
	return result
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (m *Memory) GetCustomer(_ context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.CustomerNotFound(id)
	}
	return c, nil
}

func (m *Memory) SaveCustomer(_ context.Context, c ledger.Customer) error {
	if c.ID == "" {
		return &ledger.ValidationError{Field: "id", Message: "customer id is required"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) ListCustomers(_ context.Context) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Memory) DeleteCustomer(_ context.Context, id ledger.CustomerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.customers[id]; !ok {
		return ledger.CustomerNotFound(id)
	}
	delete(m.customers, id)
	return nil
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transactions = make(map[ledger.TransactionID]ledger.Transaction)
	m.order = nil
	m.customers = make(map[ledger.CustomerID]ledger.Customer)
	return nil
}

var _ ledger.Store = (*Memory)(nil)
