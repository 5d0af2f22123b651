/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable storage for customers and their transactions. The same SQL runs on
  PostgreSQL with minor dialect changes (placeholders, upsert syntax).

INTERFACES IMPLEMENTED:
  ledger.TransactionStore: Transaction CRUD, filtered queries, sums
  ledger.CustomerStore:    Customer records including derived aggregates

KEY TABLES:
  customers:    Profile plus total_credit / total_paid / balance / advance_payment
  transactions: Every financial event; mutable status, deletable

STORAGE FORMATS:
  - Money is stored as TEXT (decimal string) and summed in Go, so no
    floating point rounding ever touches a balance.
  - Invoice line items are stored as a JSON array in transactions.items.
  - Times are stored as fixed-width UTC text (nanosecond precision), so
    lexical comparison in SQL equals chronological comparison.

INDEXES:
  - idx_transactions_customer_date: FindByCustomer / reconciliation (hot path)
  - idx_transactions_type_status:   Stats and alert candidate scans
  - idx_transactions_due_date:      Due-date alert window

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so an
  in-memory database (":memory:") is shared by every call.

USAGE:
  store, err := sqlite.New("./data/receivables.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/receivables-engine/ledger"
)

// timeLayout is fixed width so that text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		email TEXT,
		address TEXT,
		total_credit TEXT NOT NULL DEFAULT '0',
		total_paid TEXT NOT NULL DEFAULT '0',
		balance TEXT NOT NULL DEFAULT '0',
		advance_payment TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_created_at
		ON customers(created_at DESC);

	-- No foreign key to customers: transactions outlive a deleted customer.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		customer_name TEXT,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		original_amount TEXT,
		date TEXT NOT NULL,
		due_date TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_method TEXT,
		description TEXT,
		reference TEXT,
		items TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer_date
		ON transactions(customer_id, date, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_type_status
		ON transactions(type, status);
	CREATE INDEX IF NOT EXISTS idx_transactions_due_date
		ON transactions(due_date) WHERE due_date IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference) WHERE reference IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.TransactionStore interface)
// =============================================================================

const transactionColumns = `id, customer_id, customer_name, type, amount, original_amount,
	date, due_date, status, payment_method, description, reference, items, created_at, updated_at`

// CreateTransaction inserts a new transaction.
func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		return ledger.Transaction{}, &ledger.ValidationError{Field: "id", Message: "transaction id is required"}
	}
	if err := tx.Validate(); err != nil {
		return ledger.Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	items, err := encodeItems(tx.Items)
	if err != nil {
		return ledger.Transaction{}, err
	}

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		tx.ID,
		tx.CustomerID,
		nullString(tx.CustomerName),
		tx.Type,
		tx.Amount.String(),
		nullDecimal(tx.OriginalAmount),
		formatTime(tx.Date),
		nullTime(tx.DueDate),
		tx.Status,
		nullString(tx.PaymentMethod),
		nullString(tx.Description),
		nullString(tx.Reference),
		items,
		formatTime(tx.CreatedAt),
		formatTime(tx.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Transaction{}, &ledger.ValidationError{Field: "id", Message: "duplicate transaction id " + string(tx.ID)}
		}
		return ledger.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return tx, nil
}

// GetTransaction returns a specific transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getTransaction(ctx, s.db, id)
}

func (s *Store) getTransaction(ctx context.Context, q queryer, id ledger.TransactionID) (ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Transaction{}, err
		}
		return ledger.Transaction{}, ledger.TransactionNotFound(id)
	}
	return scanTransaction(rows)
}

// UpdateTransaction applies the non-nil fields of upd in one database transaction.
func (s *Store) UpdateTransaction(ctx context.Context, id ledger.TransactionID, upd ledger.TransactionUpdate) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	current, err := s.getTransaction(ctx, sqlTx, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx := upd.Apply(current)
	if err := tx.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	tx.UpdatedAt = s.now().UTC()

	items, err := encodeItems(tx.Items)
	if err != nil {
		return ledger.Transaction{}, err
	}

	_, err = sqlTx.ExecContext(ctx, `
		UPDATE transactions SET
			amount = ?, original_amount = ?, date = ?, due_date = ?, status = ?,
			payment_method = ?, description = ?, reference = ?, items = ?, updated_at = ?
		WHERE id = ?`,
		tx.Amount.String(),
		nullDecimal(tx.OriginalAmount),
		formatTime(tx.Date),
		nullTime(tx.DueDate),
		tx.Status,
		nullString(tx.PaymentMethod),
		nullString(tx.Description),
		nullString(tx.Reference),
		items,
		formatTime(tx.UpdatedAt),
		id,
	)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to commit: %w", err)
	}
	return tx, nil
}

// DeleteTransaction removes a transaction.
func (s *Store) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.TransactionNotFound(id)
	}
	return nil
}

// FindByCustomer returns all transactions of a customer, oldest first.
func (s *Store) FindByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	return s.FindTransactions(ctx, ledger.TransactionFilter{CustomerID: customerID})
}

// FindTransactions returns every matching transaction, oldest first.
func (s *Store) FindTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		` ORDER BY date ASC, created_at ASC, rowid ASC`
	return s.queryTransactions(ctx, query, args...)
}

// ListTransactions returns one page of matching transactions, newest first.
func (s *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) (ledger.TransactionPage, error) {
	filter = filter.Normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildWhere(filter)
	page := ledger.TransactionPage{Page: filter.Page, Limit: filter.Limit}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		` ORDER BY date DESC, created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	txs, err := s.queryTransactions(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return page, err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	page.Transactions = txs
	return page, nil
}

// SumAmounts sums Amount over all matching transactions.
func (s *Store) SumAmounts(ctx context.Context, filter ledger.TransactionFilter) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := buildWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM transactions`+where, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid stored amount %q: %w", raw, err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		customerName   sql.NullString
		amount         string
		originalAmount sql.NullString
		date           string
		dueDate        sql.NullString
		paymentMethod  sql.NullString
		description    sql.NullString
		reference      sql.NullString
		items          sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.CustomerID, &customerName, &tx.Type, &amount, &originalAmount,
		&date, &dueDate, &tx.Status, &paymentMethod, &description, &reference,
		&items, &createdAt, &updatedAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("transaction %s: invalid amount %q: %w", tx.ID, amount, err)
	}
	if originalAmount.Valid {
		if tx.OriginalAmount, err = decimal.NewFromString(originalAmount.String); err != nil {
			return tx, fmt.Errorf("transaction %s: invalid original amount %q: %w", tx.ID, originalAmount.String, err)
		}
	}
	tx.CustomerName = customerName.String
	tx.Date = parseTime(date)
	if dueDate.Valid {
		due := parseTime(dueDate.String)
		tx.DueDate = &due
	}
	tx.PaymentMethod = paymentMethod.String
	tx.Description = description.String
	tx.Reference = reference.String
	if tx.Items, err = decodeItems(items); err != nil {
		return tx, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)

	return tx, nil
}

// buildWhere renders the non-pagination criteria of a filter.
func buildWhere(f ledger.TransactionFilter) (string, []any) {
	var conds []string
	var args []any

	if f.CustomerID != "" {
		conds = append(conds, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		conds = append(conds, "date >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "date <= ?")
		args = append(args, formatTime(*f.To))
	}
	if f.DueBefore != nil {
		conds = append(conds, "due_date IS NOT NULL AND due_date <= ?")
		args = append(args, formatTime(*f.DueBefore))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// =============================================================================
// CUSTOMER STORE (ledger.CustomerStore interface)
// =============================================================================

const customerColumns = `id, name, phone, email, address,
	total_credit, total_paid, balance, advance_payment, created_at, updated_at`

// SaveCustomer inserts or replaces a customer.
func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	if c.ID == "" {
		return &ledger.ValidationError{Field: "id", Message: "customer id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address,
			total_credit = excluded.total_credit,
			total_paid = excluded.total_paid,
			balance = excluded.balance,
			advance_payment = excluded.advance_payment,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name,
		nullString(c.Phone), nullString(c.Email), nullString(c.Address),
		c.TotalCredit.String(), c.TotalPaid.String(), c.Balance.String(), c.AdvancePayment.String(),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("failed to query customer: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Customer{}, err
		}
		return ledger.Customer{}, ledger.CustomerNotFound(id)
	}
	return scanCustomer(rows)
}

// ListCustomers returns all customers, newest first.
func (s *Store) ListCustomers(ctx context.Context) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY created_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	customers := []ledger.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// DeleteCustomer removes a customer. Its transactions are left in place.
func (s *Store) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM customers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.CustomerNotFound(id)
	}
	return nil
}

func scanCustomer(rows *sql.Rows) (ledger.Customer, error) {
	var (
		c                              ledger.Customer
		phone, email, address          sql.NullString
		credit, paid, balance, advance string
		createdAt, updatedAt           string
	)
	err := rows.Scan(&c.ID, &c.Name, &phone, &email, &address,
		&credit, &paid, &balance, &advance, &createdAt, &updatedAt)
	if err != nil {
		return c, fmt.Errorf("failed to scan customer: %w", err)
	}

	c.Phone = phone.String
	c.Email = email.String
	c.Address = address.String
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{credit, &c.TotalCredit},
		{paid, &c.TotalPaid},
		{balance, &c.Balance},
		{advance, &c.AdvancePayment},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return c, fmt.Errorf("customer %s: invalid amount %q: %w", c.ID, f.raw, err)
		}
		*f.dst = d
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"transactions", "customers"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// itemRow is the JSON shape of a line item in the items column.
type itemRow struct {
	ProductID    string          `json:"product_id,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Total        decimal.Decimal `json:"total"`
}

func encodeItems(items []ledger.LineItem) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	rows := make([]itemRow, len(items))
	for i, it := range items {
		rows[i] = itemRow(it)
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode items: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeItems(col sql.NullString) ([]ledger.LineItem, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var rows []itemRow
	if err := json.Unmarshal([]byte(col.String), &rows); err != nil {
		return nil, fmt.Errorf("invalid items: %w", err)
	}
	items := make([]ledger.LineItem, len(rows))
	for i, r := range rows {
		items[i] = ledger.LineItem(r)
	}
	return items, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

var _ ledger.Store = (*Store)(nil)
