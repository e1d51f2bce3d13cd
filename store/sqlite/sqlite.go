/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.AuditLog using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  contracts:        installment contracts (edit history as JSON)
  payments:         scheduled slots, one row per INITIAL/MONTHLY slot
  debtors:          overdue markers, unique on (contract_id, due_date)
  balances:         per-manager cash totals
  expenses:         withdrawals from manager balances
  pending_payments: seller-submitted receipts awaiting confirmation
  audit_log:        append-only audit entries

INDEXES:
  - idx_payments_contract_month: at most one MONTHLY slot per
    (contract_id, target_month)
  - idx_debtors_contract_due: debtor natural key, used by the sweep upsert

UNIT OF WORK:
  WithTx runs the callback against a view bound to one *sql.Tx. Reads inside
  the callback go through the same transaction, so they see its writes.

CONCURRENCY:
  The pool is limited to a single connection. SQLite allows one writer at a
  time anyway, and ":memory:" databases are per-connection.

USAGE:
  store, err := sqlite.New("./data/installments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/warp/installment-engine/ledger"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements ledger.Store on top of a dbtx.
type queries struct {
	q dbtx
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
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
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		total_price TEXT NOT NULL,
		initial_payment TEXT NOT NULL,
		monthly_payment TEXT NOT NULL,
		period INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		original_payment_day INTEGER NOT NULL,
		next_payment_date TEXT NOT NULL,
		prepaid_balance TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		is_declare BOOLEAN NOT NULL DEFAULT FALSE,
		payment_ids_json TEXT,
		edit_history_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_active
		ON contracts(is_active, status, is_declare) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		amount TEXT NOT NULL,
		actual_amount TEXT NOT NULL DEFAULT '0',
		date TEXT NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT FALSE,
		payment_type TEXT NOT NULL,
		target_month INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		remaining_amount TEXT NOT NULL DEFAULT '0',
		excess_amount TEXT NOT NULL DEFAULT '0',
		confirmed_at TEXT,
		confirmed_by TEXT,
		reminder_date TEXT
	);

	-- At most one MONTHLY slot per contract month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_contract_month
		ON payments(contract_id, target_month) WHERE payment_type = 'MONTHLY';

	CREATE INDEX IF NOT EXISTS idx_payments_unpaid
		ON payments(contract_id, is_paid, date);

	CREATE TABLE IF NOT EXISTS debtors (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		debt_amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		overdue_days INTEGER NOT NULL,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_debtors_contract_due
		ON debtors(contract_id, due_date);

	CREATE TABLE IF NOT EXISTS balances (
		manager_id TEXT PRIMARY KEY,
		dollar TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		manager_id TEXT NOT NULL,
		dollar TEXT NOT NULL,
		local TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT,
		reversed BOOLEAN NOT NULL DEFAULT FALSE,
		created_by TEXT,
		created_at TEXT NOT NULL,
		reversed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_manager
		ON expenses(manager_id, created_at);

	CREATE TABLE IF NOT EXISTS pending_payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		dollar TEXT NOT NULL,
		local TEXT NOT NULL,
		exchange_rate TEXT NOT NULL,
		submitted_by TEXT,
		manager_id TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_pending_payments_status
		ON pending_payments(status, created_at);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		user_id TEXT,
		changes_json TEXT,
		metadata_json TEXT,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_entity
		ON audit_log(entity, entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// CONTRACTS
// =============================================================================

const contractColumns = `id, customer_id, total_price, initial_payment, monthly_payment, period,
	start_date, original_payment_day, next_payment_date, prepaid_balance, status,
	is_active, is_declare, payment_ids_json, edit_history_json, created_by, created_at, deleted_at`

func (s *queries) GetContract(ctx context.Context, id ledger.ContractID) (ledger.Contract, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+contractColumns+" FROM contracts WHERE id = ?", id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Contract{}, ledger.NotFound("contract", string(id))
	}
	return c, err
}

func (s *queries) SaveContract(ctx context.Context, c ledger.Contract) error {
	paymentIDs, err := json.Marshal(c.PaymentIDs)
	if err != nil {
		return fmt.Errorf("failed to encode payment ids: %w", err)
	}
	history, err := json.Marshal(c.EditHistory)
	if err != nil {
		return fmt.Errorf("failed to encode edit history: %w", err)
	}

	query := `
		INSERT INTO contracts (` + contractColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			total_price = excluded.total_price,
			initial_payment = excluded.initial_payment,
			monthly_payment = excluded.monthly_payment,
			period = excluded.period,
			start_date = excluded.start_date,
			original_payment_day = excluded.original_payment_day,
			next_payment_date = excluded.next_payment_date,
			prepaid_balance = excluded.prepaid_balance,
			status = excluded.status,
			is_active = excluded.is_active,
			is_declare = excluded.is_declare,
			payment_ids_json = excluded.payment_ids_json,
			edit_history_json = excluded.edit_history_json,
			deleted_at = excluded.deleted_at
	`

	_, err = s.q.ExecContext(ctx, query,
		c.ID, c.CustomerID, c.TotalPrice, c.InitialPayment, c.MonthlyPayment, c.Period,
		formatDate(c.StartDate), c.OriginalPaymentDay, formatDate(c.NextPaymentDate),
		c.PrepaidBalance, c.Status, c.IsActive, c.IsDeclare,
		string(paymentIDs), string(history), c.CreatedBy, formatTime(c.CreatedAt),
		nullTime(c.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

func (s *queries) ListContracts(ctx context.Context, f ledger.ContractFilter) ([]ledger.Contract, error) {
	query := "SELECT " + contractColumns + " FROM contracts WHERE 1=1"
	if !f.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	if f.OnlyActive {
		query += " AND is_active = TRUE AND status = 'ACTIVE'"
	}
	if f.ExcludeDeclared {
		query += " AND is_declare = FALSE"
	}
	query += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []ledger.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContract(row scanner) (ledger.Contract, error) {
	var (
		c                      ledger.Contract
		startDate, nextPayment string
		paymentIDs, history    sql.NullString
		createdBy              sql.NullString
		createdAt              string
		deletedAt              sql.NullString
	)

	err := row.Scan(
		&c.ID, &c.CustomerID, &c.TotalPrice, &c.InitialPayment, &c.MonthlyPayment, &c.Period,
		&startDate, &c.OriginalPaymentDay, &nextPayment, &c.PrepaidBalance, &c.Status,
		&c.IsActive, &c.IsDeclare, &paymentIDs, &history, &createdBy, &createdAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan contract: %w", err)
	}

	c.StartDate = parseDate(startDate)
	c.NextPaymentDate = parseDate(nextPayment)
	c.CreatedBy = createdBy.String
	c.CreatedAt = parseTime(createdAt)
	c.DeletedAt = parseNullTime(deletedAt)

	if paymentIDs.Valid && paymentIDs.String != "" {
		if err := json.Unmarshal([]byte(paymentIDs.String), &c.PaymentIDs); err != nil {
			return c, fmt.Errorf("failed to decode payment ids: %w", err)
		}
	}
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &c.EditHistory); err != nil {
			return c, fmt.Errorf("failed to decode edit history: %w", err)
		}
	}
	return c, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, contract_id, amount, actual_amount, date, is_paid, payment_type,
	target_month, status, remaining_amount, excess_amount, confirmed_at, confirmed_by, reminder_date`

func (s *queries) GetPayment(ctx context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Payment{}, ledger.NotFound("payment", string(id))
	}
	return p, err
}

func (s *queries) SavePayment(ctx context.Context, p ledger.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			actual_amount = excluded.actual_amount,
			date = excluded.date,
			is_paid = excluded.is_paid,
			payment_type = excluded.payment_type,
			target_month = excluded.target_month,
			status = excluded.status,
			remaining_amount = excluded.remaining_amount,
			excess_amount = excluded.excess_amount,
			confirmed_at = excluded.confirmed_at,
			confirmed_by = excluded.confirmed_by,
			reminder_date = excluded.reminder_date
	`

	_, err := s.q.ExecContext(ctx, query,
		p.ID, p.ContractID, p.Amount, p.ActualAmount, formatDate(p.Date), p.IsPaid, p.Type,
		p.TargetMonth, p.Status, p.RemainingAmount, p.ExcessAmount,
		nullTime(p.ConfirmedAt), nullString(p.ConfirmedBy), nullDate(p.ReminderDate),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Conflict("save_payment", "payment", string(p.ID),
				"contract %s already has a slot for month %d", p.ContractID, p.TargetMonth)
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *queries) ListPayments(ctx context.Context, contractID ledger.ContractID) ([]ledger.Payment, error) {
	query := "SELECT " + paymentColumns + ` FROM payments WHERE contract_id = ?
		ORDER BY CASE payment_type WHEN 'INITIAL' THEN 0 ELSE 1 END, target_month`

	rows, err := s.q.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (ledger.Payment, error) {
	var (
		p                        ledger.Payment
		date                     string
		confirmedAt, confirmedBy sql.NullString
		reminderDate             sql.NullString
	)

	err := row.Scan(
		&p.ID, &p.ContractID, &p.Amount, &p.ActualAmount, &date, &p.IsPaid, &p.Type,
		&p.TargetMonth, &p.Status, &p.RemainingAmount, &p.ExcessAmount,
		&confirmedAt, &confirmedBy, &reminderDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}

	p.Date = parseDate(date)
	p.ConfirmedAt = parseNullTime(confirmedAt)
	p.ConfirmedBy = confirmedBy.String
	if reminderDate.Valid && reminderDate.String != "" {
		d := parseDate(reminderDate.String)
		p.ReminderDate = &d
	}
	return p, nil
}

// =============================================================================
// DEBTORS
// =============================================================================

const debtorColumns = `id, contract_id, debt_amount, due_date, overdue_days, created_by, created_at`

func (s *queries) ListDebtors(ctx context.Context, contractID ledger.ContractID) ([]ledger.Debtor, error) {
	return s.queryDebtors(ctx, "SELECT "+debtorColumns+" FROM debtors WHERE contract_id = ? ORDER BY due_date", contractID)
}

func (s *queries) ListAllDebtors(ctx context.Context) ([]ledger.Debtor, error) {
	return s.queryDebtors(ctx, "SELECT "+debtorColumns+" FROM debtors ORDER BY due_date, contract_id")
}

func (s *queries) queryDebtors(ctx context.Context, query string, args ...any) ([]ledger.Debtor, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query debtors: %w", err)
	}
	defer rows.Close()

	var debtors []ledger.Debtor
	for rows.Next() {
		var (
			d                  ledger.Debtor
			dueDate, createdAt string
			createdBy          sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.ContractID, &d.DebtAmount, &dueDate, &d.OverdueDays, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan debtor: %w", err)
		}
		d.DueDate = parseDate(dueDate)
		d.CreatedBy = createdBy.String
		d.CreatedAt = parseTime(createdAt)
		debtors = append(debtors, d)
	}
	return debtors, rows.Err()
}

// SaveDebtor upserts by (contract_id, due_date); an existing row keeps its id.
func (s *queries) SaveDebtor(ctx context.Context, d ledger.Debtor) error {
	query := `
		INSERT INTO debtors (` + debtorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id, due_date) DO UPDATE SET
			debt_amount = excluded.debt_amount,
			overdue_days = excluded.overdue_days
	`

	_, err := s.q.ExecContext(ctx, query,
		d.ID, d.ContractID, d.DebtAmount, formatDate(d.DueDate), d.OverdueDays,
		nullString(d.CreatedBy), formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save debtor: %w", err)
	}
	return nil
}

func (s *queries) DeleteDebtor(ctx context.Context, id ledger.DebtorID) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM debtors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete debtor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.NotFound("debtor", string(id))
	}
	return nil
}

func (s *queries) DeleteDebtors(ctx context.Context, contractID ledger.ContractID) (int, error) {
	res, err := s.q.ExecContext(ctx, "DELETE FROM debtors WHERE contract_id = ?", contractID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete debtors: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *queries) GetBalance(ctx context.Context, managerID ledger.ManagerID) (ledger.Balance, error) {
	var (
		b         ledger.Balance
		updatedAt string
	)
	err := s.q.QueryRowContext(ctx,
		"SELECT manager_id, dollar, updated_at FROM balances WHERE manager_id = ?", managerID,
	).Scan(&b.ManagerID, &b.Dollar, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, ledger.NotFound("balance", string(managerID))
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (s *queries) SaveBalance(ctx context.Context, b ledger.Balance) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO balances (manager_id, dollar, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(manager_id) DO UPDATE SET dollar = excluded.dollar, updated_at = excluded.updated_at
	`, b.ManagerID, b.Dollar, formatTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `id, manager_id, dollar, local, exchange_rate, amount, reason, reversed,
	created_by, created_at, reversed_at`

func (s *queries) GetExpense(ctx context.Context, id ledger.ExpenseID) (ledger.Expense, error) {
	expenses, err := s.queryExpenses(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	if err != nil {
		return ledger.Expense{}, err
	}
	if len(expenses) == 0 {
		return ledger.Expense{}, ledger.NotFound("expense", string(id))
	}
	return expenses[0], nil
}

func (s *queries) SaveExpense(ctx context.Context, e ledger.Expense) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reversed = excluded.reversed,
			reversed_at = excluded.reversed_at,
			reason = excluded.reason
	`,
		e.ID, e.ManagerID, e.Dollar, e.Local, e.ExchangeRate, e.Amount, nullString(e.Reason),
		e.Reversed, nullString(e.CreatedBy), formatTime(e.CreatedAt), nullTime(e.ReversedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

func (s *queries) ListExpenses(ctx context.Context, managerID ledger.ManagerID) ([]ledger.Expense, error) {
	return s.queryExpenses(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE manager_id = ? ORDER BY created_at", managerID)
}

func (s *queries) queryExpenses(ctx context.Context, query string, args ...any) ([]ledger.Expense, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []ledger.Expense
	for rows.Next() {
		var (
			e                 ledger.Expense
			reason, createdBy sql.NullString
			createdAt         string
			reversedAt        sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ManagerID, &e.Dollar, &e.Local, &e.ExchangeRate, &e.Amount,
			&reason, &e.Reversed, &createdBy, &createdAt, &reversedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		e.Reason = reason.String
		e.CreatedBy = createdBy.String
		e.CreatedAt = parseTime(createdAt)
		e.ReversedAt = parseNullTime(reversedAt)
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// =============================================================================
// PENDING PAYMENTS
// =============================================================================

const pendingColumns = `id, contract_id, amount, dollar, local, exchange_rate, submitted_by,
	manager_id, status, reason, created_at, resolved_at`

func (s *queries) GetPendingPayment(ctx context.Context, id ledger.PendingPaymentID) (ledger.PendingPayment, error) {
	pending, err := s.queryPending(ctx, "SELECT "+pendingColumns+" FROM pending_payments WHERE id = ?", id)
	if err != nil {
		return ledger.PendingPayment{}, err
	}
	if len(pending) == 0 {
		return ledger.PendingPayment{}, ledger.NotFound("pending_payment", string(id))
	}
	return pending[0], nil
}

func (s *queries) SavePendingPayment(ctx context.Context, p ledger.PendingPayment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO pending_payments (`+pendingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			resolved_at = excluded.resolved_at
	`,
		p.ID, p.ContractID, p.Amount, p.Breakdown.Dollar, p.Breakdown.Local, p.Breakdown.ExchangeRate,
		nullString(p.SubmittedBy), nullString(string(p.ManagerID)), p.Status, nullString(p.Reason),
		formatTime(p.CreatedAt), nullTime(p.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save pending payment: %w", err)
	}
	return nil
}

func (s *queries) ListPendingPayments(ctx context.Context, status ledger.PendingStatus) ([]ledger.PendingPayment, error) {
	return s.queryPending(ctx, "SELECT "+pendingColumns+" FROM pending_payments WHERE status = ? ORDER BY created_at", status)
}

func (s *queries) queryPending(ctx context.Context, query string, args ...any) ([]ledger.PendingPayment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending payments: %w", err)
	}
	defer rows.Close()

	var result []ledger.PendingPayment
	for rows.Next() {
		var (
			p                              ledger.PendingPayment
			submittedBy, managerID, reason sql.NullString
			createdAt                      string
			resolvedAt                     sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ContractID, &p.Amount, &p.Breakdown.Dollar, &p.Breakdown.Local,
			&p.Breakdown.ExchangeRate, &submittedBy, &managerID, &p.Status, &reason,
			&createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending payment: %w", err)
		}
		p.SubmittedBy = submittedBy.String
		p.ManagerID = ledger.ManagerID(managerID.String)
		p.Reason = reason.String
		p.CreatedAt = parseTime(createdAt)
		p.ResolvedAt = parseNullTime(resolvedAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog interface)
// =============================================================================

// Append writes an audit entry outside any open unit of work.
func (s *Store) Append(ctx context.Context, entry ledger.AuditEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, entity, entity_id, user_id, changes_json, metadata_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Action, entry.Entity, entry.EntityID, nullString(entry.UserID),
		string(changes), string(metadata), formatTime(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List returns audit entries matching the filter, oldest first.
func (s *Store) List(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := "SELECT id, action, entity, entity_id, user_id, changes_json, metadata_json, timestamp FROM audit_log WHERE 1=1"
	var args []any
	if f.Entity != "" {
		query += " AND entity = ?"
		args = append(args, f.Entity)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	query += " ORDER BY timestamp"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e                 ledger.AuditEntry
			userID            sql.NullString
			changes, metadata sql.NullString
			timestamp         string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Entity, &e.EntityID, &userID, &changes, &metadata, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		e.UserID = userID.String
		e.Timestamp = parseTime(timestamp)
		if changes.Valid && changes.String != "" {
			json.Unmarshal([]byte(changes.String), &e.Changes)
		}
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDate(t time.Time) string { return ledger.DateOf(t).Format(dateLayout) }

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func containsAction(actions []ledger.AuditAction, a ledger.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
