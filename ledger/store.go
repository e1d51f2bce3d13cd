/*
store.go - Persistence interface for contracts, payments, debtors and balances

PURPOSE:
  Defines the interface between the reconciliation engine and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:    record sets (contracts, payments, debtors, balances, expenses,
            pending payments)
  TxStore:  unit of work; every multi-record mutation of the engine runs
            inside WithTx so Contract+Payment+Debtor+Balance writes commit
            together or not at all
  AuditLog: append-only audit entries, written outside the unit of work

NOT FOUND:
  Get* methods return an error wrapping ErrNotFound when the record is absent.

ORDERING:
  ListPayments returns slots in schedule order (see SortSlots). Callers must
  not rely on Contract.PaymentIDs order.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - audit.go: best-effort Recorder on top of AuditLog
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type ContractFilter struct {
	IncludeDeleted  bool
	OnlyActive      bool // IsActive (approved) and status ACTIVE
	ExcludeDeclared bool
}

type ContractStore interface {
	GetContract(ctx context.Context, id ContractID) (Contract, error)
	SaveContract(ctx context.Context, c Contract) error
	ListContracts(ctx context.Context, f ContractFilter) ([]Contract, error)
}

type PaymentStore interface {
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
	// SavePayment inserts or replaces a payment. A second MONTHLY slot for the
	// same (ContractID, TargetMonth) is rejected with ErrConflict.
	SavePayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, contractID ContractID) ([]Payment, error)
}

type DebtorStore interface {
	// ListDebtors returns a contract's debtor rows ordered by DueDate.
	ListDebtors(ctx context.Context, contractID ContractID) ([]Debtor, error)
	ListAllDebtors(ctx context.Context) ([]Debtor, error)
	// SaveDebtor upserts by the natural key (ContractID, DueDate).
	SaveDebtor(ctx context.Context, d Debtor) error
	DeleteDebtor(ctx context.Context, id DebtorID) error
	// DeleteDebtors removes every row for the contract and returns the count.
	DeleteDebtors(ctx context.Context, contractID ContractID) (int, error)
}

type BalanceStore interface {
	GetBalance(ctx context.Context, managerID ManagerID) (Balance, error)
	SaveBalance(ctx context.Context, b Balance) error
}

type ExpenseStore interface {
	GetExpense(ctx context.Context, id ExpenseID) (Expense, error)
	SaveExpense(ctx context.Context, e Expense) error
	ListExpenses(ctx context.Context, managerID ManagerID) ([]Expense, error)
}

type PendingStore interface {
	GetPendingPayment(ctx context.Context, id PendingPaymentID) (PendingPayment, error)
	SavePendingPayment(ctx context.Context, p PendingPayment) error
	// ListPendingPayments returns submissions in the given status, oldest first.
	ListPendingPayments(ctx context.Context, status PendingStatus) ([]PendingPayment, error)
}

// Store handles persistence of all engine records.
type Store interface {
	ContractStore
	PaymentStore
	DebtorStore
	BalanceStore
	ExpenseStore
	PendingStore
}

// =============================================================================
// TRANSACTIONAL STORE - Unit of work across record sets
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Separate from the record sets, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditContractCreated  AuditAction = "contract_created"
	AuditContractApproved AuditAction = "contract_approved"
	AuditContractDeleted  AuditAction = "contract_deleted"
	AuditPaymentReceived  AuditAction = "payment_received"
	AuditRemainingPaid    AuditAction = "payment_remaining_paid"
	AuditAllMonthsPaid    AuditAction = "payment_all_months_paid"
	AuditStartDateAmended AuditAction = "contract_start_date_amended"
	AuditDebtorsDeclared  AuditAction = "debtors_declared"
	AuditDebtorsSwept     AuditAction = "debtors_swept"
	AuditPendingSubmitted AuditAction = "pending_payment_submitted"
	AuditPendingConfirmed AuditAction = "pending_payment_confirmed"
	AuditPendingRejected  AuditAction = "pending_payment_rejected"
	AuditPendingExpired   AuditAction = "pending_payment_expired"
	AuditBalanceWithdrawn AuditAction = "balance_withdrawn"
	AuditExpenseReversed  AuditAction = "expense_reversed"
)

// FieldChange is one field/old/new triple.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Action    AuditAction
	Entity    string
	EntityID  string
	UserID    string
	Changes   []FieldChange
	Metadata  map[string]any
	Timestamp time.Time
}

type AuditFilter struct {
	Entity   string
	EntityID string
	Actions  []AuditAction
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}
