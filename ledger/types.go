/*
Package ledger provides the core records of the installment engine.

PURPOSE:
  This package contains the persistent records (Contract, Payment, Debtor,
  Balance, audit entries) and the storage contract the reconciliation engine
  works against. It holds no business rules beyond simple derived values;
  those live in the installment package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal, single currency unit (dollars)
  - Contract: an installment-sale agreement with a monthly schedule
  - Payment: one scheduled slot (INITIAL or MONTHLY) of a contract
  - Debtor: a materialized "overdue" marker for one unpaid, past-due slot
  - Balance: the running cash total held by one manager

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere money is involved
  2. Type Safety: distinct ID types so contract/payment IDs can't be mixed
  3. Ordering: TargetMonth is the only ordering key for monthly slots;
     Contract.PaymentIDs order is advisory and never trusted

SEE ALSO:
  - store.go: persistence interfaces
  - errors.go: error taxonomy
  - time.go: calendar arithmetic and the injectable clock
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Tolerance is the classification tolerance for money comparisons.
var Tolerance = decimal.RequireFromString("0.01")

// Dollars builds a money value from a float literal.
func Dollars(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// MustParseMoney parses a decimal string, returning zero on malformed input.
func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// WithinTolerance reports whether |a - b| <= Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type PaymentID string
type DebtorID string
type ManagerID string
type ExpenseID string
type PendingPaymentID string

// =============================================================================
// ACTOR - Authenticated identity supplied by the boundary layer (trusted)
// =============================================================================

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleManager   Role = "manager"
	RoleSeller    Role = "seller"
)

type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by scheduled tasks.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// CanAmend reports whether the actor may amend contract schedules.
func (a Actor) CanAmend() bool { return a.Role == RoleAdmin || a.Role == RoleModerator }

// =============================================================================
// CONTRACT
// =============================================================================

type ContractStatus string

const (
	ContractActive    ContractStatus = "ACTIVE"
	ContractCompleted ContractStatus = "COMPLETED"
)

type Contract struct {
	ID                 ContractID
	CustomerID         string
	TotalPrice         decimal.Decimal
	InitialPayment     decimal.Decimal
	MonthlyPayment     decimal.Decimal
	Period             int // months
	StartDate          time.Time
	OriginalPaymentDay int
	NextPaymentDate    time.Time
	PrepaidBalance     decimal.Decimal
	Status             ContractStatus
	IsActive           bool // approved vs pending approval
	IsDeclare          bool // debt formally announced
	PaymentIDs         []PaymentID
	EditHistory        []ContractEdit

	CreatedBy string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted reports whether the contract was soft-deleted.
func (c Contract) IsDeleted() bool { return c.DeletedAt != nil }

// ScheduleEnd is the date the last monthly slot falls due.
func (c Contract) ScheduleEnd() time.Time { return AddMonthsClamped(c.StartDate, c.Period) }

// ContractEdit is one immutable entry of a contract's amendment history.
type ContractEdit struct {
	ID                 string
	EditedAt           time.Time
	EditedBy           string
	OldStartDate       time.Time
	NewStartDate       time.Time
	OldNextPaymentDate time.Time
	NewNextPaymentDate time.Time
	DaysShifted        int
	MonthsShifted      int
	AffectedPaymentIDs []PaymentID
	Impact             ImpactSummary
}

// ImpactSummary reports how an amendment changed payment classifications.
// Start-date amendments always record a zeroed summary.
type ImpactSummary struct {
	UnderpaidCount int
	OverpaidCount  int
	TotalShortage  decimal.Decimal
	TotalExcess    decimal.Decimal
}

// =============================================================================
// PAYMENT - One scheduled slot
// =============================================================================

type PaymentType string

const (
	PaymentInitial PaymentType = "INITIAL"
	PaymentMonthly PaymentType = "MONTHLY"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusPaid      PaymentStatus = "PAID"
	StatusUnderpaid PaymentStatus = "UNDERPAID"
	StatusOverpaid  PaymentStatus = "OVERPAID"
)

type Payment struct {
	ID              PaymentID
	ContractID      ContractID
	Amount          decimal.Decimal // expected for the slot
	ActualAmount    decimal.Decimal // received so far
	Date            time.Time       // due date, immutable once IsPaid
	IsPaid          bool
	Type            PaymentType
	TargetMonth     int // 1..Period for MONTHLY, 0 for INITIAL
	Status          PaymentStatus
	RemainingAmount decimal.Decimal
	ExcessAmount    decimal.Decimal
	ConfirmedAt     *time.Time
	ConfirmedBy     string
	ReminderDate    *time.Time
}

func (p Payment) IsMonthly() bool { return p.Type == PaymentMonthly }

// Outstanding is what is still owed on the slot.
func (p Payment) Outstanding() decimal.Decimal {
	if p.IsPaid {
		return decimal.Zero
	}
	out := p.Amount.Sub(p.ActualAmount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// SortSlots orders payments by schedule position: INITIAL first, then
// MONTHLY by TargetMonth. List position is never consulted.
func SortSlots(payments []Payment) {
	sort.SliceStable(payments, func(i, j int) bool {
		return slotRank(payments[i]) < slotRank(payments[j])
	})
}

func slotRank(p Payment) int {
	if p.Type == PaymentInitial {
		return 0
	}
	return p.TargetMonth
}

// Totals returns money counted as paid (fully settled slots) and money held
// as partial payments on slots that are still open.
func Totals(payments []Payment) (paid, partial decimal.Decimal) {
	paid, partial = decimal.Zero, decimal.Zero
	for _, p := range payments {
		if p.IsPaid {
			paid = paid.Add(p.ActualAmount)
		} else {
			partial = partial.Add(p.ActualAmount)
		}
	}
	return paid, partial
}

// =============================================================================
// DEBTOR - Materialized overdue marker
// =============================================================================

type Debtor struct {
	ID          DebtorID
	ContractID  ContractID
	DebtAmount  decimal.Decimal
	DueDate     time.Time
	OverdueDays int
	CreatedBy   string
	CreatedAt   time.Time
}

// =============================================================================
// BALANCE - Per-manager cash accumulator
// =============================================================================

type Balance struct {
	ManagerID ManagerID
	Dollar    decimal.Decimal
	UpdatedAt time.Time
}

// CurrencyBreakdown describes how a cash amount was handed over.
// Local is converted to dollars at ExchangeRate (local units per dollar).
type CurrencyBreakdown struct {
	Dollar       decimal.Decimal
	Local        decimal.Decimal
	ExchangeRate decimal.Decimal
}

// IsZero reports whether no breakdown was supplied.
func (b CurrencyBreakdown) IsZero() bool {
	return b.Dollar.IsZero() && b.Local.IsZero()
}

// DollarTotal converts the breakdown into dollars.
func (b CurrencyBreakdown) DollarTotal() decimal.Decimal {
	total := b.Dollar
	if !b.Local.IsZero() && b.ExchangeRate.IsPositive() {
		total = total.Add(b.Local.Div(b.ExchangeRate).Round(2))
	}
	return total
}

// Expense is a withdrawal from a manager balance.
type Expense struct {
	ID           ExpenseID
	ManagerID    ManagerID
	Dollar       decimal.Decimal
	Local        decimal.Decimal
	ExchangeRate decimal.Decimal
	Amount       decimal.Decimal // dollars debited
	Reason       string
	Reversed     bool
	CreatedBy    string
	CreatedAt    time.Time
	ReversedAt   *time.Time
}

// =============================================================================
// PENDING PAYMENT - Receipt submitted by a seller, awaiting confirmation
// =============================================================================

type PendingStatus string

const (
	PendingOpen      PendingStatus = "pending"
	PendingConfirmed PendingStatus = "confirmed"
	PendingRejected  PendingStatus = "rejected"
)

type PendingPayment struct {
	ID          PendingPaymentID
	ContractID  ContractID
	Amount      decimal.Decimal
	Breakdown   CurrencyBreakdown
	SubmittedBy string
	ManagerID   ManagerID
	Status      PendingStatus
	Reason      string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
