/*
balance.go - Per-manager cash balance

PURPOSE:
  Each manager holds a single running dollar total. It goes up when the
  manager receives a payment, down on a withdrawal (expense) and back up
  when an expense is reversed.

CURRENCY:
  Cash may be handed over partly in local currency. Local amounts are
  converted at the latest exchange rate from rates.Provider:
    dollars = Dollar + round(Local / rate, 2)

CONSISTENCY:
  Every balance mutation takes the manager lock and runs in the same unit of
  work as the record that caused it (payment slots, expense row).
*/
package installment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// CURRENCY CONVERSION
// =============================================================================

// withRate fills the breakdown's exchange rate from the provider when local
// currency is present and no rate was given.
func (e *Engine) withRate(ctx context.Context, op string, b ledger.CurrencyBreakdown) (ledger.CurrencyBreakdown, error) {
	if b.Dollar.IsNegative() || b.Local.IsNegative() {
		return b, ledger.Validation(op, "currency amounts must not be negative")
	}
	if b.Local.IsZero() || b.ExchangeRate.IsPositive() {
		return b, nil
	}
	if e.Rates == nil {
		return b, ledger.Validation(op, "no exchange rate available for local currency")
	}
	rate, err := e.Rates.LatestRate(ctx)
	if err != nil {
		if ledger.IsNotFound(err) {
			return b, ledger.Validation(op, "no exchange rate available for local currency")
		}
		return b, ledger.Internal(op, err)
	}
	b.ExchangeRate = rate
	return b, nil
}

// resolveAmount reconciles an explicit amount with a currency breakdown.
func (e *Engine) resolveAmount(ctx context.Context, op string, amount decimal.Decimal, b ledger.CurrencyBreakdown) (decimal.Decimal, error) {
	if b.IsZero() {
		return amount, nil
	}
	b, err := e.withRate(ctx, op, b)
	if err != nil {
		return decimal.Zero, err
	}
	total := b.DollarTotal()
	if amount.IsZero() {
		return total, nil
	}
	if !ledger.WithinTolerance(amount, total) {
		return decimal.Zero, ledger.Validation(op, "amount %s does not match currency breakdown %s",
			amount.StringFixed(2), total.StringFixed(2))
	}
	return amount, nil
}

// =============================================================================
// BALANCE MUTATIONS
// =============================================================================

// credit adds amount to a manager balance, creating it at zero when absent.
func (e *Engine) credit(ctx context.Context, tx ledger.Store, op string, manager ledger.ManagerID, amount decimal.Decimal) error {
	if manager == "" {
		return nil
	}
	b, err := tx.GetBalance(ctx, manager)
	if ledger.IsNotFound(err) {
		b = ledger.Balance{ManagerID: manager, Dollar: decimal.Zero}
	} else if err != nil {
		return ledger.Internal(op, err)
	}
	b.Dollar = b.Dollar.Add(amount)
	b.UpdatedAt = e.now()
	return ledger.Internal(op, tx.SaveBalance(ctx, b))
}

// Balance returns a manager's current balance.
func (e *Engine) Balance(ctx context.Context, manager ledger.ManagerID) (ledger.Balance, error) {
	b, err := e.Store.GetBalance(ctx, manager)
	return b, ledger.Internal("get_balance", err)
}

func (e *Engine) Expenses(ctx context.Context, manager ledger.ManagerID) ([]ledger.Expense, error) {
	expenses, err := e.Store.ListExpenses(ctx, manager)
	return expenses, ledger.Internal("list_expenses", err)
}

type WithdrawRequest struct {
	ManagerID ledger.ManagerID
	Dollar    decimal.Decimal
	Local     decimal.Decimal
	Reason    string
}

// Withdraw debits a manager balance and records the expense. Requesting more
// than the balance holds fails with *ledger.InsufficientFundsError and leaves
// both the balance and the expenses untouched.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest, actor ledger.Actor) (ledger.Expense, error) {
	const op = "withdraw"

	b, err := e.withRate(ctx, op, ledger.CurrencyBreakdown{Dollar: req.Dollar, Local: req.Local})
	if err != nil {
		return ledger.Expense{}, err
	}
	amount := b.DollarTotal()
	if err := e.validateAmount(op, amount); err != nil {
		return ledger.Expense{}, err
	}

	unlock := e.locks.Lock(managerKey(req.ManagerID))
	defer unlock()

	expense := ledger.Expense{
		ID:           ledger.ExpenseID(uuid.NewString()),
		ManagerID:    req.ManagerID,
		Dollar:       b.Dollar,
		Local:        b.Local,
		ExchangeRate: b.ExchangeRate,
		Amount:       amount,
		Reason:       req.Reason,
		CreatedBy:    actor.ID,
		CreatedAt:    e.now(),
	}

	var before ledger.Balance
	err = e.Store.WithTx(ctx, func(tx ledger.Store) error {
		balance, err := tx.GetBalance(ctx, req.ManagerID)
		if err != nil {
			return ledger.Internal(op, err)
		}
		before = balance
		if amount.GreaterThan(balance.Dollar) {
			return &ledger.InsufficientFundsError{
				ManagerID: req.ManagerID,
				Available: balance.Dollar,
				Requested: amount,
			}
		}
		balance.Dollar = balance.Dollar.Sub(amount)
		balance.UpdatedAt = expense.CreatedAt
		if err := tx.SaveBalance(ctx, balance); err != nil {
			return ledger.Internal(op, err)
		}
		return ledger.Internal(op, tx.SaveExpense(ctx, expense))
	})
	if err != nil {
		return ledger.Expense{}, err
	}

	e.record(ctx, ledger.AuditBalanceWithdrawn, "balance", string(req.ManagerID), actor,
		[]ledger.FieldChange{{
			Field: "dollar",
			Old:   before.Dollar.StringFixed(2),
			New:   before.Dollar.Sub(amount).StringFixed(2),
		}},
		map[string]any{"expenseId": string(expense.ID), "reason": req.Reason})
	return expense, nil
}

// ReverseExpense credits a withdrawal back to the manager.
func (e *Engine) ReverseExpense(ctx context.Context, id ledger.ExpenseID, actor ledger.Actor) (ledger.Expense, error) {
	const op = "reverse_expense"

	expense, err := e.Store.GetExpense(ctx, id)
	if err != nil {
		return ledger.Expense{}, ledger.Internal(op, err)
	}

	unlock := e.locks.Lock(managerKey(expense.ManagerID))
	defer unlock()

	err = e.Store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		expense, err = tx.GetExpense(ctx, id)
		if err != nil {
			return ledger.Internal(op, err)
		}
		if expense.Reversed {
			return ledger.Conflict(op, "expense", string(id), "expense already reversed")
		}
		now := e.now()
		expense.Reversed = true
		expense.ReversedAt = &now
		if err := tx.SaveExpense(ctx, expense); err != nil {
			return ledger.Internal(op, err)
		}
		return e.credit(ctx, tx, op, expense.ManagerID, expense.Amount)
	})
	if err != nil {
		return ledger.Expense{}, err
	}

	e.record(ctx, ledger.AuditExpenseReversed, "expense", string(id), actor, nil,
		map[string]any{"managerId": string(expense.ManagerID), "amount": expense.Amount.StringFixed(2)})
	return expense, nil
}
