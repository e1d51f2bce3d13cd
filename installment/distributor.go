/*
distributor.go - Excess/shortfall distribution across a contract schedule

PURPOSE:
  Applies a classified receipt to the slots of one contract that is loaded
  for mutation inside a unit of work (contractState).

OVERPAID:
  The target slot is settled and the excess walks forward through the unpaid
  MONTHLY slots by TargetMonth ascending. Each slot takes
  min(excess, outstanding): a full fill settles it (PAID), a partial fill
  leaves it UNDERPAID with the shortfall in RemainingAmount. Whatever is left
  once the months run out is banked in Contract.PrepaidBalance, subject to
  Config.MaxPrepaidBalance. Breaching the cap aborts the whole operation.

UNDERPAID:
  No forward distribution. The shortfall stays on the same slot so overdue
  aging keeps pointing at the original month. PayRemaining tops up that
  exact record later.

ORDERING:
  Slots are always ordered with ledger.SortSlots. Contract.PaymentIDs is
  never consulted.
*/
package installment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// CONTRACT STATE - A contract and its slots, loaded for mutation
// =============================================================================

type contractState struct {
	contract ledger.Contract
	slots    []ledger.Payment

	dirty   map[ledger.PaymentID]bool
	settled []ledger.Payment
}

func loadState(ctx context.Context, s ledger.Store, op string, id ledger.ContractID) (*contractState, error) {
	c, err := loadLive(ctx, s, op, id)
	if err != nil {
		return nil, err
	}
	slots, err := s.ListPayments(ctx, id)
	if err != nil {
		return nil, ledger.Internal(op, err)
	}
	ledger.SortSlots(slots)
	return &contractState{contract: c, slots: slots, dirty: make(map[ledger.PaymentID]bool)}, nil
}

// firstUnpaid returns the earliest open slot: INITIAL first, then MONTHLY by
// TargetMonth. -1 when everything is paid.
func (st *contractState) firstUnpaid() int {
	for i, p := range st.slots {
		if !p.IsPaid {
			return i
		}
	}
	return -1
}

func (st *contractState) indexOf(id ledger.PaymentID) int {
	for i, p := range st.slots {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (st *contractState) outstanding() decimal.Decimal {
	total := decimal.Zero
	for _, p := range st.slots {
		total = total.Add(p.Outstanding())
	}
	return total
}

// settle marks slot i paid with applied added to what it already holds. A
// receipt within tolerance of the slot amount is recorded as received.
func (st *contractState) settle(i int, applied decimal.Decimal, now time.Time, by string) {
	p := &st.slots[i]
	p.ActualAmount = p.ActualAmount.Add(applied)
	p.IsPaid = true
	p.Status = ledger.StatusPaid
	p.RemainingAmount = decimal.Zero
	confirmed := now
	p.ConfirmedAt = &confirmed
	p.ConfirmedBy = by
	st.dirty[p.ID] = true
	st.settled = append(st.settled, *p)
}

func (st *contractState) fillPartial(i int, amount decimal.Decimal) {
	p := &st.slots[i]
	p.ActualAmount = p.ActualAmount.Add(amount)
	p.RemainingAmount = p.Amount.Sub(p.ActualAmount)
	p.Status = ledger.StatusUnderpaid
	st.dirty[p.ID] = true
}

// =============================================================================
// RECEIPT APPLICATION
// =============================================================================

// applyReceipt classifies amount against slot i and applies the result,
// distributing any excess forward.
func (st *contractState) applyReceipt(i int, amount, prepaidCap decimal.Decimal, now time.Time, by string) (PaymentOutcome, error) {
	slot := st.slots[i]
	expected := slot.Outstanding()

	cls := Classify(amount, expected, st.contract.PrepaidBalance)
	st.contract.PrepaidBalance = cls.PrepaidAfter

	out := outcomeFor(slot, cls.Kind, expected, cls.Actual)
	out.PrepaidApplied = cls.PrepaidApplied

	switch cls.Kind {
	case OutcomePaid:
		applied := decimal.Min(cls.Actual, expected)
		st.settle(i, applied, now, by)
		// Sub-tolerance surplus is kept as prepaid rather than dropped.
		if over := cls.Actual.Sub(applied); over.IsPositive() {
			if err := st.bank(over, prepaidCap); err != nil {
				return PaymentOutcome{}, err
			}
			out.PrepaidBanked = over
		}
	case OutcomeUnderpaid:
		st.fillPartial(i, cls.Actual)
		out.Remaining = cls.Remaining
	case OutcomeOverpaid:
		// The slot itself is settled at its amount; the receipt kind stays
		// OVERPAID on the outcome and the surplus is kept in ExcessAmount.
		st.settle(i, expected, now, by)
		st.slots[i].ExcessAmount = cls.Excess
		out.Excess = cls.Excess

		distributed, banked, err := st.distributeExcess(cls.Excess, prepaidCap, now, by)
		if err != nil {
			return PaymentOutcome{}, err
		}
		out.Distributed = distributed
		out.PrepaidBanked = banked
	}

	out.PrepaidBalance = st.contract.PrepaidBalance
	return out, nil
}

// distributeExcess walks the open MONTHLY slots in TargetMonth order and
// banks what is left.
func (st *contractState) distributeExcess(excess, prepaidCap decimal.Decimal, now time.Time, by string) ([]PaymentOutcome, decimal.Decimal, error) {
	var outcomes []PaymentOutcome

	for i := range st.slots {
		if excess.LessThanOrEqual(ledger.Tolerance) {
			break
		}
		slot := st.slots[i]
		if slot.IsPaid || !slot.IsMonthly() || slot.TargetMonth > st.contract.Period {
			continue
		}

		due := slot.Outstanding()
		give := decimal.Min(excess, due)
		if ledger.WithinTolerance(give, due) {
			st.settle(i, give, now, by)
			outcomes = append(outcomes, outcomeFor(st.slots[i], OutcomePaid, due, give))
		} else {
			st.fillPartial(i, give)
			o := outcomeFor(st.slots[i], OutcomeUnderpaid, due, give)
			o.Remaining = due.Sub(give)
			outcomes = append(outcomes, o)
		}
		excess = excess.Sub(give)
	}

	banked := decimal.Zero
	if excess.IsPositive() {
		if err := st.bank(excess, prepaidCap); err != nil {
			return nil, decimal.Zero, err
		}
		banked = excess
	}
	return outcomes, banked, nil
}

// bank adds surplus to the prepaid balance, enforcing the cap.
func (st *contractState) bank(surplus, prepaidCap decimal.Decimal) error {
	next := st.contract.PrepaidBalance.Add(surplus)
	if next.GreaterThan(prepaidCap) {
		return &ledger.PrepaidCapError{
			ContractID: st.contract.ID,
			Current:    st.contract.PrepaidBalance,
			Surplus:    surplus,
			Cap:        prepaidCap,
		}
	}
	st.contract.PrepaidBalance = next
	return nil
}

// =============================================================================
// DERIVED FIELDS AND PERSISTENCE
// =============================================================================

// nextPaymentDate is the earliest unpaid MONTHLY due date, or the end of the
// schedule when none remain.
func nextPaymentDate(c ledger.Contract, slots []ledger.Payment) time.Time {
	var next time.Time
	for _, p := range slots {
		if p.IsPaid || !p.IsMonthly() {
			continue
		}
		if next.IsZero() || p.Date.Before(next) {
			next = p.Date
		}
	}
	if next.IsZero() {
		return c.ScheduleEnd()
	}
	return next
}

func (st *contractState) refresh() {
	st.contract.NextPaymentDate = nextPaymentDate(st.contract, st.slots)
	if st.firstUnpaid() < 0 {
		st.contract.Status = ledger.ContractCompleted
	}
}

// save persists dirty slots and the contract, then brings debtor rows in line:
// settled slots lose their row, partially paid ones get the new debt amount.
func (st *contractState) save(ctx context.Context, s ledger.Store, op string) error {
	st.refresh()

	for _, p := range st.slots {
		if !st.dirty[p.ID] {
			continue
		}
		if err := s.SavePayment(ctx, p); err != nil {
			return ledger.Internal(op, err)
		}
	}
	if err := s.SaveContract(ctx, st.contract); err != nil {
		return ledger.Internal(op, err)
	}

	debtors, err := s.ListDebtors(ctx, st.contract.ID)
	if err != nil {
		return ledger.Internal(op, err)
	}
	for _, d := range debtors {
		slot, ok := st.slotDueOn(d.DueDate)
		if !ok || !st.dirty[slot.ID] {
			continue
		}
		if slot.IsPaid {
			if err := s.DeleteDebtor(ctx, d.ID); err != nil {
				return ledger.Internal(op, err)
			}
			continue
		}
		d.DebtAmount = slot.Outstanding()
		if err := s.SaveDebtor(ctx, d); err != nil {
			return ledger.Internal(op, err)
		}
	}
	return nil
}

// slotDueOn finds the slot a debtor row belongs to, preferring open slots
// when a paid slot kept an old date that now collides.
func (st *contractState) slotDueOn(due time.Time) (ledger.Payment, bool) {
	due = ledger.DateOf(due)
	var found *ledger.Payment
	for i := range st.slots {
		p := &st.slots[i]
		if !ledger.DateOf(p.Date).Equal(due) {
			continue
		}
		if !p.IsPaid {
			return *p, true
		}
		if found == nil {
			found = p
		}
	}
	if found == nil {
		return ledger.Payment{}, false
	}
	return *found, true
}
