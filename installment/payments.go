/*
payments.go - Contract creation and payment receipt operations

PURPOSE:
  The operations that put money into a contract:
    ReceivePayment         pay the earliest open slot, distribute any excess
    PayRemaining           top up one UNDERPAID slot in place
    PayAllRemainingMonths  settle every open slot at once
  plus contract creation, approval, soft deletion and the summary read.

UNIT OF WORK:
  Each operation locks the contract and the receiving manager, then runs
  inside one WithTx: slot updates, prepaid balance, debtor cleanup and the
  manager balance credit commit together. The audit entry follows commit.

TARGETING:
  ReceivePayment always targets the earliest open slot (INITIAL first, then
  MONTHLY by TargetMonth). An UNDERPAID slot is still open, so a later
  receipt tops it up before moving on.

SEE ALSO:
  - status.go: Classify
  - distributor.go: excess walk and persistence
*/
package installment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// CONTRACT CREATION
// =============================================================================

type CreateContractRequest struct {
	ID             ledger.ContractID // optional; generated when empty
	CustomerID     string
	TotalPrice     decimal.Decimal
	InitialPayment decimal.Decimal
	MonthlyPayment decimal.Decimal // optional; derived from the total when zero
	Period         int
	StartDate      time.Time
	Approved       bool
}

// CreateContract stores a contract with its whole schedule generated up
// front: one INITIAL slot when InitialPayment > 0, then one MONTHLY slot per
// month. The last monthly slot absorbs rounding so the slots sum to TotalPrice.
func (e *Engine) CreateContract(ctx context.Context, req CreateContractRequest, actor ledger.Actor) (ledger.Contract, []ledger.Payment, error) {
	const op = "create_contract"

	if req.CustomerID == "" {
		return ledger.Contract{}, nil, ledger.Validation(op, "customer id is required")
	}
	if req.Period < 1 {
		return ledger.Contract{}, nil, ledger.Validation(op, "period must be at least one month, got %d", req.Period)
	}
	if !req.TotalPrice.IsPositive() {
		return ledger.Contract{}, nil, ledger.Validation(op, "total price must be positive")
	}
	if req.InitialPayment.IsNegative() || req.InitialPayment.GreaterThanOrEqual(req.TotalPrice) {
		return ledger.Contract{}, nil, ledger.Validation(op, "initial payment must be in [0, total price)")
	}
	if req.StartDate.IsZero() {
		return ledger.Contract{}, nil, ledger.Validation(op, "start date is required")
	}

	financed := req.TotalPrice.Sub(req.InitialPayment)
	monthly := req.MonthlyPayment
	if monthly.IsZero() {
		monthly = financed.Div(decimal.NewFromInt(int64(req.Period))).Round(2)
	}
	if !monthly.IsPositive() {
		return ledger.Contract{}, nil, ledger.Validation(op, "monthly payment must be positive")
	}
	last := financed.Sub(monthly.Mul(decimal.NewFromInt(int64(req.Period - 1))))
	if !last.IsPositive() {
		return ledger.Contract{}, nil, ledger.Validation(op,
			"monthly payment %s x %d exceeds financed amount %s",
			monthly.StringFixed(2), req.Period, financed.StringFixed(2))
	}

	id := req.ID
	if id == "" {
		id = ledger.ContractID(uuid.NewString())
	}
	start := ledger.DateOf(req.StartDate)
	now := e.now()

	var slots []ledger.Payment
	if req.InitialPayment.IsPositive() {
		slots = append(slots, newSlot(id, ledger.PaymentInitial, 0, req.InitialPayment, start))
	}
	for m := 1; m <= req.Period; m++ {
		amount := monthly
		if m == req.Period {
			amount = last
		}
		slots = append(slots, newSlot(id, ledger.PaymentMonthly, m, amount, ledger.AddMonthsClamped(start, m)))
	}

	c := ledger.Contract{
		ID:                 id,
		CustomerID:         req.CustomerID,
		TotalPrice:         req.TotalPrice,
		InitialPayment:     req.InitialPayment,
		MonthlyPayment:     monthly,
		Period:             req.Period,
		StartDate:          start,
		OriginalPaymentDay: start.Day(),
		PrepaidBalance:     decimal.Zero,
		Status:             ledger.ContractActive,
		IsActive:           req.Approved,
		CreatedBy:          actor.ID,
		CreatedAt:          now,
	}
	for _, p := range slots {
		c.PaymentIDs = append(c.PaymentIDs, p.ID)
	}
	c.NextPaymentDate = nextPaymentDate(c, slots)

	unlock := e.locks.Lock(contractKey(id))
	defer unlock()

	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.GetContract(ctx, id); err == nil {
			return ledger.Conflict(op, "contract", string(id), "contract already exists")
		} else if !ledger.IsNotFound(err) {
			return ledger.Internal(op, err)
		}
		if err := tx.SaveContract(ctx, c); err != nil {
			return ledger.Internal(op, err)
		}
		for _, p := range slots {
			if err := tx.SavePayment(ctx, p); err != nil {
				return ledger.Internal(op, err)
			}
		}
		return nil
	})
	if err != nil {
		return ledger.Contract{}, nil, err
	}

	e.record(ctx, ledger.AuditContractCreated, "contract", string(id), actor, nil, map[string]any{
		"customerId": c.CustomerID,
		"totalPrice": c.TotalPrice.StringFixed(2),
		"period":     c.Period,
		"startDate":  start.Format("2006-01-02"),
		"paymentIds": paymentIDs(slots),
	})
	return c, slots, nil
}

func newSlot(contractID ledger.ContractID, typ ledger.PaymentType, month int, amount decimal.Decimal, due time.Time) ledger.Payment {
	return ledger.Payment{
		ID:              ledger.PaymentID(uuid.NewString()),
		ContractID:      contractID,
		Amount:          amount,
		ActualAmount:    decimal.Zero,
		Date:            due,
		Type:            typ,
		TargetMonth:     month,
		Status:          ledger.StatusPending,
		RemainingAmount: decimal.Zero,
		ExcessAmount:    decimal.Zero,
	}
}

// ApproveContract marks a contract as approved so the overdue sweep covers it.
func (e *Engine) ApproveContract(ctx context.Context, id ledger.ContractID, actor ledger.Actor) (ledger.Contract, error) {
	const op = "approve_contract"

	unlock := e.locks.Lock(contractKey(id))
	defer unlock()

	var c ledger.Contract
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		c, err = loadLive(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if c.IsActive {
			return ledger.Conflict(op, "contract", string(id), "contract is already approved")
		}
		c.IsActive = true
		return ledger.Internal(op, tx.SaveContract(ctx, c))
	})
	if err != nil {
		return ledger.Contract{}, err
	}

	e.record(ctx, ledger.AuditContractApproved, "contract", string(id), actor,
		[]ledger.FieldChange{{Field: "isActive", Old: false, New: true}}, nil)
	return c, nil
}

// DeleteContract soft-deletes a contract and drops its debtor rows.
func (e *Engine) DeleteContract(ctx context.Context, id ledger.ContractID, actor ledger.Actor) error {
	const op = "delete_contract"

	unlock := e.locks.Lock(contractKey(id))
	defer unlock()

	removed := 0
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		c, err := loadLive(ctx, tx, op, id)
		if err != nil {
			return err
		}
		deletedAt := e.now()
		c.DeletedAt = &deletedAt
		if err := tx.SaveContract(ctx, c); err != nil {
			return ledger.Internal(op, err)
		}
		removed, err = tx.DeleteDebtors(ctx, id)
		return ledger.Internal(op, err)
	})
	if err != nil {
		return err
	}

	e.record(ctx, ledger.AuditContractDeleted, "contract", string(id), actor, nil,
		map[string]any{"debtorsRemoved": removed})
	return nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

// ReceivePayment applies amount to the earliest open slot of the contract.
// A non-zero breakdown must add up to amount; when amount is zero the
// breakdown total is used.
func (e *Engine) ReceivePayment(ctx context.Context, contractID ledger.ContractID, amount decimal.Decimal, breakdown ledger.CurrencyBreakdown, actor ledger.Actor) (PaymentOutcome, error) {
	const op = "receive_payment"

	amount, err := e.resolveAmount(ctx, op, amount, breakdown)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if err := e.validateAmount(op, amount); err != nil {
		return PaymentOutcome{}, err
	}

	manager := ledger.ManagerID(actor.ID)
	unlock := e.locks.Lock(contractKey(contractID), managerKey(manager))
	defer unlock()

	var out PaymentOutcome
	err = e.Store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		out, err = e.receive(ctx, tx, op, contractID, amount, manager, actor)
		return err
	})
	if err != nil {
		return PaymentOutcome{}, err
	}

	e.recordReceipt(ctx, ledger.AuditPaymentReceived, actor, amount, out)
	return out, nil
}

// receive is the transactional body shared by ReceivePayment and pending
// payment confirmation.
func (e *Engine) receive(ctx context.Context, tx ledger.Store, op string, contractID ledger.ContractID, amount decimal.Decimal, manager ledger.ManagerID, actor ledger.Actor) (PaymentOutcome, error) {
	st, err := loadState(ctx, tx, op, contractID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	i := st.firstUnpaid()
	if i < 0 {
		return PaymentOutcome{}, ledger.Validation(op, "contract %s has no open payments", contractID)
	}

	out, err := st.applyReceipt(i, amount, e.Config.MaxPrepaidBalance, e.now(), actor.ID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if err := st.save(ctx, tx, op); err != nil {
		return PaymentOutcome{}, err
	}
	if err := e.credit(ctx, tx, op, manager, amount); err != nil {
		return PaymentOutcome{}, err
	}
	return out, nil
}

// PayRemaining tops up an UNDERPAID slot in place. Overpaying it distributes
// the excess like any other receipt.
func (e *Engine) PayRemaining(ctx context.Context, paymentID ledger.PaymentID, amount decimal.Decimal, actor ledger.Actor) (PaymentOutcome, error) {
	const op = "pay_remaining"

	if err := e.validateAmount(op, amount); err != nil {
		return PaymentOutcome{}, err
	}
	slot, err := e.Store.GetPayment(ctx, paymentID)
	if err != nil {
		return PaymentOutcome{}, ledger.Internal(op, err)
	}

	manager := ledger.ManagerID(actor.ID)
	unlock := e.locks.Lock(contractKey(slot.ContractID), managerKey(manager))
	defer unlock()

	var out PaymentOutcome
	err = e.Store.WithTx(ctx, func(tx ledger.Store) error {
		st, err := loadState(ctx, tx, op, slot.ContractID)
		if err != nil {
			return err
		}
		i := st.indexOf(paymentID)
		if i < 0 {
			return ledger.NotFound("payment", string(paymentID))
		}
		if st.slots[i].IsPaid {
			return ledger.Validation(op, "payment %s is already paid", paymentID)
		}
		if st.slots[i].Status != ledger.StatusUnderpaid {
			return ledger.Validation(op, "payment %s is not underpaid (status %s)", paymentID, st.slots[i].Status)
		}

		out, err = st.applyReceipt(i, amount, e.Config.MaxPrepaidBalance, e.now(), actor.ID)
		if err != nil {
			return err
		}
		if err := st.save(ctx, tx, op); err != nil {
			return err
		}
		return e.credit(ctx, tx, op, manager, amount)
	})
	if err != nil {
		return PaymentOutcome{}, err
	}

	e.recordReceipt(ctx, ledger.AuditRemainingPaid, actor, amount, out)
	return out, nil
}

// PayAllRemainingMonths settles every open slot of the contract. The prepaid
// balance is used first; amount must cover the rest. Any surplus is banked.
func (e *Engine) PayAllRemainingMonths(ctx context.Context, contractID ledger.ContractID, amount decimal.Decimal, actor ledger.Actor) ([]PaymentOutcome, error) {
	const op = "pay_all_remaining_months"

	if err := e.validateAmount(op, amount); err != nil {
		return nil, err
	}

	manager := ledger.ManagerID(actor.ID)
	unlock := e.locks.Lock(contractKey(contractID), managerKey(manager))
	defer unlock()

	var outcomes []PaymentOutcome
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		st, err := loadState(ctx, tx, op, contractID)
		if err != nil {
			return err
		}
		total := st.outstanding()
		if !total.IsPositive() {
			return ledger.Validation(op, "contract %s has no open payments", contractID)
		}

		prepaid := decimal.Min(st.contract.PrepaidBalance, total)
		need := total.Sub(prepaid)
		if amount.LessThan(need.Sub(ledger.Tolerance)) {
			return ledger.Validation(op, "amount %s does not cover remaining %s",
				amount.StringFixed(2), need.StringFixed(2))
		}
		st.contract.PrepaidBalance = st.contract.PrepaidBalance.Sub(prepaid)

		now := e.now()
		cash := amount
		for i := range st.slots {
			if st.slots[i].IsPaid {
				continue
			}
			due := st.slots[i].Outstanding()
			used := decimal.Min(prepaid, due)
			prepaid = prepaid.Sub(used)
			// A payment short by no more than the tolerance leaves the last slot short.
			fromCash := decimal.Min(due.Sub(used), cash)
			cash = cash.Sub(fromCash)
			o := outcomeFor(st.slots[i], OutcomePaid, due, used.Add(fromCash))
			o.PrepaidApplied = used
			st.settle(i, used.Add(fromCash), now, actor.ID)
			outcomes = append(outcomes, o)
		}

		if cash.IsPositive() {
			if err := st.bank(cash, e.Config.MaxPrepaidBalance); err != nil {
				return err
			}
			outcomes[len(outcomes)-1].PrepaidBanked = cash
		}
		for i := range outcomes {
			outcomes[i].PrepaidBalance = st.contract.PrepaidBalance
		}

		if err := st.save(ctx, tx, op); err != nil {
			return err
		}
		return e.credit(ctx, tx, op, manager, amount)
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(outcomes))
	for i, o := range outcomes {
		ids[i] = string(o.PaymentID)
	}
	e.record(ctx, ledger.AuditAllMonthsPaid, "contract", string(contractID), actor, nil, map[string]any{
		"amount":     amount.StringFixed(2),
		"paymentIds": ids,
	})
	return outcomes, nil
}

func (e *Engine) recordReceipt(ctx context.Context, action ledger.AuditAction, actor ledger.Actor, amount decimal.Decimal, out PaymentOutcome) {
	touched := []string{string(out.PaymentID)}
	for _, d := range out.Distributed {
		touched = append(touched, string(d.PaymentID))
	}
	e.record(ctx, action, "payment", string(out.PaymentID), actor,
		[]ledger.FieldChange{{Field: "status", Old: ledger.StatusPending, New: out.Kind.Status()}},
		map[string]any{
			"contractId":     string(out.ContractID),
			"amount":         amount.StringFixed(2),
			"outcome":        string(out.Kind),
			"paymentIds":     touched,
			"prepaidBalance": out.PrepaidBalance.StringFixed(2),
		})
}

// =============================================================================
// SUMMARY
// =============================================================================

type ContractSummary struct {
	Contract      ledger.Contract
	Payments      []ledger.Payment
	Debtors       []ledger.Debtor
	TotalPaid     decimal.Decimal // settled slots only
	PartialPaid   decimal.Decimal // money held on open UNDERPAID slots
	RemainingDebt decimal.Decimal // TotalPrice - TotalPaid
	PaidCount     int
	OpenCount     int
}

// Contracts lists contracts matching the filter, ordered by ID.
func (e *Engine) Contracts(ctx context.Context, f ledger.ContractFilter) ([]ledger.Contract, error) {
	list, err := e.Store.ListContracts(ctx, f)
	return list, ledger.Internal("list_contracts", err)
}

func (e *Engine) ContractSummary(ctx context.Context, id ledger.ContractID) (ContractSummary, error) {
	const op = "contract_summary"

	c, err := e.Store.GetContract(ctx, id)
	if err != nil {
		return ContractSummary{}, ledger.Internal(op, err)
	}
	payments, err := e.Store.ListPayments(ctx, id)
	if err != nil {
		return ContractSummary{}, ledger.Internal(op, err)
	}
	ledger.SortSlots(payments)
	debtors, err := e.Store.ListDebtors(ctx, id)
	if err != nil {
		return ContractSummary{}, ledger.Internal(op, err)
	}

	paid, partial := ledger.Totals(payments)
	s := ContractSummary{
		Contract:      c,
		Payments:      payments,
		Debtors:       debtors,
		TotalPaid:     paid,
		PartialPaid:   partial,
		RemainingDebt: c.TotalPrice.Sub(paid),
	}
	for _, p := range payments {
		if p.IsPaid {
			s.PaidCount++
		} else {
			s.OpenCount++
		}
	}
	return s, nil
}
