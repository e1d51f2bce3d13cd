/*
debtors.go - Debtor lifecycle: overdue sweep, declare, reporting

PURPOSE:
  Debtor rows are the materialized "who is overdue" view used by collections.
  For a contract that is approved, active, not deleted and not declared, a
  row exists for (contract, dueDate) iff a slot with that due date is unpaid
  and the date is before today.

SWEEP (idempotent):
  For each eligible contract, every unpaid MONTHLY slot due before today is
  upserted by (ContractID, DueDate): created when absent, refreshed when its
  OverdueDays or DebtAmount moved. Rows that no longer match an unpaid,
  past-due slot are removed. A second run with no payment activity in
  between changes nothing.

DECLARE:
  Marks contracts as formally announced. A declared contract is skipped by
  the sweep; if it had no debtor rows at all, one coarse row keyed off
  NextPaymentDate is seeded. Double declare is a Conflict and aborts the
  whole batch.

REPORT:
  Read-only. Live mode uses the cached NextPaymentDate. As-of mode rebuilds
  the due date of the reference month from OriginalPaymentDay and checks the
  slot covering that month.
*/
package installment

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// SWEEP
// =============================================================================

type SweepResult struct {
	Contracts int
	Created   int
	Updated   int
	Removed   int
}

func (r SweepResult) Changed() bool { return r.Created+r.Updated+r.Removed > 0 }

// SweepOverdueDebtors brings every eligible contract's debtor rows in line
// with its unpaid, past-due slots. Contracts are processed one unit of work
// each; a failing contract aborts the sweep with the counts so far.
func (e *Engine) SweepOverdueDebtors(ctx context.Context) (SweepResult, error) {
	const op = "sweep_overdue_debtors"

	contracts, err := e.Store.ListContracts(ctx, ledger.ContractFilter{OnlyActive: true, ExcludeDeclared: true})
	if err != nil {
		return SweepResult{}, ledger.Internal(op, err)
	}

	var result SweepResult
	today := e.today()
	for _, c := range contracts {
		r, err := e.sweepContract(ctx, op, c.ID, today)
		if err != nil {
			return result, err
		}
		result.Contracts++
		result.Created += r.Created
		result.Updated += r.Updated
		result.Removed += r.Removed
	}

	if result.Changed() {
		e.record(ctx, ledger.AuditDebtorsSwept, "debtor", "sweep", ledger.SystemActor, nil, map[string]any{
			"contracts": result.Contracts,
			"created":   result.Created,
			"updated":   result.Updated,
			"removed":   result.Removed,
		})
	}
	return result, nil
}

func (e *Engine) sweepContract(ctx context.Context, op string, id ledger.ContractID, today time.Time) (SweepResult, error) {
	unlock := e.locks.Lock(contractKey(id))
	defer unlock()

	var r SweepResult
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		c, err := tx.GetContract(ctx, id)
		if err != nil {
			return ledger.Internal(op, err)
		}
		// Re-check under the lock; the contract may have changed since listing.
		if c.IsDeleted() || c.IsDeclare || !c.IsActive || c.Status != ledger.ContractActive {
			return nil
		}
		slots, err := tx.ListPayments(ctx, id)
		if err != nil {
			return ledger.Internal(op, err)
		}
		existing, err := tx.ListDebtors(ctx, id)
		if err != nil {
			return ledger.Internal(op, err)
		}

		byDue := make(map[time.Time]ledger.Debtor, len(existing))
		for _, d := range existing {
			byDue[ledger.DateOf(d.DueDate)] = d
		}

		// Any unpaid past-due slot keeps its row; only MONTHLY slots create one.
		keep := make(map[time.Time]bool)
		for _, p := range slots {
			if p.IsPaid {
				continue
			}
			due := ledger.DateOf(p.Date)
			if !due.Before(today) {
				continue
			}
			keep[due] = true
			if !p.IsMonthly() {
				continue
			}

			overdue := ledger.DaysBetween(due, today)
			amount := p.Outstanding()
			d, ok := byDue[due]
			if !ok {
				d = ledger.Debtor{
					ID:          ledger.DebtorID(uuid.NewString()),
					ContractID:  id,
					DebtAmount:  amount,
					DueDate:     due,
					OverdueDays: overdue,
					CreatedBy:   ledger.SystemActor.ID,
					CreatedAt:   e.now(),
				}
				if err := tx.SaveDebtor(ctx, d); err != nil {
					return ledger.Internal(op, err)
				}
				byDue[due] = d
				r.Created++
				continue
			}
			if d.OverdueDays == overdue && d.DebtAmount.Equal(amount) {
				continue
			}
			d.OverdueDays = overdue
			d.DebtAmount = amount
			if err := tx.SaveDebtor(ctx, d); err != nil {
				return ledger.Internal(op, err)
			}
			r.Updated++
		}

		for due, d := range byDue {
			if keep[due] {
				continue
			}
			if err := tx.DeleteDebtor(ctx, d.ID); err != nil {
				return ledger.Internal(op, err)
			}
			r.Removed++
		}
		return nil
	})
	return r, err
}

// =============================================================================
// DECLARE
// =============================================================================

// DeclareDebtors marks the contracts as declared and returns how many were
// declared. Any failure rolls back the whole batch.
func (e *Engine) DeclareDebtors(ctx context.Context, contractIDs []ledger.ContractID, actor ledger.Actor) (int, error) {
	const op = "declare_debtors"

	if len(contractIDs) == 0 {
		return 0, ledger.Validation(op, "no contracts given")
	}

	keys := make([]string, len(contractIDs))
	for i, id := range contractIDs {
		keys[i] = contractKey(id)
	}
	unlock := e.locks.Lock(keys...)
	defer unlock()

	seeded := map[ledger.ContractID]ledger.DebtorID{}
	declared := 0
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		today := e.today()
		for _, id := range contractIDs {
			c, err := loadLive(ctx, tx, op, id)
			if err != nil {
				return err
			}
			if c.IsDeclare {
				return ledger.Conflict(op, "contract", string(id), "contract is already declared")
			}
			c.IsDeclare = true
			if err := tx.SaveContract(ctx, c); err != nil {
				return ledger.Internal(op, err)
			}
			declared++

			existing, err := tx.ListDebtors(ctx, id)
			if err != nil {
				return ledger.Internal(op, err)
			}
			if len(existing) > 0 {
				continue
			}
			slots, err := tx.ListPayments(ctx, id)
			if err != nil {
				return ledger.Internal(op, err)
			}
			debt := decimal.Zero
			for _, p := range slots {
				debt = debt.Add(p.Outstanding())
			}
			// Nothing owed, nothing to seed.
			if debt.LessThanOrEqual(ledger.Tolerance) {
				continue
			}
			overdue := 0
			if c.NextPaymentDate.Before(today) {
				overdue = ledger.DaysBetween(c.NextPaymentDate, today)
			}
			d := ledger.Debtor{
				ID:          ledger.DebtorID(uuid.NewString()),
				ContractID:  id,
				DebtAmount:  debt,
				DueDate:     ledger.DateOf(c.NextPaymentDate),
				OverdueDays: overdue,
				CreatedBy:   actor.ID,
				CreatedAt:   e.now(),
			}
			if err := tx.SaveDebtor(ctx, d); err != nil {
				return ledger.Internal(op, err)
			}
			seeded[id] = d.ID
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range contractIDs {
		meta := map[string]any{}
		if debtorID, ok := seeded[id]; ok {
			meta["seededDebtorId"] = string(debtorID)
		}
		e.record(ctx, ledger.AuditDebtorsDeclared, "contract", string(id), actor,
			[]ledger.FieldChange{{Field: "isDeclare", Old: false, New: true}}, meta)
	}
	return declared, nil
}

// =============================================================================
// REPORT
// =============================================================================

type DebtorReportQuery struct {
	// AsOf selects the historical mode; nil means live.
	AsOf *time.Time
}

type DebtorReportRow struct {
	ContractID  ledger.ContractID
	CustomerID  string
	PaymentID   ledger.PaymentID
	DueDate     time.Time
	DebtAmount  decimal.Decimal
	OverdueDays int
	IsDeclare   bool
}

// DebtorReport lists overdue contracts without touching any record.
func (e *Engine) DebtorReport(ctx context.Context, q DebtorReportQuery) ([]DebtorReportRow, error) {
	const op = "debtor_report"

	contracts, err := e.Store.ListContracts(ctx, ledger.ContractFilter{OnlyActive: true})
	if err != nil {
		return nil, ledger.Internal(op, err)
	}

	ref := e.today()
	if q.AsOf != nil {
		ref = ledger.DateOf(*q.AsOf)
	}

	var rows []DebtorReportRow
	for _, c := range contracts {
		slots, err := e.Store.ListPayments(ctx, c.ID)
		if err != nil {
			return nil, ledger.Internal(op, err)
		}
		ledger.SortSlots(slots)

		var row DebtorReportRow
		var ok bool
		if q.AsOf == nil {
			row, ok = liveRow(c, slots, ref)
		} else {
			row, ok = asOfRow(c, slots, ref)
		}
		if ok {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OverdueDays != rows[j].OverdueDays {
			return rows[i].OverdueDays > rows[j].OverdueDays
		}
		return rows[i].ContractID < rows[j].ContractID
	})
	log.Printf("[Engine] debtor report as of %s: %d rows", ref.Format("2006-01-02"), len(rows))
	return rows, nil
}

// liveRow reports a contract whose cached NextPaymentDate has passed. The
// debt is everything open and due before today.
func liveRow(c ledger.Contract, slots []ledger.Payment, today time.Time) (DebtorReportRow, bool) {
	if !c.NextPaymentDate.Before(today) {
		return DebtorReportRow{}, false
	}
	debt := decimal.Zero
	var first ledger.PaymentID
	for _, p := range slots {
		if p.IsPaid || !p.Date.Before(today) {
			continue
		}
		if first == "" {
			first = p.ID
		}
		debt = debt.Add(p.Outstanding())
	}
	if !debt.IsPositive() {
		return DebtorReportRow{}, false
	}
	return DebtorReportRow{
		ContractID:  c.ID,
		CustomerID:  c.CustomerID,
		PaymentID:   first,
		DueDate:     c.NextPaymentDate,
		DebtAmount:  debt,
		OverdueDays: ledger.DaysBetween(c.NextPaymentDate, today),
		IsDeclare:   c.IsDeclare,
	}, true
}

// asOfRow rebuilds the due date of ref's month and reports it when the slot
// covering that month was not settled by then.
func asOfRow(c ledger.Contract, slots []ledger.Payment, ref time.Time) (DebtorReportRow, bool) {
	virtual := ledger.DayInMonth(ref.Year(), ref.Month(), c.OriginalPaymentDay)
	if !virtual.Before(ref) {
		return DebtorReportRow{}, false
	}
	month := ledger.MonthsBetween(c.StartDate, virtual)
	if month < 1 || month > c.Period {
		return DebtorReportRow{}, false
	}

	for _, p := range slots {
		if !p.IsMonthly() || p.TargetMonth != month {
			continue
		}
		if paidBy(p, ref) {
			return DebtorReportRow{}, false
		}
		return DebtorReportRow{
			ContractID:  c.ID,
			CustomerID:  c.CustomerID,
			PaymentID:   p.ID,
			DueDate:     virtual,
			DebtAmount:  p.Amount,
			OverdueDays: ledger.DaysBetween(virtual, ref),
			IsDeclare:   c.IsDeclare,
		}, true
	}
	return DebtorReportRow{}, false
}

// paidBy reports whether p was settled on or before ref.
func paidBy(p ledger.Payment, ref time.Time) bool {
	if !p.IsPaid {
		return false
	}
	if p.ConfirmedAt == nil {
		return true
	}
	return ledger.DateOf(*p.ConfirmedAt).Before(ref.AddDate(0, 0, 1))
}
