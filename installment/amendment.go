/*
amendment.go - Contract start-date amendment

PURPOSE:
  When staff correct a contract's start date, every unpaid slot is
  rescheduled from the new date and the debtor rows are rebuilt from scratch.

PRECONDITIONS:
  - actor is admin or moderator               (Forbidden otherwise)
  - contract is not soft-deleted              (Conflict)
  - new start date strictly before "now"      (Validation)

ALGORITHM (planAmendment):
  1. Day/month deltas old -> new, for reporting only.
  2. Unpaid slots are recomputed absolutely:
       INITIAL -> newStart
       MONTHLY -> newStart + TargetMonth months, day clamped to month end
     Paid slots are never touched.
  3. NextPaymentDate = earliest unpaid MONTHLY date, or newStart + Period
     months when nothing is open.
  4. Debtors: every existing row is deleted, then one row per unpaid slot
     whose new date is before today.
  5. One ContractEdit is appended (impact summary left zero).
  6. Creating any debtor clears IsDeclare.
  7. One audit entry.

PREVIEW:
  PreviewAmendment runs the same planAmendment on the stored records and
  commits nothing, so its dates match what AmendStartDate writes.
*/
package installment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

type SlotChange struct {
	PaymentID   ledger.PaymentID
	Type        ledger.PaymentType
	TargetMonth int
	OldDate     time.Time
	NewDate     time.Time
}

// PlannedDebtor is a debtor row an amendment will create.
type PlannedDebtor struct {
	PaymentID   ledger.PaymentID
	DueDate     time.Time
	DebtAmount  decimal.Decimal
	OverdueDays int
}

type AmendmentPreview struct {
	ContractID         ledger.ContractID
	OldStartDate       time.Time
	NewStartDate       time.Time
	OldNextPaymentDate time.Time
	NewNextPaymentDate time.Time
	DaysShifted        int
	MonthsShifted      int
	Payments           []SlotChange
	Debtors            []PlannedDebtor
	DebtorsRemoved     int
}

type AmendmentResult struct {
	AmendmentPreview
	Edit           ledger.ContractEdit
	CreatedDebtors []ledger.Debtor
	DeclareCleared bool
}

// amendmentPlan is the pure outcome of an amendment: the preview plus the
// rescheduled slot records.
type amendmentPlan struct {
	preview AmendmentPreview
	slots   []ledger.Payment
}

func planAmendment(c ledger.Contract, slots []ledger.Payment, existingDebtors int, newStart, today time.Time) amendmentPlan {
	newStart = ledger.DateOf(newStart)
	plan := amendmentPlan{
		preview: AmendmentPreview{
			ContractID:         c.ID,
			OldStartDate:       c.StartDate,
			NewStartDate:       newStart,
			OldNextPaymentDate: c.NextPaymentDate,
			DaysShifted:        ledger.DaysBetween(c.StartDate, newStart),
			MonthsShifted:      ledger.MonthsBetween(c.StartDate, newStart),
			DebtorsRemoved:     existingDebtors,
		},
	}

	ordered := make([]ledger.Payment, len(slots))
	copy(ordered, slots)
	ledger.SortSlots(ordered)

	for _, p := range ordered {
		if !p.IsPaid {
			old := p.Date
			if p.IsMonthly() {
				p.Date = ledger.AddMonthsClamped(newStart, p.TargetMonth)
			} else {
				p.Date = newStart
			}
			plan.preview.Payments = append(plan.preview.Payments, SlotChange{
				PaymentID:   p.ID,
				Type:        p.Type,
				TargetMonth: p.TargetMonth,
				OldDate:     old,
				NewDate:     p.Date,
			})
			if p.Date.Before(today) {
				plan.preview.Debtors = append(plan.preview.Debtors, PlannedDebtor{
					PaymentID:   p.ID,
					DueDate:     p.Date,
					DebtAmount:  p.Outstanding(),
					OverdueDays: ledger.DaysBetween(p.Date, today),
				})
			}
		}
		plan.slots = append(plan.slots, p)
	}

	amended := c
	amended.StartDate = newStart
	plan.preview.NewNextPaymentDate = nextPaymentDate(amended, plan.slots)
	return plan
}

func (e *Engine) checkAmendable(op string, c ledger.Contract, newStart time.Time) error {
	if c.IsDeleted() {
		return ledger.Conflict(op, "contract", string(c.ID), "contract is deleted")
	}
	if newStart.IsZero() || !ledger.DateOf(newStart).Before(e.now()) {
		return ledger.Validation(op, "new start date %s must be in the past", ledger.DateOf(newStart).Format("2006-01-02"))
	}
	return nil
}

// PreviewAmendment reports what AmendStartDate would do, without writing.
func (e *Engine) PreviewAmendment(ctx context.Context, contractID ledger.ContractID, newStart time.Time) (AmendmentPreview, error) {
	const op = "preview_amendment"

	c, err := e.Store.GetContract(ctx, contractID)
	if err != nil {
		return AmendmentPreview{}, ledger.Internal(op, err)
	}
	if err := e.checkAmendable(op, c, newStart); err != nil {
		return AmendmentPreview{}, err
	}
	slots, err := e.Store.ListPayments(ctx, contractID)
	if err != nil {
		return AmendmentPreview{}, ledger.Internal(op, err)
	}
	debtors, err := e.Store.ListDebtors(ctx, contractID)
	if err != nil {
		return AmendmentPreview{}, ledger.Internal(op, err)
	}

	return planAmendment(c, slots, len(debtors), newStart, e.today()).preview, nil
}

// AmendStartDate reschedules the contract's unpaid slots from newStart and
// rebuilds its debtor rows.
func (e *Engine) AmendStartDate(ctx context.Context, contractID ledger.ContractID, newStart time.Time, actor ledger.Actor) (AmendmentResult, error) {
	const op = "amend_start_date"

	if !actor.CanAmend() {
		return AmendmentResult{}, ledger.Forbidden(op, "role %q may not amend contracts", actor.Role)
	}

	unlock := e.locks.Lock(contractKey(contractID))
	defer unlock()

	var result AmendmentResult
	var removed []string
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return ledger.Internal(op, err)
		}
		if err := e.checkAmendable(op, c, newStart); err != nil {
			return err
		}
		slots, err := tx.ListPayments(ctx, contractID)
		if err != nil {
			return ledger.Internal(op, err)
		}
		existing, err := tx.ListDebtors(ctx, contractID)
		if err != nil {
			return ledger.Internal(op, err)
		}

		now := e.now()
		plan := planAmendment(c, slots, len(existing), newStart, e.today())
		result.AmendmentPreview = plan.preview

		for _, p := range plan.slots {
			if p.IsPaid {
				continue
			}
			if err := tx.SavePayment(ctx, p); err != nil {
				return ledger.Internal(op, err)
			}
		}

		removed = removed[:0]
		for _, d := range existing {
			removed = append(removed, string(d.ID))
		}
		if _, err := tx.DeleteDebtors(ctx, contractID); err != nil {
			return ledger.Internal(op, err)
		}
		for _, pd := range plan.preview.Debtors {
			d := ledger.Debtor{
				ID:          ledger.DebtorID(uuid.NewString()),
				ContractID:  contractID,
				DebtAmount:  pd.DebtAmount,
				DueDate:     pd.DueDate,
				OverdueDays: pd.OverdueDays,
				CreatedBy:   actor.ID,
				CreatedAt:   now,
			}
			if err := tx.SaveDebtor(ctx, d); err != nil {
				return ledger.Internal(op, err)
			}
			result.CreatedDebtors = append(result.CreatedDebtors, d)
		}

		affected := make([]ledger.PaymentID, 0, len(plan.preview.Payments))
		for _, ch := range plan.preview.Payments {
			affected = append(affected, ch.PaymentID)
		}
		edit := ledger.ContractEdit{
			ID:                 uuid.NewString(),
			EditedAt:           now,
			EditedBy:           actor.ID,
			OldStartDate:       plan.preview.OldStartDate,
			NewStartDate:       plan.preview.NewStartDate,
			OldNextPaymentDate: plan.preview.OldNextPaymentDate,
			NewNextPaymentDate: plan.preview.NewNextPaymentDate,
			DaysShifted:        plan.preview.DaysShifted,
			MonthsShifted:      plan.preview.MonthsShifted,
			AffectedPaymentIDs: affected,
			Impact: ledger.ImpactSummary{
				TotalShortage: decimal.Zero,
				TotalExcess:   decimal.Zero,
			},
		}
		result.Edit = edit

		c.StartDate = plan.preview.NewStartDate
		c.OriginalPaymentDay = plan.preview.NewStartDate.Day()
		c.NextPaymentDate = plan.preview.NewNextPaymentDate
		c.EditHistory = append(c.EditHistory, edit)
		if len(result.CreatedDebtors) > 0 && c.IsDeclare {
			c.IsDeclare = false
			result.DeclareCleared = true
		}
		return ledger.Internal(op, tx.SaveContract(ctx, c))
	})
	if err != nil {
		return AmendmentResult{}, err
	}

	debtorIDs := make([]string, len(result.CreatedDebtors))
	for i, d := range result.CreatedDebtors {
		debtorIDs[i] = string(d.ID)
	}
	e.record(ctx, ledger.AuditStartDateAmended, "contract", string(contractID), actor,
		[]ledger.FieldChange{
			{Field: "startDate", Old: result.OldStartDate.Format("2006-01-02"), New: result.NewStartDate.Format("2006-01-02")},
			{Field: "nextPaymentDate", Old: result.OldNextPaymentDate.Format("2006-01-02"), New: result.NewNextPaymentDate.Format("2006-01-02")},
		},
		map[string]any{
			"paymentIds":       result.Edit.AffectedPaymentIDs,
			"debtorIds":        debtorIDs,
			"removedDebtorIds": removed,
			"debtorsRemoved":   result.DebtorsRemoved,
			"declareCleared":   result.DeclareCleared,
		})
	return result, nil
}
