package installment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestAmendStartDate_RequiresAdminOrModerator(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	for _, actor := range []ledger.Actor{manager, seller} {
		_, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 5, 1), actor)
		assertKind(t, ledger.ErrForbidden, err)
	}

	_, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 5, 1), moderator)
	assert.NoError(t, err)
}

func TestAmendStartDate_DateMustBeInThePast(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, date(2025, 1, 1), 3, "100")

	_, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 6, 16), admin)
	assertKind(t, ledger.ErrValidation, err)

	_, err = f.engine.PreviewAmendment(f.ctx, c.ID, date(2025, 7, 1))
	assertKind(t, ledger.ErrValidation, err)

	// Midnight today is before "now" (10:00)
	_, err = f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 6, 15), admin)
	assert.NoError(t, err)
}

func TestAmendStartDate_DeletedContractConflict(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, date(2025, 1, 1), 3, "100")
	require.NoError(t, f.engine.DeleteContract(f.ctx, c.ID, admin))

	_, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 2, 1), admin)
	assertKind(t, ledger.ErrConflict, err)

	_, err = f.engine.PreviewAmendment(f.ctx, c.ID, date(2025, 2, 1))
	assertKind(t, ledger.ErrConflict, err)
}

// =============================================================================
// SCHEDULE RECOMPUTATION
// =============================================================================

func TestAmendStartDate_ScenarioB_RebuildsDebtors(t *testing.T) {
	// GIVEN: 3 months x 100 starting today, plus a stale debtor row
	// WHEN: start moves to 40 days ago (2025-05-06)
	// THEN: month 1 moves to 2025-06-06 and is the only debtor; the stale row
	//       is gone and its id is kept in the audit entry

	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	require.NoError(t, f.store.SaveDebtor(f.ctx, ledger.Debtor{
		ID: "stale", ContractID: c.ID, DebtAmount: dec("100"), DueDate: date(2025, 1, 1), OverdueDays: 165,
	}))

	newStart := ledger.Today(f.clock).AddDate(0, 0, -40)
	result, err := f.engine.AmendStartDate(f.ctx, c.ID, newStart, admin)
	require.NoError(t, err)

	assert.Equal(t, date(2025, 6, 6), f.monthly(t, c.ID, 1).Date)
	assert.Equal(t, date(2025, 7, 6), f.monthly(t, c.ID, 2).Date)
	assert.Equal(t, date(2025, 8, 6), f.monthly(t, c.ID, 3).Date)

	debtors := f.debtors(t, c.ID)
	require.Len(t, debtors, 1)
	assert.Equal(t, date(2025, 6, 6), debtors[0].DueDate)
	assert.Equal(t, 9, debtors[0].OverdueDays)
	assertMoney(t, "100", debtors[0].DebtAmount)
	assert.NotEqual(t, ledger.DebtorID("stale"), debtors[0].ID)

	assert.Equal(t, 1, result.DebtorsRemoved)
	assert.Len(t, result.CreatedDebtors, 1)
	assert.Equal(t, -40, result.DaysShifted)
	assert.Equal(t, -1, result.MonthsShifted)

	after := f.get(t, c.ID)
	assert.Equal(t, newStart, after.StartDate)
	assert.Equal(t, 6, after.OriginalPaymentDay)
	assert.Equal(t, date(2025, 6, 6), after.NextPaymentDate)
	f.assertLedgerInvariant(t, c.ID)

	entries, err := f.store.List(f.ctx, ledger.AuditFilter{
		EntityID: string(c.ID),
		Actions:  []ledger.AuditAction{ledger.AuditStartDateAmended},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"stale"}, entries[0].Metadata["removedDebtorIds"])
	assert.Equal(t, []string{string(debtors[0].ID)}, entries[0].Metadata["debtorIds"])
}

func TestAmendStartDate_ScenarioD_PaidSlotsKeepTheirDates(t *testing.T) {
	// GIVEN: Scenario A applied (months 1-2 paid, month 3 underpaid)
	// WHEN: the start date is amended
	// THEN: paid months keep their original dates; only month 3 moves

	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("250"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)
	m1Before, m2Before := f.monthly(t, c.ID, 1), f.monthly(t, c.ID, 2)

	result, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 5, 6), admin)
	require.NoError(t, err)

	assert.Equal(t, m1Before.Date, f.monthly(t, c.ID, 1).Date)
	assert.Equal(t, m2Before.Date, f.monthly(t, c.ID, 2).Date)
	assert.Equal(t, date(2025, 8, 6), f.monthly(t, c.ID, 3).Date)
	require.Len(t, result.Payments, 1)
	assert.Equal(t, 3, result.Payments[0].TargetMonth)
	assert.Empty(t, f.debtors(t, c.ID))

	// A second amendment still leaves the paid dates alone.
	_, err = f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 1, 31), admin)
	require.NoError(t, err)
	assert.Equal(t, m1Before.Date, f.monthly(t, c.ID, 1).Date)
	assert.Equal(t, m2Before.Date, f.monthly(t, c.ID, 2).Date)
	assert.Equal(t, date(2025, 4, 30), f.monthly(t, c.ID, 3).Date)
	f.assertLedgerInvariant(t, c.ID)
}

func TestAmendStartDate_ClampsToMonthEnd(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, date(2025, 1, 15), 3, "100")

	_, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 1, 31), admin)
	require.NoError(t, err)

	assert.Equal(t, date(2025, 2, 28), f.monthly(t, c.ID, 1).Date)
	assert.Equal(t, date(2025, 3, 31), f.monthly(t, c.ID, 2).Date)
	assert.Equal(t, date(2025, 4, 30), f.monthly(t, c.ID, 3).Date)
	assert.Len(t, f.debtors(t, c.ID), 3)

	// Earliest open month, even when already overdue.
	assert.Equal(t, date(2025, 2, 28), f.get(t, c.ID).NextPaymentDate)
}

func TestAmendStartDate_InitialSlotMovesToNewStart(t *testing.T) {
	f := newFixture(t)
	c, _, err := f.engine.CreateContract(f.ctx, installment.CreateContractRequest{
		CustomerID: "cust-1", TotalPrice: dec("400"), InitialPayment: dec("100"),
		MonthlyPayment: dec("100"), Period: 3, StartDate: testNow, Approved: true,
	}, admin)
	require.NoError(t, err)

	_, err = f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 6, 1), admin)
	require.NoError(t, err)

	slots := f.slots(t, c.ID)
	assert.Equal(t, ledger.PaymentInitial, slots[0].Type)
	assert.Equal(t, date(2025, 6, 1), slots[0].Date)
	debtors := f.debtors(t, c.ID)
	require.Len(t, debtors, 1, "the unpaid initial slot is now overdue")
	assert.Equal(t, date(2025, 6, 1), debtors[0].DueDate)
}

func TestAmendStartDate_RecordsEditHistory(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	_, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 5, 6), admin)
	require.NoError(t, err)
	_, err = f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 5, 1), moderator)
	require.NoError(t, err)

	history := f.get(t, c.ID).EditHistory
	require.Len(t, history, 2)
	assert.Equal(t, date(2025, 6, 15), history[0].OldStartDate)
	assert.Equal(t, date(2025, 5, 6), history[0].NewStartDate)
	assert.Equal(t, admin.ID, history[0].EditedBy)
	assert.Len(t, history[0].AffectedPaymentIDs, 3)
	assert.Zero(t, history[0].Impact.UnderpaidCount)
	assert.True(t, history[0].Impact.TotalShortage.IsZero())
	assert.Equal(t, date(2025, 5, 6), history[1].OldStartDate)
	assert.Equal(t, moderator.ID, history[1].EditedBy)

	entries, err := f.store.List(f.ctx, ledger.AuditFilter{
		EntityID: string(c.ID),
		Actions:  []ledger.AuditAction{ledger.AuditStartDateAmended},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAmendStartDate_ClearsDeclareWhenDebtorsAppear(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	_, err := f.engine.DeclareDebtors(f.ctx, []ledger.ContractID{c.ID}, admin)
	require.NoError(t, err)
	require.True(t, f.get(t, c.ID).IsDeclare)

	result, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2025, 4, 1), admin)
	require.NoError(t, err)

	assert.True(t, result.DeclareCleared)
	assert.False(t, f.get(t, c.ID).IsDeclare)
	assert.Len(t, f.debtors(t, c.ID), 2) // May 1, Jun 1
}

func TestAmendStartDate_AuditFailureDoesNotFailAmendment(t *testing.T) {
	f := newFixture(t)
	engine := installment.NewEngine(f.store, failingAudit{}, f.clock, nil, installment.DefaultConfig())
	c := f.contract(t, f.clock.Now(), 3, "100")

	_, err := engine.AmendStartDate(f.ctx, c.ID, date(2025, 5, 6), admin)

	require.NoError(t, err)
	assert.Equal(t, date(2025, 5, 6), f.get(t, c.ID).StartDate)
}

// =============================================================================
// PREVIEW / COMMIT PARITY
// =============================================================================

func TestPreviewAmendment_MatchesCommit(t *testing.T) {
	// GIVEN: a partly paid contract with month-end start
	// WHEN: previewing then committing the same amendment
	// THEN: the preview's dates are exactly what gets written, and the
	//       preview itself wrote nothing

	f := newFixture(t)
	c := f.contract(t, date(2025, 1, 31), 6, "100")
	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("130"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)
	before := f.slots(t, c.ID)

	preview, err := f.engine.PreviewAmendment(f.ctx, c.ID, date(2024, 12, 31))
	require.NoError(t, err)

	assert.Equal(t, before, f.slots(t, c.ID), "preview must not write")
	assert.Empty(t, f.debtors(t, c.ID))

	result, err := f.engine.AmendStartDate(f.ctx, c.ID, date(2024, 12, 31), admin)
	require.NoError(t, err)

	assert.Equal(t, preview.Payments, result.Payments)
	assert.Equal(t, preview.NewNextPaymentDate, result.NewNextPaymentDate)
	require.Len(t, result.CreatedDebtors, len(preview.Debtors))
	for i, pd := range preview.Debtors {
		assert.Equal(t, pd.DueDate, result.CreatedDebtors[i].DueDate)
		assert.Equal(t, pd.OverdueDays, result.CreatedDebtors[i].OverdueDays)
	}

	written := map[ledger.PaymentID]ledger.Payment{}
	for _, p := range f.slots(t, c.ID) {
		written[p.ID] = p
	}
	for _, ch := range preview.Payments {
		assert.Equal(t, ch.NewDate, written[ch.PaymentID].Date, "month %d", ch.TargetMonth)
	}
}
