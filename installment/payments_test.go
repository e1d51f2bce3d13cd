package installment_test

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// CONTRACT CREATION
// =============================================================================

func TestCreateContract_GeneratesSchedule(t *testing.T) {
	f := newFixture(t)

	c, slots, err := f.engine.CreateContract(f.ctx, installment.CreateContractRequest{
		CustomerID:     "cust-1",
		TotalPrice:     dec("1000"),
		InitialPayment: dec("100"),
		Period:         3,
		StartDate:      date(2025, 1, 31),
	}, admin)
	require.NoError(t, err)

	require.Len(t, slots, 4)
	assert.Equal(t, ledger.PaymentInitial, slots[0].Type)
	assert.Equal(t, date(2025, 1, 31), slots[0].Date)

	// 900 / 3 = 300, day 31 clamped to short months
	assert.Equal(t, date(2025, 2, 28), slots[1].Date)
	assert.Equal(t, date(2025, 3, 31), slots[2].Date)
	assert.Equal(t, date(2025, 4, 30), slots[3].Date)
	for i, s := range slots[1:] {
		assert.Equal(t, i+1, s.TargetMonth)
		assertMoney(t, "300", s.Amount)
		assert.Equal(t, ledger.StatusPending, s.Status)
	}

	assert.Equal(t, 31, c.OriginalPaymentDay)
	assert.Equal(t, date(2025, 2, 28), c.NextPaymentDate)
	assert.False(t, c.IsActive, "contracts start unapproved")
	assert.Len(t, c.PaymentIDs, 4)
}

func TestCreateContract_LastSlotAbsorbsRounding(t *testing.T) {
	f := newFixture(t)

	_, slots, err := f.engine.CreateContract(f.ctx, installment.CreateContractRequest{
		CustomerID: "cust-1",
		TotalPrice: dec("100"),
		Period:     3,
		StartDate:  date(2025, 1, 1),
	}, admin)
	require.NoError(t, err)

	assertMoney(t, "33.33", slots[0].Amount)
	assertMoney(t, "33.33", slots[1].Amount)
	assertMoney(t, "33.34", slots[2].Amount)
}

func TestCreateContract_Validation(t *testing.T) {
	f := newFixture(t)
	base := installment.CreateContractRequest{
		CustomerID: "cust-1", TotalPrice: dec("300"), Period: 3, StartDate: date(2025, 1, 1),
	}

	noCustomer := base
	noCustomer.CustomerID = ""
	zeroPeriod := base
	zeroPeriod.Period = 0
	bigInitial := base
	bigInitial.InitialPayment = dec("300")
	bigMonthly := base
	bigMonthly.MonthlyPayment = dec("200")

	for name, req := range map[string]installment.CreateContractRequest{
		"no customer":    noCustomer,
		"zero period":    zeroPeriod,
		"initial >= all": bigInitial,
		"monthly > all":  bigMonthly,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.engine.CreateContract(f.ctx, req, admin)
			assertKind(t, ledger.ErrValidation, err)
		})
	}
}

func TestCreateContract_DuplicateID(t *testing.T) {
	f := newFixture(t)
	req := installment.CreateContractRequest{
		ID: "c-1", CustomerID: "cust-1", TotalPrice: dec("300"), Period: 3, StartDate: date(2025, 1, 1),
	}

	_, _, err := f.engine.CreateContract(f.ctx, req, admin)
	require.NoError(t, err)

	_, _, err = f.engine.CreateContract(f.ctx, req, admin)
	assertKind(t, ledger.ErrConflict, err)
}

// =============================================================================
// RECEIVE PAYMENT
// =============================================================================

func TestReceivePayment_ScenarioA_ExcessSpreadsForward(t *testing.T) {
	// GIVEN: 3 months x 100, nothing paid, first due date in the future
	// WHEN: 250 arrives
	// THEN: month 1 and 2 are paid with 100 each, month 3 is UNDERPAID with
	//       50 remaining, and no debtor exists

	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	out, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("250"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	assert.Equal(t, installment.OutcomeOverpaid, out.Kind)
	assert.Equal(t, 1, out.TargetMonth)
	assertMoney(t, "150", out.Excess)
	require.Len(t, out.Distributed, 2)
	assert.Equal(t, installment.OutcomePaid, out.Distributed[0].Kind)
	assert.Equal(t, 2, out.Distributed[0].TargetMonth)
	assert.Equal(t, installment.OutcomeUnderpaid, out.Distributed[1].Kind)
	assertMoney(t, "50", out.Distributed[1].Remaining)

	m1, m2, m3 := f.monthly(t, c.ID, 1), f.monthly(t, c.ID, 2), f.monthly(t, c.ID, 3)
	assert.True(t, m1.IsPaid)
	assert.Equal(t, ledger.StatusPaid, m1.Status)
	assertMoney(t, "100", m1.ActualAmount)
	assertMoney(t, "150", m1.ExcessAmount)
	assert.True(t, m2.IsPaid)
	assert.Equal(t, ledger.StatusPaid, m2.Status)
	assertMoney(t, "100", m2.ActualAmount)
	assert.False(t, m3.IsPaid)
	assert.Equal(t, ledger.StatusUnderpaid, m3.Status)
	assertMoney(t, "50", m3.ActualAmount)
	assertMoney(t, "50", m3.RemainingAmount)

	assert.Empty(t, f.debtors(t, c.ID))
	sweep, err := f.engine.SweepOverdueDebtors(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, sweep.Created)

	f.assertLedgerInvariant(t, c.ID)
	assert.Equal(t, m3.Date, f.get(t, c.ID).NextPaymentDate)
}

func TestReceivePayment_WithinToleranceRecordsReceivedAmount(t *testing.T) {
	// GIVEN: 3 months x 100
	// WHEN: 99.99 arrives for month 1, then 100.005 for month 2
	// THEN: both months are PAID; month 1 holds 99.99, month 2 holds 100
	//       and the half cent is banked as prepaid

	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	out, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("99.99"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)
	assert.Equal(t, installment.OutcomePaid, out.Kind)

	m1 := f.monthly(t, c.ID, 1)
	assert.True(t, m1.IsPaid)
	assert.Equal(t, ledger.StatusPaid, m1.Status)
	assertMoney(t, "99.99", m1.ActualAmount)
	assertMoney(t, "0", m1.RemainingAmount)

	out, err = f.engine.ReceivePayment(f.ctx, c.ID, dec("100.005"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)
	assert.Equal(t, installment.OutcomePaid, out.Kind)
	assertMoney(t, "0.005", out.PrepaidBanked)

	m2 := f.monthly(t, c.ID, 2)
	assertMoney(t, "100", m2.ActualAmount)

	assertMoney(t, "0.005", f.get(t, c.ID).PrepaidBalance)
	summary, err := f.engine.ContractSummary(f.ctx, c.ID)
	require.NoError(t, err)
	assertMoney(t, "199.99", summary.TotalPaid)

	b, err := f.engine.Balance(f.ctx, ledger.ManagerID(manager.ID))
	require.NoError(t, err)
	assertMoney(t, "199.995", b.Dollar)
	f.assertLedgerInvariant(t, c.ID)
}

func TestReceivePayment_TopsUpUnderpaidSlotFirst(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("250"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	out, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("50"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	assert.Equal(t, installment.OutcomePaid, out.Kind)
	assert.Equal(t, 3, out.TargetMonth)
	m3 := f.monthly(t, c.ID, 3)
	assert.True(t, m3.IsPaid)
	assertMoney(t, "100", m3.ActualAmount)
	assertMoney(t, "0", m3.RemainingAmount)

	after := f.get(t, c.ID)
	assert.Equal(t, ledger.ContractCompleted, after.Status)
	assert.Equal(t, after.ScheduleEnd(), after.NextPaymentDate)
	f.assertLedgerInvariant(t, c.ID)

	_, err = f.engine.ReceivePayment(f.ctx, c.ID, dec("10"), ledger.CurrencyBreakdown{}, manager)
	assertKind(t, ledger.ErrValidation, err)
}

func TestReceivePayment_InitialSlotFirst(t *testing.T) {
	f := newFixture(t)
	c, _, err := f.engine.CreateContract(f.ctx, installment.CreateContractRequest{
		CustomerID: "cust-1", TotalPrice: dec("400"), InitialPayment: dec("100"),
		MonthlyPayment: dec("100"), Period: 3, StartDate: testNow, Approved: true,
	}, admin)
	require.NoError(t, err)

	out, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("100"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	assert.Equal(t, ledger.PaymentInitial, out.Type)
	assert.Equal(t, installment.OutcomePaid, out.Kind)
	assert.False(t, f.monthly(t, c.ID, 1).IsPaid)
}

func TestReceivePayment_SurplusBankedAsPrepaid(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 2, "100")

	out, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("230"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	assertMoney(t, "30", out.PrepaidBanked)
	assertMoney(t, "30", out.PrepaidBalance)
	after := f.get(t, c.ID)
	assertMoney(t, "30", after.PrepaidBalance)
	assert.Equal(t, ledger.ContractCompleted, after.Status)
	f.assertLedgerInvariant(t, c.ID)
}

func TestReceivePayment_PrepaidCapAbortsEverything(t *testing.T) {
	// GIVEN: prepaid cap of 10
	// WHEN: a payment would bank 30
	// THEN: Validation failure, no slot or balance was touched

	cfg := installment.DefaultConfig()
	cfg.MaxPrepaidBalance = dec("10")
	f := newFixtureWithConfig(t, cfg)
	c := f.contract(t, f.clock.Now(), 2, "100")

	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("230"), ledger.CurrencyBreakdown{}, manager)

	assertKind(t, ledger.ErrValidation, err)
	var capErr *ledger.PrepaidCapError
	assert.ErrorAs(t, err, &capErr)
	for _, p := range f.slots(t, c.ID) {
		assert.False(t, p.IsPaid)
	}
	_, err = f.store.GetBalance(f.ctx, ledger.ManagerID(manager.ID))
	assert.True(t, ledger.IsNotFound(err), "balance must not be created on a failed receipt")
}

func TestReceivePayment_UsesPrepaidBalance(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	stored := f.get(t, c.ID)
	stored.PrepaidBalance = dec("30")
	require.NoError(t, f.store.SaveContract(f.ctx, stored))

	out, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("70"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	assert.Equal(t, installment.OutcomePaid, out.Kind)
	assertMoney(t, "30", out.PrepaidApplied)
	assertMoney(t, "0", f.get(t, c.ID).PrepaidBalance)
	f.assertLedgerInvariant(t, c.ID)
}

func TestReceivePayment_CreditsManagerBalance(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("250"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)
	_, err = f.engine.ReceivePayment(f.ctx, c.ID, dec("20"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	b, err := f.engine.Balance(f.ctx, ledger.ManagerID(manager.ID))
	require.NoError(t, err)
	assertMoney(t, "270", b.Dollar)
}

func TestReceivePayment_CurrencyBreakdown(t *testing.T) {
	// GIVEN: rate 12650 local per dollar
	// WHEN: 50 dollars + 632500 local are handed over
	// THEN: 100 dollars are received

	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	breakdown := ledger.CurrencyBreakdown{Dollar: dec("50"), Local: dec("632500")}

	out, err := f.engine.ReceivePayment(f.ctx, c.ID, decimal.Zero, breakdown, manager)
	require.NoError(t, err)
	assert.Equal(t, installment.OutcomePaid, out.Kind)

	_, err = f.engine.ReceivePayment(f.ctx, c.ID, dec("90"), breakdown, manager)
	assertKind(t, ledger.ErrValidation, err)
}

func TestReceivePayment_Validation(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	_, err := f.engine.ReceivePayment(f.ctx, c.ID, decimal.Zero, ledger.CurrencyBreakdown{}, manager)
	assertKind(t, ledger.ErrValidation, err)

	_, err = f.engine.ReceivePayment(f.ctx, c.ID, dec("-5"), ledger.CurrencyBreakdown{}, manager)
	assertKind(t, ledger.ErrValidation, err)

	_, err = f.engine.ReceivePayment(f.ctx, c.ID, dec("1000000.01"), ledger.CurrencyBreakdown{}, manager)
	assertKind(t, ledger.ErrValidation, err)

	_, err = f.engine.ReceivePayment(f.ctx, "missing", dec("10"), ledger.CurrencyBreakdown{}, manager)
	assertKind(t, ledger.ErrNotFound, err)
}

func TestReceivePayment_DeletedContractConflict(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	require.NoError(t, f.engine.DeleteContract(f.ctx, c.ID, admin))

	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("100"), ledger.CurrencyBreakdown{}, manager)

	assertKind(t, ledger.ErrConflict, err)
}

func TestReceivePayment_SettlingRemovesDebtorRow(t *testing.T) {
	// GIVEN: three overdue months materialized by the sweep
	// WHEN: month 1 is paid in full and month 2 partially
	// THEN: month 1's row is gone and month 2's row carries the new debt

	f := newFixture(t)
	c := f.contract(t, date(2025, 3, 1), 6, "100")
	_, err := f.engine.SweepOverdueDebtors(f.ctx)
	require.NoError(t, err)
	require.Len(t, f.debtors(t, c.ID), 3)

	_, err = f.engine.ReceivePayment(f.ctx, c.ID, dec("140"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	debtors := f.debtors(t, c.ID)
	require.Len(t, debtors, 2)
	assert.Equal(t, date(2025, 5, 1), debtors[0].DueDate)
	assertMoney(t, "60", debtors[0].DebtAmount)
	assert.Equal(t, date(2025, 6, 1), debtors[1].DueDate)
	f.assertLedgerInvariant(t, c.ID)
}

func TestReceivePayment_ConcurrentReceiptsOnSameContract(t *testing.T) {
	// GIVEN: 10 months x 100
	// WHEN: 10 receipts of 100 race
	// THEN: every slot is paid exactly once and nothing is banked

	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 10, "100")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("100"), ledger.CurrencyBreakdown{}, manager)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, p := range f.slots(t, c.ID) {
		assert.True(t, p.IsPaid, "month %d", p.TargetMonth)
		assertMoney(t, "100", p.ActualAmount)
	}
	after := f.get(t, c.ID)
	assertMoney(t, "0", after.PrepaidBalance)
	assert.Equal(t, ledger.ContractCompleted, after.Status)

	b, err := f.engine.Balance(f.ctx, ledger.ManagerID(manager.ID))
	require.NoError(t, err)
	assertMoney(t, "1000", b.Dollar)
	f.assertLedgerInvariant(t, c.ID)
}

// =============================================================================
// PAY REMAINING
// =============================================================================

func TestPayRemaining_TopsUpInPlace(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("60"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)
	m1 := f.monthly(t, c.ID, 1)
	require.Equal(t, ledger.StatusUnderpaid, m1.Status)

	out, err := f.engine.PayRemaining(f.ctx, m1.ID, dec("40"), manager)
	require.NoError(t, err)

	assert.Equal(t, installment.OutcomePaid, out.Kind)
	assert.Equal(t, m1.ID, out.PaymentID)
	after := f.monthly(t, c.ID, 1)
	assert.True(t, after.IsPaid)
	assertMoney(t, "100", after.ActualAmount)
	assert.Len(t, f.slots(t, c.ID), 3, "no duplicate slot for the month")
	f.assertLedgerInvariant(t, c.ID)
}

func TestPayRemaining_OverpaymentDistributes(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("60"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	out, err := f.engine.PayRemaining(f.ctx, f.monthly(t, c.ID, 1).ID, dec("140"), manager)
	require.NoError(t, err)

	assert.Equal(t, installment.OutcomeOverpaid, out.Kind)
	require.Len(t, out.Distributed, 1)
	assert.Equal(t, 2, out.Distributed[0].TargetMonth)
	assert.True(t, f.monthly(t, c.ID, 2).IsPaid)
}

func TestPayRemaining_RequiresUnderpaidSlot(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("100"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	_, err = f.engine.PayRemaining(f.ctx, f.monthly(t, c.ID, 1).ID, dec("10"), manager)
	assertKind(t, ledger.ErrValidation, err)

	_, err = f.engine.PayRemaining(f.ctx, f.monthly(t, c.ID, 2).ID, dec("10"), manager)
	assertKind(t, ledger.ErrValidation, err)

	_, err = f.engine.PayRemaining(f.ctx, "missing", dec("10"), manager)
	assertKind(t, ledger.ErrNotFound, err)
}

// =============================================================================
// PAY ALL REMAINING MONTHS
// =============================================================================

func TestPayAllRemainingMonths_SettlesEverything(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("150"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	outcomes, err := f.engine.PayAllRemainingMonths(f.ctx, c.ID, dec("170"), manager)
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	assert.Equal(t, 2, outcomes[0].TargetMonth)
	assertMoney(t, "50", outcomes[0].Expected)
	assert.Equal(t, 3, outcomes[1].TargetMonth)
	assertMoney(t, "20", outcomes[1].PrepaidBanked)

	after := f.get(t, c.ID)
	assert.Equal(t, ledger.ContractCompleted, after.Status)
	assertMoney(t, "20", after.PrepaidBalance)
	f.assertLedgerInvariant(t, c.ID)
}

func TestPayAllRemainingMonths_InsufficientAmount(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")

	_, err := f.engine.PayAllRemainingMonths(f.ctx, c.ID, dec("250"), manager)

	assertKind(t, ledger.ErrValidation, err)
	for _, p := range f.slots(t, c.ID) {
		assert.False(t, p.IsPaid)
	}
}

// =============================================================================
// DELETE / SUMMARY
// =============================================================================

func TestDeleteContract_SoftDeletesAndDropsDebtors(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, date(2025, 3, 1), 6, "100")
	_, err := f.engine.SweepOverdueDebtors(f.ctx)
	require.NoError(t, err)
	require.NotEmpty(t, f.debtors(t, c.ID))

	require.NoError(t, f.engine.DeleteContract(f.ctx, c.ID, admin))

	after := f.get(t, c.ID)
	assert.True(t, after.IsDeleted())
	assert.Empty(t, f.debtors(t, c.ID))
	assertKind(t, ledger.ErrConflict, f.engine.DeleteContract(f.ctx, c.ID, admin))
}

func TestContractSummary_SeparatesPartialPayments(t *testing.T) {
	f := newFixture(t)
	c := f.contract(t, f.clock.Now(), 3, "100")
	_, err := f.engine.ReceivePayment(f.ctx, c.ID, dec("250"), ledger.CurrencyBreakdown{}, manager)
	require.NoError(t, err)

	s, err := f.engine.ContractSummary(f.ctx, c.ID)
	require.NoError(t, err)

	assertMoney(t, "200", s.TotalPaid)
	assertMoney(t, "50", s.PartialPaid)
	assertMoney(t, "100", s.RemainingDebt)
	assert.Equal(t, 2, s.PaidCount)
	assert.Equal(t, 1, s.OpenCount)
}

func TestApproveContract(t *testing.T) {
	f := newFixture(t)
	c, _, err := f.engine.CreateContract(f.ctx, installment.CreateContractRequest{
		CustomerID: "cust-1", TotalPrice: dec("300"), Period: 3, StartDate: date(2025, 1, 1),
	}, admin)
	require.NoError(t, err)

	approved, err := f.engine.ApproveContract(f.ctx, c.ID, admin)
	require.NoError(t, err)
	assert.True(t, approved.IsActive)

	_, err = f.engine.ApproveContract(f.ctx, c.ID, admin)
	assertKind(t, ledger.ErrConflict, err)
}
