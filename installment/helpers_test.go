package installment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
	"github.com/warp/installment-engine/ledger/store"
	"github.com/warp/installment-engine/rates"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Mid-morning on June 15th 2025; "today" is 2025-06-15.
var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

var (
	admin     = ledger.Actor{ID: "admin-1", Role: ledger.RoleAdmin}
	moderator = ledger.Actor{ID: "mod-1", Role: ledger.RoleModerator}
	manager   = ledger.Actor{ID: "mgr-1", Role: ledger.RoleManager}
	seller    = ledger.Actor{ID: "seller-1", Role: ledger.RoleSeller}
)

type fixture struct {
	engine *installment.Engine
	store  *store.Memory
	clock  *ledger.ManualClock
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, installment.DefaultConfig())
}

func newFixtureWithConfig(t *testing.T, cfg installment.Config) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clock := ledger.NewManualClock(testNow)
	engine := installment.NewEngine(mem, mem, clock, rates.NewStatic(dec("12650")), cfg)
	return &fixture{engine: engine, store: mem, clock: clock, ctx: context.Background()}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, d int) time.Time { return ledger.Date(y, m, d) }

// contract creates an approved contract with no initial payment.
func (f *fixture) contract(t *testing.T, start time.Time, period int, monthly string) ledger.Contract {
	t.Helper()
	total := dec(monthly).Mul(decimal.NewFromInt(int64(period)))
	c, _, err := f.engine.CreateContract(f.ctx, installment.CreateContractRequest{
		CustomerID:     "cust-1",
		TotalPrice:     total,
		MonthlyPayment: dec(monthly),
		Period:         period,
		StartDate:      start,
		Approved:       true,
	}, admin)
	require.NoError(t, err)
	return c
}

func (f *fixture) slots(t *testing.T, id ledger.ContractID) []ledger.Payment {
	t.Helper()
	slots, err := f.store.ListPayments(f.ctx, id)
	require.NoError(t, err)
	return slots
}

func (f *fixture) monthly(t *testing.T, id ledger.ContractID, month int) ledger.Payment {
	t.Helper()
	for _, p := range f.slots(t, id) {
		if p.IsMonthly() && p.TargetMonth == month {
			return p
		}
	}
	t.Fatalf("contract %s has no slot for month %d", id, month)
	return ledger.Payment{}
}

func (f *fixture) debtors(t *testing.T, id ledger.ContractID) []ledger.Debtor {
	t.Helper()
	debtors, err := f.store.ListDebtors(f.ctx, id)
	require.NoError(t, err)
	return debtors
}

func (f *fixture) get(t *testing.T, id ledger.ContractID) ledger.Contract {
	t.Helper()
	c, err := f.store.GetContract(f.ctx, id)
	require.NoError(t, err)
	return c
}

// assertLedgerInvariant checks totalPaid = sum of settled slots and
// remainingDebt = totalPrice - totalPaid >= 0.
func (f *fixture) assertLedgerInvariant(t *testing.T, id ledger.ContractID) {
	t.Helper()
	summary, err := f.engine.ContractSummary(f.ctx, id)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, p := range summary.Payments {
		if p.IsPaid {
			sum = sum.Add(p.ActualAmount)
		}
	}
	assert.True(t, summary.TotalPaid.Equal(sum), "totalPaid %s != %s", summary.TotalPaid, sum)
	assert.True(t, summary.RemainingDebt.Equal(summary.Contract.TotalPrice.Sub(sum)))
	assert.False(t, summary.RemainingDebt.IsNegative(), "remaining debt went negative: %s", summary.RemainingDebt)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func assertKind(t *testing.T, kind error, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, kind), "expected %v, got %v", kind, err)
}

// failingAudit rejects every write.
type failingAudit struct{}

func (failingAudit) Append(context.Context, ledger.AuditEntry) error {
	return errors.New("audit store unavailable")
}

func (failingAudit) List(context.Context, ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return nil, nil
}
