package installment_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// CLASSIFY - Boundary classification
// =============================================================================

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		name      string
		actual    string
		kind      installment.OutcomeKind
		remaining string
		excess    string
	}{
		{"sub-cent over is paid", "100.009", installment.OutcomePaid, "0", "0"},
		{"exact", "100.00", installment.OutcomePaid, "0", "0"},
		{"one cent over is still paid", "100.01", installment.OutcomePaid, "0", "0"},
		{"one cent under is still paid", "99.99", installment.OutcomePaid, "0", "0"},
		{"two cents under", "99.98", installment.OutcomeUnderpaid, "0.02", "0"},
		{"five over", "105.00", installment.OutcomeOverpaid, "0", "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := installment.Classify(dec(tt.actual), dec("100"), decimal.Zero)

			assert.Equal(t, tt.kind, c.Kind)
			assertMoney(t, tt.remaining, c.Remaining)
			assertMoney(t, tt.excess, c.Excess)
			assertMoney(t, "0", c.PrepaidApplied)
		})
	}
}

func TestClassify_PrepaidCoversShortage(t *testing.T) {
	// GIVEN: 50 prepaid on the contract
	// WHEN: 60 arrives against a 100 slot
	// THEN: 40 is drawn from prepaid and the slot is paid

	c := installment.Classify(dec("60"), dec("100"), dec("50"))

	assert.Equal(t, installment.OutcomePaid, c.Kind)
	assertMoney(t, "40", c.PrepaidApplied)
	assertMoney(t, "10", c.PrepaidAfter)
	assertMoney(t, "100", c.Actual)
}

func TestClassify_PrepaidPartiallyCoversShortage(t *testing.T) {
	c := installment.Classify(dec("30"), dec("100"), dec("50"))

	assert.Equal(t, installment.OutcomeUnderpaid, c.Kind)
	assertMoney(t, "50", c.PrepaidApplied)
	assertMoney(t, "0", c.PrepaidAfter)
	assertMoney(t, "20", c.Remaining)
}

func TestClassify_PrepaidAtToleranceIsIgnored(t *testing.T) {
	c := installment.Classify(dec("90"), dec("100"), ledger.Tolerance)

	assert.Equal(t, installment.OutcomeUnderpaid, c.Kind)
	assertMoney(t, "0", c.PrepaidApplied)
	assertMoney(t, "0.01", c.PrepaidAfter)
	assertMoney(t, "10", c.Remaining)
}

func TestClassify_PrepaidUntouchedOnOverpayment(t *testing.T) {
	c := installment.Classify(dec("120"), dec("100"), dec("50"))

	assert.Equal(t, installment.OutcomeOverpaid, c.Kind)
	assertMoney(t, "50", c.PrepaidAfter)
	assertMoney(t, "20", c.Excess)
}

func TestOutcomeKind_Status(t *testing.T) {
	assert.Equal(t, ledger.StatusPaid, installment.OutcomePaid.Status())
	assert.Equal(t, ledger.StatusUnderpaid, installment.OutcomeUnderpaid.Status())
	assert.Equal(t, ledger.StatusOverpaid, installment.OutcomeOverpaid.Status())
	assert.Equal(t, ledger.StatusPending, installment.OutcomePending.Status())
}
