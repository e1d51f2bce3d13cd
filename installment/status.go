/*
status.go - Payment status calculator

PURPOSE:
  Classifies money received against what a slot expects. Pure: no store
  access, no clock. Every payment-receiving operation goes through Classify.

ALGORITHM:
  1. If the contract carries a prepaid balance above tolerance and the money
     received falls short, cover the shortage from the balance (as much as
     the balance allows).
  2. diff = actual - expected
       |diff| <= 0.01  -> Paid
       diff  < -0.01   -> Underpaid{Remaining: -diff}
       diff  >  0.01   -> Overpaid{Excess: diff}

EXAMPLE:
  Classify(dollars(105), dollars(100), zero)
  // Kind: Overpaid, Excess: 5.00

SEE ALSO:
  - distributor.go: spreads Excess across later slots
*/
package installment

import (
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

// OutcomeKind tags a PaymentOutcome. Remaining is only meaningful for
// Underpaid, Excess only for Overpaid.
type OutcomeKind string

const (
	OutcomePending   OutcomeKind = "PENDING"
	OutcomePaid      OutcomeKind = "PAID"
	OutcomeUnderpaid OutcomeKind = "UNDERPAID"
	OutcomeOverpaid  OutcomeKind = "OVERPAID"
)

// Status maps the outcome to the stored payment status.
func (k OutcomeKind) Status() ledger.PaymentStatus {
	switch k {
	case OutcomePaid:
		return ledger.StatusPaid
	case OutcomeUnderpaid:
		return ledger.StatusUnderpaid
	case OutcomeOverpaid:
		return ledger.StatusOverpaid
	default:
		return ledger.StatusPending
	}
}

// Classification is the result of Classify.
type Classification struct {
	Kind      OutcomeKind
	Expected  decimal.Decimal
	Actual    decimal.Decimal // received plus any prepaid applied
	Remaining decimal.Decimal
	Excess    decimal.Decimal

	PrepaidApplied decimal.Decimal
	PrepaidAfter   decimal.Decimal
}

// Classify compares actual against expected, drawing on prepaid first.
func Classify(actual, expected, prepaid decimal.Decimal) Classification {
	c := Classification{
		Expected:       expected,
		Actual:         actual,
		Remaining:      decimal.Zero,
		Excess:         decimal.Zero,
		PrepaidApplied: decimal.Zero,
		PrepaidAfter:   prepaid,
	}

	if prepaid.GreaterThan(ledger.Tolerance) && actual.LessThan(expected) {
		applied := decimal.Min(expected.Sub(actual), prepaid)
		c.Actual = actual.Add(applied)
		c.PrepaidApplied = applied
		c.PrepaidAfter = prepaid.Sub(applied)
	}

	diff := c.Actual.Sub(expected)
	switch {
	case diff.Abs().LessThanOrEqual(ledger.Tolerance):
		c.Kind = OutcomePaid
	case diff.IsNegative():
		c.Kind = OutcomeUnderpaid
		c.Remaining = diff.Neg()
	default:
		c.Kind = OutcomeOverpaid
		c.Excess = diff
	}
	return c
}

// PaymentOutcome reports what one receipt did to one slot. Distributed lists
// the later slots settled from an overpayment, in TargetMonth order.
type PaymentOutcome struct {
	Kind        OutcomeKind
	ContractID  ledger.ContractID
	PaymentID   ledger.PaymentID
	Type        ledger.PaymentType
	TargetMonth int
	Expected    decimal.Decimal
	Applied     decimal.Decimal
	Remaining   decimal.Decimal
	Excess      decimal.Decimal

	PrepaidApplied decimal.Decimal
	PrepaidBanked  decimal.Decimal
	PrepaidBalance decimal.Decimal

	Distributed []PaymentOutcome
}

func outcomeFor(p ledger.Payment, kind OutcomeKind, expected, applied decimal.Decimal) PaymentOutcome {
	return PaymentOutcome{
		Kind:           kind,
		ContractID:     p.ContractID,
		PaymentID:      p.ID,
		Type:           p.Type,
		TargetMonth:    p.TargetMonth,
		Expected:       expected,
		Applied:        applied,
		Remaining:      decimal.Zero,
		Excess:         decimal.Zero,
		PrepaidApplied: decimal.Zero,
		PrepaidBanked:  decimal.Zero,
	}
}
