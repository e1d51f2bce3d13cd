/*
pending.go - Seller-submitted payments awaiting manager confirmation

PURPOSE:
  A seller records cash taken from a customer as a PendingPayment. A manager
  confirms it (the amount is then received against the contract and credited
  to the manager's balance, in the same unit of work) or rejects it.

EXPIRY:
  A submission left pending longer than Config.PendingTTL (24h by default)
  is rejected by CheckExpiredPendingPayments, which the scheduler runs
  periodically. Confirming an expired submission is a Conflict.

STATES:
  pending -> confirmed
  pending -> rejected   (manager decision or expiry)
*/
package installment

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

type SubmitPendingRequest struct {
	ContractID ledger.ContractID
	Amount     decimal.Decimal
	Breakdown  ledger.CurrencyBreakdown
	ManagerID  ledger.ManagerID // who is expected to confirm
}

// SubmitPendingPayment records a receipt for later confirmation.
func (e *Engine) SubmitPendingPayment(ctx context.Context, req SubmitPendingRequest, actor ledger.Actor) (ledger.PendingPayment, error) {
	const op = "submit_pending_payment"

	amount, err := e.resolveAmount(ctx, op, req.Amount, req.Breakdown)
	if err != nil {
		return ledger.PendingPayment{}, err
	}
	if err := e.validateAmount(op, amount); err != nil {
		return ledger.PendingPayment{}, err
	}
	breakdown, err := e.withRate(ctx, op, req.Breakdown)
	if err != nil {
		return ledger.PendingPayment{}, err
	}

	p := ledger.PendingPayment{
		ID:          ledger.PendingPaymentID(uuid.NewString()),
		ContractID:  req.ContractID,
		Amount:      amount,
		Breakdown:   breakdown,
		SubmittedBy: actor.ID,
		ManagerID:   req.ManagerID,
		Status:      ledger.PendingOpen,
		CreatedAt:   e.now(),
	}

	err = e.Store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := loadLive(ctx, tx, op, req.ContractID); err != nil {
			return err
		}
		return ledger.Internal(op, tx.SavePendingPayment(ctx, p))
	})
	if err != nil {
		return ledger.PendingPayment{}, err
	}

	e.record(ctx, ledger.AuditPendingSubmitted, "pending_payment", string(p.ID), actor, nil, map[string]any{
		"contractId": string(p.ContractID),
		"amount":     amount.StringFixed(2),
	})
	return p, nil
}

// ConfirmPendingPayment receives the pending amount against its contract and
// credits the confirming manager.
func (e *Engine) ConfirmPendingPayment(ctx context.Context, id ledger.PendingPaymentID, actor ledger.Actor) (PaymentOutcome, error) {
	const op = "confirm_pending_payment"

	pending, err := e.Store.GetPendingPayment(ctx, id)
	if err != nil {
		return PaymentOutcome{}, ledger.Internal(op, err)
	}

	manager := ledger.ManagerID(actor.ID)
	unlock := e.locks.Lock(contractKey(pending.ContractID), managerKey(manager))
	defer unlock()

	var out PaymentOutcome
	err = e.Store.WithTx(ctx, func(tx ledger.Store) error {
		p, err := tx.GetPendingPayment(ctx, id)
		if err != nil {
			return ledger.Internal(op, err)
		}
		if p.Status != ledger.PendingOpen {
			return ledger.Conflict(op, "pending_payment", string(id), "payment is already %s", p.Status)
		}
		if e.expired(p) {
			return ledger.Conflict(op, "pending_payment", string(id), "payment expired")
		}

		out, err = e.receive(ctx, tx, op, p.ContractID, p.Amount, manager, actor)
		if err != nil {
			return err
		}

		now := e.now()
		p.Status = ledger.PendingConfirmed
		p.ResolvedAt = &now
		pending = p
		return ledger.Internal(op, tx.SavePendingPayment(ctx, p))
	})
	if err != nil {
		return PaymentOutcome{}, err
	}

	e.record(ctx, ledger.AuditPendingConfirmed, "pending_payment", string(id), actor,
		[]ledger.FieldChange{{Field: "status", Old: ledger.PendingOpen, New: ledger.PendingConfirmed}},
		map[string]any{"paymentId": string(out.PaymentID), "amount": pending.Amount.StringFixed(2)})
	return out, nil
}

// RejectPendingPayment closes a submission without receiving it.
func (e *Engine) RejectPendingPayment(ctx context.Context, id ledger.PendingPaymentID, reason string, actor ledger.Actor) (ledger.PendingPayment, error) {
	const op = "reject_pending_payment"

	var p ledger.PendingPayment
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		p, err = tx.GetPendingPayment(ctx, id)
		if err != nil {
			return ledger.Internal(op, err)
		}
		if p.Status != ledger.PendingOpen {
			return ledger.Conflict(op, "pending_payment", string(id), "payment is already %s", p.Status)
		}
		now := e.now()
		p.Status = ledger.PendingRejected
		p.Reason = reason
		p.ResolvedAt = &now
		return ledger.Internal(op, tx.SavePendingPayment(ctx, p))
	})
	if err != nil {
		return ledger.PendingPayment{}, err
	}

	e.record(ctx, ledger.AuditPendingRejected, "pending_payment", string(id), actor,
		[]ledger.FieldChange{{Field: "status", Old: ledger.PendingOpen, New: ledger.PendingRejected}},
		map[string]any{"reason": reason})
	return p, nil
}

type ExpiryResult struct {
	RejectedCount int
}

// CheckExpiredPendingPayments rejects every submission older than the TTL.
func (e *Engine) CheckExpiredPendingPayments(ctx context.Context) (ExpiryResult, error) {
	const op = "check_expired_pending_payments"

	var expired []ledger.PendingPayment
	err := e.Store.WithTx(ctx, func(tx ledger.Store) error {
		open, err := tx.ListPendingPayments(ctx, ledger.PendingOpen)
		if err != nil {
			return ledger.Internal(op, err)
		}
		now := e.now()
		for _, p := range open {
			if !e.expired(p) {
				continue
			}
			p.Status = ledger.PendingRejected
			p.Reason = "expired"
			p.ResolvedAt = &now
			if err := tx.SavePendingPayment(ctx, p); err != nil {
				return ledger.Internal(op, err)
			}
			expired = append(expired, p)
		}
		return nil
	})
	if err != nil {
		return ExpiryResult{}, err
	}

	for _, p := range expired {
		e.record(ctx, ledger.AuditPendingExpired, "pending_payment", string(p.ID), ledger.SystemActor,
			[]ledger.FieldChange{{Field: "status", Old: ledger.PendingOpen, New: ledger.PendingRejected}},
			map[string]any{"contractId": string(p.ContractID), "submittedBy": p.SubmittedBy})
	}
	if len(expired) > 0 {
		log.Printf("[Engine] rejected %d expired pending payments", len(expired))
	}
	return ExpiryResult{RejectedCount: len(expired)}, nil
}

// PendingPayments lists submissions in the given status.
func (e *Engine) PendingPayments(ctx context.Context, status ledger.PendingStatus) ([]ledger.PendingPayment, error) {
	list, err := e.Store.ListPendingPayments(ctx, status)
	return list, ledger.Internal("list_pending_payments", err)
}

func (e *Engine) expired(p ledger.PendingPayment) bool {
	return !e.now().Before(p.CreatedAt.Add(e.Config.PendingTTL))
}
