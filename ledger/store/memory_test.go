package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/ledger"
)

func TestMemory_WithTxRollsBack(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveContract(ctx, ledger.Contract{ID: "c-1", PaymentIDs: []ledger.PaymentID{"p-1"}}))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx ledger.Store) error {
		c, err := tx.GetContract(ctx, "c-1")
		require.NoError(t, err)
		c.IsDeclare = true
		c.PaymentIDs = append(c.PaymentIDs, "p-2")
		require.NoError(t, tx.SaveContract(ctx, c))
		require.NoError(t, tx.SaveBalance(ctx, ledger.Balance{ManagerID: "mgr-1", Dollar: decimal.NewFromInt(10)}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	c, err := m.GetContract(ctx, "c-1")
	require.NoError(t, err)
	assert.False(t, c.IsDeclare)
	assert.Equal(t, []ledger.PaymentID{"p-1"}, c.PaymentIDs)
	_, err = m.GetBalance(ctx, "mgr-1")
	assert.True(t, ledger.IsNotFound(err))
}

func TestMemory_DebtorNaturalKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	due := ledger.Date(2025, 4, 1)

	require.NoError(t, m.SaveDebtor(ctx, ledger.Debtor{ID: "d-1", ContractID: "c-1", DueDate: due, DebtAmount: decimal.NewFromInt(100)}))
	require.NoError(t, m.SaveDebtor(ctx, ledger.Debtor{ID: "d-2", ContractID: "c-1", DueDate: due, DebtAmount: decimal.NewFromInt(60)}))

	debtors, err := m.ListDebtors(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, debtors, 1)
	assert.Equal(t, ledger.DebtorID("d-1"), debtors[0].ID)
	assert.True(t, decimal.NewFromInt(60).Equal(debtors[0].DebtAmount))

	require.NoError(t, m.DeleteDebtor(ctx, "d-1"))
	assert.True(t, ledger.IsNotFound(m.DeleteDebtor(ctx, "d-1")))
}

func TestMemory_UniqueMonthlySlot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	slot := ledger.Payment{ID: "p-1", ContractID: "c-1", Type: ledger.PaymentMonthly, TargetMonth: 1}
	require.NoError(t, m.SavePayment(ctx, slot))

	slot.ID = "p-dup"
	err := m.SavePayment(ctx, slot)

	assert.True(t, errors.Is(err, ledger.ErrConflict))
}

func TestMemory_AuditFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Append(ctx, ledger.AuditEntry{ID: "a-1", Action: ledger.AuditContractCreated, Entity: "contract", EntityID: "c-1"}))
	require.NoError(t, m.Append(ctx, ledger.AuditEntry{ID: "a-2", Action: ledger.AuditContractDeleted, Entity: "contract", EntityID: "c-1"}))
	require.NoError(t, m.Append(ctx, ledger.AuditEntry{ID: "a-3", Action: ledger.AuditContractCreated, Entity: "contract", EntityID: "c-2"}))

	byID, err := m.List(ctx, ledger.AuditFilter{Entity: "contract", EntityID: "c-1"})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	created, err := m.List(ctx, ledger.AuditFilter{Actions: []ledger.AuditAction{ledger.AuditContractCreated}})
	require.NoError(t, err)
	assert.Len(t, created, 2)
}
