// Package store provides Store implementations.
package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/installment-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore and ledger.AuditLog in memory.
type Memory struct {
	mu    sync.RWMutex
	data  *memData
	audit []ledger.AuditEntry
}

type debtorKey struct {
	ContractID ledger.ContractID
	DueDate    string
}

type memData struct {
	contracts map[ledger.ContractID]ledger.Contract
	payments  map[ledger.PaymentID]ledger.Payment
	debtors   map[ledger.DebtorID]ledger.Debtor
	debtorIdx map[debtorKey]ledger.DebtorID
	balances  map[ledger.ManagerID]ledger.Balance
	expenses  map[ledger.ExpenseID]ledger.Expense
	pending   map[ledger.PendingPaymentID]ledger.PendingPayment
}

func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		contracts: make(map[ledger.ContractID]ledger.Contract),
		payments:  make(map[ledger.PaymentID]ledger.Payment),
		debtors:   make(map[ledger.DebtorID]ledger.Debtor),
		debtorIdx: make(map[debtorKey]ledger.DebtorID),
		balances:  make(map[ledger.ManagerID]ledger.Balance),
		expenses:  make(map[ledger.ExpenseID]ledger.Expense),
		pending:   make(map[ledger.PendingPaymentID]ledger.PendingPayment),
	}
}

func keyOf(contractID ledger.ContractID, due time.Time) debtorKey {
	return debtorKey{ContractID: contractID, DueDate: ledger.DateOf(due).Format("2006-01-02")}
}

func cloneContract(c ledger.Contract) ledger.Contract {
	c.PaymentIDs = slices.Clone(c.PaymentIDs)
	c.EditHistory = slices.Clone(c.EditHistory)
	for i := range c.EditHistory {
		c.EditHistory[i].AffectedPaymentIDs = slices.Clone(c.EditHistory[i].AffectedPaymentIDs)
	}
	return c
}

// =============================================================================
// UNLOCKED OPERATIONS (shared by Memory and the transactional view)
// =============================================================================

func (d *memData) getContract(id ledger.ContractID) (ledger.Contract, error) {
	c, ok := d.contracts[id]
	if !ok {
		return ledger.Contract{}, ledger.NotFound("contract", string(id))
	}
	return cloneContract(c), nil
}

func (d *memData) saveContract(c ledger.Contract) error {
	d.contracts[c.ID] = cloneContract(c)
	return nil
}

func (d *memData) listContracts(f ledger.ContractFilter) []ledger.Contract {
	var result []ledger.Contract
	for _, c := range d.contracts {
		if !f.IncludeDeleted && c.IsDeleted() {
			continue
		}
		if f.OnlyActive && (!c.IsActive || c.Status != ledger.ContractActive) {
			continue
		}
		if f.ExcludeDeclared && c.IsDeclare {
			continue
		}
		result = append(result, cloneContract(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (d *memData) getPayment(id ledger.PaymentID) (ledger.Payment, error) {
	p, ok := d.payments[id]
	if !ok {
		return ledger.Payment{}, ledger.NotFound("payment", string(id))
	}
	return p, nil
}

func (d *memData) savePayment(p ledger.Payment) error {
	if p.IsMonthly() {
		for _, other := range d.payments {
			if other.ID != p.ID && other.ContractID == p.ContractID &&
				other.IsMonthly() && other.TargetMonth == p.TargetMonth {
				return ledger.Conflict("save_payment", "payment", string(p.ID),
					"contract %s already has a slot for month %d", p.ContractID, p.TargetMonth)
			}
		}
	}
	d.payments[p.ID] = p
	return nil
}

func (d *memData) listPayments(contractID ledger.ContractID) []ledger.Payment {
	var result []ledger.Payment
	for _, p := range d.payments {
		if p.ContractID == contractID {
			result = append(result, p)
		}
	}
	ledger.SortSlots(result)
	return result
}

func (d *memData) listDebtors(contractID ledger.ContractID) []ledger.Debtor {
	var result []ledger.Debtor
	for _, db := range d.debtors {
		if contractID == "" || db.ContractID == contractID {
			result = append(result, db)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		return result[i].ContractID < result[j].ContractID
	})
	return result
}

func (d *memData) saveDebtor(db ledger.Debtor) error {
	k := keyOf(db.ContractID, db.DueDate)
	if existing, ok := d.debtorIdx[k]; ok && existing != db.ID {
		// Natural key wins: keep the stored identity.
		prev := d.debtors[existing]
		db.ID = existing
		db.CreatedAt = prev.CreatedAt
		db.CreatedBy = prev.CreatedBy
	}
	if prev, ok := d.debtors[db.ID]; ok {
		delete(d.debtorIdx, keyOf(prev.ContractID, prev.DueDate))
	}
	d.debtors[db.ID] = db
	d.debtorIdx[k] = db.ID
	return nil
}

func (d *memData) deleteDebtor(id ledger.DebtorID) error {
	db, ok := d.debtors[id]
	if !ok {
		return ledger.NotFound("debtor", string(id))
	}
	delete(d.debtors, id)
	delete(d.debtorIdx, keyOf(db.ContractID, db.DueDate))
	return nil
}

func (d *memData) deleteDebtors(contractID ledger.ContractID) int {
	n := 0
	for id, db := range d.debtors {
		if db.ContractID == contractID {
			delete(d.debtors, id)
			delete(d.debtorIdx, keyOf(db.ContractID, db.DueDate))
			n++
		}
	}
	return n
}

func (d *memData) getBalance(id ledger.ManagerID) (ledger.Balance, error) {
	b, ok := d.balances[id]
	if !ok {
		return ledger.Balance{}, ledger.NotFound("balance", string(id))
	}
	return b, nil
}

func (d *memData) getExpense(id ledger.ExpenseID) (ledger.Expense, error) {
	e, ok := d.expenses[id]
	if !ok {
		return ledger.Expense{}, ledger.NotFound("expense", string(id))
	}
	return e, nil
}

func (d *memData) listExpenses(managerID ledger.ManagerID) []ledger.Expense {
	var result []ledger.Expense
	for _, e := range d.expenses {
		if e.ManagerID == managerID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (d *memData) getPending(id ledger.PendingPaymentID) (ledger.PendingPayment, error) {
	p, ok := d.pending[id]
	if !ok {
		return ledger.PendingPayment{}, ledger.NotFound("pending_payment", string(id))
	}
	return p, nil
}

func (d *memData) listPending(status ledger.PendingStatus) []ledger.PendingPayment {
	var result []ledger.PendingPayment
	for _, p := range d.pending {
		if p.Status == status {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.contracts {
		c.contracts[k] = cloneContract(v)
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.debtors {
		c.debtors[k] = v
	}
	for k, v := range d.debtorIdx {
		c.debtorIdx[k] = v
	}
	for k, v := range d.balances {
		c.balances[k] = v
	}
	for k, v := range d.expenses {
		c.expenses[k] = v
	}
	for k, v := range d.pending {
		c.pending[k] = v
	}
	return c
}

// =============================================================================
// LOCKED PUBLIC API (ledger.Store)
// =============================================================================

func (m *Memory) GetContract(_ context.Context, id ledger.ContractID) (ledger.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getContract(id)
}

func (m *Memory) SaveContract(_ context.Context, c ledger.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.saveContract(c)
}

func (m *Memory) ListContracts(_ context.Context, f ledger.ContractFilter) ([]ledger.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listContracts(f), nil
}

func (m *Memory) GetPayment(_ context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getPayment(id)
}

func (m *Memory) SavePayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.savePayment(p)
}

func (m *Memory) ListPayments(_ context.Context, contractID ledger.ContractID) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listPayments(contractID), nil
}

func (m *Memory) ListDebtors(_ context.Context, contractID ledger.ContractID) ([]ledger.Debtor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listDebtors(contractID), nil
}

func (m *Memory) ListAllDebtors(_ context.Context) ([]ledger.Debtor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listDebtors(""), nil
}

func (m *Memory) SaveDebtor(_ context.Context, d ledger.Debtor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.saveDebtor(d)
}

func (m *Memory) DeleteDebtor(_ context.Context, id ledger.DebtorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.deleteDebtor(id)
}

func (m *Memory) DeleteDebtors(_ context.Context, contractID ledger.ContractID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.deleteDebtors(contractID), nil
}

func (m *Memory) GetBalance(_ context.Context, id ledger.ManagerID) (ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getBalance(id)
}

func (m *Memory) SaveBalance(_ context.Context, b ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.balances[b.ManagerID] = b
	return nil
}

func (m *Memory) GetExpense(_ context.Context, id ledger.ExpenseID) (ledger.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getExpense(id)
}

func (m *Memory) SaveExpense(_ context.Context, e ledger.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.expenses[e.ID] = e
	return nil
}

func (m *Memory) ListExpenses(_ context.Context, managerID ledger.ManagerID) ([]ledger.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listExpenses(managerID), nil
}

func (m *Memory) GetPendingPayment(_ context.Context, id ledger.PendingPaymentID) (ledger.PendingPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getPending(id)
}

func (m *Memory) SavePendingPayment(_ context.Context, p ledger.PendingPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.pending[p.ID] = p
	return nil
}

func (m *Memory) ListPendingPayments(_ context.Context, status ledger.PendingStatus) ([]ledger.PendingPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listPending(status), nil
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog)
// =============================================================================

func (m *Memory) Append(_ context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) List(_ context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.AuditEntry
	for _, e := range m.audit {
		if f.Entity != "" && e.Entity != f.Entity {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL VIEW (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&memView{data: m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// memView operates on the locked data without re-acquiring the mutex.
type memView struct {
	data *memData
}

func (v *memView) GetContract(_ context.Context, id ledger.ContractID) (ledger.Contract, error) {
	return v.data.getContract(id)
}

func (v *memView) SaveContract(_ context.Context, c ledger.Contract) error {
	return v.data.saveContract(c)
}

func (v *memView) ListContracts(_ context.Context, f ledger.ContractFilter) ([]ledger.Contract, error) {
	return v.data.listContracts(f), nil
}

func (v *memView) GetPayment(_ context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	return v.data.getPayment(id)
}

func (v *memView) SavePayment(_ context.Context, p ledger.Payment) error {
	return v.data.savePayment(p)
}

func (v *memView) ListPayments(_ context.Context, contractID ledger.ContractID) ([]ledger.Payment, error) {
	return v.data.listPayments(contractID), nil
}

func (v *memView) ListDebtors(_ context.Context, contractID ledger.ContractID) ([]ledger.Debtor, error) {
	return v.data.listDebtors(contractID), nil
}

func (v *memView) ListAllDebtors(_ context.Context) ([]ledger.Debtor, error) {
	return v.data.listDebtors(""), nil
}

func (v *memView) SaveDebtor(_ context.Context, d ledger.Debtor) error {
	return v.data.saveDebtor(d)
}

func (v *memView) DeleteDebtor(_ context.Context, id ledger.DebtorID) error {
	return v.data.deleteDebtor(id)
}

func (v *memView) DeleteDebtors(_ context.Context, contractID ledger.ContractID) (int, error) {
	return v.data.deleteDebtors(contractID), nil
}

func (v *memView) GetBalance(_ context.Context, id ledger.ManagerID) (ledger.Balance, error) {
	return v.data.getBalance(id)
}

func (v *memView) SaveBalance(_ context.Context, b ledger.Balance) error {
	v.data.balances[b.ManagerID] = b
	return nil
}

func (v *memView) GetExpense(_ context.Context, id ledger.ExpenseID) (ledger.Expense, error) {
	return v.data.getExpense(id)
}

func (v *memView) SaveExpense(_ context.Context, e ledger.Expense) error {
	v.data.expenses[e.ID] = e
	return nil
}

func (v *memView) ListExpenses(_ context.Context, managerID ledger.ManagerID) ([]ledger.Expense, error) {
	return v.data.listExpenses(managerID), nil
}

func (v *memView) GetPendingPayment(_ context.Context, id ledger.PendingPaymentID) (ledger.PendingPayment, error) {
	return v.data.getPending(id)
}

func (v *memView) SavePendingPayment(_ context.Context, p ledger.PendingPayment) error {
	v.data.pending[p.ID] = p
	return nil
}

func (v *memView) ListPendingPayments(_ context.Context, status ledger.PendingStatus) ([]ledger.PendingPayment, error) {
	return v.data.listPending(status), nil
}
