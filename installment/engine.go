/*
Package installment implements payment reconciliation and the contract
lifecycle on top of the ledger records.

PURPOSE:
  Engine is the single entry point used by the boundary layer (HTTP handlers,
  scheduled tasks). Every operation returns a structured result or an error
  that unwraps to one of the ledger error kinds.

FLOW:
  payment  -> Classify (status.go) -> distributeExcess (distributor.go)
           -> store (one unit of work) -> audit
  amendment -> planAmendment (amendment.go) -> debtor rebuild -> audit
  sweep    -> SweepOverdueDebtors (debtors.go) on its own schedule

CONSISTENCY:
  Mutations of one contract (or one manager balance) are serialized by an
  in-process keyed mutex AND run inside ledger.TxStore.WithTx, so the
  Contract+Payment+Debtor+Balance writes of one operation commit together.
  Audit entries are written after commit and never fail the operation.

SEE ALSO:
  - ledger/store.go: persistence interfaces
  - api/scheduler.go: periodic sweep and pending-payment expiry
*/
package installment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
	"github.com/warp/installment-engine/rates"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

type Config struct {
	// MaxPaymentAmount rejects any single receipt above this amount.
	MaxPaymentAmount decimal.Decimal
	// MaxPrepaidBalance caps the surplus a contract may carry forward.
	MaxPrepaidBalance decimal.Decimal
	// PendingTTL is how long a seller-submitted payment waits for confirmation.
	PendingTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPaymentAmount:  decimal.NewFromInt(1_000_000),
		MaxPrepaidBalance: decimal.NewFromInt(10_000),
		PendingTTL:        24 * time.Hour,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store  ledger.TxStore
	Audit  *ledger.Recorder
	Clock  ledger.Clock
	Rates  rates.Provider
	Config Config

	locks *keyedMutex
}

// NewEngine wires an engine. auditLog and rateProvider may be nil; a nil
// clock means the system clock.
func NewEngine(store ledger.TxStore, auditLog ledger.AuditLog, clock ledger.Clock, rateProvider rates.Provider, cfg Config) *Engine {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	defaults := DefaultConfig()
	if cfg.MaxPaymentAmount.IsZero() {
		cfg.MaxPaymentAmount = defaults.MaxPaymentAmount
	}
	if cfg.MaxPrepaidBalance.IsZero() {
		cfg.MaxPrepaidBalance = defaults.MaxPrepaidBalance
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = defaults.PendingTTL
	}
	return &Engine{
		Store:  store,
		Audit:  ledger.NewRecorder(auditLog, clock),
		Clock:  clock,
		Rates:  rateProvider,
		Config: cfg,
		locks:  newKeyedMutex(),
	}
}

func (e *Engine) now() time.Time   { return e.Clock.Now() }
func (e *Engine) today() time.Time { return ledger.Today(e.Clock) }

func contractKey(id ledger.ContractID) string { return "contract:" + string(id) }
func managerKey(id ledger.ManagerID) string   { return "manager:" + string(id) }

// validateAmount checks a money amount received from outside.
func (e *Engine) validateAmount(op string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ledger.Validation(op, "amount must be positive, got %s", amount.StringFixed(2))
	}
	if amount.GreaterThan(e.Config.MaxPaymentAmount) {
		return ledger.Validation(op, "amount %s exceeds maximum %s",
			amount.StringFixed(2), e.Config.MaxPaymentAmount.StringFixed(2))
	}
	return nil
}

// record writes an audit entry for actor. Failures are swallowed by Recorder.
func (e *Engine) record(ctx context.Context, action ledger.AuditAction, entity, entityID string, actor ledger.Actor, changes []ledger.FieldChange, metadata map[string]any) {
	e.Audit.Record(ctx, ledger.AuditEntry{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		UserID:   actor.ID,
		Changes:  changes,
		Metadata: metadata,
	})
}

// loadLive fetches a contract and rejects soft-deleted ones.
func loadLive(ctx context.Context, s ledger.Store, op string, id ledger.ContractID) (ledger.Contract, error) {
	c, err := s.GetContract(ctx, id)
	if err != nil {
		return ledger.Contract{}, ledger.Internal(op, err)
	}
	if c.IsDeleted() {
		return ledger.Contract{}, ledger.Conflict(op, "contract", string(id), "contract is deleted")
	}
	return c, nil
}

func paymentIDs(payments []ledger.Payment) []string {
	ids := make([]string, len(payments))
	for i, p := range payments {
		ids[i] = string(p.ID)
	}
	return ids
}
