/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Seeds the engine with contracts that walk through the reconciliation
	cases back-office staff ask about most. Every scenario goes through the
	engine's public operations, so the seeded state is exactly what real
	traffic would produce.

AVAILABLE SCENARIOS:

	overpayment-spread:   250 received on a 3 x 100 contract
	start-date-amendment: Start moved three months back, debtors rebuilt
	paid-slots-kept:      Amendment after two months were paid
	manager-withdrawal:   Withdrawal larger than the balance is refused
	overdue-debtors:      Three past-due months picked up by the sweep
	pending-approval:     Seller-submitted payment waiting for a manager

HOW SCENARIOS WORK:
 1. Create contracts relative to the engine clock
 2. Apply receipts, amendments, withdrawals as the demo actors
 3. Return the IDs of everything created

Scenarios only add data; nothing is reset.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overpayment-spread"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description and loader

SEE ALSO:
  - handlers.go: Operations the loaders drive
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
)

var (
	demoAdmin   = ledger.Actor{ID: "demo-admin", Role: ledger.RoleAdmin}
	demoManager = ledger.Actor{ID: "demo-manager", Role: ledger.RoleManager}
	demoSeller  = ledger.Actor{ID: "demo-seller", Role: ledger.RoleSeller}
)

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *installment.Engine) (ScenarioResultDTO, error)
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "overpayment-spread",
			Name:        "Overpayment Spread",
			Description: "250 on a 3 x 100 contract: two months paid, the third underpaid by 50",
			Category:    "payments",
		},
		load: loadOverpaymentScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "start-date-amendment",
			Name:        "Start Date Amendment",
			Description: "Start moved three months into the past; past-due months become debtors",
			Category:    "amendments",
		},
		load: loadAmendmentScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "paid-slots-kept",
			Name:        "Paid Slots Keep Their Dates",
			Description: "Two months paid, then the start date moves; only open months shift",
			Category:    "amendments",
		},
		load: loadPaidSlotsScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "manager-withdrawal",
			Name:        "Manager Withdrawal",
			Description: "Manager holds 120; a 130 withdrawal is refused, a 100 one goes through",
			Category:    "balances",
		},
		load: loadWithdrawalScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "overdue-debtors",
			Name:        "Overdue Debtors",
			Description: "Contract started 100 days ago with nothing paid, swept into debtors",
			Category:    "debtors",
		},
		load: loadOverdueScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "pending-approval",
			Name:        "Pending Approval",
			Description: "Seller-submitted payment waiting for manager confirmation",
			Category:    "payments",
		},
		load: loadPendingScenario,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	for _, s := range scenarios {
		if s.ID != req.ScenarioID {
			continue
		}
		result, err := s.load(r.Context(), h.Engine)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
			return
		}
		result.ScenarioID = s.ID
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func createDemoContract(ctx context.Context, e *installment.Engine, customer string, start time.Time, period int, monthly int64) (ledger.Contract, error) {
	m := decimal.NewFromInt(monthly)
	c, _, err := e.CreateContract(ctx, installment.CreateContractRequest{
		CustomerID:     customer,
		TotalPrice:     m.Mul(decimal.NewFromInt(int64(period))),
		MonthlyPayment: m,
		Period:         period,
		StartDate:      start,
		Approved:       true,
	}, demoAdmin)
	return c, err
}

func loadOverpaymentScenario(ctx context.Context, e *installment.Engine) (ScenarioResultDTO, error) {
	c, err := createDemoContract(ctx, e, "demo-customer-a", ledger.Today(e.Clock), 3, 100)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	if _, err := e.ReceivePayment(ctx, c.ID, decimal.NewFromInt(250), ledger.CurrencyBreakdown{}, demoManager); err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{ContractIDs: []string{string(c.ID)}}, nil
}

func loadAmendmentScenario(ctx context.Context, e *installment.Engine) (ScenarioResultDTO, error) {
	today := ledger.Today(e.Clock)
	c, err := createDemoContract(ctx, e, "demo-customer-b", today, 6, 100)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	if _, err := e.AmendStartDate(ctx, c.ID, ledger.AddMonthsClamped(today, -3), demoAdmin); err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{ContractIDs: []string{string(c.ID)}}, nil
}

func loadPaidSlotsScenario(ctx context.Context, e *installment.Engine) (ScenarioResultDTO, error) {
	today := ledger.Today(e.Clock)
	c, err := createDemoContract(ctx, e, "demo-customer-d", ledger.AddMonthsClamped(today, -2), 6, 100)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	if _, err := e.ReceivePayment(ctx, c.ID, decimal.NewFromInt(200), ledger.CurrencyBreakdown{}, demoManager); err != nil {
		return ScenarioResultDTO{}, err
	}
	if _, err := e.AmendStartDate(ctx, c.ID, ledger.AddMonthsClamped(today, -4), demoAdmin); err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{ContractIDs: []string{string(c.ID)}}, nil
}

func loadWithdrawalScenario(ctx context.Context, e *installment.Engine) (ScenarioResultDTO, error) {
	c, err := createDemoContract(ctx, e, "demo-customer-c", ledger.Today(e.Clock), 3, 100)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	// Fresh manager per load so earlier scenarios do not top up the balance.
	cashier := ledger.Actor{ID: "demo-manager-" + uuid.NewString()[:8], Role: ledger.RoleManager}
	if _, err := e.ReceivePayment(ctx, c.ID, decimal.NewFromInt(120), ledger.CurrencyBreakdown{}, cashier); err != nil {
		return ScenarioResultDTO{}, err
	}

	manager := ledger.ManagerID(cashier.ID)
	_, err = e.Withdraw(ctx, installment.WithdrawRequest{ManagerID: manager, Dollar: decimal.NewFromInt(130), Reason: "demo: too much"}, cashier)
	var funds *ledger.InsufficientFundsError
	if !errors.As(err, &funds) {
		return ScenarioResultDTO{}, fmt.Errorf("expected insufficient funds, got %v", err)
	}
	expense, err := e.Withdraw(ctx, installment.WithdrawRequest{ManagerID: manager, Dollar: decimal.NewFromInt(100), Reason: "demo: office rent"}, cashier)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{
		ContractIDs: []string{string(c.ID)},
		ManagerIDs:  []string{string(manager)},
		ExpenseIDs:  []string{string(expense.ID)},
	}, nil
}

func loadOverdueScenario(ctx context.Context, e *installment.Engine) (ScenarioResultDTO, error) {
	c, err := createDemoContract(ctx, e, "demo-customer-e", ledger.Today(e.Clock).AddDate(0, 0, -100), 6, 100)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	if _, err := e.SweepOverdueDebtors(ctx); err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{ContractIDs: []string{string(c.ID)}}, nil
}

func loadPendingScenario(ctx context.Context, e *installment.Engine) (ScenarioResultDTO, error) {
	c, err := createDemoContract(ctx, e, "demo-customer-f", ledger.Today(e.Clock), 3, 100)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	p, err := e.SubmitPendingPayment(ctx, installment.SubmitPendingRequest{
		ContractID: c.ID,
		Amount:     decimal.NewFromInt(100),
		ManagerID:  ledger.ManagerID(demoManager.ID),
	}, demoSeller)
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	return ScenarioResultDTO{
		ContractIDs:       []string{string(c.ID)},
		PendingPaymentIDs: []string{string(p.ID)},
	}, nil
}
