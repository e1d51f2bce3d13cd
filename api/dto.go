/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Money is decimal.Decimal, which encodes as a JSON string ("100.5") and
  decodes from either a string or a number. Calendar dates are "2006-01-02";
  instants are RFC3339.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// CONTRACTS
// =============================================================================

type CreateContractRequest struct {
	ID             string          `json:"id,omitempty"`
	CustomerID     string          `json:"customer_id"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	InitialPayment decimal.Decimal `json:"initial_payment"`
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	Period         int             `json:"period"`
	StartDate      string          `json:"start_date"`
	Approved       bool            `json:"approved"`
}

type ContractDTO struct {
	ID                 string            `json:"id"`
	CustomerID         string            `json:"customer_id"`
	TotalPrice         decimal.Decimal   `json:"total_price"`
	InitialPayment     decimal.Decimal   `json:"initial_payment"`
	MonthlyPayment     decimal.Decimal   `json:"monthly_payment"`
	Period             int               `json:"period"`
	StartDate          string            `json:"start_date"`
	OriginalPaymentDay int               `json:"original_payment_day"`
	NextPaymentDate    string            `json:"next_payment_date"`
	PrepaidBalance     decimal.Decimal   `json:"prepaid_balance"`
	Status             string            `json:"status"`
	IsActive           bool              `json:"is_active"`
	IsDeclare          bool              `json:"is_declare"`
	EditHistory        []ContractEditDTO `json:"edit_history,omitempty"`
	CreatedAt          string            `json:"created_at"`
	DeletedAt          string            `json:"deleted_at,omitempty"`
}

type ContractEditDTO struct {
	ID                 string   `json:"id"`
	EditedAt           string   `json:"edited_at"`
	EditedBy           string   `json:"edited_by"`
	OldStartDate       string   `json:"old_start_date"`
	NewStartDate       string   `json:"new_start_date"`
	DaysShifted        int      `json:"days_shifted"`
	MonthsShifted      int      `json:"months_shifted"`
	AffectedPaymentIDs []string `json:"affected_payment_ids"`
}

type PaymentDTO struct {
	ID              string          `json:"id"`
	ContractID      string          `json:"contract_id"`
	Type            string          `json:"type"`
	TargetMonth     int             `json:"target_month"`
	Amount          decimal.Decimal `json:"amount"`
	ActualAmount    decimal.Decimal `json:"actual_amount"`
	Date            string          `json:"date"`
	IsPaid          bool            `json:"is_paid"`
	Status          string          `json:"status"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	ExcessAmount    decimal.Decimal `json:"excess_amount"`
	ConfirmedAt     string          `json:"confirmed_at,omitempty"`
	ConfirmedBy     string          `json:"confirmed_by,omitempty"`
}

type DebtorDTO struct {
	ID          string          `json:"id"`
	ContractID  string          `json:"contract_id"`
	DebtAmount  decimal.Decimal `json:"debt_amount"`
	DueDate     string          `json:"due_date"`
	OverdueDays int             `json:"overdue_days"`
}

type ContractSummaryDTO struct {
	Contract      ContractDTO     `json:"contract"`
	Payments      []PaymentDTO    `json:"payments"`
	Debtors       []DebtorDTO     `json:"debtors"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	PartialPaid   decimal.Decimal `json:"partial_paid"`
	RemainingDebt decimal.Decimal `json:"remaining_debt"`
	PaidCount     int             `json:"paid_count"`
	OpenCount     int             `json:"open_count"`
}

type CreateContractResponse struct {
	Contract ContractDTO  `json:"contract"`
	Payments []PaymentDTO `json:"payments"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type CurrencyBreakdownDTO struct {
	Dollar       decimal.Decimal `json:"dollar"`
	Local        decimal.Decimal `json:"local"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

type ReceivePaymentRequest struct {
	Amount    decimal.Decimal       `json:"amount"`
	Breakdown *CurrencyBreakdownDTO `json:"breakdown,omitempty"`
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type PaymentOutcomeDTO struct {
	Kind           string              `json:"kind"`
	ContractID     string              `json:"contract_id"`
	PaymentID      string              `json:"payment_id"`
	Type           string              `json:"type"`
	TargetMonth    int                 `json:"target_month"`
	Expected       decimal.Decimal     `json:"expected"`
	Applied        decimal.Decimal     `json:"applied"`
	Remaining      decimal.Decimal     `json:"remaining"`
	Excess         decimal.Decimal     `json:"excess"`
	PrepaidApplied decimal.Decimal     `json:"prepaid_applied"`
	PrepaidBanked  decimal.Decimal     `json:"prepaid_banked"`
	PrepaidBalance decimal.Decimal     `json:"prepaid_balance"`
	Distributed    []PaymentOutcomeDTO `json:"distributed,omitempty"`
}

// =============================================================================
// AMENDMENTS
// =============================================================================

type AmendStartDateRequest struct {
	StartDate string `json:"start_date"`
}

type SlotChangeDTO struct {
	PaymentID   string `json:"payment_id"`
	Type        string `json:"type"`
	TargetMonth int    `json:"target_month"`
	OldDate     string `json:"old_date"`
	NewDate     string `json:"new_date"`
}

type PlannedDebtorDTO struct {
	PaymentID   string          `json:"payment_id"`
	DueDate     string          `json:"due_date"`
	DebtAmount  decimal.Decimal `json:"debt_amount"`
	OverdueDays int             `json:"overdue_days"`
}

type AmendmentDTO struct {
	ContractID         string             `json:"contract_id"`
	OldStartDate       string             `json:"old_start_date"`
	NewStartDate       string             `json:"new_start_date"`
	OldNextPaymentDate string             `json:"old_next_payment_date"`
	NewNextPaymentDate string             `json:"new_next_payment_date"`
	DaysShifted        int                `json:"days_shifted"`
	MonthsShifted      int                `json:"months_shifted"`
	Payments           []SlotChangeDTO    `json:"payments"`
	Debtors            []PlannedDebtorDTO `json:"debtors"`
	DebtorsRemoved     int                `json:"debtors_removed"`
	EditID             string             `json:"edit_id,omitempty"`
	DeclareCleared     bool               `json:"declare_cleared"`
}

// =============================================================================
// DEBTORS
// =============================================================================

type DeclareDebtorsRequest struct {
	ContractIDs []string `json:"contract_ids"`
}

type DeclareDebtorsResponse struct {
	Declared int `json:"declared"`
}

type SweepResultDTO struct {
	Contracts int `json:"contracts"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
}

type DebtorReportRowDTO struct {
	ContractID  string          `json:"contract_id"`
	CustomerID  string          `json:"customer_id"`
	PaymentID   string          `json:"payment_id"`
	DueDate     string          `json:"due_date"`
	DebtAmount  decimal.Decimal `json:"debt_amount"`
	OverdueDays int             `json:"overdue_days"`
	IsDeclare   bool            `json:"is_declare"`
}

// =============================================================================
// BALANCES AND PENDING PAYMENTS
// =============================================================================

type BalanceDTO struct {
	ManagerID string          `json:"manager_id"`
	Dollar    decimal.Decimal `json:"dollar"`
	UpdatedAt string          `json:"updated_at"`
}

type WithdrawRequest struct {
	Dollar decimal.Decimal `json:"dollar"`
	Local  decimal.Decimal `json:"local"`
	Reason string          `json:"reason"`
}

type ExpenseDTO struct {
	ID           string          `json:"id"`
	ManagerID    string          `json:"manager_id"`
	Dollar       decimal.Decimal `json:"dollar"`
	Local        decimal.Decimal `json:"local"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	Reversed     bool            `json:"reversed"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    string          `json:"created_at"`
}

type SubmitPendingRequest struct {
	ContractID string                `json:"contract_id"`
	Amount     decimal.Decimal       `json:"amount"`
	Breakdown  *CurrencyBreakdownDTO `json:"breakdown,omitempty"`
	ManagerID  string                `json:"manager_id"`
}

type RejectPendingRequest struct {
	Reason string `json:"reason"`
}

type PendingPaymentDTO struct {
	ID          string          `json:"id"`
	ContractID  string          `json:"contract_id"`
	Amount      decimal.Decimal `json:"amount"`
	SubmittedBy string          `json:"submitted_by"`
	ManagerID   string          `json:"manager_id,omitempty"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   string          `json:"created_at"`
	ResolvedAt  string          `json:"resolved_at,omitempty"`
}

type ExpiryResultDTO struct {
	RejectedCount int `json:"rejected_count"`
}

type RateDTO struct {
	Rate decimal.Decimal `json:"rate"`
}

// ErrorResponse is the error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func formatInstant(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (b *CurrencyBreakdownDTO) toLedger() ledger.CurrencyBreakdown {
	if b == nil {
		return ledger.CurrencyBreakdown{}
	}
	return ledger.CurrencyBreakdown{Dollar: b.Dollar, Local: b.Local, ExchangeRate: b.ExchangeRate}
}

func toContractDTO(c ledger.Contract) ContractDTO {
	dto := ContractDTO{
		ID:                 string(c.ID),
		CustomerID:         c.CustomerID,
		TotalPrice:         c.TotalPrice,
		InitialPayment:     c.InitialPayment,
		MonthlyPayment:     c.MonthlyPayment,
		Period:             c.Period,
		StartDate:          formatDate(c.StartDate),
		OriginalPaymentDay: c.OriginalPaymentDay,
		NextPaymentDate:    formatDate(c.NextPaymentDate),
		PrepaidBalance:     c.PrepaidBalance,
		Status:             string(c.Status),
		IsActive:           c.IsActive,
		IsDeclare:          c.IsDeclare,
		CreatedAt:          c.CreatedAt.UTC().Format(time.RFC3339),
		DeletedAt:          formatInstant(c.DeletedAt),
	}
	for _, e := range c.EditHistory {
		ids := make([]string, len(e.AffectedPaymentIDs))
		for i, id := range e.AffectedPaymentIDs {
			ids[i] = string(id)
		}
		dto.EditHistory = append(dto.EditHistory, ContractEditDTO{
			ID:                 e.ID,
			EditedAt:           e.EditedAt.UTC().Format(time.RFC3339),
			EditedBy:           e.EditedBy,
			OldStartDate:       formatDate(e.OldStartDate),
			NewStartDate:       formatDate(e.NewStartDate),
			DaysShifted:        e.DaysShifted,
			MonthsShifted:      e.MonthsShifted,
			AffectedPaymentIDs: ids,
		})
	}
	return dto
}

func toPaymentDTOs(payments []ledger.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = PaymentDTO{
			ID:              string(p.ID),
			ContractID:      string(p.ContractID),
			Type:            string(p.Type),
			TargetMonth:     p.TargetMonth,
			Amount:          p.Amount,
			ActualAmount:    p.ActualAmount,
			Date:            formatDate(p.Date),
			IsPaid:          p.IsPaid,
			Status:          string(p.Status),
			RemainingAmount: p.RemainingAmount,
			ExcessAmount:    p.ExcessAmount,
			ConfirmedAt:     formatInstant(p.ConfirmedAt),
			ConfirmedBy:     p.ConfirmedBy,
		}
	}
	return dtos
}

func toDebtorDTOs(debtors []ledger.Debtor) []DebtorDTO {
	dtos := make([]DebtorDTO, len(debtors))
	for i, d := range debtors {
		dtos[i] = DebtorDTO{
			ID:          string(d.ID),
			ContractID:  string(d.ContractID),
			DebtAmount:  d.DebtAmount,
			DueDate:     formatDate(d.DueDate),
			OverdueDays: d.OverdueDays,
		}
	}
	return dtos
}

func toSummaryDTO(s installment.ContractSummary) ContractSummaryDTO {
	return ContractSummaryDTO{
		Contract:      toContractDTO(s.Contract),
		Payments:      toPaymentDTOs(s.Payments),
		Debtors:       toDebtorDTOs(s.Debtors),
		TotalPaid:     s.TotalPaid,
		PartialPaid:   s.PartialPaid,
		RemainingDebt: s.RemainingDebt,
		PaidCount:     s.PaidCount,
		OpenCount:     s.OpenCount,
	}
}

func toOutcomeDTO(o installment.PaymentOutcome) PaymentOutcomeDTO {
	dto := PaymentOutcomeDTO{
		Kind:           string(o.Kind),
		ContractID:     string(o.ContractID),
		PaymentID:      string(o.PaymentID),
		Type:           string(o.Type),
		TargetMonth:    o.TargetMonth,
		Expected:       o.Expected,
		Applied:        o.Applied,
		Remaining:      o.Remaining,
		Excess:         o.Excess,
		PrepaidApplied: o.PrepaidApplied,
		PrepaidBanked:  o.PrepaidBanked,
		PrepaidBalance: o.PrepaidBalance,
	}
	for _, d := range o.Distributed {
		dto.Distributed = append(dto.Distributed, toOutcomeDTO(d))
	}
	return dto
}

func toAmendmentDTO(p installment.AmendmentPreview) AmendmentDTO {
	dto := AmendmentDTO{
		ContractID:         string(p.ContractID),
		OldStartDate:       formatDate(p.OldStartDate),
		NewStartDate:       formatDate(p.NewStartDate),
		OldNextPaymentDate: formatDate(p.OldNextPaymentDate),
		NewNextPaymentDate: formatDate(p.NewNextPaymentDate),
		DaysShifted:        p.DaysShifted,
		MonthsShifted:      p.MonthsShifted,
		Payments:           make([]SlotChangeDTO, len(p.Payments)),
		Debtors:            make([]PlannedDebtorDTO, len(p.Debtors)),
		DebtorsRemoved:     p.DebtorsRemoved,
	}
	for i, s := range p.Payments {
		dto.Payments[i] = SlotChangeDTO{
			PaymentID:   string(s.PaymentID),
			Type:        string(s.Type),
			TargetMonth: s.TargetMonth,
			OldDate:     formatDate(s.OldDate),
			NewDate:     formatDate(s.NewDate),
		}
	}
	for i, d := range p.Debtors {
		dto.Debtors[i] = PlannedDebtorDTO{
			PaymentID:   string(d.PaymentID),
			DueDate:     formatDate(d.DueDate),
			DebtAmount:  d.DebtAmount,
			OverdueDays: d.OverdueDays,
		}
	}
	return dto
}

func toExpenseDTO(e ledger.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:           string(e.ID),
		ManagerID:    string(e.ManagerID),
		Dollar:       e.Dollar,
		Local:        e.Local,
		ExchangeRate: e.ExchangeRate,
		Amount:       e.Amount,
		Reason:       e.Reason,
		Reversed:     e.Reversed,
		CreatedBy:    e.CreatedBy,
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toPendingDTO(p ledger.PendingPayment) PendingPaymentDTO {
	return PendingPaymentDTO{
		ID:          string(p.ID),
		ContractID:  string(p.ContractID),
		Amount:      p.Amount,
		SubmittedBy: p.SubmittedBy,
		ManagerID:   string(p.ManagerID),
		Status:      string(p.Status),
		Reason:      p.Reason,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
		ResolvedAt:  formatInstant(p.ResolvedAt),
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ScenarioResultDTO struct {
	ScenarioID        string   `json:"scenario_id"`
	ContractIDs       []string `json:"contract_ids"`
	ManagerIDs        []string `json:"manager_ids,omitempty"`
	ExpenseIDs        []string `json:"expense_ids,omitempty"`
	PendingPaymentIDs []string `json:"pending_payment_ids,omitempty"`
}
