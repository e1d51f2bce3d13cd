/*
handlers.go - HTTP API handlers for the installment engine

PURPOSE:
  Exposes installment.Engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to the engine.

ENDPOINTS:
  Contracts:
    GET    /api/contracts                       List contracts
    POST   /api/contracts                       Create contract with schedule
    GET    /api/contracts/{id}                  Contract summary
    POST   /api/contracts/{id}/approve          Approve contract
    DELETE /api/contracts/{id}                  Soft delete

  Payments:
    POST   /api/contracts/{id}/payments         Receive payment
    POST   /api/contracts/{id}/pay-all          Pay all remaining months
    POST   /api/payments/{id}/pay-remaining     Top up an underpaid slot

  Amendments:
    GET    /api/contracts/{id}/amendment?start_date=YYYY-MM-DD  Preview
    PUT    /api/contracts/{id}/start-date                       Commit

  Debtors:
    GET    /api/debtors?as_of=YYYY-MM-DD        Debtor report
    POST   /api/debtors/declare                 Declare contracts
    POST   /api/debtors/sweep                   Run the overdue sweep now

  Balances:
    GET    /api/managers/{id}/balance
    GET    /api/managers/{id}/expenses
    POST   /api/managers/{id}/withdrawals
    POST   /api/expenses/{id}/reverse

  Pending payments:
    GET    /api/pending-payments?status=pending
    POST   /api/pending-payments
    POST   /api/pending-payments/{id}/confirm
    POST   /api/pending-payments/{id}/reject
    POST   /api/pending-payments/expire

  Exchange rate:
    GET    /api/rates/latest
    POST   /api/rates                           Publish a new rate (admin)

ACTOR:
  Every mutating request carries X-Actor-ID and X-Actor-Role. The headers are
  trusted as-is; authentication happens in front of this service.

ERROR HANDLING:
  Engine error kinds map to HTTP status:
  - 400: Validation errors, invalid input
  - 403: Forbidden
  - 404: Resource not found
  - 409: Conflict (duplicate, already declared, deleted)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
	"github.com/warp/installment-engine/rates"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *installment.Engine
}

func NewHandler(engine *installment.Engine) *Handler {
	return &Handler{Engine: engine}
}

var errMissingActor = errors.New("X-Actor-ID and X-Actor-Role headers are required")

// actorFrom reads the caller identity set by the fronting gateway.
func actorFrom(r *http.Request) (ledger.Actor, error) {
	id := r.Header.Get("X-Actor-ID")
	role := r.Header.Get("X-Actor-Role")
	if id == "" || role == "" {
		return ledger.Actor{}, errMissingActor
	}
	return ledger.Actor{ID: id, Role: ledger.Role(role)}, nil
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns live contracts; ?include_deleted=true adds deleted ones.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	filter := ledger.ContractFilter{IncludeDeleted: r.URL.Query().Get("include_deleted") == "true"}
	contracts, err := h.Engine.Contracts(r.Context(), filter)
	if err != nil {
		writeEngineError(w, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract creates a contract and its payment schedule.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	c, slots, err := h.Engine.CreateContract(r.Context(), installment.CreateContractRequest{
		ID:             ledger.ContractID(req.ID),
		CustomerID:     req.CustomerID,
		TotalPrice:     req.TotalPrice,
		InitialPayment: req.InitialPayment,
		MonthlyPayment: req.MonthlyPayment,
		Period:         req.Period,
		StartDate:      start,
		Approved:       req.Approved,
	}, actor)
	if err != nil {
		writeEngineError(w, "Failed to create contract", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateContractResponse{
		Contract: toContractDTO(c),
		Payments: toPaymentDTOs(slots),
	})
}

// GetContract returns the contract with its payments, debtors and totals.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := ledger.ContractID(chi.URLParam(r, "id"))
	summary, err := h.Engine.ContractSummary(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

func (h *Handler) ApproveContract(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	c, err := h.Engine.ApproveContract(r.Context(), ledger.ContractID(chi.URLParam(r, "id")), actor)
	if err != nil {
		writeEngineError(w, "Failed to approve contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(c))
}

func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	if err := h.Engine.DeleteContract(r.Context(), ledger.ContractID(chi.URLParam(r, "id")), actor); err != nil {
		writeEngineError(w, "Failed to delete contract", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ReceivePayment applies money to the earliest open slot of the contract.
func (h *Handler) ReceivePayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req ReceivePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := ledger.ContractID(chi.URLParam(r, "id"))
	out, err := h.Engine.ReceivePayment(r.Context(), id, req.Amount, req.Breakdown.toLedger(), actor)
	if err != nil {
		writeEngineError(w, "Failed to receive payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

func (h *Handler) PayRemaining(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	out, err := h.Engine.PayRemaining(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")), req.Amount, actor)
	if err != nil {
		writeEngineError(w, "Failed to pay remaining amount", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

func (h *Handler) PayAllRemainingMonths(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	outcomes, err := h.Engine.PayAllRemainingMonths(r.Context(), ledger.ContractID(chi.URLParam(r, "id")), req.Amount, actor)
	if err != nil {
		writeEngineError(w, "Failed to pay remaining months", err)
		return
	}
	dtos := make([]PaymentOutcomeDTO, len(outcomes))
	for i, o := range outcomes {
		dtos[i] = toOutcomeDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// AMENDMENT HANDLERS
// =============================================================================

// PreviewAmendment shows what moving the start date would change.
func (h *Handler) PreviewAmendment(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(dateLayout, r.URL.Query().Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	preview, err := h.Engine.PreviewAmendment(r.Context(), ledger.ContractID(chi.URLParam(r, "id")), start)
	if err != nil {
		writeEngineError(w, "Failed to preview amendment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAmendmentDTO(preview))
}

func (h *Handler) AmendStartDate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req AmendStartDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	result, err := h.Engine.AmendStartDate(r.Context(), ledger.ContractID(chi.URLParam(r, "id")), start, actor)
	if err != nil {
		writeEngineError(w, "Failed to amend start date", err)
		return
	}
	dto := toAmendmentDTO(result.AmendmentPreview)
	dto.EditID = result.Edit.ID
	dto.DeclareCleared = result.DeclareCleared
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// DEBTOR HANDLERS
// =============================================================================

// DebtorReport lists overdue contracts, live or as of a past date.
func (h *Handler) DebtorReport(w http.ResponseWriter, r *http.Request) {
	var q installment.DebtorReportQuery
	if s := r.URL.Query().Get("as_of"); s != "" {
		asOf, err := time.Parse(dateLayout, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
		q.AsOf = &asOf
	}

	rows, err := h.Engine.DebtorReport(r.Context(), q)
	if err != nil {
		writeEngineError(w, "Failed to build debtor report", err)
		return
	}
	dtos := make([]DebtorReportRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = DebtorReportRowDTO{
			ContractID:  string(row.ContractID),
			CustomerID:  row.CustomerID,
			PaymentID:   string(row.PaymentID),
			DueDate:     formatDate(row.DueDate),
			DebtAmount:  row.DebtAmount,
			OverdueDays: row.OverdueDays,
			IsDeclare:   row.IsDeclare,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DeclareDebtors(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req DeclareDebtorsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]ledger.ContractID, len(req.ContractIDs))
	for i, id := range req.ContractIDs {
		ids[i] = ledger.ContractID(id)
	}
	n, err := h.Engine.DeclareDebtors(r.Context(), ids, actor)
	if err != nil {
		writeEngineError(w, "Failed to declare debtors", err)
		return
	}
	writeJSON(w, http.StatusOK, DeclareDebtorsResponse{Declared: n})
}

// SweepDebtors runs the overdue sweep immediately (admin/manual trigger).
func (h *Handler) SweepDebtors(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.SweepOverdueDebtors(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to sweep debtors", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResultDTO{
		Contracts: result.Contracts,
		Created:   result.Created,
		Updated:   result.Updated,
		Removed:   result.Removed,
	})
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Balance(r.Context(), ledger.ManagerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		ManagerID: string(b.ManagerID),
		Dollar:    b.Dollar,
		UpdatedAt: b.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.Engine.Expenses(r.Context(), ledger.ManagerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = toExpenseDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Withdraw debits the manager balance. Insufficient funds is a 400.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	expense, err := h.Engine.Withdraw(r.Context(), installment.WithdrawRequest{
		ManagerID: ledger.ManagerID(chi.URLParam(r, "id")),
		Dollar:    req.Dollar,
		Local:     req.Local,
		Reason:    req.Reason,
	}, actor)
	if err != nil {
		writeEngineError(w, "Failed to withdraw", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(expense))
}

func (h *Handler) ReverseExpense(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	expense, err := h.Engine.ReverseExpense(r.Context(), ledger.ExpenseID(chi.URLParam(r, "id")), actor)
	if err != nil {
		writeEngineError(w, "Failed to reverse expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(expense))
}

// =============================================================================
// PENDING PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPendingPayments(w http.ResponseWriter, r *http.Request) {
	status := ledger.PendingStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = ledger.PendingOpen
	}
	list, err := h.Engine.PendingPayments(r.Context(), status)
	if err != nil {
		writeEngineError(w, "Failed to list pending payments", err)
		return
	}
	dtos := make([]PendingPaymentDTO, len(list))
	for i, p := range list {
		dtos[i] = toPendingDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) SubmitPendingPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req SubmitPendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.SubmitPendingPayment(r.Context(), installment.SubmitPendingRequest{
		ContractID: ledger.ContractID(req.ContractID),
		Amount:     req.Amount,
		Breakdown:  req.Breakdown.toLedger(),
		ManagerID:  ledger.ManagerID(req.ManagerID),
	}, actor)
	if err != nil {
		writeEngineError(w, "Failed to submit payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPendingDTO(p))
}

func (h *Handler) ConfirmPendingPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	out, err := h.Engine.ConfirmPendingPayment(r.Context(), ledger.PendingPaymentID(chi.URLParam(r, "id")), actor)
	if err != nil {
		writeEngineError(w, "Failed to confirm payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

func (h *Handler) RejectPendingPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	var req RejectPendingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	p, err := h.Engine.RejectPendingPayment(r.Context(), ledger.PendingPaymentID(chi.URLParam(r, "id")), req.Reason, actor)
	if err != nil {
		writeEngineError(w, "Failed to reject payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPendingDTO(p))
}

// ExpirePendingPayments runs the expiry check immediately.
func (h *Handler) ExpirePendingPayments(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.CheckExpiredPendingPayments(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to expire pending payments", err)
		return
	}
	writeJSON(w, http.StatusOK, ExpiryResultDTO{RejectedCount: result.RejectedCount})
}

// GetLatestRate returns the exchange rate used for local-currency amounts.
func (h *Handler) GetLatestRate(w http.ResponseWriter, r *http.Request) {
	if h.Engine.Rates == nil {
		writeError(w, http.StatusNotFound, "No exchange rate configured", nil)
		return
	}
	rate, err := h.Engine.Rates.LatestRate(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to get exchange rate", err)
		return
	}
	writeJSON(w, http.StatusOK, RateDTO{Rate: rate})
}

// PublishRate replaces the latest exchange rate. Only admins may publish, and
// only when the configured provider accepts published rates.
func (h *Handler) PublishRate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Missing actor", err)
		return
	}
	if actor.Role != ledger.RoleAdmin {
		writeEngineError(w, "Failed to publish exchange rate",
			ledger.Forbidden("publish_rate", "role %q may not publish rates", actor.Role))
		return
	}
	pub, ok := h.Engine.Rates.(rates.Publisher)
	if !ok {
		writeError(w, http.StatusConflict, "Exchange rate provider is read-only", nil)
		return
	}
	var req RateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := pub.Publish(r.Context(), req.Rate); err != nil {
		writeEngineError(w, "Failed to publish exchange rate", err)
		return
	}
	log.Printf("[Rates] %s published rate %s", actor.ID, req.Rate)
	writeJSON(w, http.StatusOK, RateDTO{Rate: req.Rate})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError picks the status from the error kind.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.ErrNotFound:
		return http.StatusNotFound
	case ledger.ErrValidation:
		return http.StatusBadRequest
	case ledger.ErrForbidden:
		return http.StatusForbidden
	case ledger.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
