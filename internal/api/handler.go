package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"boost-service/internal/boost"
	"boost-service/internal/gateway"
	"boost-service/internal/ledger"
	"boost-service/internal/payload"
)

const (
	contentType     = "application/json"
	defaultPageSize = 50
	maxPageSize     = 500
)

type Charger interface {
	Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
}

type Transactions interface {
	Get(ctx context.Context, externalTrxID string) (*ledger.Transaction, error)
}

type Boosts interface {
	Get(ctx context.Context, id string) (*boost.BoostRequest, error)
	List(ctx context.Context, status boost.Status, limit int) ([]*boost.BoostRequest, error)
	Decide(ctx context.Context, id string, decision boost.Decision) (*boost.BoostRequest, error)
}

type Handler struct {
	charger        Charger
	transactions   Transactions
	boosts         Boosts
	storageTimeout time.Duration
	logger         *slog.Logger
}

func NewHandler(charger Charger, transactions Transactions, boosts Boosts, storageTimeout time.Duration,
	logger *slog.Logger) *Handler {
	return &Handler{
		charger:        charger,
		transactions:   transactions,
		boosts:         boosts,
		storageTimeout: storageTimeout,
		logger:         logger,
	}
}

// CreateBoost charges the payer. The processor call has its own timeout, so
// the request context is passed through unchanged.
func (h *Handler) CreateBoost(w http.ResponseWriter, r *http.Request) {
	var body payload.BoostRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.charger.Charge(r.Context(), gateway.ChargeRequest{
		PayerID:  body.PayerID,
		EventID:  body.EventID,
		Amount:   body.Amount.Decimal,
		Currency: body.Currency,
	})
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, gateway.ErrPayerNotOnboarded):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		resp := payload.BoostResponse{Error: gateway.ErrGatewayUnavailable.Error()}
		if result != nil {
			resp.ExternalTrxID = result.ExternalTrxID
			resp.Status = string(result.Status)
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "Error charging payer", "payerId", body.PayerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if result.Status == ledger.StatusFailed || result.Outcome == ledger.OutcomeFailure {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, payload.BoostResponse{
		ExternalTrxID: result.ExternalTrxID,
		Status:        string(result.Status),
		StatusCode:    result.StatusCode,
		StatusDetail:  result.StatusDetail,
	})
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.storageTimeout)
	defer cancel()

	txn, err := h.transactions.Get(ctx, r.PathValue("externalTrxId"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reading transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) ListBoostRequests(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPageSize)
	}

	status := boost.Status(r.URL.Query().Get("status"))
	switch status {
	case "", boost.StatusPending, boost.StatusApproved, boost.StatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.storageTimeout)
	defer cancel()

	requests, err := h.boosts.List(ctx, status, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error listing boost requests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if requests == nil {
		requests = []*boost.BoostRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

func (h *Handler) GetBoostRequest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.storageTimeout)
	defer cancel()

	request, err := h.boosts.Get(ctx, r.PathValue("id"))
	if errors.Is(err, boost.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reading boost request", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, boost.DecisionApprove)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, boost.DecisionReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision boost.Decision) {
	ctx, cancel := context.WithTimeout(r.Context(), h.storageTimeout)
	defer cancel()

	decided, err := h.boosts.Decide(ctx, r.PathValue("id"), decision)
	switch {
	case errors.Is(err, boost.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, boost.ErrInvalidTransition), errors.Is(err, boost.ErrNeedsReview),
		errors.Is(err, boost.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.ErrorContext(ctx, "Error deciding boost request", "decision", decision, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, decided)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, payload.Error{Error: msg})
}
