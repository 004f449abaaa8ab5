package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"boost-service/internal/payload"
)

const maxBodyBytes = 64 << 10

// Handler acknowledges every delivery with 200, whatever happens while
// processing it. Errors are logged for out-of-band remediation; a non-2xx
// answer would only make the processor retry.
type Handler struct {
	reconciler *Reconciler
	ackCode    string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewHandler(reconciler *Reconciler, ackCode string, timeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		ackCode:    ackCode,
		timeout:    timeout,
		logger:     logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer h.ack(w)

	defer func() {
		if rec := recover(); rec != nil {
			webhookPanicCounter.Inc()
			h.logger.ErrorContext(r.Context(), "Panic while processing webhook", "error", fmt.Sprint(rec))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		webhookMalformedCounter.Inc()
		h.logger.ErrorContext(r.Context(), "Error reading webhook body", "error", err)
		return
	}

	var n payload.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		webhookMalformedCounter.Inc()
		h.logger.ErrorContext(r.Context(), "Error unmarshalling webhook", "body", string(body), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	settlement, err := h.reconciler.Reconcile(ctx, n)
	if err != nil {
		h.logger.ErrorContext(ctx, "Error reconciling webhook", "externalTrxId", n.ExternalTrxID,
			"statusCode", n.StatusCode, "error", err)
		return
	}

	h.logger.InfoContext(ctx, "Webhook reconciled", "externalTrxId", n.ExternalTrxID, "effect", settlement.Effect,
		"status", settlement.Transaction.Status)
}

func (h *Handler) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload.Ack{StatusCode: h.ackCode, StatusDetail: "received"})
}
