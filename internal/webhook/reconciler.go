package webhook

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"boost-service/internal/boost"
	"boost-service/internal/gateway"
	"boost-service/internal/ledger"
	"boost-service/internal/payload"
	"github.com/VictoriaMetrics/metrics"
)

var (
	webhookReceivedCounter  = metrics.GetOrCreateCounter(`boost_webhook_total{result="received"}`)
	webhookMalformedCounter = metrics.GetOrCreateCounter(`boost_webhook_total{result="malformed"}`)
	webhookErrorCounter     = metrics.GetOrCreateCounter(`boost_webhook_total{result="error"}`)
	webhookConflictCounter  = metrics.GetOrCreateCounter(`boost_webhook_total{result="conflict"}`)
	webhookPanicCounter     = metrics.GetOrCreateCounter(`boost_webhook_total{result="panic"}`)

	webhookDurationHistogram = metrics.GetOrCreateHistogram(`boost_webhook_duration_milliseconds`)
)

var ErrMissingCorrelationID = errors.New("webhook has no externalTrxId")

const reasonPaymentOverturned = "processor reported failure after synchronous success"

type Ledger interface {
	ApplyWebhookResult(ctx context.Context, externalTrxID string, r ledger.Result) (*ledger.Settlement, error)
}

type Coordinator interface {
	OnPaymentSuccess(ctx context.Context, txn *ledger.Transaction) (*boost.BoostRequest, error)
	FlagForReview(ctx context.Context, paymentID, reason string) error
}

// Reconciler merges the processor's authoritative outcome into the ledger and
// drives the boost workflow off the resulting transition.
type Reconciler struct {
	ledger         Ledger
	coordinator    Coordinator
	codes          gateway.Codes
	handoffTimeout time.Duration
	logger         *slog.Logger
}

func NewReconciler(l Ledger, coordinator Coordinator, codes gateway.Codes, handoffTimeout time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:         l,
		coordinator:    coordinator,
		codes:          codes,
		handoffTimeout: handoffTimeout,
		logger:         logger,
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, n payload.Notification) (*ledger.Settlement, error) {
	startTime := time.Now()
	defer func() {
		webhookDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	if n.ExternalTrxID == "" {
		webhookMalformedCounter.Inc()
		return nil, ErrMissingCorrelationID
	}
	ctx = ledger.WithTransaction(ctx, n.ExternalTrxID)
	webhookReceivedCounter.Inc()

	outcome := r.codes.Webhook(n.StatusCode)
	r.logger.InfoContext(ctx, "Reconciling webhook", "statusCode", n.StatusCode, "outcome", outcome)

	settlement, err := r.ledger.ApplyWebhookResult(ctx, n.ExternalTrxID, ledger.Result{
		Outcome:       outcome,
		StatusCode:    n.StatusCode,
		StatusDetail:  n.StatusDetail,
		InternalTrxID: n.InternalTrxID,
		SubscriberID:  n.SubscriberID,
		Amount:        n.Amount.Decimal,
		Currency:      n.Currency,
	})
	if errors.Is(err, ledger.ErrConflictingSettlement) {
		webhookConflictCounter.Inc()
		return nil, err
	}
	if err != nil {
		webhookErrorCounter.Inc()
		return nil, err
	}

	if err := r.handoff(ctx, settlement); err != nil {
		webhookErrorCounter.Inc()
		return settlement, err
	}

	if settlement.Effect == ledger.EffectRecovered {
		r.logger.WarnContext(ctx, "Recovery record needs manual review", "amount", n.Amount.String(),
			"currency", n.Currency, "subscriberId", n.SubscriberID)
	}

	return settlement, nil
}

// handoff drives the boost workflow for a settlement, detached from the
// caller's context. Duplicates repeat the handoff of the settled state, so a
// redelivery completes one that failed the first time.
func (r *Reconciler) handoff(ctx context.Context, settlement *ledger.Settlement) error {
	txn := settlement.Transaction

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.handoffTimeout)
	defer cancel()

	switch settlement.Effect {
	case ledger.EffectConfirmed:
		_, err := r.coordinator.OnPaymentSuccess(ctx, txn)
		return err
	case ledger.EffectOverturned:
		return r.coordinator.FlagForReview(ctx, txn.ExternalTrxID, reasonPaymentOverturned)
	case ledger.EffectDuplicate:
		switch {
		case txn.Status == ledger.StatusConfirmed:
			r.logger.InfoContext(ctx, "Duplicate webhook delivery, repeating boost handoff")
			_, err := r.coordinator.OnPaymentSuccess(ctx, txn)
			return err
		case txn.Status == ledger.StatusFailed && txn.NeedsReview:
			r.logger.InfoContext(ctx, "Duplicate webhook delivery, repeating review flag")
			return r.coordinator.FlagForReview(ctx, txn.ExternalTrxID, reasonPaymentOverturned)
		default:
			r.logger.InfoContext(ctx, "Duplicate webhook delivery, nothing to do")
		}
	}
	return nil
}
