package boost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boost-service/internal/ledger"
	"boost-service/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	requestCreatedCounter = metrics.GetOrCreateCounter(`boost_coordinator_total{result="created"}`)
	requestExistsCounter  = metrics.GetOrCreateCounter(`boost_coordinator_total{result="exists"}`)
	requestSkippedCounter = metrics.GetOrCreateCounter(`boost_coordinator_total{result="skipped"}`)
	requestFlaggedCounter = metrics.GetOrCreateCounter(`boost_coordinator_total{result="flagged"}`)

	approvedCounter        = metrics.GetOrCreateCounter(`boost_decision_total{result="approved"}`)
	rejectedCounter        = metrics.GetOrCreateCounter(`boost_decision_total{result="rejected"}`)
	invalidDecisionCounter = metrics.GetOrCreateCounter(`boost_decision_total{result="invalid_transition"}`)
	reviewBlockedCounter   = metrics.GetOrCreateCounter(`boost_decision_total{result="needs_review"}`)

	notifyPublishedCounter = metrics.GetOrCreateCounter(`boost_notify_total{result="published"}`)
	notifyFailedCounter    = metrics.GetOrCreateCounter(`boost_notify_total{result="failed"}`)
)

const reasonPaymentFailed = "payment failed after boost request was created"

// Store persists boost requests. CreateIfAbsent is atomic on PaymentID: when a
// request for the payment already exists it is returned with created=false.
// Update follows the same contract as ledger.Store.Update.
type Store interface {
	CreateIfAbsent(ctx context.Context, r *BoostRequest) (*BoostRequest, bool, error)
	Get(ctx context.Context, id string) (*BoostRequest, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*BoostRequest, error)
	Update(ctx context.Context, id string, mutate func(r *BoostRequest) (bool, error)) (*BoostRequest, error)
	List(ctx context.Context, status Status, limit int) ([]*BoostRequest, error)
}

// TransactionReader is the read-only view of the ledger the coordinator needs.
type TransactionReader interface {
	Get(ctx context.Context, externalTrxID string) (*ledger.Transaction, error)
}

type EventCatalog interface {
	EventTitle(ctx context.Context, eventID string) (string, error)
}

// Notifier fans an approved boost out to the event's subscribers. Delivery is
// the notifier's concern; the coordinator calls it once per approval.
type Notifier interface {
	NotifySubscribers(ctx context.Context, r *BoostRequest) error
}

type Coordinator struct {
	store    Store
	txns     TransactionReader
	events   EventCatalog
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewCoordinator(store Store, txns TransactionReader, events EventCatalog, notifier Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		txns:     txns,
		events:   events,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnPaymentSuccess creates the boost request for a paid transaction. It is
// safe to call any number of times, concurrently included.
func (c *Coordinator) OnPaymentSuccess(ctx context.Context, txn *ledger.Transaction) (*BoostRequest, error) {
	ctx = ledger.WithTransaction(ctx, txn.ExternalTrxID)

	current, err := c.txns.Get(ctx, txn.ExternalTrxID)
	if err != nil {
		return nil, fmt.Errorf("reading transaction: %w", err)
	}
	if !current.SuccessLeaning() {
		requestSkippedCounter.Inc()
		c.logger.InfoContext(ctx, "Transaction is not paid, boost request not created", "status", current.Status)
		return nil, nil
	}

	title, err := c.events.EventTitle(ctx, current.EventID)
	if err != nil {
		c.logger.WarnContext(ctx, "Error resolving event title", "eventId", current.EventID, "error", err)
	}

	now := c.now()
	request := &BoostRequest{
		ID:          uuid.NewString(),
		EventID:     current.EventID,
		PayerID:     current.PayerID,
		PaymentID:   current.ExternalTrxID,
		Amount:      current.Amount,
		Currency:    current.Currency,
		EventTitle:  title,
		RequestedAt: now,
		Status:      StatusPending,
		UpdatedAt:   now,
	}

	stored, created, err := c.store.CreateIfAbsent(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("creating boost request: %w", err)
	}
	ctx = logcontext.AppendCtx(ctx, slog.String("boostRequestId", stored.ID))

	if !created {
		requestExistsCounter.Inc()
		c.logger.InfoContext(ctx, "Boost request already exists for payment")
		return stored, nil
	}

	requestCreatedCounter.Inc()
	c.logger.InfoContext(ctx, "Boost request created")

	// the webhook may have overturned the payment while the request was being created
	after, err := c.txns.Get(ctx, txn.ExternalTrxID)
	if err == nil && !after.SuccessLeaning() {
		return c.flag(ctx, stored.ID, reasonPaymentFailed)
	}

	return stored, nil
}

// FlagForReview marks the boost request of a payment for manual admin review.
// It does nothing when no request exists for the payment.
func (c *Coordinator) FlagForReview(ctx context.Context, paymentID, reason string) error {
	ctx = ledger.WithTransaction(ctx, paymentID)

	request, err := c.store.GetByPaymentID(ctx, paymentID)
	if errors.Is(err, ErrNotFound) {
		c.logger.InfoContext(ctx, "No boost request to flag for payment")
		return nil
	}
	if err != nil {
		return err
	}

	_, err = c.flag(logcontext.AppendCtx(ctx, slog.String("boostRequestId", request.ID)), request.ID, reason)
	return err
}

func (c *Coordinator) flag(ctx context.Context, id, reason string) (*BoostRequest, error) {
	flagged, err := c.store.Update(ctx, id, func(r *BoostRequest) (bool, error) {
		if r.NeedsReview && r.ReviewReason == reason {
			return false, nil
		}
		r.NeedsReview = true
		r.ReviewReason = reason
		r.UpdatedAt = c.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	requestFlaggedCounter.Inc()
	c.logger.WarnContext(ctx, "Boost request flagged for manual review", "reason", reason, "status", flagged.Status)
	return flagged, nil
}

// Decide applies an admin decision to a pending boost request. Approval
// notifies the event's subscribers exactly once.
func (c *Coordinator) Decide(ctx context.Context, id string, decision Decision) (*BoostRequest, error) {
	ctx = logcontext.AppendCtx(ctx, slog.String("boostRequestId", id))

	var target Status
	switch decision {
	case DecisionApprove:
		target = StatusApproved
	case DecisionReject:
		target = StatusRejected
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	if decision == DecisionApprove {
		if err := c.checkPayment(ctx, id); err != nil {
			return nil, err
		}
	}

	var previous Status
	decided, err := c.store.Update(ctx, id, func(r *BoostRequest) (bool, error) {
		previous = r.Status
		if r.Status != StatusPending {
			return false, ErrInvalidTransition
		}
		if decision == DecisionApprove && r.NeedsReview {
			return false, ErrNeedsReview
		}

		now := c.now()
		r.Status = target
		r.DecidedAt = &now
		r.UpdatedAt = now
		return true, nil
	})
	switch {
	case errors.Is(err, ErrInvalidTransition):
		invalidDecisionCounter.Inc()
		if previous == StatusApproved && decision == DecisionApprove {
			c.logger.WarnContext(ctx, "Boost request already approved, notification not re-sent")
		} else {
			c.logger.WarnContext(ctx, "Decision rejected, boost request is not pending", "status", previous, "decision", decision)
		}
		return nil, err
	case errors.Is(err, ErrNeedsReview):
		reviewBlockedCounter.Inc()
		c.logger.WarnContext(ctx, "Approval blocked, boost request needs review")
		return nil, err
	case err != nil:
		return nil, err
	}

	c.logger.InfoContext(ctx, "Boost request decided", "status", decided.Status)

	if decision == DecisionReject {
		rejectedCounter.Inc()
		return decided, nil
	}

	approvedCounter.Inc()
	if err := c.notifier.NotifySubscribers(ctx, decided); err != nil {
		notifyFailedCounter.Inc()
		c.logger.ErrorContext(ctx, "Error notifying subscribers", "eventId", decided.EventID, "error", err)
	} else {
		notifyPublishedCounter.Inc()
	}

	return decided, nil
}

// checkPayment refuses approval when the linked payment did not go through,
// flagging the request so it shows up for review.
func (c *Coordinator) checkPayment(ctx context.Context, id string) error {
	request, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if request.Status != StatusPending || request.NeedsReview {
		// Update reports the precise error
		return nil
	}

	txn, err := c.txns.Get(ctx, request.PaymentID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("reading transaction: %w", err)
	}
	if err == nil && txn.SuccessLeaning() {
		return nil
	}

	if _, err := c.flag(ctx, id, reasonPaymentFailed); err != nil {
		return err
	}
	reviewBlockedCounter.Inc()
	return ErrNeedsReview
}

func (c *Coordinator) Get(ctx context.Context, id string) (*BoostRequest, error) {
	return c.store.Get(ctx, id)
}

func (c *Coordinator) GetByPaymentID(ctx context.Context, paymentID string) (*BoostRequest, error) {
	return c.store.GetByPaymentID(ctx, paymentID)
}

// List returns boost requests with the given status, all of them when status
// is empty, oldest first.
func (c *Coordinator) List(ctx context.Context, status Status, limit int) ([]*BoostRequest, error) {
	return c.store.List(ctx, status, limit)
}
