package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"boost-service/internal/boost"
	"boost-service/internal/directory"
	"boost-service/internal/ledger"
	"boost-service/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	chargeSuccessCounter     = metrics.GetOrCreateCounter(`boost_charge_total{result="success"}`)
	chargeFailedCounter      = metrics.GetOrCreateCounter(`boost_charge_total{result="failed"}`)
	chargePendingCounter     = metrics.GetOrCreateCounter(`boost_charge_total{result="pending"}`)
	chargeUnavailableCounter = metrics.GetOrCreateCounter(`boost_charge_total{result="gateway_unavailable"}`)
	chargeRejectedCounter    = metrics.GetOrCreateCounter(`boost_charge_total{result="rejected"}`)

	handoffErrorCounter = metrics.GetOrCreateCounter(`boost_handoff_total{result="error"}`)
)

type Processor interface {
	Charge(ctx context.Context, externalTrxID, subscriberID, amount, currency string) (*payload.ChargeResponse, error)
}

type Ledger interface {
	Create(ctx context.Context, t *ledger.Transaction) error
	Get(ctx context.Context, externalTrxID string) (*ledger.Transaction, error)
	ApplySyncResult(ctx context.Context, externalTrxID string, r ledger.Result) (*ledger.Transaction, error)
}

type Subscribers interface {
	SubscriberID(ctx context.Context, payerID string) (string, error)
}

// PaymentHandler is told about every synchronously successful charge.
type PaymentHandler interface {
	OnPaymentSuccess(ctx context.Context, txn *ledger.Transaction) (*boost.BoostRequest, error)
}

type ChargeRequest struct {
	PayerID  string
	EventID  string
	Amount   decimal.Decimal
	Currency string
}

// ChargeResult is provisional until the webhook settles the transaction.
type ChargeResult struct {
	ExternalTrxID string
	StatusCode    string
	StatusDetail  string
	Status        ledger.Status
	Outcome       ledger.Outcome
}

// Timeouts bound the charger's own work. Storage applies to every ledger and
// directory call; the processor call is bounded by the client.
type Timeouts struct {
	Storage time.Duration
	Handoff time.Duration
}

// amountScale is the number of minor-unit digits an amount may carry.
const amountScale = 2

type Charger struct {
	processor   Processor
	ledger      Ledger
	subscribers Subscribers
	handler     PaymentHandler
	codes       Codes
	timeouts    Timeouts
	logger      *slog.Logger
	handoffs    sync.WaitGroup
}

func NewCharger(processor Processor, l Ledger, subscribers Subscribers, handler PaymentHandler, codes Codes,
	timeouts Timeouts, logger *slog.Logger) *Charger {
	return &Charger{
		processor:   processor,
		ledger:      l,
		subscribers: subscribers,
		handler:     handler,
		codes:       codes,
		timeouts:    timeouts,
		logger:      logger,
	}
}

// Charge debits the payer for boosting an event. A ChargeResult is returned
// whenever a transaction was recorded, including alongside
// ErrGatewayUnavailable, in which case the transaction stays pending.
func (c *Charger) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := validate(req); err != nil {
		chargeRejectedCounter.Inc()
		return nil, err
	}

	subscriberID, err := c.subscriberID(ctx, req.PayerID)
	if errors.Is(err, directory.ErrNotFound) {
		chargeRejectedCounter.Inc()
		c.logger.InfoContext(ctx, "Payer not onboarded", "payerId", req.PayerID)
		return nil, ErrPayerNotOnboarded
	}
	if err != nil {
		return nil, fmt.Errorf("resolving subscriber: %w", err)
	}

	externalTrxID := uuid.NewString()
	ctx = ledger.WithTransaction(ctx, externalTrxID)

	txn := &ledger.Transaction{
		ExternalTrxID: externalTrxID,
		SubscriberID:  subscriberID,
		EventID:       req.EventID,
		PayerID:       req.PayerID,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}
	if err := c.create(ctx, txn); err != nil {
		return nil, fmt.Errorf("recording transaction: %w", err)
	}

	result := &ChargeResult{ExternalTrxID: externalTrxID, Status: ledger.StatusPending}

	resp, err := c.processor.Charge(ctx, externalTrxID, subscriberID, req.Amount.String(), req.Currency)
	if err != nil {
		chargeUnavailableCounter.Inc()
		c.logger.WarnContext(ctx, "Processor call failed, transaction left pending", "error", err)
		return result, err
	}

	outcome := c.codes.Sync(resp.StatusCode)
	result.StatusCode = resp.StatusCode
	result.StatusDetail = resp.StatusDetail
	result.Outcome = outcome

	updated, err := c.applySyncResult(ctx, externalTrxID, ledger.Result{
		Outcome:       outcome,
		StatusCode:    resp.StatusCode,
		StatusDetail:  resp.StatusDetail,
		InternalTrxID: resp.InternalTrxID,
	})
	switch {
	case errors.Is(err, ledger.ErrAlreadySettled):
		// the webhook got there first and already did the handoff
		current, getErr := c.get(ctx, externalTrxID)
		if getErr != nil {
			return result, fmt.Errorf("reading settled transaction: %w", getErr)
		}
		result.Status = current.Status
		result.Outcome = current.SettledOutcome
		c.countOutcome(current.SettledOutcome)
		c.logger.InfoContext(ctx, "Charge already settled by webhook", "statusCode", resp.StatusCode,
			"status", current.Status)
		return result, nil
	case err != nil:
		c.logger.ErrorContext(ctx, "Error recording synchronous result", "statusCode", resp.StatusCode, "error", err)
		return result, fmt.Errorf("recording synchronous result: %w", err)
	}

	result.Status = updated.Status
	c.countOutcome(outcome)
	c.logger.InfoContext(ctx, "Charge completed", "statusCode", resp.StatusCode, "status", updated.Status)

	if outcome == ledger.OutcomeSuccess {
		c.handoff(ctx, updated)
	}

	return result, nil
}

func (c *Charger) subscriberID(ctx context.Context, payerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Storage)
	defer cancel()
	return c.subscribers.SubscriberID(ctx, payerID)
}

func (c *Charger) create(ctx context.Context, txn *ledger.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Storage)
	defer cancel()
	return c.ledger.Create(ctx, txn)
}

func (c *Charger) get(ctx context.Context, externalTrxID string) (*ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Storage)
	defer cancel()
	return c.ledger.Get(ctx, externalTrxID)
}

func (c *Charger) applySyncResult(ctx context.Context, externalTrxID string, r ledger.Result) (*ledger.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Storage)
	defer cancel()
	return c.ledger.ApplySyncResult(ctx, externalTrxID, r)
}

// handoff runs OnPaymentSuccess detached from the caller's request so a
// client disconnect cannot cancel it.
func (c *Charger) handoff(ctx context.Context, txn *ledger.Transaction) {
	c.handoffs.Add(1)
	go func() {
		defer c.handoffs.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeouts.Handoff)
		defer cancel()

		if _, err := c.handler.OnPaymentSuccess(ctx, txn); err != nil {
			handoffErrorCounter.Inc()
			c.logger.ErrorContext(ctx, "Error handing off paid transaction", "error", err)
		}
	}()
}

// Wait blocks until in-flight handoffs finish.
func (c *Charger) Wait() {
	c.handoffs.Wait()
}

func (c *Charger) countOutcome(outcome ledger.Outcome) {
	switch outcome {
	case ledger.OutcomeSuccess:
		chargeSuccessCounter.Inc()
	case ledger.OutcomePending:
		chargePendingCounter.Inc()
	default:
		chargeFailedCounter.Inc()
	}
}

func validate(req ChargeRequest) error {
	var missing []string
	if req.PayerID == "" {
		missing = append(missing, "payerId")
	}
	if req.EventID == "" {
		missing = append(missing, "eventId")
	}
	if req.Currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !req.Amount.Equal(req.Amount.Truncate(amountScale)) {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidRequest, amountScale)
	}
	return nil
}
