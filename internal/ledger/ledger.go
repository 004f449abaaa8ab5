package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boost-service/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
)

var (
	syncAppliedCounter      = metrics.GetOrCreateCounter(`boost_ledger_total{op="sync",result="applied"}`)
	syncLateCounter         = metrics.GetOrCreateCounter(`boost_ledger_total{op="sync",result="already_settled"}`)
	webhookConfirmedCounter = metrics.GetOrCreateCounter(`boost_ledger_total{op="webhook",result="confirmed"}`)
	webhookFailedCounter    = metrics.GetOrCreateCounter(`boost_ledger_total{op="webhook",result="failed"}`)
	webhookOverturnCounter  = metrics.GetOrCreateCounter(`boost_ledger_total{op="webhook",result="overturned"}`)
	webhookDuplicateCounter = metrics.GetOrCreateCounter(`boost_ledger_total{op="webhook",result="duplicate"}`)
	webhookRecoveredCounter = metrics.GetOrCreateCounter(`boost_ledger_total{op="webhook",result="recovered"}`)
	webhookConflictCounter  = metrics.GetOrCreateCounter(`boost_ledger_total{op="webhook",result="conflict"}`)
)

const (
	reasonOverturned = "processor reported failure after synchronous success"
	reasonRecovered  = "webhook received for unknown transaction"
)

// Store persists transactions. Update must be an atomic read-modify-write:
// mutate runs against the current record and reports whether it changed
// anything; unchanged records are not written. An error from mutate aborts the
// write and is returned as is.
type Store interface {
	Insert(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, externalTrxID string) (*Transaction, error)
	Update(ctx context.Context, externalTrxID string, mutate func(t *Transaction) (bool, error)) (*Transaction, error)
	ListUnsettled(ctx context.Context, createdBefore time.Time, limit int) ([]*Transaction, error)
	// ListPaid returns success and confirmed transactions updated after updatedAfter, oldest first.
	ListPaid(ctx context.Context, updatedAfter time.Time, limit int) ([]*Transaction, error)
}

// Ledger owns the Transaction state machine.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create records a new pending transaction. It must be called before the
// processor is contacted.
func (l *Ledger) Create(ctx context.Context, t *Transaction) error {
	if t.ExternalTrxID == "" {
		return fmt.Errorf("%w: missing externalTrxId", ErrInvalidTransaction)
	}

	now := l.now()
	t.Status = StatusPending
	t.NotificationReceived = false
	t.SettledOutcome = ""
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := l.store.Insert(ctx, t); err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "Transaction created", "amount", t.Amount.String(), "currency", t.Currency)
	return nil
}

func (l *Ledger) Get(ctx context.Context, externalTrxID string) (*Transaction, error) {
	return l.store.Get(ctx, externalTrxID)
}

// ApplySyncResult records the processor's synchronous answer. It never
// overwrites a transaction the webhook has already settled.
func (l *Ledger) ApplySyncResult(ctx context.Context, externalTrxID string, r Result) (*Transaction, error) {
	status := syncStatus(r.Outcome)

	t, err := l.store.Update(ctx, externalTrxID, func(t *Transaction) (bool, error) {
		if t.NotificationReceived {
			return false, ErrAlreadySettled
		}

		if t.Status == status && t.StatusCode == r.StatusCode && t.StatusDetail == r.StatusDetail &&
			(r.InternalTrxID == "" || t.InternalTrxID == r.InternalTrxID) {
			return false, nil
		}

		t.Status = status
		t.StatusCode = r.StatusCode
		t.StatusDetail = r.StatusDetail
		if r.InternalTrxID != "" && t.InternalTrxID == "" {
			t.InternalTrxID = r.InternalTrxID
		}
		t.UpdatedAt = l.now()
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			syncLateCounter.Inc()
			l.logger.WarnContext(ctx, "Synchronous result arrived after settlement, ignoring", "statusCode", r.StatusCode)
		}
		return nil, err
	}

	syncAppliedCounter.Inc()
	l.logger.InfoContext(ctx, "Synchronous result applied", "status", t.Status, "statusCode", t.StatusCode)
	return t, nil
}

// ApplyWebhookResult settles a transaction with the processor's asynchronous
// outcome. Repeating the same outcome is a no-op; a different outcome after
// settlement returns ErrConflictingSettlement. A webhook for an unknown
// transaction creates a recovery record flagged for review.
func (l *Ledger) ApplyWebhookResult(ctx context.Context, externalTrxID string, r Result) (*Settlement, error) {
	outcome := OutcomeFailure
	if r.Outcome == OutcomeSuccess {
		outcome = OutcomeSuccess
	}

	for attempt := 0; attempt < 2; attempt++ {
		settlement, err := l.settle(ctx, externalTrxID, outcome, r)
		if !errors.Is(err, ErrNotFound) {
			return settlement, err
		}

		settlement, err = l.insertRecovery(ctx, externalTrxID, outcome, r)
		if !errors.Is(err, ErrDuplicateKey) {
			return settlement, err
		}
		// the record appeared between the lookup and the insert
	}

	return nil, ErrConcurrentUpdate
}

func (l *Ledger) settle(ctx context.Context, externalTrxID string, outcome Outcome, r Result) (*Settlement, error) {
	var settlement Settlement

	t, err := l.store.Update(ctx, externalTrxID, func(t *Transaction) (bool, error) {
		settlement = Settlement{PreviousStatus: t.Status}

		if t.NotificationReceived {
			if t.SettledOutcome == outcome {
				settlement.Effect = EffectDuplicate
				return false, nil
			}
			return false, fmt.Errorf("%w: settled as %s, webhook reports %s (%s)",
				ErrConflictingSettlement, t.SettledOutcome, outcome, r.StatusCode)
		}

		now := l.now()
		switch {
		case outcome == OutcomeSuccess:
			t.Status = StatusConfirmed
			settlement.Effect = EffectConfirmed
		case t.Status == StatusSuccess:
			t.Status = StatusFailed
			t.NeedsReview = true
			t.ReviewReason = reasonOverturned
			settlement.Effect = EffectOverturned
		default:
			t.Status = StatusFailed
			settlement.Effect = EffectFailed
		}

		t.NotificationReceived = true
		t.SettledOutcome = outcome
		t.StatusCode = r.StatusCode
		t.StatusDetail = r.StatusDetail
		if r.InternalTrxID != "" && t.InternalTrxID == "" {
			t.InternalTrxID = r.InternalTrxID
		}
		t.SettledAt = &now
		t.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrConflictingSettlement) {
			webhookConflictCounter.Inc()
			l.logger.ErrorContext(ctx, "Conflicting settlement, manual review required", "error", err)
		}
		return nil, err
	}

	settlement.Transaction = t

	switch settlement.Effect {
	case EffectConfirmed:
		webhookConfirmedCounter.Inc()
		if settlement.PreviousStatus == StatusFailed {
			l.logger.WarnContext(ctx, "Conflicting settlement: webhook confirmed a synchronously failed charge",
				"statusCode", r.StatusCode)
		}
	case EffectOverturned:
		webhookOverturnCounter.Inc()
		l.logger.ErrorContext(ctx, "Conflicting settlement: webhook failed a synchronously successful charge",
			"statusCode", r.StatusCode, "statusDetail", r.StatusDetail)
	case EffectFailed:
		webhookFailedCounter.Inc()
	case EffectDuplicate:
		webhookDuplicateCounter.Inc()
	}

	l.logger.InfoContext(ctx, "Webhook result applied", "effect", settlement.Effect,
		"previousStatus", settlement.PreviousStatus, "status", t.Status)
	return &settlement, nil
}

func (l *Ledger) insertRecovery(ctx context.Context, externalTrxID string, outcome Outcome, r Result) (*Settlement, error) {
	now := l.now()
	t := &Transaction{
		ExternalTrxID:        externalTrxID,
		InternalTrxID:        r.InternalTrxID,
		SubscriberID:         r.SubscriberID,
		Amount:               r.Amount,
		Currency:             r.Currency,
		Status:               StatusFailed,
		StatusCode:           r.StatusCode,
		StatusDetail:         r.StatusDetail,
		NotificationReceived: true,
		SettledOutcome:       outcome,
		NeedsReview:          true,
		ReviewReason:         reasonRecovered,
		CreatedAt:            now,
		UpdatedAt:            now,
		SettledAt:            &now,
	}

	if err := l.store.Insert(ctx, t); err != nil {
		return nil, err
	}

	webhookRecoveredCounter.Inc()
	l.logger.WarnContext(ctx, "Webhook for unknown transaction, recovery record created",
		"outcome", outcome, "statusCode", r.StatusCode)

	return &Settlement{Transaction: t, Effect: EffectRecovered}, nil
}

// Unsettled lists transactions the webhook has not settled that were created
// more than olderThan ago.
func (l *Ledger) Unsettled(ctx context.Context, olderThan time.Duration, limit int) ([]*Transaction, error) {
	return l.store.ListUnsettled(ctx, l.now().Add(-olderThan), limit)
}

// Paid lists transactions that currently count as paid and were updated within
// the last window.
func (l *Ledger) Paid(ctx context.Context, window time.Duration, limit int) ([]*Transaction, error) {
	return l.store.ListPaid(ctx, l.now().Add(-window), limit)
}

// WithTransaction returns ctx carrying the transaction id as a log attribute.
func WithTransaction(ctx context.Context, externalTrxID string) context.Context {
	return logcontext.AppendCtx(ctx, slog.String("externalTrxId", externalTrxID))
}

func syncStatus(o Outcome) Status {
	switch o {
	case OutcomeSuccess:
		return StatusSuccess
	case OutcomePending:
		return StatusPending
	default:
		return StatusFailed
	}
}
