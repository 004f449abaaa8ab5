package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"boost-service/internal/boost"
	"boost-service/internal/config"
	"boost-service/internal/ledger"
	"boost-service/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	sweepErrorCounter   = metrics.GetOrCreateCounter(`boost_sweeper_total{result="fetching_failed"}`)
	sweepSuccessCounter = metrics.GetOrCreateCounter(`boost_sweeper_total{result="success"}`)

	repairFetchErrorCounter = metrics.GetOrCreateCounter(`boost_sweeper_repair_total{result="fetching_failed"}`)
	repairMissingCounter    = metrics.GetOrCreateCounter(`boost_sweeper_repair_total{result="missing_request"}`)
	repairCreatedCounter    = metrics.GetOrCreateCounter(`boost_sweeper_repair_total{result="repaired"}`)
	repairErrorCounter      = metrics.GetOrCreateCounter(`boost_sweeper_repair_total{result="error"}`)

	sweepDurationHistogram = metrics.GetOrCreateHistogram(`boost_sweeper_duration_milliseconds`)

	lastUnsettled atomic.Int64

	_ = metrics.GetOrCreateGauge(`boost_unsettled_transactions`, func() float64 {
		return float64(lastUnsettled.Load())
	})
)

type TransactionLister interface {
	Unsettled(ctx context.Context, olderThan time.Duration, limit int) ([]*ledger.Transaction, error)
	Paid(ctx context.Context, window time.Duration, limit int) ([]*ledger.Transaction, error)
}

type BoostRequests interface {
	GetByPaymentID(ctx context.Context, paymentID string) (*boost.BoostRequest, error)
	OnPaymentSuccess(ctx context.Context, txn *ledger.Transaction) (*boost.BoostRequest, error)
}

// Sweeper reports transactions the webhook never settled and creates the
// boost request for paid transactions whose handoff never completed.
// Unsettled transactions are only reported: resolving them is a manual,
// processor-side task.
type Sweeper struct {
	ledger       TransactionLister
	requests     BoostRequests
	interval     time.Duration
	settleWithin time.Duration
	repairWindow time.Duration
	fetchSize    int
	logger       *slog.Logger
}

func New(l TransactionLister, requests BoostRequests, cfg config.Sweeper, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		ledger:       l,
		requests:     requests,
		interval:     time.Duration(cfg.IntervalMs) * time.Millisecond,
		settleWithin: time.Duration(cfg.SettleWithinMs) * time.Millisecond,
		repairWindow: time.Duration(cfg.RepairWindowMs) * time.Millisecond,
		fetchSize:    cfg.FetchSize,
		logger:       logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
				s.Repair(ctx)
			case <-ctx.Done():
				s.logger.InfoContext(ctx, "Context done, stopping sweeper")
				return
			}
		}
	}()
}

// Sweep runs one pass and returns what it found.
func (s *Sweeper) Sweep(ctx context.Context) []*ledger.Transaction {
	startTime := time.Now()
	defer func() {
		sweepDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	unsettled, err := s.ledger.Unsettled(ctx, s.settleWithin, s.fetchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching unsettled transactions", "error", err)
		sweepErrorCounter.Inc()
		return nil
	}

	lastUnsettled.Store(int64(len(unsettled)))
	sweepSuccessCounter.Inc()

	if len(unsettled) == 0 {
		s.logger.InfoContext(ctx, "No unsettled transactions found")
		return nil
	}

	s.logger.WarnContext(ctx, "Unsettled transactions found", "count", len(unsettled), "settleWithin", s.settleWithin.String())
	for _, txn := range unsettled {
		txnCtx := ledger.WithTransaction(ctx, txn.ExternalTrxID)
		s.logger.WarnContext(txnCtx, "Transaction not settled by webhook", "status", txn.Status,
			"createdAt", txn.CreatedAt, "amount", txn.Amount.String(), "currency", txn.Currency)
	}
	return unsettled
}

// Repair creates the missing boost request for every transaction paid within
// the repair window, and returns the ones it repaired.
func (s *Sweeper) Repair(ctx context.Context) []*boost.BoostRequest {
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	paid, err := s.ledger.Paid(ctx, s.repairWindow, s.fetchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching paid transactions", "error", err)
		repairFetchErrorCounter.Inc()
		return nil
	}

	var repaired []*boost.BoostRequest
	for _, txn := range paid {
		txnCtx := ledger.WithTransaction(ctx, txn.ExternalTrxID)

		_, err := s.requests.GetByPaymentID(txnCtx, txn.ExternalTrxID)
		if err == nil {
			continue
		}
		if !errors.Is(err, boost.ErrNotFound) {
			repairErrorCounter.Inc()
			s.logger.ErrorContext(txnCtx, "Error looking up boost request", "error", err)
			continue
		}

		repairMissingCounter.Inc()
		s.logger.WarnContext(txnCtx, "Paid transaction has no boost request", "status", txn.Status,
			"updatedAt", txn.UpdatedAt)

		request, err := s.requests.OnPaymentSuccess(txnCtx, txn)
		if err != nil {
			repairErrorCounter.Inc()
			s.logger.ErrorContext(txnCtx, "Error creating missing boost request", "error", err)
			continue
		}
		if request != nil {
			repairCreatedCounter.Inc()
			repaired = append(repaired, request)
		}
	}

	if len(repaired) > 0 {
		s.logger.WarnContext(ctx, "Missing boost requests created", "count", len(repaired))
	}
	return repaired
}
