package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"boost-service/internal/bolt"
	"boost-service/internal/boost"
	"boost-service/internal/config"
	"boost-service/internal/gateway"
	"boost-service/internal/ledger"
	"boost-service/internal/payload"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeEvents struct{}

func (fakeEvents) EventTitle(context.Context, string) (string, error) {
	return "Jazz Night", nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (f *fakeNotifier) NotifySubscribers(_ context.Context, r *boost.BoostRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, r.EventID)
	return nil
}

type ReconcilerTestSuite struct {
	suite.Suite
	db          *bolt.DB
	ledger      *ledger.Ledger
	coordinator *boost.Coordinator
	sut         *Reconciler
	ctx         context.Context
}

func (s *ReconcilerTestSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := bolt.Open(filepath.Join(s.T().TempDir(), "boost.db"))
	s.Require().NoError(err)
	s.db = db

	s.ledger = ledger.New(db.Transactions(), logger)
	s.coordinator = boost.NewCoordinator(db.BoostRequests(), s.ledger, fakeEvents{}, &fakeNotifier{}, logger)
	codes := gateway.NewCodes(config.Gateway{SuccessCode: "S1000"})
	s.sut = NewReconciler(s.ledger, s.coordinator, codes, time.Second, logger)
}

func (s *ReconcilerTestSuite) TearDownTest() {
	s.db.Close()
}

func (s *ReconcilerTestSuite) createTransaction(id string, syncResult *ledger.Result) {
	err := s.ledger.Create(s.ctx, &ledger.Transaction{
		ExternalTrxID: id,
		SubscriberID:  "tel:94771234567",
		EventID:       "event-1",
		PayerID:       "payer-1",
		Amount:        decimal.RequireFromString("50"),
		Currency:      "LKR",
	})
	s.Require().NoError(err)

	if syncResult != nil {
		txn, err := s.ledger.ApplySyncResult(s.ctx, id, *syncResult)
		s.Require().NoError(err)
		if txn.SuccessLeaning() {
			_, err := s.coordinator.OnPaymentSuccess(s.ctx, txn)
			s.Require().NoError(err)
		}
	}
}

func notification(id, code string) payload.Notification {
	return payload.Notification{
		ExternalTrxID: id,
		InternalTrxID: "int-" + id,
		StatusCode:    code,
		StatusDetail:  "detail " + code,
		TimeStamp:     "20261017120000",
		Amount:        payload.Amount{Decimal: decimal.RequireFromString("50")},
		Currency:      "LKR",
		SubscriberID:  "tel:94771234567",
	}
}

var syncSuccess = &ledger.Result{Outcome: ledger.OutcomeSuccess, StatusCode: "S1000", StatusDetail: "Success"}

// sync success then webhook success: confirmed, exactly one boost request
func (s *ReconcilerTestSuite) TestReconcile_SyncSuccessThenWebhookSuccess() {
	t := s.T()
	s.createTransaction("trx-a", syncSuccess)

	settlement, err := s.sut.Reconcile(s.ctx, notification("trx-a", "S1000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EffectConfirmed, settlement.Effect)
	assert.Equal(t, ledger.StatusConfirmed, settlement.Transaction.Status)
	assert.True(t, settlement.Transaction.NotificationReceived)

	requests, err := s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "trx-a", requests[0].PaymentID)
	assert.Equal(t, "Jazz Night", requests[0].EventTitle)
	assert.False(t, requests[0].NeedsReview)
}

// sync timed out, webhook success later: the webhook creates the request
func (s *ReconcilerTestSuite) TestReconcile_PendingThenWebhookSuccess() {
	t := s.T()
	s.createTransaction("trx-b", nil)

	settlement, err := s.sut.Reconcile(s.ctx, notification("trx-b", "S1000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, settlement.Transaction.Status)

	requests, err := s.coordinator.List(s.ctx, boost.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

// sync success then webhook failure: failed, boost request flagged
func (s *ReconcilerTestSuite) TestReconcile_SyncSuccessThenWebhookFailure() {
	t := s.T()
	s.createTransaction("trx-c", syncSuccess)

	settlement, err := s.sut.Reconcile(s.ctx, notification("trx-c", "E1308"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EffectOverturned, settlement.Effect)
	assert.Equal(t, ledger.StatusFailed, settlement.Transaction.Status)
	assert.True(t, settlement.Transaction.NotificationReceived)

	requests, err := s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.True(t, requests[0].NeedsReview)
	assert.Equal(t, boost.StatusPending, requests[0].Status)

	_, err = s.coordinator.Decide(s.ctx, requests[0].ID, boost.DecisionApprove)
	assert.ErrorIs(t, err, boost.ErrNeedsReview)
}

// concurrent identical deliveries: one transition, one boost request
func (s *ReconcilerTestSuite) TestReconcile_ConcurrentDuplicates() {
	t := s.T()
	s.createTransaction("trx-d", nil)

	const deliveries = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		effects = map[ledger.Effect]int{}
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settlement, err := s.sut.Reconcile(s.ctx, notification("trx-d", "S1000"))
			if assert.NoError(t, err) {
				mu.Lock()
				effects[settlement.Effect]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, effects[ledger.EffectConfirmed])
	assert.Equal(t, deliveries-1, effects[ledger.EffectDuplicate])

	requests, err := s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

// flakyCoordinator fails the first OnPaymentSuccess. onCall runs before each
// call and the context error seen right after it is recorded.
type flakyCoordinator struct {
	*boost.Coordinator
	onCall func()
	mu     sync.Mutex
	calls  int
	ctxs   []context.Context
	errs   []error
}

func (f *flakyCoordinator) OnPaymentSuccess(ctx context.Context, txn *ledger.Transaction) (*boost.BoostRequest, error) {
	if f.onCall != nil {
		f.onCall()
	}

	f.mu.Lock()
	f.calls++
	f.ctxs = append(f.ctxs, ctx)
	f.errs = append(f.errs, ctx.Err())
	first := f.calls == 1
	f.mu.Unlock()

	if first {
		return nil, errors.New("store unavailable")
	}
	return f.Coordinator.OnPaymentSuccess(ctx, txn)
}

// a failed handoff is completed by the processor redelivering the webhook
func (s *ReconcilerTestSuite) TestReconcile_RedeliveryCompletesFailedHandoff() {
	t := s.T()
	s.createTransaction("trx-h", nil)
	flaky := &flakyCoordinator{Coordinator: s.coordinator}
	sut := NewReconciler(s.ledger, flaky, gateway.NewCodes(config.Gateway{SuccessCode: "S1000"}), time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := sut.Reconcile(s.ctx, notification("trx-h", "S1000"))
	require.Error(t, err)

	requests, err := s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, requests)

	settlement, err := sut.Reconcile(s.ctx, notification("trx-h", "S1000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EffectDuplicate, settlement.Effect)

	_, err = sut.Reconcile(s.ctx, notification("trx-h", "S1000"))
	require.NoError(t, err)

	requests, err = s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "trx-h", requests[0].PaymentID)
}

// a duplicate of an overturning webhook flags the request again
func (s *ReconcilerTestSuite) TestReconcile_DuplicateOverturnKeepsFlag() {
	t := s.T()
	s.createTransaction("trx-i", syncSuccess)

	_, err := s.sut.Reconcile(s.ctx, notification("trx-i", "E1308"))
	require.NoError(t, err)
	settlement, err := s.sut.Reconcile(s.ctx, notification("trx-i", "E1308"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EffectDuplicate, settlement.Effect)

	request, err := s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, request, 1)
	assert.True(t, request[0].NeedsReview)
}

// the handoff outlives a caller whose context is already cancelled
func (s *ReconcilerTestSuite) TestReconcile_HandoffDetachedFromCaller() {
	t := s.T()
	s.createTransaction("trx-j", nil)
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	flaky := &flakyCoordinator{Coordinator: s.coordinator, calls: 1, onCall: cancel}
	sut := NewReconciler(s.ledger, flaky, gateway.NewCodes(config.Gateway{SuccessCode: "S1000"}), time.Second,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	settlement, err := sut.Reconcile(ctx, notification("trx-j", "S1000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EffectConfirmed, settlement.Effect)

	require.Len(t, flaky.ctxs, 1)
	assert.NoError(t, flaky.errs[0])
	deadline, ok := flaky.ctxs[0].Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)

	requests, err := s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func (s *ReconcilerTestSuite) TestReconcile_UnknownTransaction() {
	t := s.T()

	settlement, err := s.sut.Reconcile(s.ctx, notification("trx-unknown", "S1000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.EffectRecovered, settlement.Effect)
	assert.True(t, settlement.Transaction.NeedsReview)

	requests, err := s.coordinator.List(s.ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func (s *ReconcilerTestSuite) TestReconcile_ConflictingSettlement() {
	t := s.T()
	s.createTransaction("trx-e", nil)

	_, err := s.sut.Reconcile(s.ctx, notification("trx-e", "E1308"))
	require.NoError(t, err)

	_, err = s.sut.Reconcile(s.ctx, notification("trx-e", "S1000"))
	assert.ErrorIs(t, err, ledger.ErrConflictingSettlement)

	txn, err := s.ledger.Get(s.ctx, "trx-e")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, txn.Status)
}

func (s *ReconcilerTestSuite) TestReconcile_MissingCorrelationID() {
	_, err := s.sut.Reconcile(s.ctx, notification("", "S1000"))
	assert.ErrorIs(s.T(), err, ErrMissingCorrelationID)
}

func (s *ReconcilerTestSuite) TestHandler_AlwaysAcks() {
	t := s.T()
	s.createTransaction("trx-f", nil)
	handler := NewHandler(s.sut, "S1000", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name string
		body string
	}{
		{name: "Valid", body: `{"externalTrxId":"trx-f","statusCode":"S1000","amount":"50.00","currency":"LKR"}`},
		{name: "NumericAmount", body: `{"externalTrxId":"trx-f","statusCode":"S1000","amount":50}`},
		{name: "Malformed", body: `{"externalTrxId":`},
		{name: "MissingCorrelationID", body: `{"statusCode":"S1000"}`},
		{name: "Conflict", body: `{"externalTrxId":"trx-f","statusCode":"E1308"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			var ack payload.Ack
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
			assert.Equal(t, "S1000", ack.StatusCode)
			assert.Equal(t, "received", ack.StatusDetail)
		})
	}

	txn, err := s.ledger.Get(s.ctx, "trx-f")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, txn.Status)
}

func (s *ReconcilerTestSuite) TestHandler_RecoversPanics() {
	t := s.T()
	handler := NewHandler(NewReconciler(panickingLedger{}, s.coordinator, gateway.NewCodes(config.Gateway{SuccessCode: "S1000"}),
		time.Second, slog.New(slog.NewTextHandler(io.Discard, nil))), "S1000", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment",
		bytes.NewBufferString(`{"externalTrxId":"trx-g","statusCode":"S1000"}`))
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusOK, rec.Code)
}

type panickingLedger struct{}

func (panickingLedger) ApplyWebhookResult(context.Context, string, ledger.Result) (*ledger.Settlement, error) {
	panic("store exploded")
}

func TestReconcilerTestSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerTestSuite))
}
