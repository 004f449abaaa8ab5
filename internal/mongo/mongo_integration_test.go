//go:build integration

package mongo

import (
	"context"
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"boost-service/internal/boost"
	"boost-service/internal/config"
	"boost-service/internal/directory"
	"boost-service/internal/ledger"
	"boost-service/internal/testhelpers"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type StoreTestSuite struct {
	suite.Suite
	container *testhelpers.MongoContainer
	client    *mongo.Client
	db        *mongo.Database
	txns      *TransactionStore
	boosts    *BoostRequestStore
	ctx       context.Context
}

func (s *StoreTestSuite) SetupSuite() {
	s.ctx = context.Background()
	container, err := testhelpers.CreateMongoContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.container = container

	client, err := Connect(s.ctx, config.Mongo{URI: container.URI, Database: "boost"})
	if err != nil {
		log.Fatal(err)
	}
	s.client = client
	s.db = client.Database("boost")

	if err := EnsureIndexes(s.ctx, s.db); err != nil {
		log.Fatal(err)
	}

	s.txns = NewTransactionStore(s.db)
	s.boosts = NewBoostRequestStore(s.db)
}

func (s *StoreTestSuite) TearDownSuite() {
	_ = s.client.Disconnect(s.ctx)

	if err := s.container.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating mongo container: %s", err)
	}
}

func (s *StoreTestSuite) SetupTest() {
	for _, name := range []string{transactionsCollection, boostRequestsCollection, UsersCollection, EventsCollection} {
		if _, err := s.db.Collection(name).DeleteMany(s.ctx, bson.M{}); err != nil {
			log.Fatalf("error clearing %s: %s", name, err)
		}
	}
}

func newTransaction() *ledger.Transaction {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &ledger.Transaction{
		ExternalTrxID: uuid.NewString(),
		SubscriberID:  "tel:94770000001",
		EventID:       "event-1",
		PayerID:       "payer-1",
		Amount:        decimal.RequireFromString("50.00"),
		Currency:      "LKR",
		Status:        ledger.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *StoreTestSuite) TestInsertAndGet() {
	t := s.T()

	txn := newTransaction()
	require.NoError(t, s.txns.Insert(s.ctx, txn))
	assert.ErrorIs(t, s.txns.Insert(s.ctx, txn), ledger.ErrDuplicateKey)

	got, err := s.txns.Get(s.ctx, txn.ExternalTrxID)
	require.NoError(t, err)
	assert.True(t, txn.Amount.Equal(got.Amount))
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, txn.CreatedAt.Equal(got.CreatedAt))

	_, err = s.txns.Get(s.ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func (s *StoreTestSuite) TestUpdateBumpsVersion() {
	t := s.T()

	txn := newTransaction()
	require.NoError(t, s.txns.Insert(s.ctx, txn))

	updated, err := s.txns.Update(s.ctx, txn.ExternalTrxID, func(t *ledger.Transaction) (bool, error) {
		t.Status = ledger.StatusFailed
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := s.txns.Get(s.ctx, txn.ExternalTrxID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

// TestConcurrentWebhooks relies on the version check in ReplaceOne: losers
// re-read and see the settled transaction.
func (s *StoreTestSuite) TestConcurrentWebhooks() {
	t := s.T()

	l := ledger.New(s.txns, slog.New(slog.NewTextHandler(io.Discard, nil)))
	txn := newTransaction()
	require.NoError(t, l.Create(s.ctx, txn))

	const deliveries = 4
	effects := make(chan ledger.Effect, deliveries)
	var wg sync.WaitGroup
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settlement, err := l.ApplyWebhookResult(s.ctx, txn.ExternalTrxID, ledger.Result{
				Outcome:    ledger.OutcomeSuccess,
				StatusCode: "S1000",
			})
			if assert.NoError(t, err) {
				effects <- settlement.Effect
			}
		}()
	}
	wg.Wait()
	close(effects)

	counts := map[ledger.Effect]int{}
	for e := range effects {
		counts[e]++
	}
	assert.Equal(t, 1, counts[ledger.EffectConfirmed])
	assert.Equal(t, deliveries-1, counts[ledger.EffectDuplicate])
}

func (s *StoreTestSuite) TestListUnsettled() {
	t := s.T()

	old := newTransaction()
	old.CreatedAt = time.Now().Add(-7 * time.Hour)
	require.NoError(t, s.txns.Insert(s.ctx, old))
	require.NoError(t, s.txns.Insert(s.ctx, newTransaction()))

	items, err := s.txns.ListUnsettled(s.ctx, time.Now().Add(-6*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, old.ExternalTrxID, items[0].ExternalTrxID)
}

func (s *StoreTestSuite) TestListPaid() {
	t := s.T()

	paid := newTransaction()
	paid.Status = ledger.StatusSuccess
	require.NoError(t, s.txns.Insert(s.ctx, paid))

	stale := newTransaction()
	stale.Status = ledger.StatusConfirmed
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.txns.Insert(s.ctx, stale))

	require.NoError(t, s.txns.Insert(s.ctx, newTransaction()))

	items, err := s.txns.ListPaid(s.ctx, time.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, paid.ExternalTrxID, items[0].ExternalTrxID)
}

func newBoostRequest(paymentID string) *boost.BoostRequest {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &boost.BoostRequest{
		ID:          uuid.NewString(),
		EventID:     "event-1",
		PaymentID:   paymentID,
		Amount:      decimal.RequireFromString("50.00"),
		Currency:    "LKR",
		RequestedAt: now,
		Status:      boost.StatusPending,
		UpdatedAt:   now,
	}
}

func (s *StoreTestSuite) TestCreateIfAbsent() {
	t := s.T()

	first, created, err := s.boosts.CreateIfAbsent(s.ctx, newBoostRequest("payment-1"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.boosts.CreateIfAbsent(s.ctx, newBoostRequest("payment-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func (s *StoreTestSuite) TestBoostRequestUpdateAndList() {
	t := s.T()

	r, _, err := s.boosts.CreateIfAbsent(s.ctx, newBoostRequest("payment-1"))
	require.NoError(t, err)
	_, _, err = s.boosts.CreateIfAbsent(s.ctx, newBoostRequest("payment-2"))
	require.NoError(t, err)

	_, err = s.boosts.Update(s.ctx, r.ID, func(r *boost.BoostRequest) (bool, error) {
		r.Status = boost.StatusRejected
		return true, nil
	})
	require.NoError(t, err)

	rejected, err := s.boosts.List(s.ctx, boost.StatusRejected, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, r.ID, rejected[0].ID)

	_, err = s.boosts.Get(s.ctx, "missing")
	assert.ErrorIs(t, err, boost.ErrNotFound)
}

// each attempt loses to a writer that bumps the version underneath it
func (s *StoreTestSuite) TestBoostRequestUpdateRetriesExhausted() {
	t := s.T()

	r, _, err := s.boosts.CreateIfAbsent(s.ctx, newBoostRequest("payment-1"))
	require.NoError(t, err)

	attempts := 0
	_, err = s.boosts.Update(s.ctx, r.ID, func(r *boost.BoostRequest) (bool, error) {
		attempts++
		_, err := s.boosts.Update(s.ctx, r.ID, func(inner *boost.BoostRequest) (bool, error) {
			inner.UpdatedAt = time.Now().UTC()
			return true, nil
		})
		require.NoError(t, err)
		r.Status = boost.StatusRejected
		return true, nil
	})
	assert.ErrorIs(t, err, boost.ErrConcurrentUpdate)
	assert.Equal(t, maxUpdateAttempts, attempts)

	got, err := s.boosts.Get(s.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, boost.StatusPending, got.Status)
}

func (s *StoreTestSuite) TestTransactionUpdateRetriesExhausted() {
	t := s.T()

	txn := newTransaction()
	require.NoError(t, s.txns.Insert(s.ctx, txn))

	_, err := s.txns.Update(s.ctx, txn.ExternalTrxID, func(t *ledger.Transaction) (bool, error) {
		_, err := s.txns.Update(s.ctx, t.ExternalTrxID, func(inner *ledger.Transaction) (bool, error) {
			inner.UpdatedAt = time.Now().UTC()
			return true, nil
		})
		if err != nil {
			return false, err
		}
		t.Status = ledger.StatusFailed
		return true, nil
	})
	assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)
}

func (s *StoreTestSuite) TestDirectory() {
	t := s.T()

	_, err := s.db.Collection(UsersCollection).InsertMany(s.ctx, []interface{}{
		bson.M{"_id": "payer-1", "subscriberId": "tel:94770000001"},
		bson.M{"_id": "payer-2"},
	})
	require.NoError(t, err)
	_, err = s.db.Collection(EventsCollection).InsertOne(s.ctx, bson.M{"_id": "event-1", "title": "Jazz Night"})
	require.NoError(t, err)

	dir := directory.NewMongo(s.db, UsersCollection, EventsCollection)

	subscriberID, err := dir.SubscriberID(s.ctx, "payer-1")
	require.NoError(t, err)
	assert.Equal(t, "tel:94770000001", subscriberID)

	_, err = dir.SubscriberID(s.ctx, "payer-2")
	assert.ErrorIs(t, err, directory.ErrNotFound)
	_, err = dir.SubscriberID(s.ctx, "payer-9")
	assert.ErrorIs(t, err, directory.ErrNotFound)

	title, err := dir.EventTitle(s.ctx, "event-1")
	require.NoError(t, err)
	assert.Equal(t, "Jazz Night", title)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
