package mongo

import (
	"context"
	"time"

	"boost-service/internal/ledger"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type transactionDocument struct {
	ExternalTrxID        string     `bson:"_id"`
	InternalTrxID        string     `bson:"internalTrxId"`
	SubscriberID         string     `bson:"subscriberId"`
	EventID              string     `bson:"eventId"`
	PayerID              string     `bson:"payerId"`
	Amount               string     `bson:"amount"`
	Currency             string     `bson:"currency"`
	Status               string     `bson:"status"`
	StatusCode           string     `bson:"statusCode"`
	StatusDetail         string     `bson:"statusDetail"`
	NotificationReceived bool       `bson:"notificationReceived"`
	SettledOutcome       string     `bson:"settledOutcome"`
	NeedsReview          bool       `bson:"needsReview"`
	ReviewReason         string     `bson:"reviewReason"`
	Version              int64      `bson:"version"`
	CreatedAt            time.Time  `bson:"createdAt"`
	UpdatedAt            time.Time  `bson:"updatedAt"`
	SettledAt            *time.Time `bson:"settledAt,omitempty"`
}

func toTransactionDocument(t *ledger.Transaction) transactionDocument {
	return transactionDocument{
		ExternalTrxID:        t.ExternalTrxID,
		InternalTrxID:        t.InternalTrxID,
		SubscriberID:         t.SubscriberID,
		EventID:              t.EventID,
		PayerID:              t.PayerID,
		Amount:               t.Amount.String(),
		Currency:             t.Currency,
		Status:               string(t.Status),
		StatusCode:           t.StatusCode,
		StatusDetail:         t.StatusDetail,
		NotificationReceived: t.NotificationReceived,
		SettledOutcome:       string(t.SettledOutcome),
		NeedsReview:          t.NeedsReview,
		ReviewReason:         t.ReviewReason,
		Version:              t.Version,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		SettledAt:            t.SettledAt,
	}
}

func (d transactionDocument) toTransaction() (*ledger.Transaction, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, err
	}
	return &ledger.Transaction{
		ExternalTrxID:        d.ExternalTrxID,
		InternalTrxID:        d.InternalTrxID,
		SubscriberID:         d.SubscriberID,
		EventID:              d.EventID,
		PayerID:              d.PayerID,
		Amount:               amount,
		Currency:             d.Currency,
		Status:               ledger.Status(d.Status),
		StatusCode:           d.StatusCode,
		StatusDetail:         d.StatusDetail,
		NotificationReceived: d.NotificationReceived,
		SettledOutcome:       ledger.Outcome(d.SettledOutcome),
		NeedsReview:          d.NeedsReview,
		ReviewReason:         d.ReviewReason,
		Version:              d.Version,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		SettledAt:            d.SettledAt,
	}, nil
}

// TransactionStore keeps one document per transaction keyed by externalTrxId.
// Updates are optimistic: the write only lands if the version read is still
// current, otherwise mutate is re-run against the fresh document.
type TransactionStore struct {
	collection *mongo.Collection
}

func NewTransactionStore(db *mongo.Database) *TransactionStore {
	return &TransactionStore{collection: db.Collection(transactionsCollection)}
}

func (s *TransactionStore) Insert(ctx context.Context, t *ledger.Transaction) error {
	doc := toTransactionDocument(t)
	doc.Version = 1

	_, err := s.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ledger.ErrDuplicateKey
	}
	if err != nil {
		return errors.Wrapf(err, "inserting transaction %s", t.ExternalTrxID)
	}

	t.Version = 1
	return nil
}

func (s *TransactionStore) Get(ctx context.Context, externalTrxID string) (*ledger.Transaction, error) {
	var doc transactionDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": externalTrxID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading transaction %s", externalTrxID)
	}
	return doc.toTransaction()
}

func (s *TransactionStore) Update(ctx context.Context, externalTrxID string, mutate func(t *ledger.Transaction) (bool, error)) (*ledger.Transaction, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		t, err := s.Get(ctx, externalTrxID)
		if err != nil {
			return nil, err
		}

		changed, err := mutate(t)
		if err != nil {
			return nil, err
		}
		if !changed {
			return t, nil
		}

		expected := t.Version
		t.Version++
		res, err := s.collection.ReplaceOne(ctx,
			bson.M{"_id": externalTrxID, "version": expected},
			toTransactionDocument(t))
		if err != nil {
			return nil, errors.Wrapf(err, "replacing transaction %s", externalTrxID)
		}
		if res.MatchedCount == 1 {
			return t, nil
		}
	}

	return nil, ledger.ErrConcurrentUpdate
}

func (s *TransactionStore) ListUnsettled(ctx context.Context, createdBefore time.Time, limit int) ([]*ledger.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, bson.M{
		"notificationReceived": false,
		"createdAt":            bson.M{"$lt": createdBefore},
	}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing unsettled transactions")
	}
	return decodeTransactions(ctx, cursor)
}

func (s *TransactionStore) ListPaid(ctx context.Context, updatedAfter time.Time, limit int) ([]*ledger.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, bson.M{
		"status":    bson.M{"$in": bson.A{string(ledger.StatusSuccess), string(ledger.StatusConfirmed)}},
		"updatedAt": bson.M{"$gt": updatedAfter},
	}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing paid transactions")
	}
	return decodeTransactions(ctx, cursor)
}

func decodeTransactions(ctx context.Context, cursor *mongo.Cursor) ([]*ledger.Transaction, error) {
	defer cursor.Close(ctx)

	var items []*ledger.Transaction
	for cursor.Next(ctx) {
		var doc transactionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		t, err := doc.toTransaction()
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, cursor.Err()
}
