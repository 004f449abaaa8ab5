package mongo

import (
	"context"
	"time"

	"boost-service/internal/boost"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type boostRequestDocument struct {
	ID           string     `bson:"_id"`
	EventID      string     `bson:"eventId"`
	PayerID      string     `bson:"payerId"`
	PaymentID    string     `bson:"paymentId"`
	Amount       string     `bson:"amount"`
	Currency     string     `bson:"currency"`
	EventTitle   string     `bson:"eventTitle"`
	RequestedAt  time.Time  `bson:"requestedAt"`
	Status       string     `bson:"status"`
	NeedsReview  bool       `bson:"needsReview"`
	ReviewReason string     `bson:"reviewReason"`
	DecidedAt    *time.Time `bson:"decidedAt,omitempty"`
	UpdatedAt    time.Time  `bson:"updatedAt"`
	Version      int64      `bson:"version"`
}

func toBoostRequestDocument(r *boost.BoostRequest, version int64) boostRequestDocument {
	return boostRequestDocument{
		ID:           r.ID,
		EventID:      r.EventID,
		PayerID:      r.PayerID,
		PaymentID:    r.PaymentID,
		Amount:       r.Amount.String(),
		Currency:     r.Currency,
		EventTitle:   r.EventTitle,
		RequestedAt:  r.RequestedAt,
		Status:       string(r.Status),
		NeedsReview:  r.NeedsReview,
		ReviewReason: r.ReviewReason,
		DecidedAt:    r.DecidedAt,
		UpdatedAt:    r.UpdatedAt,
		Version:      version,
	}
}

func (d boostRequestDocument) toBoostRequest() (*boost.BoostRequest, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, err
	}
	return &boost.BoostRequest{
		ID:           d.ID,
		EventID:      d.EventID,
		PayerID:      d.PayerID,
		PaymentID:    d.PaymentID,
		Amount:       amount,
		Currency:     d.Currency,
		EventTitle:   d.EventTitle,
		RequestedAt:  d.RequestedAt,
		Status:       boost.Status(d.Status),
		NeedsReview:  d.NeedsReview,
		ReviewReason: d.ReviewReason,
		DecidedAt:    d.DecidedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

// BoostRequestStore needs the unique paymentId index from EnsureIndexes.
type BoostRequestStore struct {
	collection *mongo.Collection
}

func NewBoostRequestStore(db *mongo.Database) *BoostRequestStore {
	return &BoostRequestStore{collection: db.Collection(boostRequestsCollection)}
}

func (s *BoostRequestStore) CreateIfAbsent(ctx context.Context, r *boost.BoostRequest) (*boost.BoostRequest, bool, error) {
	_, err := s.collection.InsertOne(ctx, toBoostRequestDocument(r, 1))
	if err == nil {
		created := *r
		return &created, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, errors.Wrapf(err, "inserting boost request for payment %s", r.PaymentID)
	}

	existing, err := s.GetByPaymentID(ctx, r.PaymentID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *BoostRequestStore) Get(ctx context.Context, id string) (*boost.BoostRequest, error) {
	r, _, err := s.find(ctx, bson.M{"_id": id})
	return r, err
}

func (s *BoostRequestStore) GetByPaymentID(ctx context.Context, paymentID string) (*boost.BoostRequest, error) {
	r, _, err := s.find(ctx, bson.M{"paymentId": paymentID})
	return r, err
}

func (s *BoostRequestStore) find(ctx context.Context, filter bson.M) (*boost.BoostRequest, int64, error) {
	var doc boostRequestDocument
	err := s.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, boost.ErrNotFound
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "reading boost request")
	}

	r, err := doc.toBoostRequest()
	if err != nil {
		return nil, 0, err
	}
	return r, doc.Version, nil
}

func (s *BoostRequestStore) Update(ctx context.Context, id string, mutate func(r *boost.BoostRequest) (bool, error)) (*boost.BoostRequest, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		r, version, err := s.find(ctx, bson.M{"_id": id})
		if err != nil {
			return nil, err
		}

		changed, err := mutate(r)
		if err != nil {
			return nil, err
		}
		if !changed {
			return r, nil
		}

		res, err := s.collection.ReplaceOne(ctx,
			bson.M{"_id": id, "version": version},
			toBoostRequestDocument(r, version+1))
		if err != nil {
			return nil, errors.Wrapf(err, "replacing boost request %s", id)
		}
		if res.MatchedCount == 1 {
			return r, nil
		}
	}

	return nil, boost.ErrConcurrentUpdate
}

func (s *BoostRequestStore) List(ctx context.Context, status boost.Status, limit int) ([]*boost.BoostRequest, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}

	opts := options.Find().SetSort(bson.D{{Key: "requestedAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "listing boost requests")
	}
	defer cursor.Close(ctx)

	items := []*boost.BoostRequest{}
	for cursor.Next(ctx) {
		var doc boostRequestDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		r, err := doc.toBoostRequest()
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, cursor.Err()
}
