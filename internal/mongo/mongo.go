// Package mongo provides MongoDB implementations of the ledger and boost
// request stores, plus the users and events collections read by the directory.
package mongo

import (
	"context"
	"time"

	"boost-service/internal/config"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	transactionsCollection  = "transactions"
	boostRequestsCollection = "boost_requests"
	UsersCollection         = "users"
	EventsCollection        = "events"

	// optimistic update attempts before giving up with a concurrent update error
	maxUpdateAttempts = 5
)

// Connect opens a pooled client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.Mongo) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetSocketTimeout(15 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging mongo")
	}

	return client, nil
}

// EnsureIndexes creates the unique payment index on boost requests and the
// unsettled lookup index on transactions.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(boostRequestsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "paymentId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "requestedAt", Value: 1}}},
	})
	if err != nil {
		return errors.Wrap(err, "creating boost request indexes")
	}

	_, err = db.Collection(transactionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "notificationReceived", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: 1}}},
	})
	return errors.Wrap(err, "creating transaction indexes")
}
