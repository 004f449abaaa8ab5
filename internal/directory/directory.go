// Package directory resolves payers to their processor subscriber handle and
// events to their display title.
package directory

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrNotFound = errors.New("not found in directory")

type Directory interface {
	SubscriberID(ctx context.Context, payerID string) (string, error)
	EventTitle(ctx context.Context, eventID string) (string, error)
}

type userDocument struct {
	ID           string `bson:"_id"`
	SubscriberID string `bson:"subscriberId"`
}

type eventDocument struct {
	ID    string `bson:"_id"`
	Title string `bson:"title"`
}

// Mongo reads the users and events collections owned by the rest of the
// platform. It never writes.
type Mongo struct {
	users  *mongo.Collection
	events *mongo.Collection
}

func NewMongo(db *mongo.Database, usersCollection, eventsCollection string) *Mongo {
	return &Mongo{
		users:  db.Collection(usersCollection),
		events: db.Collection(eventsCollection),
	}
}

func (m *Mongo) SubscriberID(ctx context.Context, payerID string) (string, error) {
	var user userDocument
	err := m.users.FindOne(ctx, bson.M{"_id": payerID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if user.SubscriberID == "" {
		return "", ErrNotFound
	}
	return user.SubscriberID, nil
}

func (m *Mongo) EventTitle(ctx context.Context, eventID string) (string, error) {
	var event eventDocument
	err := m.events.FindOne(ctx, bson.M{"_id": eventID}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return event.Title, nil
}
