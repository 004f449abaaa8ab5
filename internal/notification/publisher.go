package notification

import (
	"context"
	"encoding/json"
	"log/slog"

	"boost-service/internal/boost"
	"boost-service/internal/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher hands approved boosts to the notification topic. It implements
// boost.Notifier.
type Publisher struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewPublisher(writer MessageWriter, logger *slog.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) NotifySubscribers(ctx context.Context, r *boost.BoostRequest) error {
	approvedAt := r.UpdatedAt
	if r.DecidedAt != nil {
		approvedAt = *r.DecidedAt
	}

	value, err := json.Marshal(message.BoostApproved{
		ID:             uuid.New(),
		BoostRequestID: r.ID,
		EventID:        r.EventID,
		EventTitle:     r.EventTitle,
		ApprovedAt:     approvedAt,
	})
	if err != nil {
		return errors.Wrap(err, "marshalling boost approved message")
	}

	p.logger.InfoContext(ctx, "Publishing boost approved message", "eventId", r.EventID)

	// key by event id to keep an event's notifications ordered
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.EventID), Value: value})
	return errors.Wrap(err, "writing boost approved message")
}
