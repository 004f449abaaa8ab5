package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"boost-service/internal/kafka"
	"boost-service/internal/logcontext"
	"boost-service/internal/message"
	"boost-service/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	kafkago "github.com/segmentio/kafka-go"
)

var (
	dispatchSentCounter      = metrics.GetOrCreateCounter(`boost_sms_total{result="sent"}`)
	dispatchFailedCounter    = metrics.GetOrCreateCounter(`boost_sms_total{result="failed"}`)
	dispatchMalformedCounter = metrics.GetOrCreateCounter(`boost_sms_total{result="malformed"}`)

	boostApprovedMetrics = kafka.NewMetrics("boost_approved")
)

type Sender interface {
	Send(ctx context.Context, sms payload.SMS) error
}

// Dispatcher turns boost approved messages into SMS fan-out requests.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
}

func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logger: logger}
}

// Run consumes reader until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, reader kafka.MessageReader) {
	kafka.ReadMessages(ctx, reader, d.logger, d.Process, boostApprovedMetrics)
}

func (d *Dispatcher) Process(ctx context.Context, m kafkago.Message) error {
	var approved message.BoostApproved
	if err := json.Unmarshal(m.Value, &approved); err != nil {
		dispatchMalformedCounter.Inc()
		return fmt.Errorf("unmarshalling boost approved message: %w", err)
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("boostRequestId", approved.BoostRequestID))

	if err := d.sender.Send(ctx, payload.SMS{EventID: approved.EventID, Message: smsText(approved)}); err != nil {
		dispatchFailedCounter.Inc()
		return err
	}

	dispatchSentCounter.Inc()
	return nil
}

func smsText(approved message.BoostApproved) string {
	if approved.EventTitle == "" {
		return "An event you follow has been boosted. Check it out!"
	}
	return fmt.Sprintf("%s has been boosted. Check it out!", approved.EventTitle)
}
