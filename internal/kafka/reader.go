package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"boost-service/internal/config"
	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"
)

type Metrics struct {
	ReadErrorCounter    *metrics.Counter
	ProcessErrorCounter *metrics.Counter
	SuccessCounter      *metrics.Counter
}

func NewMetrics(messageType string) Metrics {
	return Metrics{
		ReadErrorCounter:    metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="` + messageType + `"}`),
		ProcessErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="` + messageType + `"}`),
		SuccessCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="` + messageType + `"}`),
	}
}

// MessageReader is the part of *kafka.Reader the read loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func NewReader(cfg config.Kafka, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   topic,
	})
}

// ReadMessages hands every message to process until ctx is done. Processing
// errors are logged and counted; the message is committed regardless.
func ReadMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, kafka.Message) error, kafkaMetrics Metrics) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				logger.InfoContext(ctx, "Reader closed, stopping")
				return
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}
		logger.DebugContext(ctx, "Received message", "topic", m.Topic, "key", string(m.Key))

		if err := process(ctx, m); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "topic", m.Topic, "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
			continue
		}
		kafkaMetrics.SuccessCounter.Inc()
	}
}
