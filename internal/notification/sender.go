package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"boost-service/internal/config"
	"boost-service/internal/payload"
)

// SMSSender posts fan-out requests to the SMS gateway, which owns delivery to
// the event's subscribers.
type SMSSender struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func NewSMSSender(cfg config.SMS, logger *slog.Logger) *SMSSender {
	return &SMSSender{
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		url:    cfg.URL,
		logger: logger,
	}
}

func (s *SMSSender) Send(ctx context.Context, sms payload.SMS) error {
	body, err := json.Marshal(sms)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Sending SMS request", "url", s.url, "eventId", sms.EventID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(body))
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating request", "error", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error sending SMS request", "error", err)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error reading response body", "error", err)
		return err
	}

	if resp.StatusCode >= 400 {
		s.logger.ErrorContext(ctx, "Received error response", "status", resp.Status, "body", string(respBody))
		return fmt.Errorf("error response: %s", resp.Status)
	}

	s.logger.InfoContext(ctx, "Successfully sent SMS request", "status", resp.Status)
	return nil
}
