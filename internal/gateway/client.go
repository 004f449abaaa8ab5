package gateway

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
	"github.com/VictoriaMetrics/metrics"
)

var (
	clientSuccessCounter     = metrics.GetOrCreateCounter(`boost_gateway_requests_total{result="success"}`)
	clientErrorCounter       = metrics.GetOrCreateCounter(`boost_gateway_requests_total{result="error"}`)
	clientUnavailableCounter = metrics.GetOrCreateCounter(`boost_gateway_requests_total{result="unavailable"}`)

	clientDurationHistogram = metrics.GetOrCreateHistogram(`boost_gateway_request_duration_milliseconds`)
)

// Client talks to the mobile-money processor's charge endpoint.
type Client struct {
	client *http.Client
	cfg    config.Gateway
	logger *slog.Logger
}

func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	return &Client{
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		cfg:    cfg,
		logger: logger,
	}
}

// Charge posts a direct debit for subscriberID. Every transport failure,
// non-2xx status or unreadable body is reported as ErrGatewayUnavailable: the
// processor may still have accepted the charge.
func (c *Client) Charge(ctx context.Context, externalTrxID, subscriberID string, amount, currency string) (*payload.ChargeResponse, error) {
	startTime := time.Now()
	defer func() {
		clientDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	body, err := json.Marshal(payload.ChargeRequest{
		ApplicationID:         c.cfg.ApplicationID,
		Password:              c.cfg.Password,
		ExternalTrxID:         externalTrxID,
		SubscriberID:          subscriberID,
		PaymentInstrumentName: c.cfg.PaymentInstrumentName,
		Amount:                amount,
		Currency:              currency,
	})
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "Sending charge request", "url", c.cfg.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewBuffer(body))
	if err != nil {
		c.logger.ErrorContext(ctx, "Error creating request", "error", err)
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error sending charge request", "error", err)
		clientUnavailableCounter.Inc()
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error reading response body", "error", err)
		clientUnavailableCounter.Inc()
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	c.logger.InfoContext(ctx, "Charge response received", "status", resp.Status)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.ErrorContext(ctx, "Received error response", "status", resp.Status, "body", string(respBody))
		clientUnavailableCounter.Inc()
		return nil, fmt.Errorf("%w: error response: %s", ErrGatewayUnavailable, resp.Status)
	}

	var chargeResp payload.ChargeResponse
	if err := json.Unmarshal(respBody, &chargeResp); err != nil || chargeResp.StatusCode == "" {
		c.logger.ErrorContext(ctx, "Error decoding charge response", "body", string(respBody), "error", err)
		clientUnavailableCounter.Inc()
		return nil, fmt.Errorf("%w: undecodable response", ErrGatewayUnavailable)
	}

	if chargeResp.StatusCode == c.cfg.SuccessCode {
		clientSuccessCounter.Inc()
	} else {
		clientErrorCounter.Inc()
	}

	return &chargeResp, nil
}
