package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"boost-service/internal/config"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const processorURL = "http://processor.example.com"

func testGatewayConfig() config.Gateway {
	return config.Gateway{
		URL:                   processorURL + "/caas/direct/debit",
		ApplicationID:         "APP_000001",
		Password:              "secret",
		PaymentInstrumentName: "Mobile Account",
		TimeoutMs:             100,
		SuccessCode:           "S1000",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Charge(t *testing.T) {
	tests := []struct {
		name               string
		mockResponse       func()
		expectedStatusCode string
		expectedError      error
	}{
		{
			name: "Success",
			mockResponse: func() {
				gock.New(processorURL).
					Post("/caas/direct/debit").
					MatchType("json").
					JSON(map[string]string{
						"applicationId":         "APP_000001",
						"password":              "secret",
						"externalTrxId":         "trx-1",
						"subscriberId":          "tel:94771234567",
						"paymentInstrumentName": "Mobile Account",
						"amount":                "50",
						"currency":              "LKR",
					}).
					Reply(200).
					JSON(map[string]string{"statusCode": "S1000", "statusDetail": "Success", "internalTrxId": "int-1"})
			},
			expectedStatusCode: "S1000",
		},
		{
			name: "FailureCode",
			mockResponse: func() {
				gock.New(processorURL).
					Post("/caas/direct/debit").
					Reply(200).
					JSON(map[string]string{"statusCode": "E1308", "statusDetail": "Insufficient balance"})
			},
			expectedStatusCode: "E1308",
		},
		{
			name: "ServerError",
			mockResponse: func() {
				gock.New(processorURL).
					Post("/caas/direct/debit").
					Reply(500).
					JSON(map[string]string{"error": "internal server error"})
			},
			expectedError: ErrGatewayUnavailable,
		},
		{
			name: "UndecodableBody",
			mockResponse: func() {
				gock.New(processorURL).
					Post("/caas/direct/debit").
					Reply(200).
					BodyString("<html>maintenance</html>")
			},
			expectedError: ErrGatewayUnavailable,
		},
		{
			name: "Timeout",
			mockResponse: func() {
				gock.New(processorURL).
					Post("/caas/direct/debit").
					Reply(200).
					Delay(500 * time.Millisecond).
					JSON(map[string]string{"statusCode": "S1000"})
			},
			expectedError: ErrGatewayUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mockResponse()

			client := NewClient(testGatewayConfig(), discardLogger())

			resp, err := client.Charge(context.Background(), "trx-1", "tel:94771234567", "50", "LKR")
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, resp)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedStatusCode, resp.StatusCode)
			}
			assert.True(t, gock.IsDone())
		})
	}
}

func TestCodes(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.PendingCodes = []string{"P1003"}
	codes := NewCodes(cfg)

	assert.Equal(t, "success", string(codes.Sync("S1000")))
	assert.Equal(t, "pending", string(codes.Sync("P1003")))
	assert.Equal(t, "failure", string(codes.Sync("E1308")))

	assert.Equal(t, "success", string(codes.Webhook("S1000")))
	assert.Equal(t, "failure", string(codes.Webhook("P1003")))
	assert.Equal(t, "failure", string(codes.Webhook("")))
}
