package payload

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ChargeRequest is the body of the outbound mobile-money charge call.
type ChargeRequest struct {
	ApplicationID         string `json:"applicationId"`
	Password              string `json:"password"`
	ExternalTrxID         string `json:"externalTrxId"`
	SubscriberID          string `json:"subscriberId"`
	PaymentInstrumentName string `json:"paymentInstrumentName"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
}

type ChargeResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusDetail  string `json:"statusDetail"`
	InternalTrxID string `json:"internalTrxId"`
	ExternalTrxID string `json:"externalTrxId"`
	TimeStamp     string `json:"timeStamp"`
}

// Notification is the processor's asynchronous outcome webhook.
type Notification struct {
	ExternalTrxID         string `json:"externalTrxId"`
	InternalTrxID         string `json:"internalTrxId"`
	StatusCode            string `json:"statusCode"`
	StatusDetail          string `json:"statusDetail"`
	TimeStamp             string `json:"timeStamp"`
	Amount                Amount `json:"amount"`
	Currency              string `json:"currency"`
	SubscriberID          string `json:"subscriberId"`
	PaymentInstrumentName string `json:"paymentInstrumentName"`
}

// Ack is returned for every webhook delivery.
type Ack struct {
	StatusCode   string `json:"statusCode"`
	StatusDetail string `json:"statusDetail"`
}

// Amount accepts a JSON string ("50.00") or number (50).
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			a.Decimal = decimal.Zero
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", s, err)
		}
		a.Decimal = d
		return nil
	}

	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", data, err)
	}
	a.Decimal = d
	return nil
}

// BoostRequest is the body of POST /boosts.
type BoostRequest struct {
	PayerID  string `json:"payerId"`
	EventID  string `json:"eventId"`
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
}

type BoostResponse struct {
	ExternalTrxID string `json:"externalTrxId,omitempty"`
	Status        string `json:"status,omitempty"`
	StatusCode    string `json:"statusCode,omitempty"`
	StatusDetail  string `json:"statusDetail,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Error struct {
	Error string `json:"error"`
}

// SMS is the body sent to the SMS gateway for subscriber fan-out.
type SMS struct {
	EventID string `json:"eventId"`
	Message string `json:"message"`
}
