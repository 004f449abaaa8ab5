package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusConfirmed Status = "confirmed"
)

// Outcome is the classification of a processor status code.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

// Transaction is one attempt to charge a payer for boosting a single event.
// ExternalTrxID is generated before the processor call and is the only key
// shared by the synchronous response and the webhook.
type Transaction struct {
	ExternalTrxID string          `json:"externalTrxId"`
	InternalTrxID string          `json:"internalTrxId,omitempty"`
	SubscriberID  string          `json:"subscriberId"`
	EventID       string          `json:"eventId"`
	PayerID       string          `json:"payerId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`

	Status               Status  `json:"status"`
	StatusCode           string  `json:"statusCode,omitempty"`
	StatusDetail         string  `json:"statusDetail,omitempty"`
	NotificationReceived bool    `json:"notificationReceived"`
	SettledOutcome       Outcome `json:"settledOutcome,omitempty"`

	NeedsReview  bool   `json:"needsReview"`
	ReviewReason string `json:"reviewReason,omitempty"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	SettledAt *time.Time `json:"settledAt,omitempty"`
}

// Settled reports whether the webhook has delivered the authoritative outcome.
func (t *Transaction) Settled() bool {
	return t.NotificationReceived
}

// SuccessLeaning reports whether the transaction currently counts as paid,
// provisionally or finally.
func (t *Transaction) SuccessLeaning() bool {
	return t.Status == StatusSuccess || t.Status == StatusConfirmed
}

// Result is a processor answer for one transaction, from either signal.
type Result struct {
	Outcome       Outcome
	StatusCode    string
	StatusDetail  string
	InternalTrxID string

	// Only used to populate a recovery record when a webhook arrives for an
	// unknown transaction.
	SubscriberID string
	Amount       decimal.Decimal
	Currency     string
}

// Effect describes what a webhook did to the ledger.
type Effect string

const (
	EffectConfirmed  Effect = "confirmed"
	EffectFailed     Effect = "failed"
	EffectOverturned Effect = "overturned"
	EffectDuplicate  Effect = "duplicate"
	EffectRecovered  Effect = "recovered"
)

type Settlement struct {
	Transaction    *Transaction
	PreviousStatus Status
	Effect         Effect
}
