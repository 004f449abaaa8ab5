package boost

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

var (
	ErrNotFound          = errors.New("boost request not found")
	ErrInvalidTransition = errors.New("boost request is not pending")
	ErrNeedsReview       = errors.New("boost request is flagged for manual review")
	ErrInvalidDecision   = errors.New("invalid decision")

	// ErrConcurrentUpdate is returned by a Store when an update kept losing to
	// concurrent writers.
	ErrConcurrentUpdate = errors.New("boost request modified concurrently")
)

// BoostRequest is the admin approval envelope for one paid boost. There is at
// most one per PaymentID.
type BoostRequest struct {
	ID          string          `json:"id"`
	EventID     string          `json:"eventId"`
	PayerID     string          `json:"payerId"`
	PaymentID   string          `json:"paymentId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	EventTitle  string          `json:"eventTitle"`
	RequestedAt time.Time       `json:"requestedAt"`
	Status      Status          `json:"status"`

	NeedsReview  bool   `json:"needsReview"`
	ReviewReason string `json:"reviewReason,omitempty"`

	DecidedAt *time.Time `json:"decidedAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
