package message

import (
	"time"

	"github.com/google/uuid"
)

// BoostApproved is published once per approved boost request, keyed by
// event id so all notifications for an event stay ordered.
type BoostApproved struct {
	ID             uuid.UUID `json:"id"`
	BoostRequestID string    `json:"boostRequestId"`
	EventID        string    `json:"eventId"`
	EventTitle     string    `json:"eventTitle"`
	ApprovedAt     time.Time `json:"approvedAt"`
}
