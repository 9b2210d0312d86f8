package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - account_id is required; it is the account the event is about.
// - Audit writes are best-effort; callers do not block call teardown on them.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	AccountID      string `json:"account_id" db:"account_id"`
	CounterpartyID string `json:"counterparty_id,omitempty" db:"counterparty_id"`
	RoomID         string `json:"room_id,omitempty" db:"room_id"`

	// Message is a short human-readable description for ops reconciliation.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeOverLimitCall: a call's final cost exceeded the customer's balance at settlement.
	EventTypeOverLimitCall    EventType = "over_limit_call"
	EventTypeSettlementFailed EventType = "settlement_failed"
	// EventTypeCallRequestDiscarded: an inbound request was dropped before ringing.
	EventTypeCallRequestDiscarded EventType = "call_request_discarded"
	EventTypePayoutReversed       EventType = "payout_reversed"
)
