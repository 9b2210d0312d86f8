package reporting

import (
	"time"

	"vidcall-platform/internal/money"
)

// TimeRange is half-open: From <= t < To. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type StatementRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

// Statement aggregates one account's transaction records.
// Failed records are counted in FailedRecords only.
type Statement struct {
	AccountID string `json:"account_id"`

	Spent     money.Money `json:"spent"`
	Earned    money.Money `json:"earned"`
	Purchased money.Money `json:"purchased"`
	PaidOut   money.Money `json:"paid_out"`

	// PendingPayouts is the part of PaidOut still awaiting the gateway.
	PendingPayouts money.Money `json:"pending_payouts"`
	// Net is the sum of the signed amounts counted above.
	Net money.Money `json:"net"`

	CallCount          int   `json:"call_count"`
	CallSeconds        int64 `json:"call_seconds"`
	AverageCallSeconds int64 `json:"average_call_seconds"`

	FailedRecords int `json:"failed_records"`
}
