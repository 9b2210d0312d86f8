package routing

import (
	"context"

	"vidcall-platform/internal/audit"
)

// AuditAdapter bridges routing's discard hook to the shared audit.Service.
type AuditAdapter struct {
	Audit *audit.Service
}

func (a AuditAdapter) LogDiscarded(ctx context.Context, e DiscardEvent) error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Append(ctx, audit.Event{
		Type:           audit.EventTypeCallRequestDiscarded,
		AccountID:      e.TargetID,
		CounterpartyID: e.CallerID,
		RoomID:         e.RoomID,
		Message:        string(e.Reason),
		CreatedAt:      e.At,
	})
}
