package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"vidcall-platform/internal/money"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information used for later reconciliation.
// Audit is internal-only and is not exposed to account holders.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AccountID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogOverLimitCall records a call whose cost could not be settled because the customer
// balance was short. No balance moved; ops reconciles from this record.
func (s *Service) LogOverLimitCall(ctx context.Context, roomID, customerID, providerID string, cost, balance money.Money, durationSeconds int64) error {
	return s.Append(ctx, Event{
		Type:           EventTypeOverLimitCall,
		AccountID:      customerID,
		CounterpartyID: providerID,
		RoomID:         roomID,
		Message:        "final cost exceeds customer balance",
		Metadata: metadata(map[string]any{
			"final_cost":            cost.String(),
			"customer_balance":      balance.String(),
			"call_duration_seconds": durationSeconds,
		}),
	})
}

func (s *Service) LogSettlementFailure(ctx context.Context, roomID, customerID, providerID string, cost money.Money, cause error) error {
	return s.Append(ctx, Event{
		Type:           EventTypeSettlementFailed,
		AccountID:      customerID,
		CounterpartyID: providerID,
		RoomID:         roomID,
		Message:        cause.Error(),
		Metadata:       metadata(map[string]any{"final_cost": cost.String()}),
	})
}

func (s *Service) LogPayoutReversed(ctx context.Context, accountID, recordID string, amount money.Money, cause error) error {
	return s.Append(ctx, Event{
		Type:      EventTypePayoutReversed,
		AccountID: accountID,
		Message:   cause.Error(),
		Metadata:  metadata(map[string]any{"record_id": recordID, "amount": amount.String()}),
	})
}

func metadata(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
