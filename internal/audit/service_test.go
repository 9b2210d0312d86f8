package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"vidcall-platform/internal/money"
)

func TestService_AppendRequiresAccountAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeOverLimitCall}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{AccountID: "a"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestService_LogOverLimitCall(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogOverLimitCall(context.Background(), "room1", "cust", "prov", money.MustNew("7.50"), money.MustNew("5.00"), 90); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.OfType(EventTypeOverLimitCall)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp filled")
	}
	if e.AccountID != "cust" || e.CounterpartyID != "prov" || e.RoomID != "room1" {
		t.Fatalf("unexpected event %+v", e)
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(e.Metadata), &md); err != nil {
		t.Fatalf("metadata not json: %v", err)
	}
	if md["final_cost"] != "7.50" || md["customer_balance"] != "5.00" {
		t.Fatalf("unexpected metadata %v", md)
	}
}
