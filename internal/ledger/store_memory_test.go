package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidcall-platform/internal/money"
)

func seed(t *testing.T, s *MemoryStore, accts ...Account) {
	t.Helper()
	for _, a := range accts {
		if err := s.PutAccount(context.Background(), a); err != nil {
			t.Fatalf("seed %s: %v", a.ID, err)
		}
	}
}

func callTransfer(room string, cost, share money.Money) Transfer {
	return Transfer{
		Legs: []Leg{
			{AccountID: "cust", Delta: cost.Neg()},
			{AccountID: "prov", Delta: share},
		},
		Records: []TransactionRecord{
			{ID: RecordID("cust", KindCallPayment, room), AccountID: "cust", Amount: cost.Neg(), Kind: KindCallPayment, Status: StatusCompleted, RoomID: room},
			{ID: RecordID("prov", KindCallEarnings, room), AccountID: "prov", Amount: share, Kind: KindCallEarnings, Status: StatusCompleted, RoomID: room},
		},
	}
}

func TestMemoryStore_ApplyTransfer_IsIdempotentPerRecordID(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s,
		Account{ID: "cust", Type: AccountTypeCustomer, Balance: money.MustNew("10.00")},
		Account{ID: "prov", Type: AccountTypeProvider, Balance: money.Zero},
	)
	ctx := context.Background()
	tr := callTransfer("room1", money.MustNew("7.50"), money.MustNew("5.63"))

	res, err := s.ApplyTransfer(ctx, tr)
	if err != nil || !res.Applied {
		t.Fatalf("first apply: %v applied=%v", err, res.Applied)
	}
	res, err = s.ApplyTransfer(ctx, tr)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Applied {
		t.Fatalf("replay must not apply")
	}

	c, _ := s.GetAccount(ctx, "cust")
	p, _ := s.GetAccount(ctx, "prov")
	if c.Balance.String() != "2.50" || p.Balance.String() != "5.63" {
		t.Fatalf("unexpected balances cust=%s prov=%s", c.Balance, p.Balance)
	}
	list, _ := s.ListTransactions(ctx, "cust", 0)
	if len(list) != 1 {
		t.Fatalf("expected 1 record, got %d", len(list))
	}
}

func TestMemoryStore_ApplyTransfer_RejectsNegativeBalance(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s,
		Account{ID: "cust", Type: AccountTypeCustomer, Balance: money.MustNew("5.00")},
		Account{ID: "prov", Type: AccountTypeProvider, Balance: money.Zero},
	)
	ctx := context.Background()

	_, err := s.ApplyTransfer(ctx, callTransfer("room1", money.MustNew("7.50"), money.MustNew("5.63")))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	c, _ := s.GetAccount(ctx, "cust")
	p, _ := s.GetAccount(ctx, "prov")
	if c.Balance.String() != "5.00" || !p.Balance.IsZero() {
		t.Fatalf("balances mutated: cust=%s prov=%s", c.Balance, p.Balance)
	}
	if _, ok, _ := s.GetTransaction(ctx, RecordID("cust", KindCallPayment, "room1")); ok {
		t.Fatalf("record written on failed transfer")
	}
}

func TestMemoryStore_ApplyTransfer_UnknownAccount(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, Account{ID: "cust", Type: AccountTypeCustomer, Balance: money.MustNew("5.00")})
	_, err := s.ApplyTransfer(context.Background(), callTransfer("r", money.MustNew("1.00"), money.MustNew("0.75")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_StatusChangeRequiresExpectedStatus(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, Account{ID: "prov", Type: AccountTypeProvider, Balance: money.MustNew("10.00")})
	ctx := context.Background()

	id := RecordID("prov", KindPayout, "p1")
	if _, err := s.ApplyTransfer(ctx, Transfer{
		Legs:    []Leg{{AccountID: "prov", Delta: money.MustNew("-4.00")}},
		Records: []TransactionRecord{{ID: id, AccountID: "prov", Amount: money.MustNew("-4.00"), Kind: KindPayout, Status: StatusPending}},
	}); err != nil {
		t.Fatalf("payout: %v", err)
	}

	reverse := Transfer{
		Legs:          []Leg{{AccountID: "prov", Delta: money.MustNew("4.00")}},
		StatusChanges: []StatusChange{{RecordID: id, From: StatusPending, To: StatusFailed}},
	}
	if _, err := s.ApplyTransfer(ctx, reverse); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if _, err := s.ApplyTransfer(ctx, reverse); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected second reversal to conflict, got %v", err)
	}
	a, _ := s.GetAccount(ctx, "prov")
	if a.Balance.String() != "10.00" {
		t.Fatalf("expected balance restored once, got %s", a.Balance)
	}
}

func TestMemoryStore_ListTransactions_NewestFirst(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, Account{ID: "cust", Type: AccountTypeCustomer})
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, ref := range []string{"a", "b", "c"} {
		_, err := s.ApplyTransfer(ctx, Transfer{
			Legs: []Leg{{AccountID: "cust", Delta: money.MustNew("1")}},
			Records: []TransactionRecord{{
				ID: RecordID("cust", KindCreditPurchase, ref), AccountID: "cust", Amount: money.MustNew("1"),
				Kind: KindCreditPurchase, Status: StatusCompleted, Timestamp: base.Add(time.Duration(i) * time.Minute),
			}},
		})
		if err != nil {
			t.Fatalf("apply %s: %v", ref, err)
		}
	}
	list, _ := s.ListTransactions(ctx, "cust", 2)
	if len(list) != 2 || list[0].ID != RecordID("cust", KindCreditPurchase, "c") {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestAccount_HasBlocked(t *testing.T) {
	a := Account{BlockedAccountIDs: []string{"x"}}
	if !a.HasBlocked("x") || a.HasBlocked("y") {
		t.Fatalf("unexpected HasBlocked")
	}
}
