package ledger

import (
	"context"

	"vidcall-platform/internal/money"
)

// Store is the ledger persistence contract.
//
// Money invariants:
// - Balances change only through ApplyTransfer
// - ApplyTransfer never leaves an account negative
// - Records are keyed by RecordID so retries address the same row
type Store interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	PutAccount(ctx context.Context, a Account) error
	SetAvailability(ctx context.Context, accountID string, available bool) error

	ApplyTransfer(ctx context.Context, t Transfer) (TransferResult, error)

	GetTransaction(ctx context.Context, id string) (TransactionRecord, bool, error)
	// ListTransactions returns newest first. limit <= 0 means no limit.
	ListTransactions(ctx context.Context, accountID string, limit int) ([]TransactionRecord, error)
}

// applyLegs computes post-transfer balances and rejects any that would go negative.
func applyLegs(current map[string]money.Money, legs []Leg) (map[string]money.Money, error) {
	out := make(map[string]money.Money, len(current))
	for id, b := range current {
		out[id] = b
	}
	for _, l := range legs {
		out[l.AccountID] = out[l.AccountID].Add(l.Delta)
	}
	for _, b := range out {
		if b.IsNegative() {
			return nil, ErrInsufficientFunds
		}
	}
	return out, nil
}
