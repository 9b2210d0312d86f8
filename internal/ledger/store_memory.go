package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"vidcall-platform/internal/money"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]Account
	records   map[string]TransactionRecord
	byAccount map[string][]string

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  map[string]Account{},
		records:   map[string]TransactionRecord{},
		byAccount: map[string][]string{},
		clock:     time.Now,
	}
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.BlockedAccountIDs = slices.Clone(a.BlockedAccountIDs)
	return a, nil
}

func (s *MemoryStore) PutAccount(ctx context.Context, a Account) error {
	if a.ID == "" || !a.Type.Valid() || a.Balance.IsNegative() {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.BlockedAccountIDs = slices.Clone(a.BlockedAccountIDs)
	a.UpdatedAt = s.clock().UTC()
	s.accounts[a.ID] = a
	return nil
}

func (s *MemoryStore) SetAvailability(ctx context.Context, accountID string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Available = available
	a.UpdatedAt = s.clock().UTC()
	s.accounts[accountID] = a
	return nil
}

func (s *MemoryStore) ApplyTransfer(ctx context.Context, t Transfer) (TransferResult, error) {
	if err := t.validate(); err != nil {
		return TransferResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := t.lockOrder()
	current := make(map[string]money.Money, len(ids))
	for _, id := range ids {
		a, ok := s.accounts[id]
		if !ok {
			return TransferResult{}, ErrNotFound
		}
		current[id] = a.Balance
	}

	if len(t.Records) > 0 {
		if _, ok := s.records[t.Records[0].ID]; ok {
			return TransferResult{Applied: false, Balances: current}, nil
		}
	}
	for _, sc := range t.StatusChanges {
		r, ok := s.records[sc.RecordID]
		if !ok {
			return TransferResult{}, ErrNotFound
		}
		if r.Status != sc.From {
			return TransferResult{}, ErrStatusConflict
		}
	}

	next, err := applyLegs(current, t.Legs)
	if err != nil {
		return TransferResult{}, err
	}

	now := s.clock().UTC()
	for id, b := range next {
		a := s.accounts[id]
		a.Balance = b
		a.UpdatedAt = now
		s.accounts[id] = a
	}
	for _, r := range t.Records {
		if _, exists := s.records[r.ID]; !exists {
			s.byAccount[r.AccountID] = append(s.byAccount[r.AccountID], r.ID)
		}
		s.records[r.ID] = r
	}
	for _, sc := range t.StatusChanges {
		r := s.records[sc.RecordID]
		r.Status = sc.To
		s.records[sc.RecordID] = r
	}
	return TransferResult{Applied: true, Balances: next}, nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, id string) (TransactionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byAccount[accountID]
	out := make([]TransactionRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id])
	}
	slices.SortStableFunc(out, func(a, b TransactionRecord) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
