package reporting

import (
	"context"
	"errors"

	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/money"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// DefaultScanLimit caps how many records one statement reads.
const DefaultScanLimit = 10000

// Repository abstracts data access for reporting.
// Implementations read the immutable transaction log; ledger.Store satisfies it.
type Repository interface {
	ListTransactions(ctx context.Context, accountID string, limit int) ([]ledger.TransactionRecord, error)
}

type Service struct {
	repo  Repository
	limit int
}

func NewService(repo Repository) *Service { return &Service{repo: repo, limit: DefaultScanLimit} }

func (s *Service) Statement(ctx context.Context, req StatementRequest) (Statement, error) {
	if req.AccountID == "" {
		return Statement{}, ErrInvalidRequest
	}
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return Statement{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return Statement{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListTransactions(ctx, req.AccountID, s.limit)
	if err != nil {
		return Statement{}, err
	}

	out := Statement{
		AccountID:      req.AccountID,
		Spent:          money.Zero,
		Earned:         money.Zero,
		Purchased:      money.Zero,
		PaidOut:        money.Zero,
		PendingPayouts: money.Zero,
		Net:            money.Zero,
	}
	for _, r := range rows {
		if !req.Range.contains(r.Timestamp) {
			continue
		}
		if r.Status == ledger.StatusFailed {
			out.FailedRecords++
			continue
		}
		out.Net = out.Net.Add(r.Amount)

		switch r.Kind {
		case ledger.KindCallPayment:
			out.Spent = out.Spent.Add(r.Amount.Abs())
			out.CallCount++
			out.CallSeconds += r.CallDurationSeconds
		case ledger.KindCallEarnings:
			out.Earned = out.Earned.Add(r.Amount)
			out.CallCount++
			out.CallSeconds += r.CallDurationSeconds
		case ledger.KindCreditPurchase:
			out.Purchased = out.Purchased.Add(r.Amount)
		case ledger.KindPayout:
			out.PaidOut = out.PaidOut.Add(r.Amount.Abs())
			if r.Status == ledger.StatusPending {
				out.PendingPayouts = out.PendingPayouts.Add(r.Amount.Abs())
			}
		}
	}
	if out.CallCount > 0 {
		out.AverageCallSeconds = out.CallSeconds / int64(out.CallCount)
	}
	return out, nil
}
