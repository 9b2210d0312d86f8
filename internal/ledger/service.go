package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vidcall-platform/internal/money"

	"github.com/google/uuid"
)

// PaymentGateway is the external payment black box: given an amount and an
// instrument it either succeeds with a reference or fails.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (string, error)
	Payout(ctx context.Context, req PayoutRequest) (string, error)
}

type ChargeRequest struct {
	AccountID    string
	Amount       money.Money
	PaymentNonce string
}

type PayoutRequest struct {
	AccountID string
	Amount    money.Money
	Email     string
	// Reference is our payout record id, passed through for reconciliation.
	Reference string
}

var (
	ErrPaymentDeclined = errors.New("payment declined")
	ErrPayoutFailed    = errors.New("payout failed")
	ErrWrongAccount    = errors.New("operation not allowed for account type")
)

// PayoutAuditor records reversed payouts for reconciliation.
type PayoutAuditor interface {
	LogPayoutReversed(ctx context.Context, accountID, recordID string, amount money.Money, cause error) error
}

// Service handles the money flows outside of calls: credit purchase and provider payout.
type Service struct {
	store   Store
	gateway PaymentGateway
	audit   PayoutAuditor
	log     *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store Store, gateway PaymentGateway, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, gateway: gateway, log: log, clock: time.Now}
}

// WithAudit enables audit records for reversed payouts.
func (s *Service) WithAudit(a PayoutAuditor) *Service {
	s.audit = a
	return s
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (Account, error) {
	if accountID == "" {
		return Account{}, ErrInvalidArgument
	}
	return s.store.GetAccount(ctx, accountID)
}

// PurchaseCredits captures payment and then credits the customer with one
// credit_purchase record keyed by the gateway reference.
func (s *Service) PurchaseCredits(ctx context.Context, accountID string, amount money.Money, nonce string) (TransactionRecord, money.Money, error) {
	if accountID == "" || nonce == "" || !amount.IsPositive() {
		return TransactionRecord{}, money.Zero, ErrInvalidArgument
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return TransactionRecord{}, money.Zero, err
	}
	if acct.Type != AccountTypeCustomer {
		return TransactionRecord{}, money.Zero, ErrWrongAccount
	}

	ref, err := s.gateway.Charge(ctx, ChargeRequest{AccountID: accountID, Amount: amount, PaymentNonce: nonce})
	if err != nil {
		s.log.Warn("credit purchase declined", "account_id", accountID, "amount", amount.String(), "err", err)
		return TransactionRecord{}, money.Zero, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
	}

	rec := TransactionRecord{
		ID:        RecordID(accountID, KindCreditPurchase, ref),
		AccountID: accountID,
		Amount:    amount,
		Kind:      KindCreditPurchase,
		Status:    StatusCompleted,
		Timestamp: s.clock().UTC(),
		Reference: ref,
	}
	res, err := s.store.ApplyTransfer(ctx, Transfer{
		Legs:    []Leg{{AccountID: accountID, Delta: amount}},
		Records: []TransactionRecord{rec},
	})
	if err != nil {
		// Payment captured but not credited: needs manual reconciliation.
		s.log.Error("credit purchase not applied", "account_id", accountID, "reference", ref, "err", err)
		return TransactionRecord{}, money.Zero, err
	}
	if !res.Applied {
		if existing, ok, err := s.store.GetTransaction(ctx, rec.ID); err == nil && ok {
			rec = existing
		}
	}
	s.log.Info("credits purchased", "account_id", accountID, "amount", amount.String(), "applied", res.Applied)
	return rec, res.Balances[accountID], nil
}

// RequestPayout debits the provider and records a pending payout, then calls the gateway.
// A gateway failure reverses the debit and marks the record failed in one transfer.
func (s *Service) RequestPayout(ctx context.Context, accountID string, amount money.Money) (TransactionRecord, money.Money, error) {
	if accountID == "" || !amount.IsPositive() {
		return TransactionRecord{}, money.Zero, ErrInvalidArgument
	}
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return TransactionRecord{}, money.Zero, err
	}
	if acct.Type != AccountTypeProvider {
		return TransactionRecord{}, money.Zero, ErrWrongAccount
	}
	if amount.GreaterThan(acct.Balance) {
		return TransactionRecord{}, money.Zero, ErrInsufficientFunds
	}

	rec := TransactionRecord{
		ID:        RecordID(accountID, KindPayout, uuid.NewString()),
		AccountID: accountID,
		Amount:    amount.Neg(),
		Kind:      KindPayout,
		Status:    StatusPending,
		Timestamp: s.clock().UTC(),
	}
	res, err := s.store.ApplyTransfer(ctx, Transfer{
		Legs:    []Leg{{AccountID: accountID, Delta: amount.Neg()}},
		Records: []TransactionRecord{rec},
	})
	if err != nil {
		return TransactionRecord{}, money.Zero, err
	}
	balance := res.Balances[accountID]

	ref, gwErr := s.gateway.Payout(ctx, PayoutRequest{
		AccountID: accountID,
		Amount:    amount,
		Email:     acct.PayoutEmail,
		Reference: rec.ID,
	})
	if gwErr != nil {
		rev, err := s.store.ApplyTransfer(ctx, Transfer{
			Legs:          []Leg{{AccountID: accountID, Delta: amount}},
			StatusChanges: []StatusChange{{RecordID: rec.ID, From: StatusPending, To: StatusFailed}},
		})
		if err != nil {
			s.log.Error("payout reversal failed", "account_id", accountID, "record_id", rec.ID, "err", err)
			return rec, balance, fmt.Errorf("%w: reversal: %v", ErrPayoutFailed, err)
		}
		rec.Status = StatusFailed
		if s.audit != nil {
			if err := s.audit.LogPayoutReversed(ctx, accountID, rec.ID, amount, gwErr); err != nil {
				s.log.Error("audit write failed", "account_id", accountID, "record_id", rec.ID, "err", err)
			}
		}
		s.log.Warn("payout failed, debit reversed", "account_id", accountID, "record_id", rec.ID, "err", gwErr)
		return rec, rev.Balances[accountID], fmt.Errorf("%w: %v", ErrPayoutFailed, gwErr)
	}

	rec.Reference = ref
	s.log.Info("payout requested", "account_id", accountID, "amount", amount.String(), "reference", ref)
	return rec, balance, nil
}

func (s *Service) SetAvailability(ctx context.Context, accountID string, available bool) error {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Type != AccountTypeProvider {
		return ErrWrongAccount
	}
	return s.store.SetAvailability(ctx, accountID, available)
}

func (s *Service) History(ctx context.Context, accountID string, limit int) ([]TransactionRecord, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListTransactions(ctx, accountID, limit)
}
