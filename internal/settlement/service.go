package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/metrics"
	"vidcall-platform/internal/money"
	"vidcall-platform/internal/pricing"

	"github.com/shopspring/decimal"
)

// DefaultProviderShare is the fraction of a call's cost credited to the provider.
var DefaultProviderShare = decimal.RequireFromString("0.75")

var (
	ErrInvalidRequest    = errors.New("settlement: invalid request")
	ErrInsufficientFunds = errors.New("settlement: insufficient funds")
	ErrAccountNotFound   = errors.New("settlement: account not found")
	ErrTransferFailed    = errors.New("settlement: transfer failed")
	// ErrStoreWriteFailed is joined onto the result when the audit record for a failed
	// settlement could not be written.
	ErrStoreWriteFailed = errors.New("settlement: store write failed")
)

type Request struct {
	RoomID            string
	CustomerAccountID string
	ProviderAccountID string

	FinalCost           money.Money
	CallDurationSeconds int64
	Pricing             pricing.Config
}

func (r Request) validate() error {
	if r.RoomID == "" || r.CustomerAccountID == "" || r.ProviderAccountID == "" {
		return ErrInvalidRequest
	}
	if r.CustomerAccountID == r.ProviderAccountID {
		return ErrInvalidRequest
	}
	if r.FinalCost.IsNegative() || r.CallDurationSeconds < 0 {
		return ErrInvalidRequest
	}
	return nil
}

type Result struct {
	RoomID         string      `json:"room_id"`
	CustomerDebit  money.Money `json:"customer_debit"`
	ProviderCredit money.Money `json:"provider_credit"`
	PlatformFee    money.Money `json:"platform_fee"`

	// Duplicate is true when the call had already been settled; nothing moved this time.
	Duplicate bool `json:"duplicate"`
}

// Auditor receives the human-auditable records of settlements that did not apply.
type Auditor interface {
	LogOverLimitCall(ctx context.Context, roomID, customerID, providerID string, cost, balance money.Money, durationSeconds int64) error
	LogSettlementFailure(ctx context.Context, roomID, customerID, providerID string, cost money.Money, cause error) error
}

// Service turns an ended call's final cost into one atomic transfer plus one
// call_payment/call_earnings record pair.
//
// Pipeline (each step has its own failure kind):
//  1. replay check on the customer's call_payment record
//  2. read customer account
//  3. read provider account
//  4. reject if cost exceeds the customer's current balance (no mutation)
//  5. apply transfer + both records in one store transaction
//
// Nothing is retried here; the caller decides.
type Service struct {
	store ledger.Store
	share decimal.Decimal
	audit Auditor
	log   *slog.Logger
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(store ledger.Store, share decimal.Decimal, audit Auditor, log *slog.Logger) *Service {
	if !share.IsPositive() || share.GreaterThan(decimal.NewFromInt(1)) {
		share = DefaultProviderShare
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, share: share, audit: audit, log: log, clock: time.Now}
}

func (s *Service) ProviderShare() decimal.Decimal { return s.share }

// Settle is idempotent per RoomID: a second call for a settled room returns Duplicate.
func (s *Service) Settle(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	log := s.log.With("room_id", req.RoomID, "customer_id", req.CustomerAccountID, "provider_id", req.ProviderAccountID)

	paymentID := ledger.RecordID(req.CustomerAccountID, ledger.KindCallPayment, req.RoomID)
	earningsID := ledger.RecordID(req.ProviderAccountID, ledger.KindCallEarnings, req.RoomID)

	if res, ok, err := s.existing(ctx, req.RoomID, paymentID, earningsID); err != nil {
		metrics.Settlements.WithLabelValues("transfer_failed").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	} else if ok {
		metrics.Settlements.WithLabelValues("duplicate").Inc()
		log.Info("settlement already applied")
		return res, nil
	}

	customer, err := s.account(ctx, req.CustomerAccountID)
	if err != nil {
		return Result{}, s.fail(ctx, log, req, err)
	}
	provider, err := s.account(ctx, req.ProviderAccountID)
	if err != nil {
		return Result{}, s.fail(ctx, log, req, err)
	}

	if req.FinalCost.GreaterThan(customer.Balance) {
		return Result{}, s.overLimit(ctx, log, req, customer.Balance)
	}

	credit := req.FinalCost.MulFraction(s.share)
	now := s.clock().UTC()
	rate := req.Pricing.RatePerMinute
	call := ledger.TransactionRecord{
		Status:              ledger.StatusCompleted,
		Timestamp:           now,
		RoomID:              req.RoomID,
		CallDurationSeconds: req.CallDurationSeconds,
		RatePerMinute:       &rate,
		BillingMode:         req.Pricing.Mode,
		SessionRate:         req.Pricing.SessionRate,
	}
	payment := call
	payment.ID = paymentID
	payment.AccountID = customer.ID
	payment.Amount = req.FinalCost.Neg()
	payment.Kind = ledger.KindCallPayment
	payment.CounterpartyUsername = provider.Username

	earnings := call
	earnings.ID = earningsID
	earnings.AccountID = provider.ID
	earnings.Amount = credit
	earnings.Kind = ledger.KindCallEarnings
	earnings.CounterpartyUsername = customer.Username

	applied, err := s.store.ApplyTransfer(ctx, ledger.Transfer{
		Legs: []ledger.Leg{
			{AccountID: customer.ID, Delta: req.FinalCost.Neg()},
			{AccountID: provider.ID, Delta: credit},
		},
		Records: []ledger.TransactionRecord{payment, earnings},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// Balance was spent between the read and the locked write.
			return Result{}, s.overLimit(ctx, log, req, customer.Balance)
		}
		return Result{}, s.fail(ctx, log, req, err)
	}

	res := Result{
		RoomID:         req.RoomID,
		CustomerDebit:  req.FinalCost,
		ProviderCredit: credit,
		PlatformFee:    req.FinalCost.Sub(credit),
		Duplicate:      !applied.Applied,
	}
	if res.Duplicate {
		metrics.Settlements.WithLabelValues("duplicate").Inc()
		log.Info("settlement raced with an earlier attempt; not applied twice")
		return res, nil
	}

	metrics.Settlements.WithLabelValues("settled").Inc()
	metrics.SettledCents.Add(float64(req.FinalCost.Cents()))
	log.Info("call settled",
		"final_cost", req.FinalCost.String(),
		"provider_credit", credit.String(),
		"duration_seconds", req.CallDurationSeconds,
		"billing_mode", string(req.Pricing.Mode),
	)
	return res, nil
}

func (s *Service) existing(ctx context.Context, roomID, paymentID, earningsID string) (Result, bool, error) {
	payment, ok, err := s.store.GetTransaction(ctx, paymentID)
	if err != nil || !ok {
		return Result{}, false, err
	}
	res := Result{RoomID: roomID, CustomerDebit: payment.Amount.Abs(), Duplicate: true}
	if earnings, ok, err := s.store.GetTransaction(ctx, earningsID); err == nil && ok {
		res.ProviderCredit = earnings.Amount
		res.PlatformFee = res.CustomerDebit.Sub(earnings.Amount)
	}
	return res, true, nil
}

func (s *Service) account(ctx context.Context, id string) (ledger.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return ledger.Account{}, err
	}
	return a, nil
}

// fail classifies a store error, records it, and returns the taxonomy error.
func (s *Service) fail(ctx context.Context, log *slog.Logger, req Request, cause error) error {
	var out error
	switch {
	case errors.Is(cause, ErrAccountNotFound):
		metrics.Settlements.WithLabelValues("account_not_found").Inc()
		out = cause
	case errors.Is(cause, ledger.ErrNotFound):
		metrics.Settlements.WithLabelValues("account_not_found").Inc()
		out = fmt.Errorf("%w: %v", ErrAccountNotFound, cause)
	default:
		metrics.Settlements.WithLabelValues("transfer_failed").Inc()
		out = fmt.Errorf("%w: %v", ErrTransferFailed, cause)
	}
	log.Error("settlement failed", "final_cost", req.FinalCost.String(), "err", cause)

	if s.audit != nil {
		if err := s.audit.LogSettlementFailure(ctx, req.RoomID, req.CustomerAccountID, req.ProviderAccountID, req.FinalCost, out); err != nil {
			log.Error("audit write failed", "err", err)
			return errors.Join(out, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err))
		}
	}
	return out
}

func (s *Service) overLimit(ctx context.Context, log *slog.Logger, req Request, balance money.Money) error {
	metrics.Settlements.WithLabelValues("insufficient_funds").Inc()
	log.Warn("over-limit call not settled",
		"final_cost", req.FinalCost.String(),
		"customer_balance", balance.String(),
		"duration_seconds", req.CallDurationSeconds,
	)
	if s.audit != nil {
		if err := s.audit.LogOverLimitCall(ctx, req.RoomID, req.CustomerAccountID, req.ProviderAccountID, req.FinalCost, balance, req.CallDurationSeconds); err != nil {
			log.Error("audit write failed", "err", err)
			return errors.Join(ErrInsufficientFunds, fmt.Errorf("%w: %v", ErrStoreWriteFailed, err))
		}
	}
	return ErrInsufficientFunds
}
