package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"vidcall-platform/internal/ledger"
)

// Processor test nonces. Any other non-empty nonce is accepted.
const (
	NonceValid    = "fake-valid-nonce"
	NonceDeclined = "fake-processor-declined-visa-nonce"
)

// Sandbox is an in-process gateway for local runs and tests.
// Payouts to addresses under FailPayoutDomain fail.
type Sandbox struct {
	FailPayoutDomain string

	mu      sync.Mutex
	charges map[string]string // nonce -> charge id
	payouts map[string]string // reference -> payout id
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		FailPayoutDomain: "fail.invalid",
		charges:          map[string]string{},
		payouts:          map[string]string{},
	}
}

// Charge returns the same id when the same nonce is charged twice.
func (s *Sandbox) Charge(ctx context.Context, req ledger.ChargeRequest) (string, error) {
	if req.AccountID == "" || req.PaymentNonce == "" || !req.Amount.IsPositive() {
		return "", ledger.ErrInvalidArgument
	}
	if req.PaymentNonce == NonceDeclined {
		return "", fmt.Errorf("%w: processor declined", ledger.ErrPaymentDeclined)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.charges[req.PaymentNonce]; ok {
		return id, nil
	}
	id := "sandbox_ch_" + uuid.NewString()
	s.charges[req.PaymentNonce] = id
	return id, nil
}

func (s *Sandbox) Payout(ctx context.Context, req ledger.PayoutRequest) (string, error) {
	if req.AccountID == "" || req.Reference == "" || !req.Amount.IsPositive() {
		return "", ledger.ErrInvalidArgument
	}
	if req.Email == "" {
		return "", fmt.Errorf("%w: no payout email on file", ledger.ErrPayoutFailed)
	}
	if s.FailPayoutDomain != "" && strings.HasSuffix(req.Email, "@"+s.FailPayoutDomain) {
		return "", fmt.Errorf("%w: recipient rejected", ledger.ErrPayoutFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.payouts[req.Reference]; ok {
		return id, nil
	}
	id := "sandbox_po_" + uuid.NewString()
	s.payouts[req.Reference] = id
	return id, nil
}
