package ledger

import (
	"errors"
	"slices"
	"time"

	"vidcall-platform/internal/money"
	"vidcall-platform/internal/pricing"
)

type AccountType string

const (
	AccountTypeCustomer AccountType = "customer"
	AccountTypeProvider AccountType = "provider"
)

func (t AccountType) Valid() bool {
	return t == AccountTypeCustomer || t == AccountTypeProvider
}

// Account is a customer or provider balance holder.
// Invariant: Balance is never negative; it only changes through Store.ApplyTransfer.
type Account struct {
	ID       string      `json:"id" db:"id"`
	Username string      `json:"username" db:"username"`
	Type     AccountType `json:"account_type" db:"account_type"`
	Balance  money.Money `json:"balance" db:"balance"`

	// Pricing is only meaningful for providers.
	Pricing   pricing.Config `json:"pricing"`
	Available bool           `json:"available" db:"available"`

	BlockedAccountIDs []string `json:"blocked_account_ids,omitempty"`
	PayoutEmail       string   `json:"payout_email,omitempty" db:"payout_email"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (a Account) HasBlocked(accountID string) bool {
	return slices.Contains(a.BlockedAccountIDs, accountID)
}

type Kind string

const (
	KindCreditPurchase Kind = "credit_purchase"
	KindCallPayment    Kind = "call_payment"
	KindCallEarnings   Kind = "call_earnings"
	KindPayout         Kind = "payout"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// TransactionRecord is immutable once written, except for the status of a pending payout.
type TransactionRecord struct {
	ID        string      `json:"id" db:"id"`
	AccountID string      `json:"account_id" db:"account_id"`
	Amount    money.Money `json:"amount" db:"amount"`
	Kind      Kind        `json:"kind" db:"kind"`
	Status    Status      `json:"status" db:"status"`
	Timestamp time.Time   `json:"timestamp" db:"created_at"`

	CounterpartyUsername string `json:"counterparty_username,omitempty" db:"counterparty_username"`

	// Call fields; zero for purchases and payouts.
	RoomID              string       `json:"room_id,omitempty" db:"room_id"`
	CallDurationSeconds int64        `json:"call_duration_seconds,omitempty" db:"call_duration_seconds"`
	RatePerMinute       *money.Money `json:"rate_per_minute,omitempty" db:"rate_per_minute"`
	BillingMode         pricing.Mode `json:"billing_mode,omitempty" db:"billing_mode"`
	SessionRate         *money.Money `json:"session_rate,omitempty" db:"session_rate"`

	// Reference is the external payment or payout id.
	Reference string `json:"reference,omitempty" db:"reference"`
}

// RecordID builds the deterministic id of a record, e.g. "u1_call_payment_room42".
// Writing the same (account, kind, ref) twice addresses the same record.
func RecordID(accountID string, kind Kind, ref string) string {
	return accountID + "_" + string(kind) + "_" + ref
}

// Leg is one signed balance change inside a Transfer.
type Leg struct {
	AccountID string
	Delta     money.Money
}

// StatusChange moves a record from one status to another as part of a Transfer.
type StatusChange struct {
	RecordID string
	From     Status
	To       Status
}

// Transfer is applied atomically: every leg, record and status change, or none.
//
// Idempotency: when Records is non-empty and Records[0].ID already exists, the transfer
// is a replay and nothing is applied.
type Transfer struct {
	Legs          []Leg
	Records       []TransactionRecord
	StatusChanges []StatusChange
}

type TransferResult struct {
	// Applied is false when the transfer was recognized as a replay.
	Applied  bool
	Balances map[string]money.Money
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrStatusConflict    = errors.New("transaction status conflict")
)

func (t Transfer) validate() error {
	if len(t.Legs) == 0 && len(t.Records) == 0 && len(t.StatusChanges) == 0 {
		return ErrInvalidArgument
	}
	for _, l := range t.Legs {
		if l.AccountID == "" {
			return ErrInvalidArgument
		}
	}
	for _, r := range t.Records {
		if r.ID == "" || r.AccountID == "" || r.Kind == "" {
			return ErrInvalidArgument
		}
	}
	return nil
}

// lockOrder returns the distinct leg account ids sorted, so concurrent transfers over
// the same pair of accounts always lock in the same order.
func (t Transfer) lockOrder() []string {
	ids := make([]string, 0, len(t.Legs))
	for _, l := range t.Legs {
		if !slices.Contains(ids, l.AccountID) {
			ids = append(ids, l.AccountID)
		}
	}
	slices.Sort(ids)
	return ids
}
