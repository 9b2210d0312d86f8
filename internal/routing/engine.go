package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/metrics"
)

// AccountReader is the slice of the ledger store admission needs.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
}

// AuditLogger records discarded requests. Discards are never visible to the caller,
// so this is the only trace of them.
type AuditLogger interface {
	LogDiscarded(ctx context.Context, e DiscardEvent) error
}

type DiscardEvent struct {
	RoomID   string
	TargetID string
	CallerID string
	Reason   Reason
	At       time.Time
}

// Engine decides whether a call request may ring.
//
// Outbound (caller side, before publishing):
//  1. not a self call
//  2. target exists
//  3. exactly one customer and one provider
//
// Inbound (callee side, on receipt):
//  1. caller exists
//  2. a provider target is available
//  3. target has not blocked the caller
//
// No side effects besides audit of discards.
type Engine struct {
	Accounts AccountReader
	Audit    AuditLogger
	Now      func() time.Time
	Log      *slog.Logger
}

func NewEngine(accounts AccountReader, audit AuditLogger) *Engine {
	return &Engine{Accounts: accounts, Audit: audit, Now: time.Now, Log: slog.Default()}
}

func (e *Engine) WithLogger(log *slog.Logger) *Engine {
	if log != nil {
		e.Log = log
	}
	return e
}

// CheckOutbound validates a call the caller is about to place.
func (e *Engine) CheckOutbound(ctx context.Context, callerID, targetID string) (Decision, error) {
	if callerID == "" || targetID == "" {
		return Decision{}, errors.New("routing: caller and target required")
	}
	if callerID == targetID {
		return reject(ReasonSelfCall), nil
	}
	caller, err := e.Accounts.GetAccount(ctx, callerID)
	if err != nil {
		return Decision{}, err
	}
	target, err := e.Accounts.GetAccount(ctx, targetID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return reject(ReasonTargetNotFound), nil
		}
		return Decision{}, err
	}
	if !validPair(caller.Type, target.Type) {
		return reject(ReasonInvalidParticipants), nil
	}
	return ring(), nil
}

// AdmitInbound decides whether an incoming request rings targetID.
func (e *Engine) AdmitInbound(ctx context.Context, roomID, callerID, targetID string) (Decision, error) {
	target, err := e.Accounts.GetAccount(ctx, targetID)
	if err != nil {
		return Decision{}, err
	}

	d := ring()
	caller, err := e.Accounts.GetAccount(ctx, callerID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		d = discard(ReasonUnknownCaller)
	case err != nil:
		return Decision{}, err
	case target.Type == ledger.AccountTypeProvider && !target.Available:
		d = discard(ReasonProviderUnavailable)
	case target.HasBlocked(caller.ID):
		d = discard(ReasonCallerBlocked)
	}

	if !d.Rings() {
		metrics.CallRequestsDiscarded.WithLabelValues(string(d.Reason)).Inc()
		if e.Audit != nil {
			now := time.Now
			if e.Now != nil {
				now = e.Now
			}
			ev := DiscardEvent{
				RoomID:   roomID,
				TargetID: targetID,
				CallerID: callerID,
				Reason:   d.Reason,
				At:       now().UTC(),
			}
			// The decision stands; a lost audit row must still leave a trace.
			if err := e.Audit.LogDiscarded(ctx, ev); err != nil {
				log := e.Log
				if log == nil {
					log = slog.Default()
				}
				log.Error("audit discarded call request failed",
					"room_id", roomID, "caller_id", callerID, "reason", string(d.Reason), "err", err)
			}
		}
	}
	return d, nil
}

func validPair(a, b ledger.AccountType) bool {
	return (a == ledger.AccountTypeCustomer && b == ledger.AccountTypeProvider) ||
		(a == ledger.AccountTypeProvider && b == ledger.AccountTypeCustomer)
}
