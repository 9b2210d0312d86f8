package calls

import (
	"errors"
	"time"

	"vidcall-platform/internal/clock"
	"vidcall-platform/internal/money"
	"vidcall-platform/internal/settlement"
)

// State is the lifecycle position of one call attempt.
//
// Idle -> Ringing -> Connected -> Ending -> Settled
// Ringing -> Idle on decline, cancel or setup failure.
type State int32

const (
	StateIdle State = iota
	StateRinging
	StateConnected
	StateEnding
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateEnding:
		return "ending"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Role tells which side of the call a coordinator represents.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Trigger names what ended or dismissed a call.
type Trigger string

const (
	TriggerHangup           Trigger = "hangup"
	TriggerBalanceExhausted Trigger = "balance_exhausted"
	TriggerRemoteEnded      Trigger = "remote_ended"
	TriggerDeclined         Trigger = "declined"
	TriggerCancelled        Trigger = "cancelled"
	TriggerSetupFailed      Trigger = "setup_failed"
	TriggerShutdown         Trigger = "shutdown"
)

var (
	// ErrInvalidCallParticipants: not exactly one customer and one provider.
	ErrInvalidCallParticipants = errors.New("calls: invalid call participants")
	// ErrProviderUnavailable is never returned to the caller; discarded requests are silent.
	ErrProviderUnavailable = errors.New("calls: provider unavailable")
	ErrInvalidPricing      = errors.New("calls: invalid provider pricing")
	ErrTargetNotFound      = errors.New("calls: target account not found")
	ErrCallNotFound        = errors.New("calls: call not found")
	ErrInvalidState        = errors.New("calls: invalid state for action")
	ErrCallerBusy          = errors.New("calls: caller already has an outgoing call")
	ErrCallSetupFailed     = errors.New("calls: call setup failed")
)

// View is the read model exposed to the UI layer.
type View struct {
	RoomID string `json:"room_id"`
	SelfID string `json:"self_id"`
	PeerID string `json:"peer_id"`
	// PeerName is the caller's display name on an incoming call.
	PeerName string `json:"peer_name,omitempty"`
	Role     Role   `json:"role"`
	State    string `json:"state"`

	AccruedCost  money.Money   `json:"accrued_cost"`
	Elapsed      time.Duration `json:"-"`
	Remaining    time.Duration `json:"-"`
	Unbounded    bool          `json:"unbounded"`
	IsLowBalance bool          `json:"is_low_balance"`

	Trigger    Trigger            `json:"trigger,omitempty"`
	Settlement *settlement.Result `json:"settlement,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Display renders "MM:SS" or "MM:SS / MM:SS remaining" for per-minute calls.
func (v View) Display() string {
	if v.Unbounded {
		return clock.FormatDuration(v.Elapsed)
	}
	return clock.FormatDuration(v.Elapsed) + " / " + clock.FormatDuration(v.Remaining) + " remaining"
}

// billable truncates to whole seconds; costs and durations are computed per second.
func billable(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}
