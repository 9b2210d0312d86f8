package pricing

import (
	"errors"
	"fmt"

	"vidcall-platform/internal/money"
)

// Pricing is attached to a provider account and snapshotted at call start.
// Amounts are decimal currency (see internal/money). Per-minute cost accrues on fractional minutes;
// there is no started-minute rounding.

type Mode string

const (
	ModePerMinute  Mode = "per_minute"
	ModePerSession Mode = "per_session"
)

// DefaultRatePerMinute applies to provider accounts that never stored a rate.
var DefaultRatePerMinute = money.MustNew("5.00")

// Config is a provider's pricing configuration.
//
// Invariants (see Validate):
// - RatePerMinute > 0
// - Mode == ModePerSession requires SessionRate != nil && *SessionRate > 0
type Config struct {
	Mode          Mode         `json:"billing_mode" db:"billing_mode"`
	RatePerMinute money.Money  `json:"rate_per_minute" db:"rate_per_minute"`
	SessionRate   *money.Money `json:"session_rate,omitempty" db:"session_rate"`
}

var (
	ErrInvalidMode        = errors.New("pricing: invalid billing mode")
	ErrInvalidRate        = errors.New("pricing: rate per minute must be positive")
	ErrSessionRateMissing = errors.New("pricing: session rate required for per-session billing")
)

func PerMinute(rate money.Money) Config {
	return Config{Mode: ModePerMinute, RatePerMinute: rate}
}

func PerSession(rate, session money.Money) Config {
	s := session
	return Config{Mode: ModePerSession, RatePerMinute: rate, SessionRate: &s}
}

// WithDefaults fills fields that legacy provider documents may omit.
// An empty mode means per-minute; a zero rate means DefaultRatePerMinute.
func (c Config) WithDefaults() Config {
	out := c
	if out.Mode == "" {
		out.Mode = ModePerMinute
	}
	if out.RatePerMinute.IsZero() {
		out.RatePerMinute = DefaultRatePerMinute
	}
	return out
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModePerMinute, ModePerSession:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if !c.RatePerMinute.IsPositive() {
		return ErrInvalidRate
	}
	if c.Mode == ModePerSession {
		if c.SessionRate == nil || !c.SessionRate.IsPositive() {
			return ErrSessionRateMissing
		}
	}
	return nil
}

// SessionAmount returns the flat session rate or zero when unset.
func (c Config) SessionAmount() money.Money {
	if c.SessionRate == nil {
		return money.Zero
	}
	return *c.SessionRate
}

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePerMinute, ModePerSession:
		return Mode(s), nil
	case "":
		return ModePerMinute, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}
