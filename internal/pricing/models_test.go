package pricing

import (
	"errors"
	"testing"

	"vidcall-platform/internal/money"
)

func TestValidate(t *testing.T) {
	if err := PerMinute(money.MustNew("5")).Validate(); err != nil {
		t.Fatalf("expected valid per-minute, got %v", err)
	}
	if err := PerMinute(money.Zero).Validate(); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	if err := PerSession(money.MustNew("5"), money.MustNew("20")).Validate(); err != nil {
		t.Fatalf("expected valid per-session, got %v", err)
	}
	if err := (Config{Mode: ModePerSession, RatePerMinute: money.MustNew("5")}).Validate(); !errors.Is(err, ErrSessionRateMissing) {
		t.Fatalf("expected ErrSessionRateMissing, got %v", err)
	}
	if err := PerSession(money.MustNew("5"), money.Zero).Validate(); !errors.Is(err, ErrSessionRateMissing) {
		t.Fatalf("expected ErrSessionRateMissing for zero session rate, got %v", err)
	}
	if err := (Config{Mode: "hourly", RatePerMinute: money.MustNew("5")}).Validate(); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.Mode != ModePerMinute {
		t.Fatalf("expected per_minute default, got %q", c.Mode)
	}
	if !c.RatePerMinute.Equal(DefaultRatePerMinute) {
		t.Fatalf("expected default rate, got %s", c.RatePerMinute)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("per_session"); err != nil || m != ModePerSession {
		t.Fatalf("unexpected %q %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != ModePerMinute {
		t.Fatalf("unexpected %q %v", m, err)
	}
	if _, err := ParseMode("weekly"); err == nil {
		t.Fatalf("expected error")
	}
}
