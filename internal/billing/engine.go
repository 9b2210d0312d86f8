package billing

import (
	"time"

	"vidcall-platform/internal/money"
	"vidcall-platform/internal/pricing"

	"github.com/shopspring/decimal"
)

// DefaultLowBalanceThreshold is the remaining affordable time below which a call is flagged.
const DefaultLowBalanceThreshold = 60 * time.Second

var sixty = decimal.NewFromInt(60)

// Quote is the billing state of a call at a given elapsed time.
type Quote struct {
	Elapsed     time.Duration `json:"elapsed"`
	AccruedCost money.Money   `json:"accrued_cost"`

	// Remaining is the affordable talk time left; meaningless when Unbounded.
	Remaining time.Duration `json:"remaining"`
	Unbounded bool          `json:"unbounded"`

	IsLowBalance  bool `json:"is_low_balance"`
	MustTerminate bool `json:"must_terminate"`
}

// Engine computes call cost from (pricing, elapsed, balance snapshot).
// It is pure: no I/O, no clock, safe for concurrent use.
type Engine struct {
	LowBalanceThreshold time.Duration
}

func NewEngine(lowBalanceThreshold time.Duration) Engine {
	if lowBalanceThreshold <= 0 {
		lowBalanceThreshold = DefaultLowBalanceThreshold
	}
	return Engine{LowBalanceThreshold: lowBalanceThreshold}
}

// Quote computes accrued cost and remaining time.
//
// Per-minute: cost = round(elapsed_minutes * rate); remaining = max(0, snapshot/rate*60 - elapsed).
// Per-session: cost = session rate; remaining is unbounded and the call is never force-ended.
func (e Engine) Quote(p pricing.Config, elapsed time.Duration, snapshot money.Money) Quote {
	if elapsed < 0 {
		elapsed = 0
	}
	q := Quote{Elapsed: elapsed}

	if p.Mode == pricing.ModePerSession {
		q.AccruedCost = p.SessionAmount()
		q.Unbounded = true
		return q
	}

	q.AccruedCost = costFor(p.RatePerMinute, elapsed)

	affordable, ok := affordableSeconds(p.RatePerMinute, snapshot)
	if !ok {
		// A non-positive rate is rejected by pricing.Validate; treat it as free and unbounded.
		q.Unbounded = true
		return q
	}
	remaining := affordable.Sub(seconds(elapsed))
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	q.Remaining = toDuration(remaining)
	q.IsLowBalance = q.Remaining < e.threshold()
	q.MustTerminate = q.Remaining <= 0
	return q
}

// Final is the quote used for settlement. For per-minute calls the billed time is capped
// at what the snapshot could afford, so a tick that lands just past exhaustion never bills
// more than the customer had when the call was running.
func (e Engine) Final(p pricing.Config, elapsed time.Duration, snapshot money.Money) Quote {
	if p.Mode == pricing.ModePerMinute {
		if limit, ok := e.AffordableDuration(p, snapshot); ok && elapsed > limit {
			q := e.Quote(p, limit, snapshot)
			q.Elapsed = elapsed
			return q
		}
	}
	return e.Quote(p, elapsed, snapshot)
}

// AffordableDuration is the total talk time snapshot buys; ok is false for per-session pricing.
func (e Engine) AffordableDuration(p pricing.Config, snapshot money.Money) (time.Duration, bool) {
	if p.Mode == pricing.ModePerSession {
		return 0, false
	}
	s, ok := affordableSeconds(p.RatePerMinute, snapshot)
	if !ok {
		return 0, false
	}
	if s.IsNegative() {
		return 0, true
	}
	return toDuration(s), true
}

func (e Engine) threshold() time.Duration {
	if e.LowBalanceThreshold <= 0 {
		return DefaultLowBalanceThreshold
	}
	return e.LowBalanceThreshold
}

func costFor(rate money.Money, elapsed time.Duration) money.Money {
	return money.FromDecimal(seconds(elapsed).Mul(rate.Decimal()).Div(sixty))
}

func affordableSeconds(rate, snapshot money.Money) (decimal.Decimal, bool) {
	if !rate.IsPositive() {
		return decimal.Zero, false
	}
	return snapshot.Decimal().Mul(sixty).Div(rate.Decimal()), true
}

func seconds(d time.Duration) decimal.Decimal { return decimal.New(int64(d), -9) }

func toDuration(sec decimal.Decimal) time.Duration {
	return time.Duration(sec.Shift(9).Round(0).IntPart())
}
