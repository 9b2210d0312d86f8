package billing

import (
	"testing"
	"time"

	"vidcall-platform/internal/money"
	"vidcall-platform/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote_PerMinuteMidCall(t *testing.T) {
	e := NewEngine(0)
	p := pricing.PerMinute(money.MustNew("5.00"))

	q := e.Quote(p, 90*time.Second, money.MustNew("10.00"))
	assert.True(t, q.AccruedCost.Equal(money.MustNew("7.50")), "accrued %s", q.AccruedCost)
	assert.Equal(t, 30*time.Second, q.Remaining)
	assert.True(t, q.IsLowBalance)
	assert.False(t, q.MustTerminate)
	assert.False(t, q.Unbounded)
}

func TestQuote_PerMinuteExhausted(t *testing.T) {
	e := NewEngine(time.Minute)
	p := pricing.PerMinute(money.MustNew("5.00"))

	q := e.Quote(p, 120*time.Second, money.MustNew("10.00"))
	assert.Equal(t, time.Duration(0), q.Remaining)
	assert.True(t, q.MustTerminate)
	assert.True(t, q.AccruedCost.Equal(money.MustNew("10.00")))

	q = e.Quote(p, 125*time.Second, money.MustNew("10.00"))
	assert.Equal(t, time.Duration(0), q.Remaining, "remaining never negative")
	assert.True(t, q.MustTerminate)
}

func TestQuote_FreshCallNotLow(t *testing.T) {
	e := NewEngine(time.Minute)
	q := e.Quote(pricing.PerMinute(money.MustNew("5.00")), 0, money.MustNew("10.00"))
	assert.Equal(t, 2*time.Minute, q.Remaining)
	assert.False(t, q.IsLowBalance)
	assert.True(t, q.AccruedCost.IsZero())
}

func TestQuote_ZeroBalanceTerminatesImmediately(t *testing.T) {
	e := NewEngine(time.Minute)
	q := e.Quote(pricing.PerMinute(money.MustNew("5.00")), 0, money.Zero)
	assert.True(t, q.MustTerminate)
	assert.True(t, q.IsLowBalance)
}

func TestQuote_FractionalMinuteRoundsToCents(t *testing.T) {
	e := NewEngine(0)
	// 7s at $1.00/min = 0.11666.. -> 0.12
	q := e.Quote(pricing.PerMinute(money.MustNew("1.00")), 7*time.Second, money.MustNew("50"))
	assert.Equal(t, "0.12", q.AccruedCost.String())
}

func TestQuote_PerSessionIsConstant(t *testing.T) {
	e := NewEngine(0)
	p := pricing.PerSession(money.MustNew("5.00"), money.MustNew("25.00"))

	for _, elapsed := range []time.Duration{0, time.Second, 45 * time.Minute, 5 * time.Hour} {
		q := e.Quote(p, elapsed, money.MustNew("1.00"))
		require.True(t, q.AccruedCost.Equal(money.MustNew("25.00")), "elapsed %s: %s", elapsed, q.AccruedCost)
		assert.True(t, q.Unbounded)
		assert.False(t, q.IsLowBalance)
		assert.False(t, q.MustTerminate)
	}
}

func TestFinal_CapsAtAffordableDuration(t *testing.T) {
	e := NewEngine(0)
	p := pricing.PerMinute(money.MustNew("5.00"))

	q := e.Final(p, 121*time.Second, money.MustNew("10.00"))
	assert.Equal(t, "10.00", q.AccruedCost.String())
	assert.Equal(t, 121*time.Second, q.Elapsed)

	q = e.Final(p, 30*time.Second, money.MustNew("10.00"))
	assert.Equal(t, "2.50", q.AccruedCost.String())
}

func TestAffordableDuration(t *testing.T) {
	e := NewEngine(0)
	d, ok := e.AffordableDuration(pricing.PerMinute(money.MustNew("3.00")), money.MustNew("10.00"))
	require.True(t, ok)
	assert.Equal(t, 200*time.Second, d)

	_, ok = e.AffordableDuration(pricing.PerSession(money.MustNew("3.00"), money.MustNew("9.00")), money.MustNew("10.00"))
	assert.False(t, ok)
}
