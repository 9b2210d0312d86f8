package billing

import (
	"sync"
	"time"

	"vidcall-platform/internal/money"
	"vidcall-platform/internal/pricing"
)

// Meter holds one call's pricing snapshot and the latest elapsed time.
// It is safe for concurrent use by the clock goroutine and UI readers.
type Meter struct {
	engine  Engine
	pricing pricing.Config

	mu       sync.Mutex
	snapshot money.Money
	elapsed  time.Duration
	last     Quote
}

func NewMeter(engine Engine, p pricing.Config, snapshot money.Money) *Meter {
	m := &Meter{engine: engine, pricing: p, snapshot: snapshot}
	m.last = engine.Quote(p, 0, snapshot)
	return m
}

// Observe advances the meter. Elapsed values lower than the current one are ignored.
func (m *Meter) Observe(elapsed time.Duration) Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elapsed > m.elapsed {
		m.elapsed = elapsed
	}
	m.last = m.engine.Quote(m.pricing, m.elapsed, m.snapshot)
	return m.last
}

// Resnapshot replaces the balance snapshot (e.g. after a mid-call top-up) and
// recomputes remaining time from the current elapsed. Elapsed and accrued cost are kept.
func (m *Meter) Resnapshot(balance money.Money) Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = balance
	m.last = m.engine.Quote(m.pricing, m.elapsed, m.snapshot)
	return m.last
}

// Final returns the settlement quote at elapsed (or the current elapsed if larger).
func (m *Meter) Final(elapsed time.Duration) Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elapsed > m.elapsed {
		m.elapsed = elapsed
	}
	return m.engine.Final(m.pricing, m.elapsed, m.snapshot)
}

func (m *Meter) Current() Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Meter) Snapshot() money.Money {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *Meter) Pricing() pricing.Config { return m.pricing }
