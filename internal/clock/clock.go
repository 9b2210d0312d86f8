package clock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the tick period for a connected call.
const DefaultInterval = time.Second

// Tick carries the cumulative elapsed time of a session.
type Tick struct {
	Elapsed time.Duration
	At      time.Time
}

// Clock is the contract the call coordinator depends on.
type Clock interface {
	Elapsed() time.Duration
	Stop()
}

// Factory starts a new clock for a session; a stopped clock is never restarted.
type Factory func(startedAt time.Time, onTick func(Tick)) Clock

type Options struct {
	Interval time.Duration
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	out := o
	if out.Interval <= 0 {
		out.Interval = DefaultInterval
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// NewFactory returns a Factory producing SessionClocks with the given options.
func NewFactory(opts Options) Factory {
	return func(startedAt time.Time, onTick func(Tick)) Clock {
		return Start(startedAt, opts, onTick)
	}
}

// SessionClock ticks every Interval while running.
//
// Elapsed is recomputed from startedAt on every tick rather than by counting ticks,
// so scheduler jitter or process suspension never skews billing. Ticks are delivered
// from a single goroutine with strictly increasing Elapsed.
type SessionClock struct {
	startedAt time.Time
	opts      Options

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu   sync.Mutex
	last time.Duration
}

func Start(startedAt time.Time, opts Options, onTick func(Tick)) *SessionClock {
	c := &SessionClock{
		startedAt: startedAt,
		opts:      opts.withDefaults(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.run(onTick)
	return c
}

func (c *SessionClock) run(onTick func(Tick)) {
	defer close(c.done)

	t := time.NewTicker(c.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			now := c.opts.Now()
			elapsed, fresh := c.advance(now)
			if !fresh || c.stopped.Load() {
				continue
			}
			if onTick != nil {
				onTick(Tick{Elapsed: elapsed, At: now})
			}
		}
	}
}

// advance records the elapsed time observed at now; fresh is false if time did not move forward.
func (c *SessionClock) advance(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := now.Sub(c.startedAt)
	if e <= c.last {
		return c.last, false
	}
	c.last = e
	return e, true
}

// Elapsed returns the current elapsed time, never less than a previously delivered tick.
func (c *SessionClock) Elapsed() time.Duration {
	e, _ := c.advance(c.opts.Now())
	return e
}

// Stop halts tick delivery immediately. It does not wait for the ticking goroutine,
// so it is safe to call from inside a tick callback.
func (c *SessionClock) Stop() {
	c.stopped.Store(true)
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Done is closed once the ticking goroutine has exited.
func (c *SessionClock) Done() <-chan struct{} { return c.done }

// FormatDuration renders d as MM:SS (minutes may exceed 59).
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
