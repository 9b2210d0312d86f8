package calls

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vidcall-platform/internal/audit"
	"vidcall-platform/internal/clock"
	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/money"
	"vidcall-platform/internal/pricing"
	"vidcall-platform/internal/routing"
	"vidcall-platform/internal/settlement"
	"vidcall-platform/internal/signaling"
	"vidcall-platform/internal/transport"
)

const (
	waitFor = 2 * time.Second
	pollDur = 5 * time.Millisecond
)

// fakeClock only ticks when the test advances it.
type fakeClock struct {
	mu      sync.Mutex
	elapsed time.Duration
	stopped bool
	onTick  func(clock.Tick)
}

func (f *fakeClock) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}

func (f *fakeClock) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.elapsed = d
	stopped, fn := f.stopped, f.onTick
	f.mu.Unlock()
	if !stopped && fn != nil {
		fn(clock.Tick{Elapsed: d, At: time.Now()})
	}
}

type fakeClocks struct {
	ch chan *fakeClock
}

func newFakeClocks() *fakeClocks { return &fakeClocks{ch: make(chan *fakeClock, 16)} }

func (f *fakeClocks) factory() clock.Factory {
	return func(startedAt time.Time, onTick func(clock.Tick)) clock.Clock {
		c := &fakeClock{onTick: onTick}
		f.ch <- c
		return c
	}
}

func (f *fakeClocks) next(t *testing.T) *fakeClock {
	t.Helper()
	select {
	case c := <-f.ch:
		return c
	case <-time.After(waitFor):
		t.Fatalf("no clock started")
		return nil
	}
}

type countingSettler struct {
	inner Settler
	n     atomic.Int32
}

func (s *countingSettler) Settle(ctx context.Context, req settlement.Request) (settlement.Result, error) {
	s.n.Add(1)
	return s.inner.Settle(ctx, req)
}

type fakeTransport struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	onRemote    func(string)
}

func (f *fakeTransport) Connect(ctx context.Context, roomID, selfID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeTransport) OnRemoteConnected(fn func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRemote = fn
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) disconnected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func customerAccount(balance string) ledger.Account {
	return ledger.Account{ID: "cust", Username: "alice", Type: ledger.AccountTypeCustomer, Balance: money.MustNew(balance)}
}

func providerAccount(p pricing.Config) ledger.Account {
	return ledger.Account{ID: "prov", Username: "bob", Type: ledger.AccountTypeProvider, Available: true, Pricing: p}
}

type harness struct {
	store   *ledger.MemoryStore
	sig     *signaling.Memory
	audit   *audit.MemoryRepo
	settler *countingSettler
	clocks  *fakeClocks
	hub     *transport.Hub
	svc     *Service
}

func newHarness(t *testing.T, accounts ...ledger.Account) *harness {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	for _, a := range accounts {
		require.NoError(t, store.PutAccount(ctx, a))
	}
	repo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(repo)
	settler := &countingSettler{inner: settlement.NewService(store, settlement.DefaultProviderShare, auditSvc, nil)}
	sig := signaling.NewMemory()
	clocks := newFakeClocks()
	hub := transport.NewHub(nil)

	svc := NewService(Deps{
		Accounts:   store,
		Settler:    settler,
		Admission:  routing.NewEngine(store, routing.AuditAdapter{Audit: auditSvc}),
		Signaling:  sig,
		Transports: hub.Factory(),
		Clocks:     clocks.factory(),
		OpTimeout:  time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &harness{store: store, sig: sig, audit: repo, settler: settler, clocks: clocks, hub: hub, svc: svc}
}

func (h *harness) balance(t *testing.T, id string) money.Money {
	t.Helper()
	a, err := h.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

// connect places cust -> prov, accepts it, and waits until both sides are Connected.
// It returns the caller coordinator, callee coordinator and both clocks.
func (h *harness) connect(t *testing.T) (caller, callee *Coordinator, clocks []*fakeClock) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.svc.Listen(ctx, "prov"))

	v, err := h.svc.PlaceCall(ctx, "cust", "prov")
	require.NoError(t, err)
	require.Equal(t, "ringing", v.State)

	require.Eventually(t, func() bool { return len(h.svc.Incoming("prov")) == 1 }, waitFor, pollDur)
	require.NoError(t, h.svc.Accept(ctx, "prov", v.RoomID))

	caller, ok := h.svc.Coordinator("cust", v.RoomID)
	require.True(t, ok)
	callee, ok = h.svc.Coordinator("prov", v.RoomID)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return caller.State() == StateConnected && callee.State() == StateConnected
	}, waitFor, pollDur)
	return caller, callee, []*fakeClock{h.clocks.next(t), h.clocks.next(t)}
}

func waitDone(t *testing.T, cs ...*Coordinator) {
	t.Helper()
	for _, c := range cs {
		select {
		case <-c.Done():
		case <-time.After(waitFor):
			t.Fatalf("coordinator %s/%s not done, state %s", c.RoomID(), c.SelfID(), c.State())
		}
	}
}

func advanceAll(clocks []*fakeClock, d time.Duration) {
	for _, c := range clocks {
		c.advance(d)
	}
}
