package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vidcall-platform/internal/billing"
	"vidcall-platform/internal/clock"
	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/metrics"
	"vidcall-platform/internal/settlement"
	"vidcall-platform/internal/signaling"
	"vidcall-platform/internal/transport"
)

// AccountReader is the ledger read the coordinator needs at connect and re-snapshot.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
}

type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (settlement.Result, error)
}

// env is shared by every coordinator of one Service.
type env struct {
	accounts  AccountReader
	settler   Settler
	signaling signaling.Signaling
	clocks    clock.Factory
	billing   billing.Engine
	now       func() time.Time
	opTimeout time.Duration
}

// opContext detaches store and signaling work from whichever request or callback
// triggered it; teardown must complete even if that caller went away.
func (e *env) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.opTimeout)
}

// Coordinator owns one participant's view of one call attempt.
//
// Every transition is a compare-and-set on state. Connected -> Ending happens once,
// so settlement runs once per coordinator no matter how many end triggers race.
type Coordinator struct {
	env       *env
	log       *slog.Logger
	roomID    string
	selfID    string
	peerID    string
	peerName  string
	role      Role
	transport transport.Transport

	state    atomic.Int32
	accepted atomic.Bool

	mu           sync.Mutex
	meter        *billing.Meter
	clk          clock.Clock
	customerID   string
	providerID   string
	endedSub     signaling.CancelFunc
	unsubscribed bool
	final        *billing.Quote
	trigger      Trigger
	result       *settlement.Result
	err          error

	onFinish func(*Coordinator)
	done     chan struct{}
}

func newCoordinator(e *env, log *slog.Logger, role Role, roomID, selfID, peerID string, tr transport.Transport) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		env:       e,
		log:       log.With("room_id", roomID, "self_id", selfID, "role", string(role)),
		roomID:    roomID,
		selfID:    selfID,
		peerID:    peerID,
		role:      role,
		transport: tr,
		done:      make(chan struct{}),
	}
}

func (c *Coordinator) RoomID() string { return c.roomID }
func (c *Coordinator) SelfID() string { return c.selfID }
func (c *Coordinator) PeerID() string { return c.peerID }
func (c *Coordinator) Role() Role     { return c.role }
func (c *Coordinator) State() State   { return State(c.state.Load()) }

// Done is closed once the coordinator reaches Idle or Settled and has been torn down.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Outcome reports how the call finished. Valid after Done is closed.
func (c *Coordinator) Outcome() (Trigger, *settlement.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trigger, c.result, c.err
}

// ring moves Idle -> Ringing and starts listening for the remote end signal.
func (c *Coordinator) ring(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRinging)) {
		return ErrInvalidState
	}
	c.transport.OnRemoteConnected(c.remoteConnected)

	cancel, err := c.env.signaling.SubscribeCallEnded(ctx, c.roomID, c.remoteEnded)
	if err != nil {
		return fmt.Errorf("%w: subscribe call ended: %v", ErrCallSetupFailed, err)
	}
	c.mu.Lock()
	if c.unsubscribed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.endedSub = cancel
	c.mu.Unlock()
	return nil
}

// accept joins the media room on the callee side.
func (c *Coordinator) accept(ctx context.Context) error {
	if c.role != RoleCallee || c.State() != StateRinging {
		return ErrInvalidState
	}
	if !c.accepted.CompareAndSwap(false, true) {
		return ErrInvalidState
	}
	if err := c.transport.Connect(ctx, c.roomID, c.selfID); err != nil {
		cause := fmt.Errorf("%w: transport connect: %v", ErrCallSetupFailed, err)
		c.toIdle(TriggerSetupFailed, cause, true)
		return cause
	}
	c.log.Info("call accepted")
	return nil
}

// remoteConnected runs Ringing -> Connected once the other participant is up.
func (c *Coordinator) remoteConnected(remoteID string) {
	if c.State() != StateRinging {
		return
	}
	// Only the invited peer joining the room connects the call.
	if remoteID != c.peerID {
		c.log.Warn("ignoring unexpected remote participant", "remote_id", remoteID)
		return
	}

	ctx, cancel := c.env.opContext()
	defer cancel()

	customer, provider, err := c.participants(ctx)
	if err != nil {
		c.log.Warn("call setup rejected", "err", err)
		c.toIdle(TriggerSetupFailed, err, true)
		return
	}
	meter := billing.NewMeter(c.env.billing, provider.Pricing.WithDefaults(), customer.Balance)

	c.mu.Lock()
	if !c.state.CompareAndSwap(int32(StateRinging), int32(StateConnected)) {
		c.mu.Unlock()
		return
	}
	c.meter = meter
	c.customerID, c.providerID = customer.ID, provider.ID
	c.clk = c.env.clocks(c.env.now(), c.tick)
	c.mu.Unlock()

	metrics.ActiveCalls.Inc()
	q := meter.Current()
	c.log.Info("call connected",
		"customer_id", customer.ID,
		"provider_id", provider.ID,
		"balance_snapshot", customer.Balance.String(),
		"billing_mode", string(provider.Pricing.WithDefaults().Mode),
		"remaining_seconds", int64(q.Remaining/time.Second),
	)
}

// participants resolves which side pays. Exactly one customer and one provider are required.
func (c *Coordinator) participants(ctx context.Context) (customer, provider ledger.Account, err error) {
	self, err := c.account(ctx, c.selfID)
	if err != nil {
		return ledger.Account{}, ledger.Account{}, err
	}
	peer, err := c.account(ctx, c.peerID)
	if err != nil {
		return ledger.Account{}, ledger.Account{}, err
	}

	switch {
	case self.Type == ledger.AccountTypeCustomer && peer.Type == ledger.AccountTypeProvider:
		customer, provider = self, peer
	case self.Type == ledger.AccountTypeProvider && peer.Type == ledger.AccountTypeCustomer:
		customer, provider = peer, self
	default:
		return ledger.Account{}, ledger.Account{}, fmt.Errorf("%w: %s and %s", ErrInvalidCallParticipants, self.Type, peer.Type)
	}
	if err := provider.Pricing.WithDefaults().Validate(); err != nil {
		return ledger.Account{}, ledger.Account{}, fmt.Errorf("%w: %v", ErrInvalidPricing, err)
	}
	return customer, provider, nil
}

func (c *Coordinator) account(ctx context.Context, id string) (ledger.Account, error) {
	a, err := c.env.accounts.GetAccount(ctx, id)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return ledger.Account{}, fmt.Errorf("%w: account %s not found", ErrInvalidCallParticipants, id)
	case err != nil:
		return ledger.Account{}, fmt.Errorf("%w: load account: %v", ErrCallSetupFailed, err)
	}
	return a, nil
}

func (c *Coordinator) tick(t clock.Tick) {
	if c.State() != StateConnected {
		return
	}
	c.mu.Lock()
	m, payer := c.meter, c.customerID == c.selfID
	c.mu.Unlock()

	// Only the paying side enforces the balance limit; the other side follows
	// through the shared call-ended signal.
	q := m.Observe(billable(t.Elapsed))
	if q.MustTerminate && payer {
		c.log.Info("balance exhausted, ending call", "elapsed_seconds", int64(q.Elapsed/time.Second))
		c.end(TriggerBalanceExhausted)
	}
}

// remoteEnded handles the shared "call ended" signal from either side.
func (c *Coordinator) remoteEnded() {
	for {
		switch c.State() {
		case StateRinging:
			if c.toIdle(TriggerRemoteEnded, nil, false) {
				return
			}
		case StateConnected:
			c.end(TriggerRemoteEnded)
			return
		default:
			return
		}
	}
}

// hangUp ends the call from this side. Losing the race to a remote end, a decline or
// balance exhaustion still counts as success.
func (c *Coordinator) hangUp() error {
	for {
		switch c.State() {
		case StateRinging:
			trigger := TriggerCancelled
			if c.role == RoleCallee {
				trigger = TriggerDeclined
			}
			if c.toIdle(trigger, nil, true) {
				return nil
			}
		case StateConnected:
			if c.end(TriggerHangup) {
				return nil
			}
		default:
			// Already dismissed or ending through another trigger; the caller's intent holds.
			return nil
		}
	}
}

func (c *Coordinator) decline() error {
	if c.role != RoleCallee {
		return ErrInvalidState
	}
	if !c.toIdle(TriggerDeclined, nil, true) {
		return ErrInvalidState
	}
	return nil
}

// end runs Connected -> Ending -> Settled. Only the first trigger gets past the CAS.
func (c *Coordinator) end(trigger Trigger) bool {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateEnding)) {
		return false
	}

	c.mu.Lock()
	clk, meter := c.clk, c.meter
	customerID, providerID := c.customerID, c.providerID
	c.mu.Unlock()

	clk.Stop()
	final := meter.Final(billable(clk.Elapsed()))
	c.cancelEndedSub()

	metrics.ActiveCalls.Dec()
	metrics.CallsEnded.WithLabelValues(string(trigger)).Inc()
	metrics.CallDuration.Observe(final.Elapsed.Seconds())

	ctx, cancel := c.env.opContext()
	defer cancel()

	res, err := c.env.settler.Settle(ctx, settlement.Request{
		RoomID:              c.roomID,
		CustomerAccountID:   customerID,
		ProviderAccountID:   providerID,
		FinalCost:           final.AccruedCost,
		CallDurationSeconds: int64(final.Elapsed / time.Second),
		Pricing:             meter.Pricing(),
	})
	log := c.log.With("trigger", string(trigger), "cost", final.AccruedCost.String(), "elapsed_seconds", int64(final.Elapsed/time.Second))
	if err != nil {
		log.Error("settlement failed", "err", err)
	} else {
		log.Info("call ended", "duplicate", res.Duplicate, "provider_credit", res.ProviderCredit.String())
	}

	c.teardown(ctx, true)

	c.mu.Lock()
	c.final = &final
	c.trigger = trigger
	c.err = err
	if err == nil {
		c.result = &res
	}
	c.mu.Unlock()

	c.state.Store(int32(StateSettled))
	c.finish()
	return true
}

// toIdle runs Ringing -> Idle without settlement.
func (c *Coordinator) toIdle(trigger Trigger, cause error, notifyPeer bool) bool {
	if !c.state.CompareAndSwap(int32(StateRinging), int32(StateIdle)) {
		return false
	}
	c.cancelEndedSub()

	ctx, cancel := c.env.opContext()
	defer cancel()
	c.teardown(ctx, notifyPeer)

	c.mu.Lock()
	c.trigger = trigger
	c.err = cause
	c.mu.Unlock()

	c.log.Info("call dismissed", "trigger", string(trigger))
	c.finish()
	return true
}

// teardown never fails; each step is attempted regardless of the others.
func (c *Coordinator) teardown(ctx context.Context, notifyPeer bool) {
	if err := c.transport.Disconnect(ctx); err != nil {
		c.log.Warn("transport disconnect failed", "err", err)
	}
	for _, target := range []string{c.selfID, c.peerID} {
		if err := c.env.signaling.DeleteCallRequest(ctx, target, c.roomID); err != nil {
			c.log.Warn("delete call request failed", "target_id", target, "err", err)
		}
	}
	if notifyPeer {
		if err := c.env.signaling.PublishCallEnded(ctx, c.roomID); err != nil {
			c.log.Warn("publish call ended failed", "err", err)
		}
	}
}

// cancelEndedSub must run before this coordinator publishes its own end signal.
func (c *Coordinator) cancelEndedSub() {
	c.mu.Lock()
	cancel := c.endedSub
	c.endedSub = nil
	c.unsubscribed = true
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) finish() {
	if c.onFinish != nil {
		c.onFinish(c)
	}
	close(c.done)
}

// refreshBalance re-snapshots the customer's balance from the store, e.g. after a top-up.
func (c *Coordinator) refreshBalance(ctx context.Context) (billing.Quote, error) {
	if c.State() != StateConnected {
		return billing.Quote{}, ErrInvalidState
	}
	c.mu.Lock()
	m, customerID := c.meter, c.customerID
	c.mu.Unlock()

	a, err := c.env.accounts.GetAccount(ctx, customerID)
	if err != nil {
		return billing.Quote{}, err
	}
	q := m.Resnapshot(a.Balance)
	c.log.Info("balance re-snapshotted", "balance", a.Balance.String(), "remaining_seconds", int64(q.Remaining/time.Second))
	return q, nil
}

func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		RoomID:    c.roomID,
		SelfID:    c.selfID,
		PeerID:    c.peerID,
		PeerName:  c.peerName,
		Role:      c.role,
		State:     c.State().String(),
		Trigger:   c.trigger,
		Unbounded: true,
	}
	var q *billing.Quote
	switch {
	case c.final != nil:
		q = c.final
	case c.meter != nil:
		cur := c.meter.Current()
		q = &cur
	}
	if q != nil {
		v.AccruedCost = q.AccruedCost
		v.Elapsed = q.Elapsed
		v.Remaining = q.Remaining
		v.Unbounded = q.Unbounded
		v.IsLowBalance = q.IsLowBalance
	}
	if c.result != nil {
		r := *c.result
		v.Settlement = &r
	}
	if c.err != nil {
		v.Error = userMessage(c.err)
	}
	return v
}

// userMessage maps the error taxonomy to text safe to show a participant.
func userMessage(err error) string {
	switch {
	case errors.Is(err, settlement.ErrInsufficientFunds):
		return "Your balance did not cover this call. It has been flagged for review."
	case errors.Is(err, settlement.ErrAccountNotFound),
		errors.Is(err, settlement.ErrTransferFailed),
		errors.Is(err, settlement.ErrStoreWriteFailed):
		return "We could not sync your balance for this call. Check your transactions later."
	case errors.Is(err, ErrInvalidCallParticipants):
		return "Calls are only possible between a customer and a provider."
	case errors.Is(err, ErrInvalidPricing):
		return "This provider has no valid pricing configured."
	default:
		return "The call could not be completed."
	}
}

func (c *Coordinator) isCustomer(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.customerID == accountID
}
