package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidcall-platform/internal/billing"
	"vidcall-platform/internal/clock"
	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/routing"
	"vidcall-platform/internal/signaling"
	"vidcall-platform/internal/transport"
)

// DefaultOpTimeout bounds each store or signaling round-trip made outside a request.
const DefaultOpTimeout = 10 * time.Second

// Admission decides whether a call may be placed and whether an incoming request rings.
type Admission interface {
	CheckOutbound(ctx context.Context, callerID, targetID string) (routing.Decision, error)
	AdmitInbound(ctx context.Context, roomID, callerID, targetID string) (routing.Decision, error)
}

type Deps struct {
	Accounts   AccountReader
	Settler    Settler
	Admission  Admission
	Signaling  signaling.Signaling
	Transports transport.Factory

	// Optional.
	Clocks    clock.Factory
	Billing   billing.Engine
	Limiter   Limiter
	Log       *slog.Logger
	Now       func() time.Time
	NewRoomID func() string
	OpTimeout time.Duration
}

// Service hosts the coordinators of the accounts served by this instance.
type Service struct {
	env        *env
	admission  Admission
	transports transport.Factory
	limiter    Limiter
	log        *slog.Logger
	newRoomID  func() string
	registry   *Registry

	mu        sync.Mutex
	listeners map[string]signaling.CancelFunc
}

func NewService(d Deps) *Service {
	if d.Clocks == nil {
		d.Clocks = clock.NewFactory(clock.Options{})
	}
	if d.Billing.LowBalanceThreshold <= 0 {
		d.Billing = billing.NewEngine(0)
	}
	if d.Limiter == nil {
		d.Limiter = NewMemoryLimiter(1)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewRoomID == nil {
		d.NewRoomID = uuid.NewString
	}
	if d.OpTimeout <= 0 {
		d.OpTimeout = DefaultOpTimeout
	}
	return &Service{
		env: &env{
			accounts:  d.Accounts,
			settler:   d.Settler,
			signaling: d.Signaling,
			clocks:    d.Clocks,
			billing:   d.Billing,
			now:       d.Now,
			opTimeout: d.OpTimeout,
		},
		admission:  d.Admission,
		transports: d.Transports,
		limiter:    d.Limiter,
		log:        d.Log,
		newRoomID:  d.NewRoomID,
		registry:   NewRegistry(),
		listeners:  map[string]signaling.CancelFunc{},
	}
}

// PlaceCall rings targetID. The caller joins the media room immediately and
// waits there until the callee accepts.
func (s *Service) PlaceCall(ctx context.Context, callerID, targetID string) (View, error) {
	d, err := s.admission.CheckOutbound(ctx, callerID, targetID)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return View{}, fmt.Errorf("%w: caller account not found", ErrInvalidCallParticipants)
	case err != nil:
		return View{}, fmt.Errorf("%w: %v", ErrCallSetupFailed, err)
	}
	if !d.Rings() {
		if d.Reason == routing.ReasonTargetNotFound {
			return View{}, ErrTargetNotFound
		}
		return View{}, fmt.Errorf("%w: %s", ErrInvalidCallParticipants, d.Reason)
	}

	caller, err := s.env.accounts.GetAccount(ctx, callerID)
	if err != nil {
		return View{}, fmt.Errorf("%w: load caller: %v", ErrCallSetupFailed, err)
	}

	ok, err := s.limiter.Acquire(ctx, callerID)
	if err != nil {
		return View{}, fmt.Errorf("%w: limiter: %v", ErrCallSetupFailed, err)
	}
	if !ok {
		return View{}, ErrCallerBusy
	}

	roomID := s.newRoomID()
	c := newCoordinator(s.env, s.log, RoleCaller, roomID, callerID, targetID, s.transports())
	c.onFinish = s.release
	if !s.registry.Add(c) {
		_ = s.limiter.Release(ctx, callerID)
		return View{}, fmt.Errorf("%w: duplicate room id", ErrCallSetupFailed)
	}

	if err := c.ring(ctx); err != nil {
		c.toIdle(TriggerSetupFailed, err, false)
		return View{}, err
	}
	if err := c.transport.Connect(ctx, roomID, callerID); err != nil {
		cause := fmt.Errorf("%w: transport connect: %v", ErrCallSetupFailed, err)
		c.toIdle(TriggerSetupFailed, cause, false)
		return View{}, cause
	}
	err = s.env.signaling.PublishCallRequest(ctx, signaling.CallRequest{
		TargetID:   targetID,
		CallerID:   callerID,
		CallerName: caller.Username,
		RoomID:     roomID,
		CreatedAt:  s.env.now().UTC(),
	})
	if err != nil {
		cause := fmt.Errorf("%w: publish call request: %v", ErrCallSetupFailed, err)
		c.toIdle(TriggerSetupFailed, cause, false)
		return View{}, cause
	}

	c.log.Info("call placed", "target_id", targetID)
	return c.View(), nil
}

// Listen starts delivering incoming call requests for accountID. It is idempotent.
func (s *Service) Listen(ctx context.Context, accountID string) error {
	s.mu.Lock()
	_, listening := s.listeners[accountID]
	s.mu.Unlock()
	if listening {
		return nil
	}

	cancel, err := s.env.signaling.SubscribeCallRequests(context.WithoutCancel(ctx), accountID, func(ev signaling.RequestEvent) {
		s.onRequest(accountID, ev)
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe call requests: %v", ErrCallSetupFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, raced := s.listeners[accountID]; raced {
		cancel()
		return nil
	}
	s.listeners[accountID] = cancel
	return nil
}

func (s *Service) onRequest(selfID string, ev signaling.RequestEvent) {
	req := ev.Request
	if req.TargetID != selfID {
		return
	}
	switch ev.Kind {
	case signaling.EventAdded:
		s.ringIncoming(selfID, req)
	case signaling.EventRemoved:
		// Caller cancelled before pickup.
		if c, ok := s.registry.Get(req.RoomID, selfID); ok && c.role == RoleCallee {
			c.toIdle(TriggerCancelled, nil, false)
		}
	}
}

func (s *Service) ringIncoming(selfID string, req signaling.CallRequest) {
	if _, dup := s.registry.Get(req.RoomID, selfID); dup {
		return
	}
	log := s.log.With("room_id", req.RoomID, "self_id", selfID, "caller_id", req.CallerID)

	ctx, cancel := s.env.opContext()
	defer cancel()

	d, err := s.admission.AdmitInbound(ctx, req.RoomID, req.CallerID, selfID)
	if err != nil {
		log.Error("admission check failed", "err", err)
		return
	}
	if !d.Rings() {
		// Silent: the caller is not told.
		log.Info("call request discarded", "err", discardError(d.Reason))
		if err := s.env.signaling.DeleteCallRequest(ctx, selfID, req.RoomID); err != nil {
			log.Warn("delete discarded request failed", "err", err)
		}
		return
	}

	c := newCoordinator(s.env, s.log, RoleCallee, req.RoomID, selfID, req.CallerID, s.transports())
	c.peerName = req.CallerName
	c.onFinish = s.release
	if !s.registry.Add(c) {
		return
	}
	if err := c.ring(ctx); err != nil {
		log.Warn("incoming call setup failed", "err", err)
		c.toIdle(TriggerSetupFailed, err, false)
		return
	}
	log.Info("incoming call ringing")
}

func discardError(r routing.Reason) error {
	switch r {
	case routing.ReasonProviderUnavailable:
		return ErrProviderUnavailable
	case routing.ReasonCallerBlocked, routing.ReasonUnknownCaller:
		return fmt.Errorf("%w: %s", ErrInvalidCallParticipants, r)
	default:
		return fmt.Errorf("calls: discarded: %s", r)
	}
}

// release runs once per coordinator when it reaches Idle or Settled.
func (s *Service) release(c *Coordinator) {
	s.registry.Remove(c)
	if c.role != RoleCaller {
		return
	}
	ctx, cancel := s.env.opContext()
	defer cancel()
	if err := s.limiter.Release(ctx, c.selfID); err != nil {
		c.log.Warn("release outgoing slot failed", "err", err)
	}
}

func (s *Service) coordinator(accountID, roomID string) (*Coordinator, error) {
	c, ok := s.registry.Get(roomID, accountID)
	if !ok {
		return nil, ErrCallNotFound
	}
	return c, nil
}

// Coordinator returns the live coordinator for accountID in roomID, if any.
func (s *Service) Coordinator(accountID, roomID string) (*Coordinator, bool) {
	return s.registry.Get(roomID, accountID)
}

func (s *Service) Accept(ctx context.Context, accountID, roomID string) error {
	c, err := s.coordinator(accountID, roomID)
	if err != nil {
		return err
	}
	return c.accept(ctx)
}

func (s *Service) Decline(ctx context.Context, accountID, roomID string) error {
	c, err := s.coordinator(accountID, roomID)
	if err != nil {
		return err
	}
	return c.decline()
}

// HangUp cancels a ringing call or ends a connected one.
func (s *Service) HangUp(ctx context.Context, accountID, roomID string) error {
	c, err := s.coordinator(accountID, roomID)
	if err != nil {
		return err
	}
	return c.hangUp()
}

func (s *Service) Get(accountID, roomID string) (View, error) {
	c, err := s.coordinator(accountID, roomID)
	if err != nil {
		return View{}, err
	}
	return c.View(), nil
}

// Incoming lists calls ringing accountID.
func (s *Service) Incoming(accountID string) []View {
	var out []View
	for _, c := range s.registry.ForAccount(accountID) {
		if c.role == RoleCallee && c.State() == StateRinging {
			out = append(out, c.View())
		}
	}
	return out
}

// RefreshCustomerCredits re-snapshots accountID's balance on every hosted coordinator
// of a connected call it is paying for, on either side. It returns how many were updated.
func (s *Service) RefreshCustomerCredits(ctx context.Context, accountID string) (int, error) {
	n := 0
	var errs []error
	for _, c := range s.registry.All() {
		if c.State() != StateConnected || !c.isCustomer(accountID) {
			continue
		}
		if _, err := c.refreshBalance(ctx); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Shutdown stops listening, ends every hosted call and waits for teardown.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, cancel := range s.listeners {
		cancel()
		delete(s.listeners, id)
	}
	s.mu.Unlock()

	all := s.registry.All()
	for _, c := range all {
		switch c.State() {
		case StateRinging:
			c.toIdle(TriggerShutdown, nil, true)
		case StateConnected:
			c.end(TriggerShutdown)
		}
	}
	for _, c := range all {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
