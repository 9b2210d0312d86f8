package signaling

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Signaling for tests and single-instance deployments.
type Memory struct {
	mu       sync.Mutex
	requests map[string]CallRequest
	ended    map[string]time.Time
	nextID   int

	requestSubs map[string]map[int]*mailboxSub
	endedSubs   map[string]map[int]*endedSub

	endTTL time.Duration
	clock  func() time.Time
}

type mailboxSub struct {
	box *mailbox
	fn  func(RequestEvent)
}

type endedSub struct {
	box  *mailbox
	once sync.Once
	fn   func()
}

func (s *endedSub) fire() {
	s.box.push(func() { s.once.Do(s.fn) })
}

func NewMemory() *Memory {
	return &Memory{
		requests:    map[string]CallRequest{},
		ended:       map[string]time.Time{},
		requestSubs: map[string]map[int]*mailboxSub{},
		endedSubs:   map[string]map[int]*endedSub{},
		endTTL:      DefaultCallEndTTL,
		clock:       time.Now,
	}
}

// WithCallEndTTL sets how long ended-room markers are kept. Non-positive keeps the default.
func (m *Memory) WithCallEndTTL(d time.Duration) *Memory {
	if d > 0 {
		m.endTTL = d
	}
	return m
}

func (m *Memory) PublishCallRequest(ctx context.Context, req CallRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = m.clock().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.TargetID] = req
	m.notifyLocked(RequestEvent{Kind: EventAdded, Request: req})
	return nil
}

func (m *Memory) SubscribeCallRequests(ctx context.Context, selfID string, fn func(RequestEvent)) (CancelFunc, error) {
	sub := &mailboxSub{box: newMailbox(), fn: fn}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.requestSubs[selfID] == nil {
		m.requestSubs[selfID] = map[int]*mailboxSub{}
	}
	m.requestSubs[selfID][id] = sub
	if current, ok := m.requests[selfID]; ok {
		sub.deliver(RequestEvent{Kind: EventAdded, Request: current})
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.requestSubs[selfID], id)
			m.mu.Unlock()
			sub.box.close()
		})
	}, nil
}

func (m *Memory) DeleteCallRequest(ctx context.Context, targetID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[targetID]
	if !ok || current.RoomID != roomID {
		return nil
	}
	delete(m.requests, targetID)
	m.notifyLocked(RequestEvent{Kind: EventRemoved, Request: current})
	return nil
}

// CallRequest returns the current request for targetID.
func (m *Memory) CallRequest(targetID string) (CallRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[targetID]
	return r, ok
}

func (m *Memory) PublishCallEnded(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrInvalidRequest
	}
	now := m.clock().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneEndedLocked(now)
	if _, ok := m.ended[roomID]; ok {
		return nil
	}
	m.ended[roomID] = now
	for _, s := range m.endedSubs[roomID] {
		s.fire()
	}
	return nil
}

func (m *Memory) SubscribeCallEnded(ctx context.Context, roomID string, fn func()) (CancelFunc, error) {
	sub := &endedSub{box: newMailbox(), fn: fn}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.endedSubs[roomID] == nil {
		m.endedSubs[roomID] = map[int]*endedSub{}
	}
	m.endedSubs[roomID][id] = sub
	if m.endedLocked(roomID, m.clock().UTC()) {
		sub.fire()
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.endedSubs[roomID], id)
			if len(m.endedSubs[roomID]) == 0 {
				delete(m.endedSubs, roomID)
			}
			m.mu.Unlock()
			sub.box.close()
		})
	}, nil
}

// Ended reports whether roomID has been marked ended.
func (m *Memory) Ended(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endedLocked(roomID, m.clock().UTC())
}

// endedLocked reports a live marker for roomID, dropping it once expired.
func (m *Memory) endedLocked(roomID string, now time.Time) bool {
	at, ok := m.ended[roomID]
	if !ok {
		return false
	}
	if now.Sub(at) >= m.endTTL {
		delete(m.ended, roomID)
		return false
	}
	return true
}

func (m *Memory) pruneEndedLocked(now time.Time) {
	for roomID, at := range m.ended {
		if now.Sub(at) >= m.endTTL {
			delete(m.ended, roomID)
		}
	}
}

// notifyLocked enqueues ev for every subscriber of its target. Enqueueing under m.mu keeps
// per-subscriber order equal to mutation order; callbacks run on the mailbox goroutines.
func (m *Memory) notifyLocked(ev RequestEvent) {
	for _, s := range m.requestSubs[ev.Request.TargetID] {
		s.deliver(ev)
	}
}

func (s *mailboxSub) deliver(ev RequestEvent) {
	s.box.push(func() { s.fn(ev) })
}
