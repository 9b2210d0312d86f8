package transport

import (
	"context"
	"log/slog"
	"sync"
)

// Hub tracks who is up in each room. Participants hosted in this process join through
// Session.Connect; participants on the engine side are reported through HandleEvent.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
	log   *slog.Logger
}

type room struct {
	present  map[string]bool
	sessions map[string]*Session
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{rooms: map[string]*room{}, log: log}
}

// Factory returns a transport.Factory producing hub-backed sessions.
func (h *Hub) Factory() Factory {
	return func() Transport { return &Session{hub: h} }
}

// HandleEvent applies an engine-reported participant change.
func (h *Hub) HandleEvent(ev Event) error {
	if err := ev.validate(); err != nil {
		return err
	}
	switch ev.Type {
	case EventRemoteConnected:
		h.join(ev.RoomID, ev.UserID, nil)
	case EventRemoteLeft:
		h.leave(ev.RoomID, ev.UserID)
		h.log.Info("remote participant left", "room_id", ev.RoomID, "user_id", ev.UserID)
	}
	return nil
}

// Present reports whether userID is up in roomID.
func (h *Hub) Present(roomID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return ok && r.present[userID]
}

func (h *Hub) join(roomID, userID string, s *Session) {
	var notify []func()

	h.mu.Lock()
	r := h.rooms[roomID]
	if r == nil {
		r = &room{present: map[string]bool{}, sessions: map[string]*Session{}}
		h.rooms[roomID] = r
	}
	r.present[userID] = true
	if s != nil {
		r.sessions[userID] = s
		for other := range r.present {
			if other != userID {
				notify = append(notify, s.remoteUp(other))
			}
		}
	}
	for id, peer := range r.sessions {
		if id != userID {
			notify = append(notify, peer.remoteUp(userID))
		}
	}
	h.mu.Unlock()

	for _, fn := range notify {
		if fn != nil {
			go fn()
		}
	}
}

func (h *Hub) leave(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(r.present, userID)
	delete(r.sessions, userID)
	if len(r.present) == 0 && len(r.sessions) == 0 {
		delete(h.rooms, roomID)
	}
}

// Session is one participant's hub-backed Transport.
type Session struct {
	hub *Hub

	mu        sync.Mutex
	roomID    string
	selfID    string
	connected bool
	seen      map[string]bool
	onRemote  func(remoteID string)
}

func (s *Session) OnRemoteConnected(fn func(remoteID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemote = fn
}

func (s *Session) Connect(ctx context.Context, roomID, selfID string) error {
	if roomID == "" || selfID == "" {
		return ErrInvalidEvent
	}
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.roomID, s.selfID, s.connected = roomID, selfID, true
	s.mu.Unlock()

	s.hub.join(roomID, selfID, s)
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	roomID, selfID := s.roomID, s.selfID
	s.mu.Unlock()

	s.hub.leave(roomID, selfID)
	return nil
}

// remoteUp returns the callback to run for remoteID, or nil if it already fired for that id.
// Each distinct remote fires once; the listener decides which remote it is waiting for.
// Called with hub.mu held; the callback itself runs outside any lock.
func (s *Session) remoteUp(remoteID string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[remoteID] || !s.connected || s.onRemote == nil {
		return nil
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.seen[remoteID] = true
	fn := s.onRemote
	return func() { fn(remoteID) }
}
