package transport

import (
	"context"
	"errors"
)

// Transport is the media engine seen from one participant of one room.
// The core only needs to join, learn that the other side is up, and leave.
type Transport interface {
	Connect(ctx context.Context, roomID, selfID string) error
	// OnRemoteConnected registers fn, called once when another participant is up.
	OnRemoteConnected(fn func(remoteID string))
	// Disconnect leaves the room. It is idempotent and safe before Connect.
	Disconnect(ctx context.Context) error
}

// Factory creates a fresh Transport for each call attempt.
type Factory func() Transport

type EventType string

const (
	EventRemoteConnected EventType = "remote_connected"
	EventRemoteLeft      EventType = "remote_left"
)

// Event is reported by the media engine for a room participant.
type Event struct {
	RoomID string    `json:"room_id"`
	UserID string    `json:"user_id"`
	Type   EventType `json:"event"`
}

var (
	ErrInvalidEvent     = errors.New("transport: invalid event")
	ErrAlreadyConnected = errors.New("transport: already connected")
)

func (e Event) validate() error {
	if e.RoomID == "" || e.UserID == "" {
		return ErrInvalidEvent
	}
	switch e.Type {
	case EventRemoteConnected, EventRemoteLeft:
		return nil
	default:
		return ErrInvalidEvent
	}
}
