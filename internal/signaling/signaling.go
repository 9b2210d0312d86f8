package signaling

import (
	"context"
	"errors"
	"time"
)

// CallRequest is the document placed on a target account to ring it.
// At most one request exists per target; a newer one replaces it.
type CallRequest struct {
	TargetID   string    `json:"target_id"`
	CallerID   string    `json:"caller_id"`
	CallerName string    `json:"caller_name"`
	RoomID     string    `json:"room_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
)

// RequestEvent is delivered to call-request subscribers. Removed carries the
// request as it was before deletion.
type RequestEvent struct {
	Kind    EventKind   `json:"kind"`
	Request CallRequest `json:"request"`
}

// CancelFunc stops a subscription. It is safe to call more than once.
type CancelFunc func()

// Signaling is the realtime feed used to ring, cancel and end calls across devices.
//
// Delivery is asynchronous and at-least-once; consumers must be idempotent.
// Callbacks for one subscription are delivered in publish order from a single goroutine.
type Signaling interface {
	PublishCallRequest(ctx context.Context, req CallRequest) error
	// SubscribeCallRequests delivers the current request for selfID (if any) as an
	// Added event, then every later change.
	SubscribeCallRequests(ctx context.Context, selfID string, fn func(RequestEvent)) (CancelFunc, error)
	// DeleteCallRequest removes targetID's request only if it is still for roomID,
	// so a late teardown never deletes a newer call's request.
	DeleteCallRequest(ctx context.Context, targetID, roomID string) error

	// PublishCallEnded marks roomID ended. Only the first publish notifies subscribers.
	PublishCallEnded(ctx context.Context, roomID string) error
	// SubscribeCallEnded calls fn at most once, immediately if roomID already ended.
	SubscribeCallEnded(ctx context.Context, roomID string, fn func()) (CancelFunc, error)
}

var ErrInvalidRequest = errors.New("signaling: invalid call request")

func (r CallRequest) validate() error {
	if r.TargetID == "" || r.CallerID == "" || r.RoomID == "" {
		return ErrInvalidRequest
	}
	return nil
}
