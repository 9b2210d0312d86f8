package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCallEndTTL bounds how long an ended-room marker is kept.
const DefaultCallEndTTL = 24 * time.Hour

const keyPrefix = "vidcall:"

func requestKey(targetID string) string     { return keyPrefix + "call_request:" + targetID }
func requestChannel(targetID string) string { return keyPrefix + "call_requests:" + targetID }
func endedKey(roomID string) string         { return keyPrefix + "call_ended:" + roomID }
func endedChannel(roomID string) string     { return keyPrefix + "call_ended_events:" + roomID }

// publishRequestScript stores the request document and notifies listeners in one step.
var publishRequestScript = redis.NewScript(`
-- KEYS[1] = request key
-- ARGV[1] = request json
-- ARGV[2] = channel
-- ARGV[3] = event json
redis.call('SET', KEYS[1], ARGV[1])
redis.call('PUBLISH', ARGV[2], ARGV[3])
return 1
`)

// deleteRequestScript deletes the request only if it still belongs to the given room.
var deleteRequestScript = redis.NewScript(`
-- KEYS[1] = request key
-- ARGV[1] = room id
-- ARGV[2] = channel
--
-- Returns:
--  1 if deleted
--  0 if absent or owned by another room
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local doc = cjson.decode(raw)
if doc['room_id'] ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('PUBLISH', ARGV[2], cjson.encode({kind = 'removed', request = doc}))
return 1
`)

// markEndedScript sets the ended marker once and only then publishes.
var markEndedScript = redis.NewScript(`
-- KEYS[1] = ended key
-- ARGV[1] = ended_at unix ms
-- ARGV[2] = ttl ms
-- ARGV[3] = channel
local ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
if not ok then
  return 0
end
redis.call('PUBLISH', ARGV[3], ARGV[1])
return 1
`)

// Redis implements Signaling with one key per call request / ended room plus pub/sub
// for change notification. A subscriber reads the current key after its subscription
// is confirmed, so no change between the two is lost.
type Redis struct {
	rdb    *redis.Client
	endTTL time.Duration
	log    *slog.Logger
	clock  func() time.Time
}

func NewRedis(rdb *redis.Client, endTTL time.Duration, log *slog.Logger) *Redis {
	if endTTL <= 0 {
		endTTL = DefaultCallEndTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{rdb: rdb, endTTL: endTTL, log: log, clock: time.Now}
}

func (r *Redis) PublishCallRequest(ctx context.Context, req CallRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = r.clock().UTC()
	}
	doc, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ev, err := json.Marshal(RequestEvent{Kind: EventAdded, Request: req})
	if err != nil {
		return err
	}
	return publishRequestScript.Run(ctx, r.rdb,
		[]string{requestKey(req.TargetID)},
		string(doc), requestChannel(req.TargetID), string(ev),
	).Err()
}

func (r *Redis) SubscribeCallRequests(ctx context.Context, selfID string, fn func(RequestEvent)) (CancelFunc, error) {
	ps := r.rdb.Subscribe(ctx, requestChannel(selfID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe call requests: %w", err)
	}

	box := newMailbox()
	raw, err := r.rdb.Get(ctx, requestKey(selfID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		_ = ps.Close()
		box.close()
		return nil, err
	default:
		var req CallRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			r.log.Warn("malformed call request document", "target_id", selfID, "err", err)
		} else {
			box.push(func() { fn(RequestEvent{Kind: EventAdded, Request: req}) })
		}
	}

	go func() {
		for msg := range ps.Channel() {
			var ev RequestEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn("malformed call request event", "channel", msg.Channel, "err", err)
				continue
			}
			box.push(func() { fn(ev) })
		}
	}()

	return closer(ps, box), nil
}

func (r *Redis) DeleteCallRequest(ctx context.Context, targetID, roomID string) error {
	return deleteRequestScript.Run(ctx, r.rdb,
		[]string{requestKey(targetID)},
		roomID, requestChannel(targetID),
	).Err()
}

func (r *Redis) PublishCallEnded(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrInvalidRequest
	}
	return markEndedScript.Run(ctx, r.rdb,
		[]string{endedKey(roomID)},
		r.clock().UnixMilli(), r.endTTL.Milliseconds(), endedChannel(roomID),
	).Err()
}

func (r *Redis) SubscribeCallEnded(ctx context.Context, roomID string, fn func()) (CancelFunc, error) {
	ps := r.rdb.Subscribe(ctx, endedChannel(roomID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe call ended: %w", err)
	}

	box := newMailbox()
	var once sync.Once
	fire := func() { box.push(func() { once.Do(fn) }) }

	n, err := r.rdb.Exists(ctx, endedKey(roomID)).Result()
	if err != nil {
		_ = ps.Close()
		box.close()
		return nil, err
	}
	if n > 0 {
		fire()
	}

	go func() {
		for range ps.Channel() {
			fire()
		}
	}()

	return closer(ps, box), nil
}

func closer(ps *redis.PubSub, box *mailbox) CancelFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			box.close()
			_ = ps.Close()
		})
	}
}
