package transport

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"vidcall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ParseEvent reads an engine callback. The engine posts
// application/x-www-form-urlencoded fields room_id, user_id and event.
func ParseEvent(r *http.Request) (Event, error) {
	if err := r.ParseForm(); err != nil {
		return Event{}, err
	}
	ev := Event{
		RoomID: strings.TrimSpace(r.PostFormValue("room_id")),
		UserID: strings.TrimSpace(r.PostFormValue("user_id")),
		Type:   EventType(strings.TrimSpace(r.PostFormValue("event"))),
	}
	return ev, ev.validate()
}

// SecretHeader carries the shared secret the engine is configured with.
const SecretHeader = "X-Transport-Secret"

// WebhookHandler converts engine callbacks into hub events. No call logic here.
// An empty Secret disables the check; config only allows that outside staging and production.
type WebhookHandler struct {
	Hub    *Hub
	Secret string
}

func (h WebhookHandler) authorized(r *http.Request) bool {
	if h.Secret == "" {
		return true
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) == 1
}

func (h WebhookHandler) HandleEvent(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transport hub not configured"})
		return
	}
	if !h.authorized(c.Request) {
		log.Warn("transport webhook rejected", "remote_addr", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ev, err := ParseEvent(c.Request)
	if err != nil {
		log.Warn("transport webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}
	if err := h.Hub.HandleEvent(ev); err != nil {
		log.Error("transport event failed", "room_id", ev.RoomID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
