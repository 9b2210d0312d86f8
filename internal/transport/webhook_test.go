package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParseEvent(t *testing.T) {
	body := strings.NewReader("room_id=room1&user_id=bob&event=remote_connected")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/transport/events", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ev, err := ParseEvent(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.RoomID != "room1" || ev.UserID != "bob" || ev.Type != EventRemoteConnected {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestWebhookHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	r.POST("/webhooks/transport/events", WebhookHandler{Hub: hub}.HandleEvent)

	post := func(body string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/transport/events", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := post("room_id=room1&user_id=bob&event=remote_connected"); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if !hub.Present("room1", "bob") {
		t.Fatalf("expected bob present after webhook")
	}
	if code := post("room_id=room1&event=remote_connected"); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestWebhookHandler_RequiresSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	r.POST("/webhooks/transport/events", WebhookHandler{Hub: hub, Secret: "s3cret"}.HandleEvent)

	post := func(secret string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/transport/events",
			strings.NewReader("room_id=room1&user_id=mallory&event=remote_connected"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if secret != "" {
			req.Header.Set(SecretHeader, secret)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := post(""); code != http.StatusUnauthorized {
		t.Fatalf("missing secret: expected 401, got %d", code)
	}
	if code := post("guess"); code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %d", code)
	}
	if hub.Present("room1", "mallory") {
		t.Fatalf("rejected callback must not reach the hub")
	}
	if code := post("s3cret"); code != http.StatusNoContent {
		t.Fatalf("valid secret: expected 204, got %d", code)
	}
	if !hub.Present("room1", "mallory") {
		t.Fatalf("expected participant after authorized callback")
	}
}
