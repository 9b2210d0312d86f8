package httpapi

import (
	"net/http"
	"strings"

	"vidcall-platform/internal/calls"
	"vidcall-platform/internal/settlement"
	"vidcall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type placeCallRequest struct {
	TargetAccountID string `json:"target_account_id"`
}

type callResponse struct {
	RoomID   string        `json:"room_id"`
	PeerID   string        `json:"peer_id"`
	PeerName string        `json:"peer_name,omitempty"`
	Role     calls.Role    `json:"role"`
	State    string        `json:"state"`
	Accrued  string        `json:"accrued_cost"`
	Elapsed  int64         `json:"elapsed_seconds"`
	Display  string        `json:"display"`
	Trigger  calls.Trigger `json:"trigger,omitempty"`

	// Remaining is omitted for unbounded (per-session) calls.
	Remaining    *int64 `json:"remaining_seconds,omitempty"`
	Unbounded    bool   `json:"unbounded"`
	IsLowBalance bool   `json:"is_low_balance"`

	Settlement *settlement.Result `json:"settlement,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func toCallResponse(v calls.View) callResponse {
	out := callResponse{
		RoomID:       v.RoomID,
		PeerID:       v.PeerID,
		PeerName:     v.PeerName,
		Role:         v.Role,
		State:        v.State,
		Accrued:      v.AccruedCost.String(),
		Elapsed:      int64(v.Elapsed.Seconds()),
		Display:      v.Display(),
		Trigger:      v.Trigger,
		Unbounded:    v.Unbounded,
		IsLowBalance: v.IsLowBalance,
		Settlement:   v.Settlement,
		Error:        v.Error,
	}
	if !v.Unbounded {
		r := int64(v.Remaining.Seconds())
		out.Remaining = &r
	}
	return out
}

// PlaceCall rings a provider on behalf of the authenticated customer.
func (h Handlers) PlaceCall(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.TargetAccountID = strings.TrimSpace(req.TargetAccountID)
	if req.TargetAccountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "target_account_id required"})
		return
	}
	v, err := h.Calls.PlaceCall(c.Request.Context(), self, req.TargetAccountID)
	if err != nil {
		logger.FromGin(c).Info("place call rejected", "account_id", self, "target_id", req.TargetAccountID, "err", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCallResponse(v))
}

// Incoming starts the call-request listener for the account and lists ringing calls.
func (h Handlers) Incoming(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	if err := h.Calls.Listen(c.Request.Context(), self); err != nil {
		writeError(c, err)
		return
	}
	views := h.Calls.Incoming(self)
	out := make([]callResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toCallResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func roomID(c *gin.Context) (string, bool) {
	id := c.Param("room_id")
	if _, err := uuid.Parse(id); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid room_id"})
		return "", false
	}
	return id, true
}

// callAction runs one lifecycle action and returns the resulting view.
func (h Handlers) callAction(c *gin.Context, action func(self, room string) error) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	room, ok := roomID(c)
	if !ok {
		return
	}
	if err := action(self, room); err != nil {
		writeError(c, err)
		return
	}
	v, err := h.Calls.Get(self, room)
	if err != nil {
		// Finished and released already.
		c.JSON(http.StatusOK, gin.H{"room_id": room, "state": calls.StateIdle.String()})
		return
	}
	c.JSON(http.StatusOK, toCallResponse(v))
}

func (h Handlers) AcceptCall(c *gin.Context) {
	h.callAction(c, func(self, room string) error {
		return h.Calls.Accept(c.Request.Context(), self, room)
	})
}

func (h Handlers) DeclineCall(c *gin.Context) {
	h.callAction(c, func(self, room string) error {
		return h.Calls.Decline(c.Request.Context(), self, room)
	})
}

func (h Handlers) HangUp(c *gin.Context) {
	h.callAction(c, func(self, room string) error {
		return h.Calls.HangUp(c.Request.Context(), self, room)
	})
}

func (h Handlers) GetCall(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	room, ok := roomID(c)
	if !ok {
		return
	}
	v, err := h.Calls.Get(self, room)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCallResponse(v))
}
