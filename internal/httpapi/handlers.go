package httpapi

import (
	"errors"
	"net/http"
	"time"

	"vidcall-platform/internal/auth"
	"vidcall-platform/internal/calls"
	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/reporting"
	"vidcall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Calls     *calls.Service
	Ledger    *ledger.Service
	Reporting *reporting.Service

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// accountID reads the identity set by auth.RequireAccessToken. It aborts with 401 when missing.
func accountID(c *gin.Context) (string, bool) {
	id, err := auth.AccountID(c.Request.Context())
	if err != nil || id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return "", false
	}
	return id, true
}

// writeError maps domain sentinels to status codes. Raw store errors are never exposed.
func writeError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient funds"
	case errors.Is(err, ledger.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment declined"
	case errors.Is(err, ledger.ErrPayoutFailed):
		return http.StatusBadGateway, "payout failed"
	case errors.Is(err, calls.ErrTargetNotFound):
		return http.StatusNotFound, "target account not found"
	case errors.Is(err, calls.ErrCallNotFound):
		return http.StatusNotFound, "call not found"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, calls.ErrInvalidState):
		return http.StatusConflict, "call is not in a state that allows this action"
	case errors.Is(err, calls.ErrCallerBusy):
		return http.StatusConflict, "an outgoing call is already in progress"
	case errors.Is(err, calls.ErrProviderUnavailable):
		return http.StatusConflict, "provider unavailable"
	case errors.Is(err, ledger.ErrStatusConflict):
		return http.StatusConflict, "transaction status conflict"
	case errors.Is(err, calls.ErrInvalidCallParticipants):
		return http.StatusBadRequest, "calls are only possible between a customer and a provider"
	case errors.Is(err, calls.ErrInvalidPricing):
		return http.StatusBadRequest, "provider pricing is invalid"
	case errors.Is(err, ledger.ErrInvalidArgument), errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, ledger.ErrWrongAccount):
		return http.StatusForbidden, "operation not allowed for this account type"
	case errors.Is(err, calls.ErrCallSetupFailed):
		return http.StatusBadGateway, "call setup failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair. The role is re-read from the account.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil || h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	now := h.now()
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, now)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	acct, err := h.Ledger.GetAccount(c.Request.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		writeError(c, err)
		return
	}
	pair, err := h.Auth.IssuePair(now, acct.ID, string(acct.Type))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}
