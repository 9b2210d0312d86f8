package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"vidcall-platform/internal/money"
	"vidcall-platform/internal/reporting"
	"vidcall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (h Handlers) GetAccount(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	acct, err := h.Ledger.GetAccount(c.Request.Context(), self)
	if err != nil {
		writeError(c, err)
		return
	}
	acct.BlockedAccountIDs = nil
	c.JSON(http.StatusOK, acct)
}

type purchaseCreditsRequest struct {
	Amount       money.Money `json:"amount"`
	PaymentNonce string      `json:"payment_nonce"`
}

// PurchaseCredits tops up a customer and re-snapshots any live call it is paying for.
func (h Handlers) PurchaseCredits(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	var req purchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !req.Amount.IsPositive() || req.PaymentNonce == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "positive amount and payment_nonce required"})
		return
	}
	rec, balance, err := h.Ledger.PurchaseCredits(c.Request.Context(), self, req.Amount, req.PaymentNonce)
	if err != nil {
		writeError(c, err)
		return
	}
	refreshed := 0
	if h.Calls != nil {
		n, err := h.Calls.RefreshCustomerCredits(c.Request.Context(), self)
		if err != nil {
			logger.FromGin(c).Warn("live call refresh failed", "account_id", self, "err", err)
		}
		refreshed = n
	}
	c.JSON(http.StatusOK, gin.H{"transaction": rec, "balance": balance, "calls_refreshed": refreshed})
}

type payoutRequest struct {
	Amount money.Money `json:"amount"`
}

func (h Handlers) RequestPayout(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	var req payoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !req.Amount.IsPositive() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "positive amount required"})
		return
	}
	rec, balance, err := h.Ledger.RequestPayout(c.Request.Context(), self, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"transaction": rec, "balance": balance})
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (h Handlers) SetAvailability(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "available required"})
		return
	}
	if err := h.Ledger.SetAvailability(c.Request.Context(), self, *req.Available); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": *req.Available})
}

func (h Handlers) Transactions(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	rows, err := h.Ledger.History(c.Request.Context(), self, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": rows})
}

// Summary returns a statement; from/to are optional RFC 3339 bounds.
func (h Handlers) Summary(c *gin.Context) {
	self, ok := accountID(c)
	if !ok {
		return
	}
	var rng reporting.TimeRange
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.key + " must be RFC 3339"})
			return
		}
		*p.dst = t
	}
	st, err := h.Reporting.Statement(c.Request.Context(), reporting.StatementRequest{AccountID: self, Range: rng})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
