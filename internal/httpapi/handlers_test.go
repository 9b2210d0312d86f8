package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidcall-platform/internal/audit"
	"vidcall-platform/internal/auth"
	"vidcall-platform/internal/calls"
	"vidcall-platform/internal/clock"
	"vidcall-platform/internal/config"
	"vidcall-platform/internal/ledger"
	"vidcall-platform/internal/money"
	"vidcall-platform/internal/payments"
	"vidcall-platform/internal/pricing"
	"vidcall-platform/internal/reporting"
	"vidcall-platform/internal/routing"
	"vidcall-platform/internal/settlement"
	"vidcall-platform/internal/signaling"
	"vidcall-platform/internal/transport"
)

type api struct {
	router *gin.Engine
	auth   *auth.Manager
	store  *ledger.MemoryStore
	calls  *calls.Service
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := ledger.NewMemoryStore()
	for _, a := range []ledger.Account{
		{ID: "cust", Username: "alice", Type: ledger.AccountTypeCustomer, Balance: money.MustNew("10.00")},
		{ID: "cust2", Username: "carol", Type: ledger.AccountTypeCustomer, Balance: money.MustNew("1.00")},
		{ID: "prov", Username: "bob", Type: ledger.AccountTypeProvider, Available: true,
			Balance: money.MustNew("3.00"), Pricing: pricing.PerMinute(money.MustNew("5.00")), PayoutEmail: "bob@example.com"},
	} {
		require.NoError(t, store.PutAccount(ctx, a))
	}

	auditSvc := audit.NewService(audit.NewMemoryRepo())
	svc := calls.NewService(calls.Deps{
		Accounts:   store,
		Settler:    settlement.NewService(store, settlement.DefaultProviderShare, auditSvc, nil),
		Admission:  routing.NewEngine(store, routing.AuditAdapter{Audit: auditSvc}),
		Signaling:  signaling.NewMemory(),
		Transports: transport.NewHub(nil).Factory(),
		Clocks:     clock.NewFactory(clock.Options{Interval: time.Hour}),
		OpTimeout:  time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	require.NoError(t, err)

	h := Handlers{
		Auth:      m,
		Calls:     svc,
		Ledger:    ledger.NewService(store, payments.NewSandbox(), nil),
		Reporting: reporting.NewService(store),
	}
	r := gin.New()
	r.POST("/auth/refresh", h.Refresh)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(m))
	h.Register(v1)

	return &api{router: r, auth: m, store: store, calls: svc}
}

func (a *api) token(t *testing.T, accountID, role string) string {
	t.Helper()
	pair, err := a.auth.IssuePair(time.Now(), accountID, role)
	require.NoError(t, err)
	return pair.AccessToken
}

func (a *api) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w.Code, out
}

func TestPlaceCall_RingsProviderAndListsIncoming(t *testing.T) {
	a := newAPI(t)
	cust := a.token(t, "cust", "customer")
	prov := a.token(t, "prov", "provider")

	code, _ := a.do(t, http.MethodGet, "/v1/calls/incoming", prov, nil)
	require.Equal(t, http.StatusOK, code)

	code, body := a.do(t, http.MethodPost, "/v1/calls", cust, gin.H{"target_account_id": "prov"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ringing", body["state"])
	assert.Equal(t, "0.00", body["accrued_cost"])
	roomID, _ := body["room_id"].(string)
	require.NotEmpty(t, roomID)

	require.Eventually(t, func() bool {
		_, body := a.do(t, http.MethodGet, "/v1/calls/incoming", prov, nil)
		list, _ := body["calls"].([]any)
		return len(list) == 1
	}, 2*time.Second, 5*time.Millisecond)

	code, body = a.do(t, http.MethodPost, "/v1/calls/"+roomID+"/decline", prov, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])

	// The caller returns to Idle and may call again.
	require.Eventually(t, func() bool {
		code, _ := a.do(t, http.MethodGet, "/v1/calls/"+roomID, cust, nil)
		return code == http.StatusNotFound
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPlaceCall_ErrorMapping(t *testing.T) {
	a := newAPI(t)
	cust := a.token(t, "cust", "customer")

	code, _ := a.do(t, http.MethodPost, "/v1/calls", cust, gin.H{"target_account_id": "cust2"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/v1/calls", cust, gin.H{"target_account_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(t, http.MethodPost, "/v1/calls", cust, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/v1/calls", cust, gin.H{"target_account_id": "prov"})
	require.Equal(t, http.StatusCreated, code)
	code, _ = a.do(t, http.MethodPost, "/v1/calls", cust, gin.H{"target_account_id": "prov"})
	assert.Equal(t, http.StatusConflict, code)

	// Providers do not place calls.
	code, _ = a.do(t, http.MethodPost, "/v1/calls", a.token(t, "prov", "provider"), gin.H{"target_account_id": "cust"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestCallRoutes_RequireTokenAndValidRoom(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(t, http.MethodGet, "/v1/calls/incoming", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	cust := a.token(t, "cust", "customer")
	code, _ = a.do(t, http.MethodGet, "/v1/calls/not-a-room", cust, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/v1/calls/6f1c1c2e-3b1a-4c55-9a43-7e8f00000000/hangup", cust, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPurchaseCredits(t *testing.T) {
	a := newAPI(t)
	cust := a.token(t, "cust", "customer")

	code, body := a.do(t, http.MethodPost, "/v1/accounts/me/credits", cust, gin.H{"amount": "5", "payment_nonce": payments.NonceValid})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "15.00", body["balance"])

	code, _ = a.do(t, http.MethodPost, "/v1/accounts/me/credits", cust, gin.H{"amount": "5", "payment_nonce": payments.NonceDeclined})
	assert.Equal(t, http.StatusPaymentRequired, code)

	code, _ = a.do(t, http.MethodPost, "/v1/accounts/me/credits", cust, gin.H{"amount": "0", "payment_nonce": payments.NonceValid})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(t, http.MethodPost, "/v1/accounts/me/credits", a.token(t, "prov", "provider"), gin.H{"amount": "5", "payment_nonce": payments.NonceValid})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestPayoutAndAvailability(t *testing.T) {
	a := newAPI(t)
	prov := a.token(t, "prov", "provider")

	code, _ := a.do(t, http.MethodPost, "/v1/accounts/me/payouts", prov, gin.H{"amount": "50"})
	assert.Equal(t, http.StatusPaymentRequired, code)

	code, body := a.do(t, http.MethodPost, "/v1/accounts/me/payouts", prov, gin.H{"amount": "2"})
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "1.00", body["balance"])

	code, _ = a.do(t, http.MethodPut, "/v1/accounts/me/availability", prov, gin.H{"available": false})
	require.Equal(t, http.StatusOK, code)
	acct, err := a.store.GetAccount(context.Background(), "prov")
	require.NoError(t, err)
	assert.False(t, acct.Available)

	code, _ = a.do(t, http.MethodPut, "/v1/accounts/me/availability", prov, gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(t, http.MethodPut, "/v1/accounts/me/availability", a.token(t, "cust", "customer"), gin.H{"available": true})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestTransactionsAndSummary(t *testing.T) {
	a := newAPI(t)
	cust := a.token(t, "cust", "customer")

	code, _ := a.do(t, http.MethodPost, "/v1/accounts/me/credits", cust, gin.H{"amount": "2.50", "payment_nonce": "n-1"})
	require.Equal(t, http.StatusOK, code)

	code, body := a.do(t, http.MethodGet, "/v1/accounts/me/transactions?limit=10", cust, nil)
	require.Equal(t, http.StatusOK, code)
	rows, _ := body["transactions"].([]any)
	assert.Len(t, rows, 1)

	code, body = a.do(t, http.MethodGet, "/v1/accounts/me/summary", cust, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2.50", body["purchased"])

	code, _ = a.do(t, http.MethodGet, "/v1/accounts/me/summary?from=yesterday", cust, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(t, http.MethodGet, "/v1/accounts/me/transactions?limit=-1", cust, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRefresh_ReissuesWithAccountRole(t *testing.T) {
	a := newAPI(t)
	pair, err := a.auth.IssuePair(time.Now(), "prov", "provider")
	require.NoError(t, err)

	code, body := a.do(t, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, code)
	access, _ := body["access_token"].(string)
	claims, err := a.auth.Verify(access, auth.TokenTypeAccess, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "provider", claims.Role)

	code, _ = a.do(t, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, code)
}
