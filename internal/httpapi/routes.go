package httpapi

import (
	"vidcall-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the authenticated API on v1. The caller installs the token middleware.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	v1.Use(rbac.RequireAccount())

	calls := v1.Group("/calls")
	{
		calls.POST("", rbac.RequireAnyRole(rbac.RoleCustomer), h.PlaceCall)
		calls.GET("/incoming", rbac.RequireAnyRole(rbac.RoleProvider), h.Incoming)
		calls.GET("/:room_id", h.GetCall)
		calls.POST("/:room_id/accept", h.AcceptCall)
		calls.POST("/:room_id/decline", h.DeclineCall)
		calls.POST("/:room_id/hangup", h.HangUp)
	}

	me := v1.Group("/accounts/me")
	{
		me.GET("", h.GetAccount)
		me.GET("/transactions", h.Transactions)
		me.GET("/summary", h.Summary)
		me.POST("/credits", rbac.RequireAnyRole(rbac.RoleCustomer), h.PurchaseCredits)
		me.POST("/payouts", rbac.RequireAnyRole(rbac.RoleProvider), h.RequestPayout)
		me.PUT("/availability", rbac.RequireAnyRole(rbac.RoleProvider), h.SetAvailability)
	}
}
