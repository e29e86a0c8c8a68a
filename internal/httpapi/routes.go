package httpapi

import (
	"net/http"

	"voice-campaigns/internal/auth"
	"voice-campaigns/internal/ledger"
	"voice-campaigns/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register wires HTTP routes to handlers.
// Keep this free of business logic. Handlers delegate to internal modules.
func Register(r *gin.Engine, h Handlers, wh WebhookHandler, authMW gin.HandlerFunc, balances ledger.BalanceReader) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider callbacks authenticate by HMAC signature, not bearer token.
	r.POST("/webhooks/provider", wh.Handle)

	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireUser())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})
		v1.GET("/me/balance", h.GetBalance)
		v1.GET("/me/minutes", h.MinutesSummary)

		v1.POST("/ledger/deductions",
			rbac.RequireAnyRole(rbac.RoleOwner),
			ledger.RequireMinutes(balances),
			h.Deduct,
		)

		campaigns := v1.Group("/campaigns")
		{
			campaigns.GET("/:campaign_id/summary", h.CampaignSummary)
			campaigns.GET("/:campaign_id/transactions", h.CampaignTransactions)
		}
		v1.GET("/conversations/:conversation_id/audio", h.ConversationAudio)

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleFinance))
		{
			admin.POST("/ledger/credits", h.AdminCredit)
			admin.POST("/batches/:batch_id/settle", h.AdminSettle)
			admin.POST("/sweep", h.AdminSweep)
		}
	}
}
