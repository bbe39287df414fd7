package routes

import (
	adminapi "subscription-bot/internal/api/admin"
	authapi "subscription-bot/internal/api/auth"
	stripewebhooks "subscription-bot/internal/api/stripewebhook"
	"subscription-bot/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

// Deps carries the constructed services into the route handlers.
type Deps struct {
	Admin   *adminapi.Handler
	Webhook *stripewebhooks.Handler
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	r.POST("/webhook", deps.Webhook.StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	public := r.Group("/")
	public.Use(middleware.SanitizeAndCleanInputMiddleware())
	public.POST("/login", authapi.Login)

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.RequireRole("admin"), middleware.SanitizeAndCleanInputMiddleware())
	admin.GET("/requests", deps.Admin.ListRequests)
	admin.POST("/requests/:id/decide", deps.Admin.DecideRequest)
	admin.POST("/requests/cleanup", deps.Admin.CleanupRequests)
	admin.POST("/reconcile", deps.Admin.RunReconciliation)
	admin.GET("/users", deps.Admin.ListUsers)
	admin.GET("/consents.csv", deps.Admin.ExportConsents)
}
