package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"subscription-bot/config"
	"subscription-bot/database"
	"subscription-bot/internal/access"
	adminapi "subscription-bot/internal/api/admin"
	stripewebhooks "subscription-bot/internal/api/stripewebhook"
	routes "subscription-bot/internal/app/http"
	"subscription-bot/internal/ledger"
	"subscription-bot/internal/payments"
	"subscription-bot/internal/platform/telegram"
	"subscription-bot/internal/reconcile"
	"subscription-bot/internal/session"
	"subscription-bot/internal/subscription"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	config.LoadEnv()
	database.InitDB()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to init logger:", err)
	}
	defer logger.Sync()

	messenger, err := telegram.NewClient(config.BOT_TOKEN, config.PAYMENT_TOKEN)
	if err != nil {
		log.Fatal("Failed to init telegram client:", err)
	}

	led := ledger.NewLedger(database.DB, logger)
	requests := payments.NewService(database.DB, logger)
	provisioner := access.NewProvisioner(database.DB, led, messenger, logger,
		config.PRIVATE_GROUP_CHAT_ID, config.ADMIN_ID)
	sessions := session.NewStore()
	subs := subscription.NewService(database.DB, led, requests, provisioner,
		messenger, messenger, sessions, logger, config.ADMIN_ID)
	reconciler := reconcile.NewReconciler(led, provisioner, messenger, logger,
		time.Duration(config.CHECK_INTERVAL_HOURS)*time.Hour, config.ADMIN_ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reconciler.Run(ctx)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.ADMIN_URL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		Admin: &adminapi.Handler{
			DB:            database.DB,
			Requests:      requests,
			Subscriptions: subs,
			Reconciler:    reconciler,
			Logger:        logger,
		},
		Webhook: &stripewebhooks.Handler{
			Subscriptions: subs,
			Logger:        logger,
		},
	})

	r.Run(":" + config.PORT)
}
