package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-storefront/internal/auth"
	"ms-storefront/internal/checkout"
	"ms-storefront/internal/config"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/order"
	orderdb "ms-storefront/internal/order/db"
	"ms-storefront/internal/payments"
)

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Checkout Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()
	ctx := context.Background()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	ledger := order.NewLedgerService(&orderdb.DB{Bun: bunDB}, log)
	stripeClient := payments.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	cryptoClient := payments.NewCryptomusClient(
		cfg.Cryptomus.MerchantID,
		cfg.Cryptomus.PaymentKey,
		cfg.Cryptomus.BaseURL,
		&http.Client{Timeout: 10 * time.Second},
	)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to initialize token verifier: %v", err))
	}

	handler := checkout.NewHandler(stripeClient, cryptoClient, ledger, cfg, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := router.Group("/api/checkout")
	api.Use(auth.GinMiddleware(verifier))
	{
		api.POST("/stripe", handler.CreateStripeSession)
		api.POST("/cryptomus", handler.CreateCryptomusInvoice)
		api.GET("/session/:sessionId/verify", handler.VerifySession)
	}

	port := os.Getenv("CHECKOUT_PORT")
	if port == "" {
		port = ":8085"
	}

	server := &http.Server{
		Addr:    port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Checkout Service running on %s", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Checkout Service shutdown complete")
	}
}
