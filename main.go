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

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-storefront/internal/auth"
	"ms-storefront/internal/config"
	"ms-storefront/internal/fraud"
	"ms-storefront/internal/kafka"
	"ms-storefront/internal/logger"
	"ms-storefront/internal/mailer"
	"ms-storefront/internal/order"
	orderdb "ms-storefront/internal/order/db"
	"ms-storefront/internal/order/order_api"
	"ms-storefront/internal/payments"
	ticketdb "ms-storefront/internal/tickets/db"
	tickets "ms-storefront/internal/tickets/service"
	"ms-storefront/internal/tickets/ticket_api"
	"ms-storefront/internal/webhook"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.Ping()
			if err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if !cfg.Enabled {
		log.Warn("REDIS", "Redis disabled, webhook dedupe and PIN rate limiting are off")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis connection error, continuing without it: %v", err))
		return nil
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Addr))
	return client
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Storefront Core Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	redisClient := connectRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var producer *kafka.Producer
	var events webhook.EventPublisher
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		events = producer
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.RequiredTopics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events are off")
	}

	mailQueue := mailer.NewQueue(mailer.NewSMTPSender(cfg.Email), log)
	defer mailQueue.Close()

	ledger := order.NewLedgerService(&orderdb.DB{Bun: bunDB}, log)
	ticketService := tickets.NewTicketService(&ticketdb.DB{Bun: bunDB}, cfg.App.PublicOrigin, log)
	guard := fraud.NewGuard(&fraud.DB{Bun: bunDB}, log)
	stripeClient := payments.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	var deduper webhook.Deduper
	var limiter ticket_api.Limiter
	if redisClient != nil {
		deduper = webhook.NewRedisDeduper(redisClient, log)
		limiter = ticket_api.NewPinLimiter(redisClient, log)
	}

	cryptomusWebhook := webhook.NewCryptomusHandler(
		cfg.Cryptomus.PaymentKey,
		cfg.Cryptomus.AcceptedStatuses,
		ledger,
		ticketService,
		mailQueue,
		deduper,
		events,
		log,
	)
	stripeWebhook := &webhook.StripeHandler{
		Gateway: stripeClient,
		Ledger:  ledger,
		Issuer:  ticketService,
		Guard:   guard,
		Mail:    mailQueue,
		Dedupe:  deduper,
		Events:  events,
		Logger:  log,
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to initialize token verifier: %v", err))
	}

	orderHandler := order_api.NewHandler(ledger, orderdb.IsNotFound, log)
	ticketHandler := ticket_api.NewHandler(ticketService, limiter, mailQueue, events, kafka.TopicTicketRedeemed, log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/webhook/cryptomus", cryptomusWebhook.Handle)
	r.Post("/webhook/stripe", stripeWebhook.Handle)
	log.Info("ROUTER", "Webhook endpoints registered under /webhook")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		log.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Route("/order", func(r chi.Router) {
				r.Get("/{orderID}", orderHandler.GetOrder)
				r.Get("/{orderID}/tickets", ticketHandler.ListTicketsByOrder)
			})
			log.Info("ROUTER", "Order routes registered under /api/order")

			r.Route("/ticket", func(r chi.Router) {
				r.Get("/{ticketID}/validate", ticketHandler.ValidateTicket)
				r.Post("/{ticketID}/redeem", ticketHandler.RedeemTicket)
				r.Get("/{ticketID}/qr", ticketHandler.TicketQR)
				r.Post("/{ticketID}/resend-pin", ticketHandler.ResendPin)
			})
			log.Info("ROUTER", "Ticket routes registered under /api/ticket")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Storefront Core Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Storefront Core Service shutdown complete")
	}
}
