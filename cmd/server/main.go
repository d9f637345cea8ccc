package main // Entry point package

import (
	"context" // Cancellation for the background sweeper
	"log"     // Logging library

	"github.com/joho/godotenv"    // Loads .env files in development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/datesafe/datesafe-server/internal/config"     // Internal config loader
	"github.com/datesafe/datesafe-server/internal/database"   // MySQL connection pool
	"github.com/datesafe/datesafe-server/internal/engine"     // Date request lifecycle engine
	"github.com/datesafe/datesafe-server/internal/handler"    // HTTP handlers
	"github.com/datesafe/datesafe-server/internal/middleware" // Rate limiting and caching
	"github.com/datesafe/datesafe-server/internal/payment"    // Payment processor client
	"github.com/datesafe/datesafe-server/internal/queue"      // Notification consumer
	"github.com/datesafe/datesafe-server/internal/repository" // DB repositories
	"github.com/datesafe/datesafe-server/internal/router"     // Internal router setup
	"github.com/datesafe/datesafe-server/internal/service"    // Queue-backed notifier
	"github.com/datesafe/datesafe-server/internal/sweeper"    // Expiry and release sweeps
)

func main() {
	// Best-effort .env load for local development; production relies on
	// real environment variables.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Redis backs rate limiting and response caching.  A nil client just
	// disables both; the lifecycle engine never depends on Redis.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; rate limiting and response caching disabled")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	requests := repository.NewDateRequestRepo(db)
	payments := repository.NewPaymentRepo(db)

	gateway := payment.NewHTTPGateway(cfg.PaymentAPIURL, cfg.PaymentAPIKey, nil)
	notifier := service.NewQueueNotifier()

	eng := engine.New(requests, payments, gateway, notifier, engine.Options{
		Currency:   cfg.Currency,
		RequestTTL: cfg.RequestTTL,
	})
	sw := sweeper.New(requests, eng)

	// The consumer drains the notification queue independently of the HTTP
	// server; it reconnects on broker failures.
	go func() {
		if err := queue.StartNotificationConsumer(); err != nil {
			log.Printf("notification consumer stopped: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.SweepEnabled {
		go sw.Run(ctx, cfg.ExpireSweepEvery, cfg.ReleaseSweepEvery)
	}

	e := echo.New()

	var rateLimit, cache echo.MiddlewareFunc
	if rdb != nil {
		rateLimit = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
		cache = middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	}

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterRequests(e, handler.NewRequestHandler(eng, requests), cfg.JWTSecret, rateLimit, cache)
	router.RegisterInternal(e,
		handler.NewWebhookHandler(eng, cfg.WebhookSecret),
		handler.NewCronHandler(sw, cfg.CronSecret))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
