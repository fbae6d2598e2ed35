// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capactiyvirus/cafe-checkout/backend"
	"github.com/capactiyvirus/cafe-checkout/config"
	"github.com/capactiyvirus/cafe-checkout/gateway"
	"github.com/capactiyvirus/cafe-checkout/handlers"
	"github.com/capactiyvirus/cafe-checkout/middleware"
	"github.com/capactiyvirus/cafe-checkout/routes"
	"github.com/capactiyvirus/cafe-checkout/services"
	"github.com/capactiyvirus/cafe-checkout/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	nrApp, err := middleware.NewRelicApp(cfg.NewRelicAppName, cfg.NewRelicLicenseKey)
	if err != nil {
		log.Printf("New Relic disabled: %v", err)
		nrApp = nil
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()

	// Session ledger
	var sessions store.SessionStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(startCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		sessions = pg
		log.Println("Using Postgres session store")
	} else {
		sessions = store.NewMemoryStore()
		log.Println("DATABASE_URL not set, using in-memory session store")
	}
	defer sessions.Close()

	// Idempotency cache
	var (
		idem        store.IdempotencyCache
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = store.NewRedisClient(startCtx, cfg.RedisURL, nrApp)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		idem = store.NewRedisIdempotencyCache(redisClient)
		log.Println("Using Redis idempotency cache")
	} else {
		idem = store.NewMemoryIdempotencyCache()
	}

	// Providers
	gw := gateway.Configure(cfg.StripeSecretKey, cfg.UpstreamTimeout)

	backendOpts := []backend.Option{backend.WithDebug(cfg.LogLevel == "debug")}
	if nrApp != nil {
		backendOpts = append(backendOpts, backend.WithNewRelic())
	}
	api := backend.NewClient(cfg.BackendAPIURL, cfg.UpstreamTimeout, backendOpts...)

	var notifier services.Notifier
	if cfg.ReceiptsEnabled() {
		notifier = services.NewReceiptService(cfg)
		log.Printf("Receipts enabled via %s", cfg.SMTPHost)
	}

	payments := services.NewPaymentService(api, gw, sessions, notifier, services.Settings{
		DefaultCurrency:         cfg.DefaultCurrency,
		QClubCurrency:           cfg.QClubCurrency,
		ManualCapture:           cfg.StripeCaptureMethod == "manual",
		CancelSupersededIntents: cfg.CancelSupersededIntents,
	})

	h := handlers.NewHandlers(cfg, payments)

	// Setup routes
	r := routes.SetupRoutes(routes.Deps{
		Config:      cfg,
		Handlers:    h,
		Idempotency: idem,
		NewRelic:    nrApp,
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		log.Printf("Environment: %s", cfg.Environment)
		log.Printf("Backend API: %s", cfg.BackendAPIURL)
		log.Printf("CORS allowed origins: %v", cfg.CorsAllowedOrigins)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Attempt graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(10 * time.Second)
	}

	log.Println("Server exited")
}
