/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the installment engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and environment configuration
  2. Parse command-line flags (override port and db path)
  3. Initialize SQLite store
  4. Connect the Redis exchange-rate provider (static rate if unreachable)
  5. Create engine, handler, router and scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: APP_PORT or 8080)
  -db      SQLite database path (default: DB_PATH or installments.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Periodic sweep and expiry
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/installment-engine/api"
	"github.com/warp/installment-engine/config"
	"github.com/warp/installment-engine/installment"
	"github.com/warp/installment-engine/ledger"
	"github.com/warp/installment-engine/rates"
	"github.com/warp/installment-engine/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system env or defaults")
	}
	cfg := config.Load()

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	rateProvider := mustInitRates(cfg)
	if rp, ok := rateProvider.(*rates.RedisProvider); ok {
		defer rp.Close()
	}

	engine := installment.NewEngine(store, store, ledger.SystemClock{}, rateProvider, installment.Config{
		MaxPaymentAmount:  cfg.Engine.MaxPaymentAmount,
		MaxPrepaidBalance: cfg.Engine.MaxPrepaidBalance,
		PendingTTL:        cfg.Engine.PendingTTL,
	})

	router := api.NewRouter(api.NewHandler(engine))

	scheduler := api.NewScheduler(engine, ledger.SystemClock{}, cfg.Scheduler)
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", *port)
		log.Printf("API available at http://localhost:%s/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// mustInitRates prefers the Redis-published rate and falls back to the
// configured static rate when Redis cannot be reached at startup.
func mustInitRates(cfg config.AppConfig) rates.Provider {
	provider, err := rates.NewRedisProvider(rates.RedisConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout,
		Timeout:     cfg.Redis.Timeout,
		Prefix:      cfg.Redis.Prefix,
	})
	if err != nil {
		log.Printf("[Rates] Redis unavailable (%v), using static rate %s", err, cfg.ExchangeRate)
		return rates.NewStatic(cfg.ExchangeRate)
	}
	provider.Fallback = cfg.ExchangeRate
	log.Printf("[Rates] Using Redis at %s", cfg.Redis.Addr)
	return provider
}
