/*
config.go - Environment configuration for the server

PURPOSE:
  Load reads every setting from the process environment, falling back to
  development defaults. cmd/server loads an optional .env file first.
  Malformed values stop the process at startup rather than surfacing later.

SEE ALSO:
  - cmd/server/main.go: flag overrides for port and database path
*/
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	Prefix      string
}

// EngineConfig holds the reconciliation limits.
type EngineConfig struct {
	MaxPaymentAmount  decimal.Decimal
	MaxPrepaidBalance decimal.Decimal
	PendingTTL        time.Duration
}

type SchedulerConfig struct {
	SweepInterval         time.Duration
	PendingExpiryInterval time.Duration
}

type AppConfig struct {
	Port   string
	DBPath string
	Redis  RedisConfig
	// ExchangeRate is used when Redis is unreachable or holds no rate.
	ExchangeRate decimal.Decimal
	Engine       EngineConfig
	Scheduler    SchedulerConfig
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("invalid decimal value %q: %v", s, err)
	}
	return d
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration value %q: %v", s, err)
	}
	return d
}

func Load() AppConfig {
	return AppConfig{
		Port:   getenv("APP_PORT", "8080"),
		DBPath: getenv("DB_PATH", "installments.db"),
		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "3")),
			DialTimeout: mustDuration(getenv("REDIS_DIAL_TIMEOUT", "5s")),
			Timeout:     mustDuration(getenv("REDIS_TIMEOUT", "3s")),
			Prefix:      getenv("REDIS_PREFIX", "installments:"),
		},
		ExchangeRate: mustDecimal(getenv("EXCHANGE_RATE", "12650")),
		Engine: EngineConfig{
			MaxPaymentAmount:  mustDecimal(getenv("MAX_PAYMENT_AMOUNT", "1000000")),
			MaxPrepaidBalance: mustDecimal(getenv("MAX_PREPAID_BALANCE", "10000")),
			PendingTTL:        mustDuration(getenv("PENDING_TTL", "24h")),
		},
		Scheduler: SchedulerConfig{
			SweepInterval:         mustDuration(getenv("SWEEP_INTERVAL", "1h")),
			PendingExpiryInterval: mustDuration(getenv("PENDING_EXPIRY_INTERVAL", "1h")),
		},
	}
}
