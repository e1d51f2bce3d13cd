/*
Package rates supplies the latest dollar/local exchange rate.

PURPOSE:
  Withdrawals and currency breakdowns convert local cash into dollars at the
  most recent rate. The rate is normally published by an outside process;
  admins can also publish one through the API when the provider is Redis.

PROVIDERS:
  Static:        fixed rate, for tests and single-node dev setups
  RedisProvider: reads the rate published under "<prefix>exchange_rate:latest"

RATE FORMAT:
  Local units per one dollar, stored as a decimal string ("12650.00").

SEE ALSO:
  - installment/balance.go: Withdraw uses Provider.LatestRate
  - api/handlers.go: PublishRate uses Publisher
*/
package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/warp/installment-engine/ledger"
)

// LatestKey is the key (before prefixing) holding the current rate.
const LatestKey = "exchange_rate:latest"

// Provider returns the current exchange rate in local units per dollar.
type Provider interface {
	LatestRate(ctx context.Context) (decimal.Decimal, error)
}

// Publisher is a Provider whose rate can be replaced.
type Publisher interface {
	Provider
	Publish(ctx context.Context, rate decimal.Decimal) error
}

// =============================================================================
// STATIC PROVIDER
// =============================================================================

type Static struct {
	Rate decimal.Decimal
}

func NewStatic(rate decimal.Decimal) Static { return Static{Rate: rate} }

func (s Static) LatestRate(_ context.Context) (decimal.Decimal, error) {
	if !s.Rate.IsPositive() {
		return decimal.Zero, ledger.NotFound("exchange_rate", "static")
	}
	return s.Rate, nil
}

// =============================================================================
// REDIS PROVIDER
// =============================================================================

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	Prefix      string
}

// RedisProvider reads the published rate from Redis. When the key is missing
// and Fallback is positive, Fallback is returned instead.
type RedisProvider struct {
	raw      *goredis.Client
	prefix   string
	Fallback decimal.Decimal
}

// NewRedisProvider connects and pings the server before returning.
func NewRedisProvider(cfg RedisConfig) (*RedisProvider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisProvider{raw: rdb, prefix: cfg.Prefix}, nil
}

func (p *RedisProvider) Close() {
	if p == nil || p.raw == nil {
		return
	}
	_ = p.raw.Close()
}

func (p *RedisProvider) withPrefix(key string) string {
	return p.prefix + key
}

func (p *RedisProvider) LatestRate(ctx context.Context) (decimal.Decimal, error) {
	raw, err := p.raw.Get(ctx, p.withPrefix(LatestKey)).Result()
	if errors.Is(err, goredis.Nil) {
		if p.Fallback.IsPositive() {
			return p.Fallback, nil
		}
		return decimal.Zero, ledger.NotFound("exchange_rate", LatestKey)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read exchange rate: %w", err)
	}
	return ParseRate(raw)
}

// Publish stores rate as the latest one.
func (p *RedisProvider) Publish(ctx context.Context, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return ledger.Validation("publish_rate", "rate must be positive, got %s", rate)
	}
	return p.raw.Set(ctx, p.withPrefix(LatestKey), rate.String(), 0).Err()
}

var _ Publisher = (*RedisProvider)(nil)

// ParseRate parses a stored rate. Non-positive values are rejected.
func ParseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed exchange rate %q: %w", raw, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	return rate, nil
}
