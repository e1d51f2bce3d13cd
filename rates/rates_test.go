package rates_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/installment-engine/ledger"
	"github.com/warp/installment-engine/rates"
)

func TestStatic_ReturnsConfiguredRate(t *testing.T) {
	p := rates.NewStatic(decimal.NewFromInt(12650))

	rate, err := p.LatestRate(context.Background())

	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(12650)))
}

func TestStatic_ZeroRateIsNotFound(t *testing.T) {
	_, err := rates.Static{}.LatestRate(context.Background())

	assert.True(t, ledger.IsNotFound(err))
}

func TestParseRate(t *testing.T) {
	rate, err := rates.ParseRate("12650.50")
	require.NoError(t, err)
	assert.Equal(t, "12650.5", rate.String())

	_, err = rates.ParseRate("abc")
	assert.Error(t, err)

	_, err = rates.ParseRate("0")
	assert.Error(t, err)
}

func TestNewRedisProvider_UnreachableServer(t *testing.T) {
	// Port 1 is never a redis server; the constructor must fail on ping.
	_, err := rates.NewRedisProvider(rates.RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		Timeout:     500 * time.Millisecond,
	})

	assert.Error(t, err)
}

func TestRedisProvider_PublishThenRead(t *testing.T) {
	// GIVEN: a reachable redis (REDIS_ADDR) and a per-test key prefix
	// WHEN: a rate is published
	// THEN: LatestRate returns it; a non-positive rate is refused

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	p, err := rates.NewRedisProvider(rates.RedisConfig{Addr: addr, Prefix: "test:" + t.Name() + ":"})
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, decimal.RequireFromString("12700.25")))

	rate, err := p.LatestRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "12700.25", rate.String())

	err = p.Publish(ctx, decimal.Zero)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
