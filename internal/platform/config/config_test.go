package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("SERVER_PORT", "9191")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 2, cfg.Gateway.MaxRetries)
	assert.Equal(t, "sk_test_123", cfg.Gateway.StripeSecretKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.KafkaBrokerList())
	assert.Equal(t, 30*time.Minute, cfg.Order.PaymentTimeout)
	assert.Equal(t, "pgx", cfg.DB.Driver)
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("SOME_INT", "42")
	assert.Equal(t, 42, GetEnvAsInt("SOME_INT", 1))
	assert.Equal(t, 7, GetEnvAsInt("MISSING_INT_KEY", 7))
}
