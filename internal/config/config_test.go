package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, AuthModeJWT, cfg.AuthMode)
	require.Equal(t, BusLocal, cfg.RealtimeBus)
	require.Equal(t, 100, cfg.PageSize)
	require.Equal(t, "now", cfg.AroundDefaultPolicy)
	require.Equal(t, time.Minute, cfg.SendRateWindow)
}

func TestLoadClampsPageSize(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	t.Setenv("PAGE_SIZE", "1")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, minPageSize, cfg.PageSize)

	t.Setenv("PAGE_SIZE", "5000")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, maxPageSize, cfg.PageSize)
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_MODE", "jwt")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("AUTH_MODE", "grpc")
	t.Setenv("REALTIME_BUS", "redis")
	t.Setenv("REDIS_ADDR", "")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("REALTIME_BUS", "kafka")
	t.Setenv("KAFKA_BROKERS", " broker-1:9092, ,broker-2:9092")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)

	t.Setenv("AROUND_DEFAULT_POLICY", "latest")
	_, err = Load()
	require.Error(t, err)
}
