package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDSNAndSecret(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("JWT_SECRET", "s")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("POSTGRES_DSN", "postgres://localhost/mq")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadDefaultsAndRedisURL(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/mq")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REDIS_URL", "redis://bob:pw@cache:6380")
	t.Setenv("LOCK_TTL", "3")
	t.Setenv("VIDEO_TOKEN_TTL", "90m")
	t.Setenv("TRIAL_DAYS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "bob", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
	assert.Equal(t, 90*time.Minute, cfg.VideoTokenTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.TrialPeriod())
	assert.False(t, cfg.RequirePaymentBeforeCompletion)
}
