package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Issuer.TTL)
	assert.Equal(t, time.Second, cfg.Channel.BackoffBase)
	assert.Equal(t, 5*time.Second, cfg.Feed.DedupWindow)
	assert.Equal(t, 50, cfg.Feed.Capacity)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ROLLCALL_ADDR", ":9090")
	t.Setenv("ROLLCALL_CREDENTIAL_TTL", "2m")
	t.Setenv("ROLLCALL_BOUNDARY_LAT", "5.636096")
	t.Setenv("ROLLCALL_BOUNDARY_RADIUS_M", "5")
	t.Setenv("ROLLCALL_BACKOFF_MAX_ATTEMPTS", "8")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Issuer.TTL)
	assert.Equal(t, 5.636096, cfg.Boundary.Latitude)
	assert.Equal(t, 5.0, cfg.Boundary.RadiusMeters)
	assert.Equal(t, 8, cfg.Channel.MaxAttempts)
}

func TestFromEnvMalformedValuesFallBack(t *testing.T) {
	t.Setenv("ROLLCALL_CREDENTIAL_TTL", "not-a-duration")
	t.Setenv("ROLLCALL_FEED_CAPACITY", "many")
	t.Setenv("ROLLCALL_BOUNDARY_LAT", "north")

	cfg := FromEnv()
	assert.Equal(t, 5*time.Minute, cfg.Issuer.TTL)
	assert.Equal(t, 50, cfg.Feed.Capacity)
	assert.Equal(t, 0.0, cfg.Boundary.Latitude)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := FromEnv()
	cfg.Boundary.RadiusMeters = -1
	assert.Error(t, cfg.Validate())

	cfg = FromEnv()
	cfg.Issuer.TTL = 0
	assert.Error(t, cfg.Validate())
}
