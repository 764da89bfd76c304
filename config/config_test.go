package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("EVENT_BUS", "memory")
	t.Setenv("AUTH_JWT_SECRET", "dev-secret")
	t.Setenv("REDIS_URL", "")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.App.StorageDriver)
	assert.Equal(t, "console", cfg.App.LogFormat)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.ExpiryInterval)
	assert.Zero(t, cfg.Scheduler.AdminPort)
	assert.Equal(t, 10*time.Minute, cfg.Catalog.CacheTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_ParsesOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("DB_MAX_CONNS", "40")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("EVENT_BUS", "redis")
	t.Setenv("AUTH_ADMIN_KEY_HASHES", " $2a$10$abc , $2a$10$def ")
	t.Setenv("CATALOG_BASE_URL", "http://catalog:8080")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 2*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, int32(40), cfg.Database.MaxConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, EventBusRedis, cfg.App.EventBus)
	assert.Equal(t, []string{"$2a$10$abc", "$2a$10$def"}, cfg.Auth.AdminKeyHashes)
	assert.Equal(t, "http://catalog:8080", cfg.Catalog.BaseURL)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("EVENT_BUS", "redis")
	t.Setenv("AUTH_JWT_SECRET", "short")
	t.Setenv("AUTH_ADMIN_KEY_HASHES", "plaintext")
	t.Setenv("SCHEDULER_ADMIN_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL is required")
	assert.Contains(t, msg, "EVENT_BUS=redis requires REDIS_URL")
	assert.Contains(t, msg, "AUTH_JWT_SECRET must be at least 32 bytes")
	assert.Contains(t, msg, "bcrypt hashes")
	assert.Contains(t, msg, "SCHEDULER_ADMIN_PORT must be 0-65535")
}

func TestValidate_UnknownDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORAGE_DRIVER", "sqlite")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_DRIVER must be postgres or memory")
}

func TestFeatureFlags_EnvOverride(t *testing.T) {
	t.Setenv("FEATURE_ENROLLMENT_AUTO_ADVANCE", "false")
	t.Setenv("FEATURE_PROGRESS_CATALOG_LOOKUP", "0")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureAutoAdvance, &FeatureContext{TenantID: "t1", UserID: "u1"}))
	assert.False(t, ff.IsEnabled(FeatureCatalogLookup, nil))
	assert.True(t, ff.IsEnabled(FeatureExpiryJob, nil))
}

func TestFeatureFlags_TenantOverrideWins(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureAutoAdvance))

	ff.SetTenantOverride("beta", FeatureAutoAdvance, true)
	assert.True(t, ff.IsEnabled(FeatureAutoAdvance, &FeatureContext{TenantID: "beta", UserID: "u1"}))
	assert.False(t, ff.IsEnabled(FeatureAutoAdvance, &FeatureContext{TenantID: "other", UserID: "u1"}))

	ff.ClearTenantOverrides("beta")
	assert.False(t, ff.IsEnabled(FeatureAutoAdvance, &FeatureContext{TenantID: "beta", UserID: "u1"}))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureAutoAdvance, 50))

	ctx := &FeatureContext{TenantID: "t1", UserID: "learner-42"}
	first := ff.IsEnabled(FeatureAutoAdvance, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureAutoAdvance, ctx))
	}

	enabled := 0
	for i := 0; i < 1000; i++ {
		if ff.IsEnabled(FeatureAutoAdvance, &FeatureContext{TenantID: "t1", UserID: fmt.Sprintf("user-%d", i)}) {
			enabled++
		}
	}
	assert.Greater(t, enabled, 0)
	assert.Less(t, enabled, 1000)
}

func TestFeatureFlags_Errors(t *testing.T) {
	ff := LoadFeatureFlags()
	assert.Equal(t, ErrFeatureNotFound, ff.SetRolloutPercent("nope", 10))
	assert.Equal(t, ErrInvalidRolloutPercent, ff.SetRolloutPercent(FeatureAutoAdvance, 101))
	assert.False(t, ff.IsEnabled("nope", nil))
}
