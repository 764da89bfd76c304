package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/application/command"
	"github.com/alem-hub/course-progress/internal/application/query"
	"github.com/alem-hub/course-progress/pkg/logger"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("EVENT_BUS", "memory")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("REDIS_URL", "")
	t.Setenv("CATALOG_BASE_URL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestBuild_MemoryContainer(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, memoryConfig(t), logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Cache)
	assert.Nil(t, c.Catalog)
	require.NoError(t, c.Migrate(ctx))
	assert.True(t, c.Health.Check(ctx).Ready)

	h := c.NewHandlers()
	require.NoError(t, c.SubscribeAutoAdvance(h))

	_, err = h.CreateEnrollment.Handle(ctx, command.CreateEnrollmentCommand{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)

	dto, err := h.GetEnrollment.Handle(ctx, query.GetEnrollmentQuery{TenantID: "t1", UserID: "u1", CourseID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "assigned", dto.Status)
}

func TestBuild_RejectsInvalidWiring(t *testing.T) {
	ctx := context.Background()

	cfg := memoryConfig(t)
	cfg.App.StorageDriver = "sqlite"
	_, err := Build(ctx, cfg, logger.Nop())
	assert.ErrorContains(t, err, "unknown storage driver")

	cfg = memoryConfig(t)
	cfg.App.EventBus = config.EventBusRedis
	cfg.Redis.Enabled = false
	_, err = Build(ctx, cfg, logger.Nop())
	assert.ErrorContains(t, err, "requires a Redis connection")
}

func TestNewScheduler_RegistersJobs(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, memoryConfig(t), logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	s, err := c.NewScheduler(c.NewHandlers())
	require.NoError(t, err)

	for _, name := range []string{"expire_overdue_enrollments", "purge_idempotency_keys"} {
		info, err := s.GetJobInfo(name)
		require.NoError(t, err, name)
		assert.True(t, info.Enabled, name)
	}

	_, err = s.RunNow(ctx, "expire_overdue_enrollments")
	assert.NoError(t, err)
	_, err = s.RunNow(ctx, "purge_idempotency_keys")
	assert.NoError(t, err)
}

func TestNewLogger_DebugOverridesLevel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.App.Debug = true
	cfg.App.LogFormat = "json"
	assert.NotNil(t, NewLogger(cfg))
}

func TestNewScheduler_PurgeCron(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Scheduler.KeyPurgeCron = "30 3 * * *"
	c, err := Build(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	s, err := c.NewScheduler(c.NewHandlers())
	require.NoError(t, err)
	info, err := s.GetJobInfo("purge_idempotency_keys")
	require.NoError(t, err)
	assert.Equal(t, 3, info.NextRun.UTC().Hour())
	assert.Equal(t, 30, info.NextRun.UTC().Minute())

	cfg.Scheduler.KeyPurgeCron = "every day"
	_, err = c.NewScheduler(c.NewHandlers())
	assert.ErrorContains(t, err, "SCHEDULER_KEY_PURGE_CRON")
}

func TestNewLogger_Off(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.App.Debug = false
	cfg.App.LogLevel = "OFF"
	log := NewLogger(cfg)
	require.NotNil(t, log)
	log.Error("discarded")
	assert.NoError(t, log.Sync())
}
