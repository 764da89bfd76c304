// Package app assembles the service from configuration. Both binaries build
// the same container and differ only in what they run on top of it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/course-progress/config"
	"github.com/alem-hub/course-progress/internal/application/command"
	"github.com/alem-hub/course-progress/internal/application/eventhandler"
	"github.com/alem-hub/course-progress/internal/application/query"
	"github.com/alem-hub/course-progress/internal/domain/enrollment"
	"github.com/alem-hub/course-progress/internal/domain/progress"
	"github.com/alem-hub/course-progress/internal/domain/shared"
	"github.com/alem-hub/course-progress/internal/infrastructure/external/catalog"
	"github.com/alem-hub/course-progress/internal/infrastructure/messaging"
	"github.com/alem-hub/course-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/course-progress/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/course-progress/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/course-progress/internal/interface/http/handlers"
	"github.com/alem-hub/course-progress/pkg/logger"
)

// Ledger is the progress store as the service uses it.
type Ledger interface {
	progress.Repository
	progress.CourseProgressReader
	PurgeEventKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// Bus is an event bus that owns background resources.
type Bus interface {
	shared.EventBus
	Close() error
}

// Container holds the infrastructure of one process.
type Container struct {
	Config *config.Config
	Log    *logger.Logger

	// DB is nil with STORAGE_DRIVER=memory; Cache is nil without Redis.
	DB    *postgres.Connection
	Cache *redis.Cache

	Ledger      Ledger
	Enrollments enrollment.Repository
	Bus         Bus

	// Catalog is nil when no catalog is configured.
	Catalog progress.ModuleCatalog

	Health *handlers.CompositeHealthChecker

	closers []func()
}

// Build connects to every configured backend. On error everything opened so
// far is closed again.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (c *Container, err error) {
	c = &Container{
		Config: cfg,
		Log:    log,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			c.Close()
			c = nil
		}
	}()

	if err := c.buildStorage(ctx); err != nil {
		return nil, err
	}
	if err := c.buildCache(ctx); err != nil {
		return nil, err
	}
	if err := c.buildBus(); err != nil {
		return nil, err
	}
	c.buildCatalog()

	return c, nil
}

func (c *Container) buildStorage(ctx context.Context) error {
	switch c.Config.App.StorageDriver {
	case config.StorageMemory:
		c.Log.Warn("using in-memory storage, data is lost on restart")
		c.Ledger = memory.NewProgressRepository()
		c.Enrollments = memory.NewEnrollmentRepository()
		return nil

	case config.StoragePostgres:
		dbCfg := postgres.DefaultConfig(c.Config.Database.URL)
		dbCfg.MaxConns = c.Config.Database.MaxConns
		dbCfg.MinConns = c.Config.Database.MinConns
		dbCfg.MaxConnLifetime = c.Config.Database.ConnMaxLifetime
		dbCfg.MaxConnIdleTime = c.Config.Database.ConnMaxIdleTime

		c.Log.Info("connecting to database")
		conn, err := postgres.NewConnection(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = conn
		c.closers = append(c.closers, conn.Close)
		c.Health.AddCheck("postgres", handlers.PingCheck(conn))

		c.Ledger = postgres.NewProgressRepository(conn)
		c.Enrollments = postgres.NewEnrollmentRepository(conn)
		return nil

	default:
		return fmt.Errorf("unknown storage driver %q", c.Config.App.StorageDriver)
	}
}

// Migrate applies pending migrations. It is a no-op for in-memory storage.
func (c *Container) Migrate(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	n, err := postgres.NewMigrator(c.DB).Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	c.Log.Info("database schema is up to date", logger.Int("applied", n))
	return nil
}

func (c *Container) buildCache(ctx context.Context) error {
	if !c.Config.Redis.Enabled {
		return nil
	}
	rc := redis.DefaultConfig(c.Config.Redis.URL)
	rc.PoolSize = c.Config.Redis.PoolSize
	rc.MinIdleConns = c.Config.Redis.MinIdleConns
	rc.DialTimeout = c.Config.Redis.DialTimeout
	rc.ReadTimeout = c.Config.Redis.ReadTimeout
	rc.WriteTimeout = c.Config.Redis.WriteTimeout

	c.Log.Info("connecting to Redis")
	cache, err := redis.NewCache(ctx, rc)
	if err != nil {
		// the cache is optional unless the bus depends on it
		if c.Config.App.EventBus == config.EventBusRedis {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		return nil
	}
	c.Cache = cache
	c.closers = append(c.closers, func() { _ = cache.Close() })
	c.Health.AddCheck("redis", handlers.PingCheck(cache))
	return nil
}

func (c *Container) buildBus() error {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = c.Log

	if c.Config.App.EventBus == config.EventBusRedis {
		if c.Cache == nil {
			return errors.New("EVENT_BUS=redis requires a Redis connection")
		}
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(c.Cache.Client()),
			ChannelName:    c.Config.Redis.Channel,
			LocalBusConfig: local,
			Logger:         c.Log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		c.Bus = bus
	} else {
		c.Bus = messaging.NewInMemoryEventBus(local)
	}
	// the bus drains before storage closes
	c.closers = append(c.closers, func() { _ = c.Bus.Close() })
	return nil
}

func (c *Container) buildCatalog() {
	cc := c.Config.Catalog
	if cc.BaseURL == "" {
		c.Log.Info("no catalog configured, callers must pass total_modules")
		return
	}

	clientCfg := catalog.DefaultClientConfig(cc.BaseURL)
	clientCfg.APIKey = cc.APIKey
	if cc.Timeout > 0 {
		clientCfg.Timeout = cc.Timeout
	}
	clientCfg.Logger = c.Log
	client := catalog.NewClient(clientCfg)

	if c.Cache == nil {
		c.Catalog = client
		return
	}
	c.Catalog = catalog.NewCachedCatalog(client, redis.NewModuleCountCache(c.Cache, cc.CacheTTL), c.Log)
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// Handlers are the application use cases bound to one container.
type Handlers struct {
	RecordProgress     *command.RecordProgressHandler
	CreateEnrollment   *command.CreateEnrollmentHandler
	AdvanceEnrollment  *command.AdvanceEnrollmentHandler
	StartEnrollment    *command.StartEnrollmentHandler
	ExpireEnrollment   *command.ExpireEnrollmentHandler
	OverrideEnrollment *command.OverrideEnrollmentHandler

	ComputeCourseProgress *query.ComputeCourseProgressHandler
	GetEnrollment         *query.GetEnrollmentHandler
	ListCourseProgress    *query.ListCourseProgressHandler
}

// NewHandlers wires the command and query handlers.
func (c *Container) NewHandlers() *Handlers {
	tcfg := command.DefaultTransitionConfig()
	tcfg.Logger = c.Log

	rcfg := command.DefaultRecordProgressHandlerConfig()
	rcfg.Logger = c.Log

	return &Handlers{
		RecordProgress:     command.NewRecordProgressHandler(c.Ledger, c.Bus, rcfg),
		CreateEnrollment:   command.NewCreateEnrollmentHandler(c.Enrollments, c.Bus, c.Log),
		AdvanceEnrollment:  command.NewAdvanceEnrollmentHandler(c.Enrollments, c.Ledger, c.Catalog, c.Bus, tcfg),
		StartEnrollment:    command.NewStartEnrollmentHandler(c.Enrollments, c.Bus, tcfg),
		ExpireEnrollment:   command.NewExpireEnrollmentHandler(c.Enrollments, c.Bus, tcfg),
		OverrideEnrollment: command.NewOverrideEnrollmentHandler(c.Enrollments, c.Bus, tcfg),

		ComputeCourseProgress: query.NewComputeCourseProgressHandler(c.Ledger, c.Catalog),
		GetEnrollment:         query.NewGetEnrollmentHandler(c.Enrollments),
		ListCourseProgress:    query.NewListCourseProgressHandler(c.Ledger),
	}
}

// SubscribeAutoAdvance advances enrollments after each ledger write.
func (c *Container) SubscribeAutoAdvance(h *Handlers) error {
	handler := eventhandler.NewOnProgressRecordedHandler(
		h.AdvanceEnrollment,
		c.Config.Features,
		c.Log,
		eventhandler.DefaultProgressRecordedConfig(),
	)
	if err := c.Bus.Subscribe(shared.EventProgressRecorded, handler.Handle); err != nil {
		return fmt.Errorf("failed to subscribe auto-advance: %w", err)
	}
	return nil
}
