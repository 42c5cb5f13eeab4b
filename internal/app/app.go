// Package app wires the sync engine to its stores; both the worker and the
// CLI build on it
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/config"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/database"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/events"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/resilience"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/tracing"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/directory"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/progress"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/store"
)

// EventsChannel is the Redis channel domain events are forwarded to
const EventsChannel = "ldapsync:events"

// App holds the connected components
type App struct {
	Config    *config.Config
	DB        *database.PostgresDB
	Redis     *database.RedisClient
	Store     *store.Store
	Directory *directory.Factory
	Breakers  *resilience.Registry
	Progress  *progress.RedisPublisher
	Bus       *events.MemoryBus
	Engine    *ldapsync.Engine

	forward *events.Subscription
	logger  *zap.Logger
}

// Connect opens PostgreSQL and Redis. With migrate set the schema is
// brought up to date first.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger, migrate bool) (*App, error) {
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PostgresTLSConfig{
		SSLMode:     cfg.DatabaseSSLMode,
		SSLRootCert: cfg.DatabaseSSLRootCert,
		SSLCert:     cfg.DatabaseSSLCert,
		SSLKey:      cfg.DatabaseSSLKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if migrate {
		if err := store.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	breakers := resilience.NewRegistry(resilience.Config{
		Threshold:    cfg.LDAPBreakerThreshold,
		ResetTimeout: cfg.LDAPBreakerReset,
	}, log)
	factory, err := directory.NewFactory(cfg.SettingsSecret, log,
		directory.WithPageSize(cfg.LDAPPageSize),
		directory.WithBreakers(breakers))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	redis, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	a := &App{
		Config:    cfg,
		DB:        db,
		Redis:     redis,
		Store:     store.New(db, log),
		Directory: factory,
		Breakers:  breakers,
		Progress:  progress.NewRedisPublisher(redis.Client, cfg.ProgressTTL, log),
		Bus:       events.NewMemoryBus(),
		logger:    log,
	}
	a.Bus.SetErrorHandler(func(err error) {
		log.Warn("Event handler failed", zap.Error(err))
	})
	a.forward = events.ForwardToRedis(a.Bus, redis.Client, EventsChannel)

	a.Engine = ldapsync.NewEngine(ldapsync.Deps{
		Directory: a.Directory,
		Store:     a.Store,
		Settings:  a.Store,
		Photos:    a.Store,
		Principal: a.Store,
		Publisher: a.Progress,
		Events:    a.Bus,
		Tracer:    tracing.Tracer(),
		Logger:    log,
	})
	return a, nil
}

// Scheduler creates a scheduler over the app's engine and schedule store
func (a *App) Scheduler() *ldapsync.Scheduler {
	s := ldapsync.NewScheduler(a.Engine, a.Store, a.Config.SchedulerRefreshInterval, a.logger)
	s.SetRunTimeout(a.Config.RunTimeout)
	return s
}

// CloseEvents drains pending event deliveries
func (a *App) CloseEvents(context.Context) error {
	a.Bus.Unsubscribe(a.forward)
	return a.Bus.Close()
}

// Close releases every connection
func (a *App) Close() error {
	_ = a.CloseEvents(context.Background())
	_ = a.Redis.Close()
	return a.DB.Close()
}
