// Package main is the entry point of the LDAP sync worker. The worker runs
// scheduled and on-demand directory syncs and serves their control API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/api"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/app"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/config"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/logger"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/tlsutil"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/tracing"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/health"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/metrics"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/middleware"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/server"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/store"
)

const (
	serviceName = "ldapsync-worker"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	boot := logger.New()

	cfg, err := config.Load(serviceName)
	if err != nil {
		boot.Fatal("Failed to load configuration", zap.Error(err))
	}

	log := logger.WithService(logger.NewWithLevel(cfg.Environment, cfg.LogLevel), serviceName)
	defer func() { _ = log.Sync() }()

	log.Info("Starting LDAP sync worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)
	cfg.LogSecurityWarnings(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Fatal("Worker stopped with error", zap.Error(err))
	}
	log.Info("Worker exited")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracer, err := tracing.Init(ctx, tracing.FromAppConfig(cfg), log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	}

	a, err := app.Connect(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	schemaVersion, err := store.LatestVersion()
	if err != nil {
		_ = a.Close()
		return err
	}

	scheduler := a.Scheduler()
	runCtx, cancelRuns := context.WithCancel(ctx)
	if cfg.SchedulerEnabled {
		if err := scheduler.Start(runCtx); err != nil {
			log.Error("Failed to load sync schedules", zap.Error(err))
		}
	} else {
		scheduler.Bind(runCtx)
		log.Info("Scheduled syncs disabled")
	}

	checks := health.NewService(Version, log)
	checks.Register(health.NewPingChecker("database", true, 500*time.Millisecond, a.DB.Ping))
	checks.Register(health.NewPingChecker("redis", true, 200*time.Millisecond, a.Redis.Ping))
	checks.Register(health.NewSchemaChecker(schemaVersion, func(ctx context.Context) (int64, error) {
		return store.MigrationVersion(ctx, a.DB)
	}))
	checks.Register(health.NewFuncChecker("directories", false, func(context.Context) health.Component {
		comp := health.Component{Status: health.StatusUp, CheckedAt: time.Now().UTC().Format(time.RFC3339)}
		if open := a.Breakers.Open(); len(open) > 0 {
			comp.Status = health.StatusDegraded
			comp.Details = "unreachable: " + strings.Join(open, ", ")
		}
		return comp
	}))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestID(), middleware.Logging(log), middleware.Recovery(log))
	router.Use(middleware.SecurityHeaders(cfg.TLS.Enabled))
	router.Use(metrics.Middleware())
	router.GET("/metrics", metrics.Handler())
	checks.RegisterRoutes(router)
	runLimit := middleware.TenantRateLimit(a.Redis.Client, middleware.RateLimitConfig{
		Requests: cfg.RunRateLimit,
		Window:   cfg.RunRateWindow,
	}, log)
	api.NewHandler(scheduler, a.Engine, a.Progress, a.Store, cfg.DefaultLanguage, log).RegisterRoutes(router, runLimit)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	graceful := server.New(server.Config{
		Server:          httpServer,
		Logger:          log,
		ShutdownTimeout: 30 * time.Second,
		Listen:          tlsutil.Listener(cfg.TLS, log),
	})
	// Runs drain before the stores they write to are closed
	graceful.AddFunc("scheduler", func(context.Context) error {
		cancelRuns()
		scheduler.Stop()
		return nil
	})
	graceful.AddFunc("events", a.CloseEvents)
	graceful.Add(server.CloseRedis(a.Redis))
	graceful.Add(server.CloseDB(a.DB))
	if shutdownTracer != nil {
		graceful.Add(server.CloseTracer(shutdownTracer))
	}

	return graceful.ListenAndServe(ctx)
}
