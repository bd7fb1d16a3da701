package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcphub-dev/mcphub/internal/cache"
	"github.com/mcphub-dev/mcphub/internal/config"
	"github.com/mcphub-dev/mcphub/internal/crawler"
	"github.com/mcphub-dev/mcphub/internal/db"
	"github.com/mcphub-dev/mcphub/internal/health"
	"github.com/mcphub-dev/mcphub/internal/httpapi"
	"github.com/mcphub-dev/mcphub/internal/logging"
	"github.com/mcphub-dev/mcphub/internal/quota"
	"github.com/mcphub-dev/mcphub/internal/registry"
	"github.com/mcphub-dev/mcphub/internal/scorer"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// shutdownGrace bounds how long in-flight requests may drain on stop.
const shutdownGrace = 10 * time.Second

// runtime bundles the components every entry point needs.
type runtime struct {
	cfg     *config.Config
	conn    *gorm.DB
	store   *registry.Store
	crawler *crawler.Crawler
	prober  *health.Prober
	updater *scorer.Updater
}

// bootstrap loads config, configures logging, opens the database, and
// migrates the schema.
func bootstrap(configPath string) (*runtime, error) {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return nil, errLoad
	}
	logging.Setup(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}

	store := registry.NewStore(conn)
	return &runtime{
		cfg:     cfg,
		conn:    conn,
		store:   store,
		crawler: crawler.New(store, cfg.GitHub),
		prober:  health.NewProber(store, cfg.Health.Concurrency, cfg.HealthTimeout()),
		updater: scorer.NewUpdater(store, cfg.Scoring.Concurrency),
	}, nil
}

// Migrate opens the database and applies the schema, then exits.
func Migrate(_ context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Logging)
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunCrawl performs one discovery crawl and exits.
func RunCrawl(ctx context.Context, configPath string) error {
	rt, errBoot := bootstrap(configPath)
	if errBoot != nil {
		return errBoot
	}
	_, errRun := rt.crawler.Run(ctx)
	return errRun
}

// RunHealthCheck performs one probe cycle and exits.
func RunHealthCheck(ctx context.Context, configPath string) error {
	rt, errBoot := bootstrap(configPath)
	if errBoot != nil {
		return errBoot
	}
	_, errRun := rt.prober.Run(ctx)
	return errRun
}

// RunScore performs one scoring run and exits.
func RunScore(ctx context.Context, configPath string) error {
	rt, errBoot := bootstrap(configPath)
	if errBoot != nil {
		return errBoot
	}
	_, errRun := rt.updater.Run(ctx)
	return errRun
}

// RunServer boots the HTTP API with scheduled background jobs and blocks
// until the context is cancelled or a termination signal arrives.
func RunServer(ctx context.Context, configPath string) error {
	rt, errBoot := bootstrap(configPath)
	if errBoot != nil {
		return errBoot
	}

	respCache := cache.New(rt.cfg.Redis, rt.cfg.RedisTTL())
	defer func() {
		_ = respCache.Close()
	}()

	gate := quota.NewGate(rt.conn)
	router := httpapi.NewRouter(httpapi.Deps{
		Store:    rt.store,
		Gate:     gate,
		Cache:    respCache,
		AdminCfg: rt.cfg.Admin,
		Jobs: httpapi.Jobs{
			Crawl:       rt.crawler.Run,
			HealthCheck: rt.prober.Run,
			Score:       rt.updater.Run,
		},
	})

	scheduler, errSched := startScheduler(ctx, rt)
	if errSched != nil {
		return errSched
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	srv := &http.Server{
		Addr:    rt.cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", rt.cfg.Server.Addr)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
			return
		}
		errCh <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	case sig := <-stop:
		log.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return <-errCh
}

// startScheduler registers the configured cron jobs. Expressions are
// standard 5-field and evaluated in UTC; empty expressions disable their
// job. Returns nil when nothing is scheduled.
func startScheduler(ctx context.Context, rt *runtime) (*cron.Cron, error) {
	sched := rt.cfg.Schedule
	if sched.CrawlCron == "" && sched.HealthCron == "" && sched.ScoreCron == "" {
		return nil, nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	add := func(expr, name string, run func(context.Context) error) error {
		if expr == "" {
			return nil
		}
		_, errAdd := c.AddFunc(expr, func() {
			if errRun := run(ctx); errRun != nil {
				log.WithError(errRun).Errorf("scheduled %s failed", name)
			}
		})
		if errAdd != nil {
			return fmt.Errorf("schedule %s: %w", name, errAdd)
		}
		return nil
	}

	if errAdd := add(sched.CrawlCron, "crawl", func(ctx context.Context) error {
		_, errRun := rt.crawler.Run(ctx)
		return errRun
	}); errAdd != nil {
		return nil, errAdd
	}
	if errAdd := add(sched.HealthCron, "health check", func(ctx context.Context) error {
		_, errRun := rt.prober.Run(ctx)
		return errRun
	}); errAdd != nil {
		return nil, errAdd
	}
	if errAdd := add(sched.ScoreCron, "scoring", func(ctx context.Context) error {
		_, errRun := rt.updater.Run(ctx)
		return errRun
	}); errAdd != nil {
		return nil, errAdd
	}

	c.Start()
	return c, nil
}
