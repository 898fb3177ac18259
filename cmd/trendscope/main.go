// Command trendscope is the social-trend harvester: a one-shot runner for a
// single platform and a long-lived worker combining the scheduler, the admin
// API and the retry-queue drain loop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trendscope/trendscope/internal/adapter"
	"github.com/trendscope/trendscope/internal/api"
	"github.com/trendscope/trendscope/internal/browser"
	"github.com/trendscope/trendscope/internal/config"
	"github.com/trendscope/trendscope/internal/enrich"
	"github.com/trendscope/trendscope/internal/errkind"
	"github.com/trendscope/trendscope/internal/etl"
	"github.com/trendscope/trendscope/internal/obs"
	"github.com/trendscope/trendscope/internal/proxy"
	"github.com/trendscope/trendscope/internal/queue"
	"github.com/trendscope/trendscope/internal/sched"
	"github.com/trendscope/trendscope/internal/snapshot"
	"github.com/trendscope/trendscope/internal/store"
)

const (
	exitRuntime = 1
	exitConfig  = 2
	exitNoProxy = 3
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "trendscope",
		Usage: "multi-platform social trend harvester",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "harvest one source, once by default",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source",
						Aliases:  []string{"platform"},
						Usage:    "source to harvest (tiktok, instagram, linkedin, facebook, youtube, x)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "once",
						Usage: "exit after a single pass instead of repeating on the interval",
						Value: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "override the discovery item limit",
					},
					&cli.BoolFlag{
						Name:  "headless",
						Usage: "override headless browsing",
					},
					&cli.Float64Flag{
						Name:  "interval",
						Usage: "override the run interval in hours (0.5-24)",
					},
				},
				Action: runSource,
			},
			{
				Name:  "scheduler",
				Usage: "run only the interval scheduler loop",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  "interval",
						Usage: "override the default run interval in hours (0.5-24)",
					},
				},
				Action: runScheduler,
			},
			{
				Name:   "worker",
				Usage:  "run the scheduler, admin API and retry-queue drain loop",
				Action: runWorker,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntime)
	}
}

// deps is the shared wiring for all commands.
type deps struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       store.Store
	pool        *proxy.Pool
	queue       *queue.Queue // nil without Redis
	redis       *redis.Client
	runner      *sched.Runner
	snapshotter *snapshot.Snapshotter
}

func (d *deps) close() {
	if d.redis != nil {
		d.redis.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.logger != nil {
		d.logger.Sync()
	}
}

// overrides are per-invocation flag values layered over the environment
// config. Nil fields leave the env value in place.
type overrides struct {
	limit    *int
	headless *bool
	interval *float64
}

func overridesFrom(c *cli.Context) overrides {
	var ov overrides
	if c.IsSet("limit") {
		v := c.Int("limit")
		ov.limit = &v
	}
	if c.IsSet("headless") {
		v := c.Bool("headless")
		ov.headless = &v
	}
	if c.IsSet("interval") {
		v := c.Float64("interval")
		ov.interval = &v
	}
	return ov
}

func (o overrides) apply(cfg *config.Config) error {
	if o.limit != nil {
		if *o.limit < 1 {
			return errkind.New(errkind.Config, "--limit must be at least 1")
		}
		cfg.DiscoveryLimit = *o.limit
	}
	if o.headless != nil {
		cfg.Headless = *o.headless
	}
	if o.interval != nil {
		if *o.interval < 0.5 || *o.interval > 24 {
			return errkind.New(errkind.Config, "--interval must be between 0.5 and 24 hours")
		}
		cfg.FrequencyHours = *o.interval
	}
	return nil
}

func setup(ctx context.Context, ov overrides) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfig)
	}
	if err := ov.apply(cfg); err != nil {
		return nil, cli.Exit(err.Error(), exitConfig)
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		JSON:     cfg.JSONLogging,
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfig)
	}

	d := &deps{cfg: cfg, logger: logger}

	entries, err := cfg.ProxyEntries()
	if err != nil {
		d.close()
		if cfg.RequireProxies {
			return nil, cli.Exit(err.Error(), exitNoProxy)
		}
		return nil, cli.Exit(err.Error(), exitConfig)
	}
	d.pool = proxy.NewPool(entries, cfg.PoolOptions(), logger.Named("proxy"))

	if cfg.DBDSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DBDSN)
		if err != nil {
			d.close()
			return nil, cli.Exit(err.Error(), exitRuntime)
		}
		d.store = pg
	} else {
		logger.Warn("DB_DSN not set, using in-memory store")
		d.store = store.NewMemoryStore()
	}

	if err := d.store.EnsureSources(ctx, store.AllPlatforms()); err != nil {
		d.close()
		return nil, cli.Exit(err.Error(), exitRuntime)
	}

	factory, err := browser.OpenDriver(cfg.BrowserDriver)
	if err != nil {
		d.close()
		return nil, cli.Exit(err.Error(), exitConfig)
	}

	if cfg.RedisAddr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		qopts := queue.DefaultOptions()
		qopts.DrainInterval = cfg.QueueDrainInterval
		qopts.MaxAttempts = cfg.QueueMaxAttempts
		d.queue = queue.New(d.redis, qopts, logger.Named("queue"))
	} else {
		logger.Warn("REDIS_ADDR not set, retry queue disabled")
	}

	analyzer := enrich.NewAnalyzer(0.5)
	harvester := adapter.NewHarvester(factory, d.pool, analyzer, adapter.HarvestConfig{
		DiscoveryLimit:      cfg.DiscoveryLimit,
		MinDiscoveryItems:   cfg.MinDiscoveryItems,
		MaxDiscoveryRetries: cfg.MaxDiscoveryRetry,
		SampleLimit:         cfg.SampleLimit,
		FanOut:              cfg.EnrichFanOut,
		Headless:            cfg.Headless,
		Locale:              cfg.Locale,
		Timezone:            cfg.Timezone,
		UserAgent:           cfg.UserAgent,
	}, logger.Named("harvest"))

	var sink etl.RetrySink
	if d.queue != nil {
		sink = d.queue
	}
	pipeline := etl.NewPipeline(d.store, sink, etl.Options{
		Strategy:  etl.Strategy(cfg.DedupeStrategy),
		BatchSize: cfg.BatchSize,
		DBTimeout: cfg.DBTimeout,
	}, logger.Named("etl"))

	d.snapshotter = snapshot.New(d.store, snapshot.Options{
		DecayRateWeekly: cfg.DecayRateWeekly,
		InactiveDays:    cfg.InactiveDaysThreshold,
		ExpirationDays:  cfg.ExpirationDaysThreshold,
		ArchiveEnabled:  cfg.ArchiveEnabled,
	}, logger.Named("snapshot"))

	d.runner = sched.NewRunner(harvester, adapter.All(), pipeline, d.snapshotter,
		d.store, cfg.FrequencyHours, logger.Named("runner"))
	return d, nil
}

func runSource(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx, overridesFrom(c))
	if err != nil {
		return err
	}
	defer d.close()

	platform := store.Platform(c.String("source"))
	if !store.ValidPlatform(platform) {
		return cli.Exit(fmt.Sprintf("unknown source %q", platform), exitConfig)
	}

	for {
		report, err := d.runner.Run(ctx, platform)
		if err != nil {
			if errkind.IsKind(err, errkind.Config) {
				return cli.Exit(err.Error(), exitConfig)
			}
			return cli.Exit(err.Error(), exitRuntime)
		}

		d.logger.Info("run complete",
			zap.String("source", string(platform)),
			zap.Int("scraped", report.Scraped),
			zap.Int("uploaded", report.Uploaded),
			zap.Int("invalid", report.Invalid),
			zap.Int("versions", report.Versions))

		if c.Bool("once") {
			return nil
		}
		wait := time.Duration(d.cfg.FrequencyHours * float64(time.Hour))
		d.logger.Info("sleeping until next pass", zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func runScheduler(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx, overridesFrom(c))
	if err != nil {
		return err
	}
	defer d.close()

	scheduler := sched.NewScheduler(d.store, d.runner, sched.SchedulerOptions{
		Tick:                  d.cfg.SchedulerTick,
		ReloadInterval:        d.cfg.WorkerReloadInterval,
		DefaultFrequencyHours: d.cfg.FrequencyHours,
	}, d.logger.Named("sched"))

	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err.Error(), exitRuntime)
	}
	d.logger.Info("scheduler stopped")
	return nil
}

func runWorker(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx, overrides{})
	if err != nil {
		return err
	}
	defer d.close()

	scheduler := sched.NewScheduler(d.store, d.runner, sched.SchedulerOptions{
		Tick:                  d.cfg.SchedulerTick,
		ReloadInterval:        d.cfg.WorkerReloadInterval,
		DefaultFrequencyHours: d.cfg.FrequencyHours,
	}, d.logger.Named("sched"))

	var depth func(ctx context.Context) (int64, error)
	if d.queue != nil {
		depth = d.queue.Depth
	}
	server := api.NewServer(d.store, d.pool, scheduler.Running, depth, d.logger.Named("api"))

	httpSrv := &http.Server{
		Addr:              d.cfg.AdminAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.cfg.WorkerEnabled {
		g.Go(func() error { return scheduler.Run(gctx) })
	} else {
		d.logger.Warn("WORKER_ENABLED is false, scheduler not started")
	}

	g.Go(func() error {
		server.Hub().Run(gctx)
		return nil
	})

	if d.queue != nil {
		g.Go(func() error {
			d.queue.Run(gctx, d.retryHandler())
			return nil
		})
	}

	g.Go(func() error {
		d.logger.Info("admin API listening", zap.String("addr", d.cfg.AdminAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return cli.Exit(err.Error(), exitRuntime)
	}
	d.logger.Info("worker stopped")
	return nil
}

// retryHandler replays queued records against the store.
func (d *deps) retryHandler() queue.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var item struct {
			RunVersionID string              `json:"run_version_id"`
			Record       adapter.TrendRecord `json:"record"`
		}
		if err := json.Unmarshal(payload, &item); err != nil {
			return errkind.Wrap(errkind.Data, err, "decode queued record")
		}
		trend := &store.Trend{
			Platform:        item.Record.Platform,
			Topic:           item.Record.Topic,
			NormalizedTopic: etl.NormalizeTopic(item.Record.Topic),
			URL:             item.Record.URL,
			LastSeenAt:      item.Record.ScrapedAt,
			Metadata:        map[string]string{"run_version_id": item.RunVersionID},
		}
		return d.store.UpsertTrend(ctx, trend)
	}
}
