// Package server builds the application's dependencies and runs the HTTP
// server together with the background workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/api"
	"github.com/JakeFAU/scrapejobs/internal/clock/system"
	"github.com/JakeFAU/scrapejobs/internal/config"
	"github.com/JakeFAU/scrapejobs/internal/dispatcher"
	autofetcher "github.com/JakeFAU/scrapejobs/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/scrapejobs/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/scrapejobs/internal/fetcher/headless"
	"github.com/JakeFAU/scrapejobs/internal/hash/sha256"
	"github.com/JakeFAU/scrapejobs/internal/headless/detector"
	"github.com/JakeFAU/scrapejobs/internal/id/uuid"
	"github.com/JakeFAU/scrapejobs/internal/logging"
	"github.com/JakeFAU/scrapejobs/internal/metrics"
	"github.com/JakeFAU/scrapejobs/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/scrapejobs/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/scrapejobs/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/scrapejobs/internal/queue/memory"
	redisqueue "github.com/JakeFAU/scrapejobs/internal/queue/redis"
	"github.com/JakeFAU/scrapejobs/internal/runner"
	"github.com/JakeFAU/scrapejobs/internal/scraper"
	gcsstorage "github.com/JakeFAU/scrapejobs/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scrapejobs/internal/storage/local"
	memoryStorage "github.com/JakeFAU/scrapejobs/internal/storage/memory"
	pgstore "github.com/JakeFAU/scrapejobs/internal/storage/postgres"
	"github.com/JakeFAU/scrapejobs/internal/storage/postgres/migrations"
	"github.com/JakeFAU/scrapejobs/internal/telemetry"
	"github.com/JakeFAU/scrapejobs/internal/worker"
)

// Version is stamped into traces; overridden at link time.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	store           scraper.Store
	runner          *runner.Runner
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	memQueue        *queueMemory.Queue
	redisQueue      *redisqueue.Queue
	pgStore         *pgstore.Store
	headless        *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	tracerShutdown  telemetry.Shutdown
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("scraper_backend", cfg.Scraper.Backend),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.store, err = setupStore(ctx, a); err != nil {
		return err
	}
	blobStore, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	fetcher, err := setupFetcher(a)
	if err != nil {
		return err
	}

	clock := system.New()
	idGen := uuid.New()
	tracker := runner.NewTracker()
	opts := []runner.Option{
		runner.WithTracker(tracker),
		runner.WithIDGenerator(idGen),
		runner.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.RateLimit.RPS,
			Burst: a.cfg.RateLimit.Burst,
		})),
	}
	if blobStore != nil {
		opts = append(opts, runner.WithArchive(blobStore, sha256.New()))
	}
	if publisher != nil {
		opts = append(opts, runner.WithPublisher(publisher))
	}
	a.runner = runner.New(a.store, fetcher, clock, runner.Config{
		FetchTimeout:  a.cfg.Scraper.FetchTimeout,
		ArchivePrefix: a.cfg.Storage.Prefix,
		ContentType:   a.cfg.Storage.ContentType,
		Topic:         a.cfg.PubSub.TopicName,
	}, a.logger.Named("runner"), opts...)

	queue, checks, err := setupQueue(a)
	if err != nil {
		return err
	}
	if a.pgStore != nil {
		checks["database"] = a.pgStore.Ping
	}
	workers := make([]*worker.Worker, 0, a.cfg.Jobs.Concurrency)
	for i := range a.cfg.Jobs.Concurrency {
		workers = append(workers, worker.New(i, queue, a.store, a.runner, a.logger.Named("worker")))
	}
	a.dispatch = dispatcher.New(queue, workers, clock)

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(api.Dependencies{
		Store:     a.store,
		Runner:    a.runner,
		Submitter: a.dispatch,
		Canceler:  tracker,
		IDGen:     idGen,
		Clock:     clock,
		Checks:    checks,
	}, api.Options{
		APIKey:         apiKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		AllowRerun:     a.cfg.Jobs.AllowRerun,
	}, a.logger)
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Store returns the job store the application was built with.
func (a *App) Store() scraper.Store {
	return a.store
}

// Runner returns the job runner.
func (a *App) Runner() *runner.Runner {
	return a.runner
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Jobs.Concurrency))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases infrastructure clients and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.redisQueue != nil {
		if err := a.redisQueue.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func setupStore(ctx context.Context, app *App) (scraper.Store, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no database DSN configured, jobs are kept in memory")
		return memoryStorage.NewJobStore(), nil
	}
	if app.cfg.Database.AutoMigrate {
		if err := migrations.Up(app.cfg.Database.DSN, app.logger.Named("migrate")); err != nil {
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
	}
	var err error
	app.pgStore, err = pgstore.NewStore(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	app.logger.Info("postgres job store initialized", zap.Int32("max_conns", app.cfg.Database.MaxConns))
	return app.pgStore, nil
}

func setupStorage(ctx context.Context, app *App) (scraper.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages to GCS", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages to local disk", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil
	case "memory":
		app.logger.Info("archiving pages in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Info("page archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" {
		app.logger.Info("no Pub/Sub topic configured, run notifications disabled")
		return nil, nil
	}
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupFetcher(app *App) (scraper.Fetcher, error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.Scraper.UserAgent,
		Timeout:   app.cfg.Scraper.FetchTimeout,
	})
	if app.cfg.Scraper.Backend == "colly" {
		app.logger.Info("using colly fetcher")
		return probe, nil
	}

	var err error
	app.headless, err = headlessfetcher.New(headlessfetcher.Config{
		MaxParallel:       app.cfg.Headless.MaxParallel,
		UserAgent:         app.cfg.Scraper.UserAgent,
		NavigationTimeout: app.cfg.Headless.NavTimeout,
		SettleDelay:       app.cfg.Headless.SettleDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	if app.cfg.Scraper.Backend == "headless" {
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
		return app.headless, nil
	}
	app.logger.Info("using colly fetcher with headless promotion",
		zap.Int("promotion_threshold", app.cfg.Headless.PromotionThreshold),
	)
	return autofetcher.New(
		probe,
		app.headless,
		detector.NewHeuristic(app.cfg.Headless.PromotionThreshold),
		app.logger.Named("fetcher"),
	), nil
}

func setupQueue(app *App) (scraper.Queue, map[string]api.ReadinessCheck, error) {
	checks := map[string]api.ReadinessCheck{}
	if app.cfg.Queue.Backend == "redis" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     app.cfg.Queue.Redis.Addr,
			Password: app.cfg.Queue.Redis.Password,
			DB:       app.cfg.Queue.Redis.DB,
		})
		app.redisQueue = redisqueue.New(client, redisqueue.Config{
			Key:         app.cfg.Queue.Redis.Key,
			PollTimeout: app.cfg.Queue.Redis.PollTimeout,
		})
		checks["queue"] = app.redisQueue.Ping
		app.logger.Info("using redis job queue",
			zap.String("addr", app.cfg.Queue.Redis.Addr),
			zap.String("key", app.cfg.Queue.Redis.Key),
		)
		return app.redisQueue, checks, nil
	}
	app.memQueue = queueMemory.NewQueue(app.cfg.Jobs.QueueDepth)
	app.logger.Info("using in-memory job queue", zap.Int("depth", app.cfg.Jobs.QueueDepth))
	return app.memQueue, checks, nil
}
