// Package app initializes and holds the long-lived services behind the CLI
// commands and acts as their dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/api"
	"github.com/JakeFAU/iati-climate-dataset/internal/clock/system"
	"github.com/JakeFAU/iati-climate-dataset/internal/config"
	"github.com/JakeFAU/iati-climate-dataset/internal/datastore"
	collyfetcher "github.com/JakeFAU/iati-climate-dataset/internal/fetcher/colly"
	"github.com/JakeFAU/iati-climate-dataset/internal/hash/sha256"
	"github.com/JakeFAU/iati-climate-dataset/internal/id/uuid"
	"github.com/JakeFAU/iati-climate-dataset/internal/logging"
	"github.com/JakeFAU/iati-climate-dataset/internal/metrics"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
	"github.com/JakeFAU/iati-climate-dataset/internal/policy/ratelimit"
	"github.com/JakeFAU/iati-climate-dataset/internal/progress"
	progresssinks "github.com/JakeFAU/iati-climate-dataset/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/iati-climate-dataset/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/iati-climate-dataset/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/iati-climate-dataset/internal/storage/gcs"
	localstorage "github.com/JakeFAU/iati-climate-dataset/internal/storage/local"
	memorystorage "github.com/JakeFAU/iati-climate-dataset/internal/storage/memory"
	pgstore "github.com/JakeFAU/iati-climate-dataset/internal/storage/postgres"
	s3store "github.com/JakeFAU/iati-climate-dataset/internal/storage/s3"
)

const shutdownTimeout = 10 * time.Second

// Options carries process-level wiring that does not belong in the config file.
type Options struct {
	// Logger overrides the logger built from cfg.Logging.
	Logger *zap.Logger
	// Status receives the build summary lines; nil discards them.
	Status io.Writer
	// Console receives the progress bar when progress.console is set; nil
	// disables the bar.
	Console io.Writer
	// Registry receives the progress collectors; nil uses the default registry.
	Registry *prometheus.Registry
}

// closer is satisfied by the optional publisher and run store clients.
type closer interface {
	Close() error
}

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	runner      *pipeline.Runner
	apiServer   *api.Server
	progressHub *progress.Hub
	blobStore   pipeline.BlobStore
	runStore    pipeline.RunStore
	publisher   pipeline.Publisher
	gatherer    prometheus.Gatherer

	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	ownsLogger   bool
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Runner returns the dataset pipeline.
func (a *App) Runner() *pipeline.Runner {
	return a.runner
}

// BlobStore returns the configured output backend.
func (a *App) BlobStore() pipeline.BlobStore {
	return a.blobStore
}

// RunStore returns the run ledger.
func (a *App) RunStore() pipeline.RunStore {
	return a.runStore
}

// Publisher returns the dataset-ready notification publisher.
func (a *App) Publisher() pipeline.Publisher {
	return a.publisher
}

// Handler returns the HTTP API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// BuildDataset runs the pipeline once for publisherRef.
func (a *App) BuildDataset(ctx context.Context, publisherRef string) (pipeline.Run, error) {
	run, err := a.runner.Run(ctx, publisherRef)
	if err != nil {
		return run, fmt.Errorf("build dataset for %s: %w", publisherRef, err)
	}
	return run, nil
}

// Serve starts the HTTP API and blocks until ctx is canceled or the listener
// fails. It does not close the App.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	default:
		return nil
	}
}

// Close flushes progress, pushes metrics, and releases every client.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		if dropped := a.progressHub.Dropped(); dropped > 0 {
			a.logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}
	if err := metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.JobName, a.gatherer); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if a.ownsLogger {
		if err := logging.Sync(a.logger); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) closeInfrastructure() {
	if c, ok := a.publisher.(closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		if err := a.runStore.Close(); err != nil {
			a.logger.Warn("run store close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies from cfg. On error every
// client opened so far is closed again.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	app := &App{cfg: cfg, logger: opts.Logger}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		app.ownsLogger = true
	}
	for _, warning := range cfg.Warnings() {
		app.logger.Warn(warning)
	}

	app.logger.Info("building application dependencies",
		zap.String("output_backend", cfg.Output.Backend),
		zap.Bool("run_ledger_postgres", cfg.Database.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
	)

	if err := app.build(ctx, opts); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	source, err := setupDatastore(a)
	if err != nil {
		return err
	}
	if a.blobStore, err = setupStorage(ctx, a); err != nil {
		return err
	}
	if a.runStore, err = setupRunStore(ctx, a); err != nil {
		return err
	}
	if a.publisher, err = setupPublisher(ctx, a); err != nil {
		return err
	}
	if err := setupProgress(a, opts); err != nil {
		return err
	}

	a.runner = pipeline.NewRunner(
		source,
		a.blobStore,
		a.runStore,
		a.publisher,
		sha256.New(),
		system.New(),
		uuid.New(),
		a.progressHub,
		opts.Status,
		pipeline.RunnerConfig{
			ClimateTag:  a.cfg.Dataset.ClimateTag,
			Seed:        a.cfg.Dataset.Seed,
			BlobPrefix:  a.cfg.Output.Prefix,
			ContentType: a.cfg.Output.ContentType,
			Publish:     true,
		},
		a.logger.Named("runner"),
	)

	a.apiServer = api.NewServer(a.runner, a.runStore, api.Config{
		AuthEnabled: a.cfg.Auth.Enabled,
		APIKey:      a.cfg.Auth.APIKey,
	}, a.logger.Named("api"))
	return nil
}

func setupDatastore(app *App) (*datastore.Client, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.Datastore.UserAgent,
		Timeout:   app.cfg.Datastore.Timeout(),
	})
	app.logger.Debug("using colly fetcher", zap.String("user_agent", app.cfg.Datastore.UserAgent))
	var limiter *ratelimit.Limiter
	if rps := app.cfg.Datastore.RequestsPerSecond; rps > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: rps, Burst: app.cfg.Datastore.Burst})
		app.logger.Info("datastore request pacing enabled",
			zap.Float64("requests_per_second", rps),
			zap.Int("burst", app.cfg.Datastore.Burst),
		)
	}
	client, err := datastore.NewClient(datastore.Config{
		BaseURL:         app.cfg.Datastore.BaseURL,
		SubscriptionKey: app.cfg.Datastore.SubscriptionKey,
		PageSize:        app.cfg.Datastore.PageSize,
	}, ratelimit.WrapFetcher(fetcher, limiter), app.logger.Named("datastore"))
	if err != nil {
		return nil, fmt.Errorf("datastore client init failed: %w", err)
	}
	return client, nil
}

func setupStorage(ctx context.Context, app *App) (pipeline.BlobStore, error) {
	out := app.cfg.Output
	switch out.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", out.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: out.GCS.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendS3:
		app.logger.Info("using S3 storage backend",
			zap.String("bucket", out.S3.Bucket),
			zap.String("endpoint", out.S3.Endpoint),
		)
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:   out.S3.Bucket,
			Region:   out.S3.Region,
			Endpoint: out.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("using local storage backend", zap.String("path", out.Local.BaseDir))
		store, err := localstorage.New(localstorage.Config{
			BaseDir:    out.Local.BaseDir,
			CreateDirs: out.Local.CreateDirs,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	}
}

func setupRunStore(ctx context.Context, app *App) (pipeline.RunStore, error) {
	db := app.cfg.Database
	if db.DSN == "" {
		app.logger.Info("no database DSN configured, keeping the run ledger in memory")
		return memorystorage.NewRunStore(), nil
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      db.DSN,
		Table:    db.Table,
		MaxConns: db.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("run store migrate failed: %w", err)
	}
	app.logger.Info("run store initialized", zap.String("table", db.Table))
	return store, nil
}

func setupPublisher(ctx context.Context, app *App) (pipeline.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(client, app.cfg.PubSub.TopicName), nil
}

func setupProgress(app *App, opts Options) error {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	app.gatherer = prometheus.DefaultGatherer
	if opts.Registry != nil {
		registerer = opts.Registry
		app.gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, opts.Registry}
	}
	promSink, err := progresssinks.NewPrometheusSink(registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Progress.Log {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	if app.cfg.Progress.Console && opts.Console != nil {
		sinkList = append(sinkList, progresssinks.NewConsoleSink(opts.Console))
		app.logger.Debug("added progress console sink")
	}
	app.progressHub = progress.NewHub(progress.Config{
		Logger: app.logger.Named("progress_hub"),
	}, sinkList...)
	app.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}
