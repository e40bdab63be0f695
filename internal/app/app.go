// Package app initializes and holds long-lived application services, acting
// as the dependency injection container shared by the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/docket-pipeline/internal/api"
	"github.com/JakeFAU/docket-pipeline/internal/attachment"
	"github.com/JakeFAU/docket-pipeline/internal/clock/system"
	"github.com/JakeFAU/docket-pipeline/internal/config"
	"github.com/JakeFAU/docket-pipeline/internal/dispatcher"
	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/enrich"
	"github.com/JakeFAU/docket-pipeline/internal/enrich/openai"
	"github.com/JakeFAU/docket-pipeline/internal/fetch"
	"github.com/JakeFAU/docket-pipeline/internal/id/uuid"
	"github.com/JakeFAU/docket-pipeline/internal/intake"
	"github.com/JakeFAU/docket-pipeline/internal/metrics"
	"github.com/JakeFAU/docket-pipeline/internal/policy/ratelimit"
	"github.com/JakeFAU/docket-pipeline/internal/processor"
	pubsubpublisher "github.com/JakeFAU/docket-pipeline/internal/publisher/pubsub"
	"github.com/JakeFAU/docket-pipeline/internal/storage"
	"github.com/JakeFAU/docket-pipeline/internal/storage/gcs"
	"github.com/JakeFAU/docket-pipeline/internal/storage/local"
	"github.com/JakeFAU/docket-pipeline/internal/storage/memory"
	"github.com/JakeFAU/docket-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/docket-pipeline/internal/storage/s3"
	"github.com/JakeFAU/docket-pipeline/internal/transform"
)

// Option customizes how New reaches external services.
type Option func(*options)

type options struct {
	gcs    []option.ClientOption
	pubsub []option.ClientOption
	clock  docket.Clock
}

// WithGCSOptions passes client options to the GCS client.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcs = append(o.gcs, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsub = append(o.pubsub, opts...) }
}

// WithClock replaces the system clock.
func WithClock(c docket.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App holds the shared, long-lived services.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Objects     *storage.Client
	Registry    *transform.Registry
	Stager      *intake.Stager
	Coordinator *processor.Coordinator
	Records     *memory.RecordStore
	Scheduler   *dispatcher.Scheduler
	Server      *api.Server

	closers []func() error
}

// New builds every service from cfg. It fails fast if a configured backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()
	a := &App{Config: cfg, Logger: logger}
	logger.Info("initializing application services", zap.String("storage_backend", cfg.Storage.Backend))

	store, err := a.objectStore(ctx, o)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Objects = storage.NewClient(store,
		storage.WithReadAttempts(cfg.Storage.ReadAttempts),
		storage.WithLogger(logger),
	)

	fetcher := fetch.New(fetch.Config{
		Timeout:        cfg.FetchTimeout(),
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		BackoffInitial: time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		MaxBytes:       cfg.Fetch.MaxBytes,
		UserAgent:      cfg.Fetch.UserAgent,
	}, nil, nil, logger).WithThrottle(ratelimit.New(ratelimit.Config{
		RPS:   cfg.Fetch.HostRPS,
		Burst: cfg.Fetch.HostBurst,
	}))
	attachments, err := attachment.NewStore(a.Objects, fetcher, o.clock, attachment.Config{
		SpoolMemoryBytes: cfg.Fetch.SpoolMemoryBytes,
		TempDir:          cfg.Fetch.TempDir,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init attachment store: %w", err)
	}

	enrichment, err := enrichmentService(cfg.Enrichment, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = transform.NewRegistry()
	transform.RegisterDefaults(a.Registry,
		transform.NewGeneric(enrichment, o.clock, logger),
		cfg.ExtraJurisdictionKeys()...,
	)
	a.Stager = intake.NewStager(a.Objects, a.Registry, logger)

	a.Coordinator, err = processor.New(a.Objects, a.Registry, attachments, o.clock, processor.Config{
		FilingConcurrency:     cfg.Processing.FilingConcurrency,
		AttachmentConcurrency: cfg.Processing.AttachmentConcurrency,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	outcomes, err := a.outcomeStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.publisher(ctx, o)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Records = memory.NewRecordStore(0)
	a.Scheduler = dispatcher.New(a.Coordinator, a.Records, outcomes, publisher, o.clock, dispatcher.Config{
		Workers:    cfg.Scheduler.Workers,
		QueueDepth: cfg.Scheduler.QueueDepth,
		Topic:      cfg.PubSub.TopicName,
	}, logger)
	a.Server = api.NewServer(a.Stager, a.Scheduler, uuid.New(), cfg, logger)

	logger.Info("application services initialized",
		zap.Int("workers", cfg.Scheduler.Workers),
		zap.Int("jurisdictions", len(a.Registry.Keys())),
		zap.Bool("enrichment", enrichment.Enabled()),
	)
	return a, nil
}

func (a *App) objectStore(ctx context.Context, o options) (storage.ObjectStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case config.BackendMemory, "":
		a.Logger.Warn("using in-memory object store; nothing survives a restart")
		return memory.NewObjectStore(), nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx, o.gcs...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return store, nil
	case config.BackendS3:
		store, err := s3.New(s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		if err := store.EnsureBucket(ctx, cfg.S3.Region); err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func enrichmentService(cfg config.EnrichmentConfig, logger *zap.Logger) (*enrich.Service, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if !cfg.Enabled {
		return enrich.NewService(nil, timeout, logger), nil
	}
	client, err := openai.New(openai.Config{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Timeout:  timeout,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("init enrichment client: %w", err)
	}
	return enrich.NewService(client, timeout, logger), nil
}

// outcomeStore returns nil when no database is configured.
func (a *App) outcomeStore(ctx context.Context) (docket.OutcomeStore, error) {
	if a.Config.DB.DSN == "" {
		return nil, nil
	}
	store, err := postgres.NewOutcomeStore(ctx, postgres.OutcomeStoreConfig{
		DSN:      a.Config.DB.DSN,
		Table:    a.Config.DB.Table,
		MaxConns: a.Config.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init outcome store: %w", err)
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("init outcome store: %w", err)
	}
	return store, nil
}

// publisher returns nil when Pub/Sub is not configured.
func (a *App) publisher(ctx context.Context, o options) (docket.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, nil
	}
	pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
		ProjectID: cfg.ProjectID,
		TopicID:   cfg.TopicName,
	}, a.Logger, o.pubsub...)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

// Close releases external clients in reverse order of creation.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("error closing application services", zap.Error(err))
	}
}
