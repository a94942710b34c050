package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/yoma-network/export-worker/config"
	"github.com/yoma-network/export-worker/internal/blob"
	cache "github.com/yoma-network/export-worker/internal/cache/redis"
	"github.com/yoma-network/export-worker/internal/coordination"
	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/metrics"
	"github.com/yoma-network/export-worker/internal/model"
	"github.com/yoma-network/export-worker/internal/notification"
	"github.com/yoma-network/export-worker/internal/store"
	"github.com/yoma-network/export-worker/internal/store/postgres"
)

type App struct {
	Config   *cfg.AppConfig
	exitCh   chan error
	shutdown func(ctx context.Context) error
	cancel   context.CancelFunc

	Store    store.Store
	Cache    *cache.RedisCache
	Registry *prometheus.Registry

	Downloads *DownloadService
	Blobs     *BlobService
	Processor *DownloadBackgroundService
}

// New creates a fully initialized App.
func New(config *cfg.AppConfig, shutdown func(ctx context.Context) error) (*App, error) {
	app := &App{
		Config:   config,
		shutdown: shutdown,
		exitCh:   make(chan error),
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}
	if err := app.initRedis(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		return nil, err
	}

	return app, nil
}

// --------- Private init methods ---------

func (app *App) initStore() error {
	if app.Config.Database == nil {
		return errors.New("database config is nil")
	}
	app.Store = postgres.New(app.Config.Database)
	return nil
}

func (app *App) initRedis() error {
	redisCache, err := cache.NewRedisCache(app.Config.Redis.Addr, app.Config.Redis.Password, app.Config.Redis.DB)
	if err != nil {
		return errors.New("unable to initialize Redis", errors.WithCause(err))
	}
	app.Cache = redisCache
	return nil
}

func (app *App) initServices() error {
	backends, storageType, err := buildBackends(app.Config.Blob)
	if err != nil {
		return err
	}

	app.Registry = prometheus.NewRegistry()
	m := metrics.New(app.Registry)

	locks := coordination.NewDistributedLockService(app.Cache)
	urls := coordination.NewDistributedCacheService(app.Cache)
	idempotency, err := coordination.NewIdempotencyService(app.Cache, app.Config.Export.IdempotencyKeyExpirationInSecs)
	if err != nil {
		return err
	}

	app.Blobs = NewBlobService(app.Store, backends, NewFileValidator(), nil, app.Config.Blob.Environment)
	app.Downloads = NewDownloadService(app.Store, app.Config.Export.MaximumRetryAttempts)

	pg, ok := app.Store.(*postgres.Store)
	if !ok {
		return errors.New("store does not support platform reads")
	}
	reader := postgres.NewPlatformReader(pg)
	exporters := NewExporterSet(reader, reader, app.Blobs)

	app.Processor = NewDownloadBackgroundService(
		app.Store,
		app.Downloads,
		app.Blobs,
		exporters,
		locks,
		idempotency,
		urls,
		notification.NewLogDispatcher(),
		m,
		app.Config.Export,
		storageType,
	)
	return nil
}

// buildBackends registers the configured storage provider and returns it as
// the default for new files. Other providers stay resolvable so previously
// stored rows keep working after a provider switch.
func buildBackends(config *cfg.BlobConfig) (*blob.Registry, model.StorageType, error) {
	registry := blob.NewRegistry()

	switch config.Provider {
	case string(model.StorageTypeS3):
		awsConfig := aws.NewConfig().WithRegion(config.Region)
		if config.Endpoint != "" {
			awsConfig = awsConfig.WithEndpoint(config.Endpoint).WithS3ForcePathStyle(true)
		}
		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return nil, "", errors.New("unable to create aws session", errors.WithCause(err))
		}
		registry.Register(model.StorageTypeS3, blob.NewS3(config.Bucket, sess))
		if config.Root != "" {
			registry.Register(model.StorageTypeFileSystem, blob.NewFileSystem(config.Root, config.PublicBaseURL))
		}
		return registry, model.StorageTypeS3, nil

	case string(model.StorageTypeFileSystem):
		registry.Register(model.StorageTypeFileSystem, blob.NewFileSystem(config.Root, config.PublicBaseURL))
		return registry, model.StorageTypeFileSystem, nil

	default:
		return nil, "", errors.New(fmt.Sprintf("unknown blob provider: %s", config.Provider))
	}
}

// Start opens the store and runs the schedule worker until Stop is called.
func (app *App) Start() error {
	if err := app.Store.Open(); err != nil {
		return errors.New("failed to open store", errors.WithCause(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	app.StartScheduleWorker(ctx)

	return <-app.exitCh
}

// Stop gracefully shuts down all services.
func (app *App) Stop() error {
	slog.Info("export_worker.main.stop_starting")

	if app.cancel != nil {
		app.cancel()
	}

	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			slog.Error("store close error", "err", err)
		} else {
			slog.Info("store closed")
		}
	}

	if app.shutdown != nil {
		if err := app.shutdown(context.Background()); err != nil {
			slog.Error("shutdown hook error", "err", err)
		} else {
			slog.Info("shutdown hook executed")
		}
	}

	slog.Info("export_worker.main.stop_complete")
	close(app.exitCh)
	return nil
}
