package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/api"
	"github.com/dharsanguruparan/photobook/internal/app"
	"github.com/dharsanguruparan/photobook/internal/blobstore"
	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/composition"
	"github.com/dharsanguruparan/photobook/internal/config"
	"github.com/dharsanguruparan/photobook/internal/database"
	"github.com/dharsanguruparan/photobook/internal/logging"
	"github.com/dharsanguruparan/photobook/internal/order"
	"github.com/dharsanguruparan/photobook/internal/queue"
	"github.com/dharsanguruparan/photobook/internal/repository"
	"github.com/dharsanguruparan/photobook/internal/storage"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	env := app.New(cfg, logger)
	defer env.Close()

	cat, err := env.API.FetchCatalog(ctx)
	if err != nil {
		return err
	}
	adapter, err := env.Persistence(ctx)
	if err != nil {
		return err
	}
	store := composition.NewStore(cat, adapter, logger)
	if _, err := store.Restore(ctx); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		logger.Warn().Err(err).Msg("saved composition discarded")
	}

	// Without a database everything runs in this process and lives in memory.
	var (
		tasks      upload.TaskStore
		builds     api.Builds
		recorder   build.Recorder
		dispatcher order.Dispatcher
	)
	coordinatorOpts := build.Options{
		PollInterval:    cfg.BuildPollInterval,
		MaxPollInterval: cfg.BuildMaxPollInterval,
		MaxWait:         cfg.BuildMaxWait,
		Logger:          logger,
	}
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		repo := repository.NewBuildRepository(pool)
		tasks, builds = repository.NewUploadRepository(pool), repo

		queueClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer queueClient.Close()
		dispatcher = queue.NewDispatcher(queueClient, cfg.BuildMaxWait+time.Minute)
	} else {
		mem := storage.NewBuildStore()
		tasks, builds, recorder = storage.NewMemoryStore(), mem, mem
		coordinatorOpts.Recorder = recorder
		builder := order.NewBuilder(adapter, cat, build.NewCoordinator(env.API, coordinatorOpts))
		dispatcher = order.NewLocalDispatcher(ctx, builder)
	}

	transport, err := env.UploadTransport(ctx)
	if err != nil {
		return err
	}
	uploads := upload.New(tasks, transport, store, upload.Options{
		Workers:    cfg.UploadWorkers,
		MaxRetries: cfg.UploadMaxRetries,
		Backoff:    cfg.UploadBackoff,
		MaxBackoff: cfg.UploadMaxBackoff,
		Logger:     logger,
	})
	if err := uploads.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := uploads.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("upload shutdown")
		}
	}()
	go logUploadEvents(ctx, uploads.Subscribe(), logger)

	orders := order.NewService(store, uploads, adapter, dispatcher, logger)
	return api.New(cfg.Address, store, uploads, orders, builds, logger).Run(ctx)
}

func logUploadEvents(ctx context.Context, events <-chan upload.Event, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case upload.EventFatal, upload.EventRetryNeeded:
				logger.Warn().Err(ev.Err).Str("asset", ev.AssetID).Str("event", string(ev.Kind)).Msg("upload needs attention")
			default:
				logger.Debug().Str("asset", ev.AssetID).Int("pending", ev.Pending).Msg("asset uploaded")
			}
		}
	}
}
