package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/app"
	"github.com/dharsanguruparan/photobook/internal/build"
	"github.com/dharsanguruparan/photobook/internal/config"
	"github.com/dharsanguruparan/photobook/internal/database"
	"github.com/dharsanguruparan/photobook/internal/logging"
	"github.com/dharsanguruparan/photobook/internal/order"
	pdfutil "github.com/dharsanguruparan/photobook/internal/pdf"
	"github.com/dharsanguruparan/photobook/internal/repository"
	"github.com/dharsanguruparan/photobook/internal/worker"
)

const concurrency = 4

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
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	env := app.New(cfg, logger)
	defer env.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	jobs := repository.NewBuildRepository(pool)

	cat, err := env.API.FetchCatalog(ctx)
	if err != nil {
		return err
	}
	adapter, err := env.Persistence(ctx)
	if err != nil {
		return err
	}
	coordinator := build.NewCoordinator(env.API, build.Options{
		PollInterval:    cfg.BuildPollInterval,
		MaxPollInterval: cfg.BuildMaxPollInterval,
		MaxWait:         cfg.BuildMaxWait,
		Recorder:        jobs,
		Logger:          logger,
	})
	processor := worker.NewProcessor(order.NewBuilder(adapter, cat, coordinator), jobs, pdfutil.NewVerifier(env.HTTP), logger)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: concurrency,
		Logger:      asynqLogger{logger.With().Str("component", "asynq").Logger()},
	})

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info().Str("redis", cfg.RedisAddr).Msg("worker running")
	return server.Run(processor.Handler())
}

// asynqLogger adapts zerolog to asynq's logger interface.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
