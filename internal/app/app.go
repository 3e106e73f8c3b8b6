// Package app wires the backends selected by configuration. Every binary
// builds one Env and closes it on exit.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photobook/internal/asset"
	"github.com/dharsanguruparan/photobook/internal/blobstore"
	"github.com/dharsanguruparan/photobook/internal/config"
	"github.com/dharsanguruparan/photobook/internal/persistence"
	"github.com/dharsanguruparan/photobook/internal/s3storage"
	"github.com/dharsanguruparan/photobook/internal/signing"
	"github.com/dharsanguruparan/photobook/internal/transport"
	"github.com/dharsanguruparan/photobook/internal/upload"
)

// Env holds the clients shared by one process.
type Env struct {
	Config *config.Config
	Logger zerolog.Logger
	HTTP   *http.Client
	API    *transport.Client

	mu      sync.Mutex
	s3      *s3storage.Storage
	closers []func() error
}

// New builds an Env. No connection is opened until a backend is requested.
func New(cfg *config.Config, logger zerolog.Logger) *Env {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	return &Env{
		Config: cfg,
		Logger: logger,
		HTTP:   httpClient,
		API:    transport.New(cfg.APIBaseURL, cfg.APIKey, httpClient, logger),
	}
}

// S3 returns the object storage client, creating its buckets on first use.
func (e *Env) S3(ctx context.Context) (*s3storage.Storage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s3 != nil {
		return e.s3, nil
	}
	store, err := s3storage.New(e.Config)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		return nil, fmt.Errorf("ensure buckets: %w", err)
	}
	e.s3 = store
	return store, nil
}

// StateStore opens the configured blob backend for compositions.
func (e *Env) StateStore(ctx context.Context) (blobstore.Store, error) {
	switch e.Config.StateBackend {
	case config.StateBackendRedis:
		client, err := blobstore.DialRedis(ctx, e.Config.RedisAddr, e.Config.RedisPassword, e.Config.RedisDB)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.closers = append(e.closers, client.Close)
		e.mu.Unlock()
		return blobstore.NewRedisStore(client, "photobook:"), nil
	case config.StateBackendS3:
		store, err := e.S3(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := blobstore.NewFileStore(e.Config.StateDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// Registry resolves persisted asset references.
func (e *Env) Registry() *asset.Registry {
	return asset.NewRegistry(e.HTTP)
}

// Persistence opens the state store and wraps it in a signed adapter.
func (e *Env) Persistence(ctx context.Context) (*persistence.Adapter, error) {
	blobs, err := e.StateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return persistence.New(blobs, e.Config.StateKey, signing.NewSigner(e.Config.SigningSecret), e.Registry()), nil
}

// UploadTransport returns the destination of asset uploads.
func (e *Env) UploadTransport(ctx context.Context) (upload.Transport, error) {
	if e.Config.UploadBackend == config.UploadBackendS3 {
		store, err := e.S3(ctx)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return e.API, nil
}

// Close releases every connection opened through the Env.
func (e *Env) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.closers {
		if err := c(); err != nil {
			e.Logger.Warn().Err(err).Msg("close backend")
		}
	}
	e.closers = nil
}
