package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != defaultAddress || cfg.UploadWorkers != defaultUploadWorkers || cfg.StateBackend != StateBackendFile || cfg.UploadBackend != UploadBackendAPI {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.SigningSecret) == 0 {
		t.Fatalf("expected a generated signing secret")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PHOTOBOOK_UPLOAD_WORKERS", "8")
	t.Setenv("PHOTOBOOK_BUILD_MAX_WAIT", "90s")
	t.Setenv("PHOTOBOOK_S3_USE_SSL", "true")
	t.Setenv("PHOTOBOOK_STATE_BACKEND", "Redis")
	t.Setenv("PHOTOBOOK_SIGNING_SECRET", "s3cret")
	t.Setenv("PHOTOBOOK_UPLOAD_BACKOFF", "not-a-duration")
	t.Setenv("PHOTOBOOK_APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UploadWorkers != 8 || cfg.BuildMaxWait != 90*time.Second || !cfg.S3UseSSL {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.StateBackend != StateBackendRedis || string(cfg.SigningSecret) != "s3cret" {
		t.Fatalf("unexpected backend or secret: %s %q", cfg.StateBackend, cfg.SigningSecret)
	}
	if cfg.UploadBackoff != defaultBackoff {
		t.Fatalf("invalid duration should fall back to default, got %s", cfg.UploadBackoff)
	}
	if !cfg.Development() {
		t.Fatalf("expected development mode")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("PHOTOBOOK_STATE_BACKEND", "floppy")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	t.Setenv("PHOTOBOOK_STATE_BACKEND", "file")
	t.Setenv("PHOTOBOOK_UPLOAD_BACKEND", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown upload backend")
	}
}
