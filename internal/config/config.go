// Package config centralizes how photobook reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// State backends for the persisted composition.
const (
	StateBackendFile  = "file"
	StateBackendRedis = "redis"
	StateBackendS3    = "s3"
)

// Upload backends receiving the photos of an order.
const (
	UploadBackendAPI = "api"
	UploadBackendS3  = "s3"
)

// Config represents runtime configuration shared by every binary.
type Config struct {
	Address  string
	AppEnv   string
	LogLevel string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
	StateBucket string
	AssetBucket string
	// AssetURLTTL is how long presigned asset URLs stay valid.
	AssetURLTTL time.Duration

	StateBackend  string
	StateDir      string
	StateKey      string
	SigningSecret []byte

	APIBaseURL  string
	APIKey      string
	HTTPTimeout time.Duration

	UploadBackend    string
	UploadWorkers    int
	UploadMaxRetries int
	UploadBackoff    time.Duration
	UploadMaxBackoff time.Duration

	BuildPollInterval    time.Duration
	BuildMaxPollInterval time.Duration
	BuildMaxWait         time.Duration
}

const (
	defaultAddress       = ":8080"
	defaultAppEnv        = "production"
	defaultLogLevel      = "info"
	defaultRedisAddr     = "localhost:6379"
	defaultS3Endpoint    = "localhost:9000"
	defaultS3Region      = "us-east-1"
	defaultStateBucket   = "photobook-state"
	defaultAssetBucket   = "photobook-assets"
	defaultAssetURLTTL   = 7 * 24 * time.Hour
	defaultStateBackend  = StateBackendFile
	defaultStateDir      = ".photobook"
	defaultStateKey      = "composition.json"
	defaultAPIBaseURL    = "https://api.kite.ly"
	defaultHTTPTimeout   = 30 * time.Second
	defaultUploadWorkers = 3
	defaultMaxRetries    = 3
	defaultBackoff       = time.Second
	defaultMaxBackoff    = 30 * time.Second
	defaultPollInterval  = 2 * time.Second
	defaultMaxPoll       = 30 * time.Second
	defaultMaxWait       = 10 * time.Minute
)

// Load reads configuration from PHOTOBOOK_* environment variables falling
// back to defaults. Unparseable numbers and durations fall back to their
// defaults; an unknown state or upload backend is an error.
func Load() (*Config, error) {
	cfg := &Config{
		Address:  readEnv("PHOTOBOOK_ADDRESS", defaultAddress),
		AppEnv:   readEnv("PHOTOBOOK_APP_ENV", defaultAppEnv),
		LogLevel: readEnv("PHOTOBOOK_LOG_LEVEL", defaultLogLevel),

		DatabaseURL: readEnv("PHOTOBOOK_DATABASE_URL", ""),

		RedisAddr:     readEnv("PHOTOBOOK_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("PHOTOBOOK_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("PHOTOBOOK_REDIS_DB", 0),

		S3Endpoint:  readEnv("PHOTOBOOK_S3_ENDPOINT", defaultS3Endpoint),
		S3AccessKey: readEnv("PHOTOBOOK_S3_ACCESS_KEY", ""),
		S3SecretKey: readEnv("PHOTOBOOK_S3_SECRET_KEY", ""),
		S3Region:    readEnv("PHOTOBOOK_S3_REGION", defaultS3Region),
		S3UseSSL:    parseBool("PHOTOBOOK_S3_USE_SSL", false),
		StateBucket: readEnv("PHOTOBOOK_STATE_BUCKET", defaultStateBucket),
		AssetBucket: readEnv("PHOTOBOOK_ASSET_BUCKET", defaultAssetBucket),
		AssetURLTTL: parseDuration("PHOTOBOOK_ASSET_URL_TTL", defaultAssetURLTTL),

		StateBackend:  strings.ToLower(readEnv("PHOTOBOOK_STATE_BACKEND", defaultStateBackend)),
		StateDir:      readEnv("PHOTOBOOK_STATE_DIR", defaultStateDir),
		StateKey:      readEnv("PHOTOBOOK_STATE_KEY", defaultStateKey),
		SigningSecret: parseSecret("PHOTOBOOK_SIGNING_SECRET"),

		APIBaseURL:  readEnv("PHOTOBOOK_API_BASE_URL", defaultAPIBaseURL),
		APIKey:      readEnv("PHOTOBOOK_API_KEY", ""),
		HTTPTimeout: parseDuration("PHOTOBOOK_HTTP_TIMEOUT", defaultHTTPTimeout),

		UploadBackend:    strings.ToLower(readEnv("PHOTOBOOK_UPLOAD_BACKEND", UploadBackendAPI)),
		UploadWorkers:    parseInt("PHOTOBOOK_UPLOAD_WORKERS", defaultUploadWorkers),
		UploadMaxRetries: parseInt("PHOTOBOOK_UPLOAD_MAX_RETRIES", defaultMaxRetries),
		UploadBackoff:    parseDuration("PHOTOBOOK_UPLOAD_BACKOFF", defaultBackoff),
		UploadMaxBackoff: parseDuration("PHOTOBOOK_UPLOAD_MAX_BACKOFF", defaultMaxBackoff),

		BuildPollInterval:    parseDuration("PHOTOBOOK_BUILD_POLL_INTERVAL", defaultPollInterval),
		BuildMaxPollInterval: parseDuration("PHOTOBOOK_BUILD_MAX_POLL_INTERVAL", defaultMaxPoll),
		BuildMaxWait:         parseDuration("PHOTOBOOK_BUILD_MAX_WAIT", defaultMaxWait),
	}
	switch cfg.StateBackend {
	case StateBackendFile, StateBackendRedis, StateBackendS3:
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
	if cfg.UploadBackend != UploadBackendAPI && cfg.UploadBackend != UploadBackendS3 {
		return nil, fmt.Errorf("unknown upload backend %q", cfg.UploadBackend)
	}
	if cfg.SigningSecret == nil {
		// Without a configured secret, state only round-trips within this
		// process.
		cfg.SigningSecret = randomSecret()
	}
	if cfg.UploadWorkers <= 0 {
		cfg.UploadWorkers = defaultUploadWorkers
	}
	if cfg.UploadMaxRetries < 0 {
		cfg.UploadMaxRetries = defaultMaxRetries
	}
	if cfg.BuildMaxWait <= 0 {
		cfg.BuildMaxWait = defaultMaxWait
	}
	return cfg, nil
}

// Development reports whether the app runs in development mode.
func (c *Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return []byte(hex.EncodeToString([]byte("fallbacksecret")))
	}
	return buf
}
