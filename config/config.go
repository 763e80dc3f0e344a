// Package config loads the pipeline settings from the environment and the
// user's config.env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "listing-pipeline"
	EnvFileName = "config.env"
)

// Object store backends.
const (
	ObjectStoreNone = ""
	ObjectStoreS3   = "s3"
	ObjectStoreGCS  = "gcs"
)

// requiredEnvVars must be set for any entrypoint.
var requiredEnvVars = []string{"GEMINI_API_KEY"}

// Config holds the typed settings.
type Config struct {
	GeminiAPIKey string
	GeminiModel  string

	SearchAPIKey   string
	SearchEngineID string

	ObjectStore string
	S3Bucket    string
	S3Endpoint  string
	GCSBucket   string

	RedisAddr   string
	CacheDBPath string
	BlobTTL     time.Duration
	LLMCacheTTL time.Duration

	ImageConcurrency int
	ScrapeMaxURLs    int
	WatermarkFont    string
	WatermarkText    string

	PublishEndpoint string
	PublishToken    string

	BotToken    string
	MetricsAddr string
	TraceStdout bool
}

// ConfigDir returns the application's config directory.
func ConfigDir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configBase, AppName), nil
}

// EnvFilePath returns the full path to config.env.
func EnvFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, EnvFileName), nil
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist. Variables
// already set in the environment win.
func LoadEnvFile() {
	configPath, err := EnvFilePath()
	if err != nil {
		return
	}
	_ = godotenv.Load(configPath)
}

// CheckRequired returns the names of required variables that are not set.
// extra adds entrypoint-specific requirements.
func CheckRequired(extra ...string) []string {
	var missing []string
	for _, v := range append(append([]string(nil), requiredEnvVars...), extra...) {
		if strings.TrimSpace(os.Getenv(v)) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// Load reads the settings from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		GeminiAPIKey:    env("GEMINI_API_KEY", ""),
		GeminiModel:     env("GEMINI_MODEL", ""),
		SearchAPIKey:    env("SEARCH_API_KEY", ""),
		SearchEngineID:  env("SEARCH_ENGINE_ID", ""),
		ObjectStore:     strings.ToLower(env("OBJECT_STORE", ObjectStoreNone)),
		S3Bucket:        env("S3_BUCKET", ""),
		S3Endpoint:      env("S3_ENDPOINT", ""),
		GCSBucket:       env("GCS_BUCKET", ""),
		RedisAddr:       env("REDIS_ADDR", ""),
		CacheDBPath:     env("CACHE_DB_PATH", "cache.db"),
		WatermarkFont:   env("WATERMARK_FONT", ""),
		WatermarkText:   env("WATERMARK_TEXT", ""),
		PublishEndpoint: env("PUBLISH_ENDPOINT", ""),
		PublishToken:    env("PUBLISH_TOKEN", ""),
		BotToken:        env("BOT_TOKEN", ""),
		MetricsAddr:     env("METRICS_ADDR", ""),
	}

	var err error
	if cfg.BlobTTL, err = durationEnv("BLOB_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.LLMCacheTTL, err = durationEnv("LLM_CACHE_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ImageConcurrency, err = intEnv("IMAGE_CONCURRENCY", 4); err != nil {
		return Config{}, err
	}
	if cfg.ScrapeMaxURLs, err = intEnv("SCRAPE_MAX_URLS", 5); err != nil {
		return Config{}, err
	}
	if cfg.TraceStdout, err = boolEnv("TRACE_STDOUT", false); err != nil {
		return Config{}, err
	}

	switch cfg.ObjectStore {
	case ObjectStoreNone:
	case ObjectStoreS3:
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("S3_BUCKET is required when OBJECT_STORE=%s", cfg.ObjectStore)
		}
	case ObjectStoreGCS:
		if cfg.GCSBucket == "" {
			return Config{}, fmt.Errorf("GCS_BUCKET is required when OBJECT_STORE=%s", cfg.ObjectStore)
		}
	default:
		return Config{}, fmt.Errorf("unknown OBJECT_STORE %q (want s3, gcs or empty)", cfg.ObjectStore)
	}
	return cfg, nil
}

// Bucket returns the bucket of the configured object store.
func (c Config) Bucket() string {
	if c.ObjectStore == ObjectStoreGCS {
		return c.GCSBucket
	}
	return c.S3Bucket
}

// SearchConfigured reports whether web search credentials are present.
func (c Config) SearchConfigured() bool {
	return c.SearchAPIKey != "" && c.SearchEngineID != ""
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration like 30m: %q", key, v)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %q", key, v)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false: %q", key, v)
	}
	return b, nil
}
