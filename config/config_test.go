package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"GEMINI_API_KEY", "GEMINI_MODEL", "SEARCH_API_KEY", "SEARCH_ENGINE_ID", "OBJECT_STORE",
	"S3_BUCKET", "S3_ENDPOINT", "GCS_BUCKET", "REDIS_ADDR", "CACHE_DB_PATH", "BLOB_TTL",
	"LLM_CACHE_TTL", "IMAGE_CONCURRENCY", "SCRAPE_MAX_URLS", "PUBLISH_ENDPOINT", "PUBLISH_TOKEN",
	"BOT_TOKEN", "METRICS_ADDR", "WATERMARK_FONT", "WATERMARK_TEXT", "TRACE_STDOUT",
}

func clearEnv(t *testing.T) {
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.GeminiAPIKey)
	assert.Equal(t, ObjectStoreNone, cfg.ObjectStore)
	assert.Equal(t, "cache.db", cfg.CacheDBPath)
	assert.Equal(t, 30*time.Minute, cfg.BlobTTL)
	assert.Equal(t, 24*time.Hour, cfg.LLMCacheTTL)
	assert.Equal(t, 4, cfg.ImageConcurrency)
	assert.Equal(t, 5, cfg.ScrapeMaxURLs)
	assert.False(t, cfg.TraceStdout)
	assert.False(t, cfg.SearchConfigured())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, cfg Config)
	}{
		{
			name: "s3",
			env:  map[string]string{"OBJECT_STORE": "S3", "S3_BUCKET": "photos", "S3_ENDPOINT": "http://minio:9000"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, ObjectStoreS3, cfg.ObjectStore)
				assert.Equal(t, "photos", cfg.Bucket())
			},
		},
		{
			name: "gcs",
			env:  map[string]string{"OBJECT_STORE": "gcs", "GCS_BUCKET": "listing-photos"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "listing-photos", cfg.Bucket())
			},
		},
		{
			name: "tuning",
			env: map[string]string{
				"BLOB_TTL": "1h", "IMAGE_CONCURRENCY": "8", "TRACE_STDOUT": "true",
				"SEARCH_API_KEY": "k", "SEARCH_ENGINE_ID": "cx",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, time.Hour, cfg.BlobTTL)
				assert.Equal(t, 8, cfg.ImageConcurrency)
				assert.True(t, cfg.TraceStdout)
				assert.True(t, cfg.SearchConfigured())
			},
		},
		{name: "s3 without bucket", env: map[string]string{"OBJECT_STORE": "s3"}, wantErr: "S3_BUCKET"},
		{name: "unknown store", env: map[string]string{"OBJECT_STORE": "ftp"}, wantErr: "unknown OBJECT_STORE"},
		{name: "bad duration", env: map[string]string{"BLOB_TTL": "soon"}, wantErr: "BLOB_TTL"},
		{name: "zero concurrency", env: map[string]string{"IMAGE_CONCURRENCY": "0"}, wantErr: "IMAGE_CONCURRENCY"},
		{name: "bad bool", env: map[string]string{"TRACE_STDOUT": "maybe"}, wantErr: "TRACE_STDOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestCheckRequired(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, []string{"GEMINI_API_KEY", "BOT_TOKEN"}, CheckRequired("BOT_TOKEN"))

	t.Setenv("GEMINI_API_KEY", "key")
	assert.Empty(t, CheckRequired())
	assert.Equal(t, []string{"BOT_TOKEN"}, CheckRequired("BOT_TOKEN"))
}

func TestWriteEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), AppName, EnvFileName)

	require.NoError(t, WriteEnvFile(path, map[string]string{"GEMINI_API_KEY": "a b", "BOT_TOKEN": "123:abc"}))
	require.NoError(t, WriteEnvFile(path, map[string]string{"GEMINI_API_KEY": "new"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"GEMINI_API_KEY": "new", "BOT_TOKEN": "123:abc"}, values)
}

func TestValidateTelegramToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/botgood/getMe" {
			w.Write([]byte(`{"ok": true, "result": {"id": 1}}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok": false, "error_code": 401, "description": "Unauthorized"}`))
	}))
	defer ts.Close()

	orig := telegramAPIURL
	telegramAPIURL = ts.URL
	defer func() { telegramAPIURL = orig }()

	assert.NoError(t, ValidateTelegramToken(context.Background(), "good"))
	assert.EqualError(t, ValidateTelegramToken(context.Background(), "bad"), "Unauthorized")
}

func TestValidateGeminiKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("key") {
		case "good":
			w.Write([]byte(`{"models": []}`))
		case "broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "API key not valid"}}`))
		}
	}))
	defer ts.Close()

	orig := geminiAPIURL
	geminiAPIURL = ts.URL
	defer func() { geminiAPIURL = orig }()

	assert.NoError(t, ValidateGeminiKey(context.Background(), "good"))
	assert.EqualError(t, ValidateGeminiKey(context.Background(), "bad"), "API key not valid")
	assert.EqualError(t, ValidateGeminiKey(context.Background(), "broken"), "unexpected response (HTTP 503)")
}
