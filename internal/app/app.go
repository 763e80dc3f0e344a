// Package app builds the pipeline and its infrastructure from config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/raine/listing-pipeline/config"
	"github.com/raine/listing-pipeline/internal/blob"
	"github.com/raine/listing-pipeline/internal/cache"
	"github.com/raine/listing-pipeline/internal/imageproc"
	"github.com/raine/listing-pipeline/internal/llm"
	"github.com/raine/listing-pipeline/internal/observability"
	"github.com/raine/listing-pipeline/internal/pipeline"
	"github.com/raine/listing-pipeline/internal/publish"
	"github.com/raine/listing-pipeline/internal/scrape"
	"github.com/raine/listing-pipeline/internal/search"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// App owns the orchestrator and the resources it was built from.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Publisher    *publish.Client
	Registry     *prometheus.Registry

	cfg     config.Config
	sqlite  *cache.SQLiteCache
	memory  *cache.MemoryCache
	closers []func() error
}

// New wires every component. Optional integrations (search, object store,
// Redis, publishing) are skipped when their settings are empty.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{cfg: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	blobCache, llmCache, err := a.caches(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	objects, err := a.objectStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	blobs := blob.NewStore(objects, cfg.Bucket(), blobCache).WithTTL(cfg.BlobTTL)

	gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}
	log.Info().Str("model", gemini.Model()).Msg("gemini client initialized")

	var searcher search.Searcher
	if cfg.SearchConfigured() {
		gs, err := search.NewGoogleSearcher(ctx, cfg.SearchAPIKey, cfg.SearchEngineID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize web search: %w", err)
		}
		searcher = gs
	} else {
		log.Info().Msg("web search not configured, evidence gathering will be empty")
	}

	a.Publisher = publish.NewClient(publish.ClientOpts{Endpoint: cfg.PublishEndpoint, Token: cfg.PublishToken})

	a.Orchestrator = pipeline.New(pipeline.Deps{
		Blobs:          blobs,
		LLM:            llm.NewCachedClient(gemini, llmCache, cfg.LLMCacheTTL),
		Cache:          llmCache,
		Searcher:       searcher,
		Scraper:        scrape.NewScraper(scrape.NewHTTPFetcher(0)),
		Images:         imageproc.NewProcessor(),
		Publisher:      a.Publisher,
		Recorder:       observability.NewRecorder(a.Registry),
		Concurrency:    cfg.ImageConcurrency,
		MaxScrapeURLs:  cfg.ScrapeMaxURLs,
		VisionCacheTTL: cfg.LLMCacheTTL,
		ImageURLTTL:    cfg.BlobTTL,
	})
	return a, nil
}

// PhotoOptions are the photo corrections configured for every run.
func (a *App) PhotoOptions() imageproc.Options {
	return imageproc.Options{
		Background:    "#ffffff",
		Width:         1200,
		Height:        1200,
		WatermarkText: a.cfg.WatermarkText,
		WatermarkFont: a.cfg.WatermarkFont,
	}
}

// caches returns the cache for blob references and the cache for LLM
// responses. Redis serves both when configured; otherwise references live in
// memory and responses in SQLite.
func (a *App) caches(ctx context.Context) (cache.Cache, cache.Cache, error) {
	if a.cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, a.cfg.RedisAddr, config.AppName+":")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info().Str("addr", a.cfg.RedisAddr).Msg("using redis cache")
		return rc, rc, nil
	}

	sc, err := cache.NewSQLiteCache(a.cfg.CacheDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	a.sqlite = sc
	a.closers = append(a.closers, sc.Close)
	log.Info().Str("dbPath", a.cfg.CacheDBPath).Msg("using sqlite cache")
	a.memory = cache.NewMemoryCache()
	return a.memory, sc, nil
}

func (a *App) objectStore(ctx context.Context) (blob.ObjectStore, error) {
	switch a.cfg.ObjectStore {
	case config.ObjectStoreS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		log.Info().Str("bucket", a.cfg.S3Bucket).Str("endpoint", a.cfg.S3Endpoint).Msg("using s3 object store")
		return blob.NewS3Store(awsCfg, a.cfg.S3Endpoint), nil
	case config.ObjectStoreGCS:
		gcs, err := blob.NewGCSStore(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		log.Info().Str("bucket", a.cfg.GCSBucket).Msg("using gcs object store")
		return gcs, nil
	}
	log.Info().Msg("no object store configured, images are kept inline")
	return nil, nil
}

// RunBackground starts the cache pruners and the metrics server on g. All
// stop when ctx is done.
func (a *App) RunBackground(ctx context.Context, g *errgroup.Group) {
	if a.memory != nil {
		g.Go(func() error {
			a.memory.RunPruner(ctx, cache.MemoryPruneInterval)
			return nil
		})
	}
	if a.sqlite != nil {
		g.Go(func() error {
			a.sqlite.RunPruner(ctx, cache.PruneInterval)
			return nil
		})
	}
	if a.cfg.MetricsAddr == "" {
		return
	}

	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           metricsMux(a.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", a.cfg.MetricsAddr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(reg))
	return mux
}

// Close releases databases and clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
