package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"visearch/config"
	"visearch/internal/adapter/cache"
	"visearch/internal/adapter/embedding"
	"visearch/internal/adapter/recordstore"
	"visearch/internal/adapter/vectordb"
	"visearch/internal/port"
	"visearch/internal/scheduler"
	"visearch/internal/usecase"
)

// app holds the wired components of one process.
type app struct {
	cfg *config.Config
	log *slog.Logger

	index    *vectordb.QdrantIndex
	embedder port.Embedder
	records  *recordstore.Client
	cache    port.ResultCache

	embed  *usecase.EmbedUseCase
	search *usecase.SearchUseCase
}

func newApp(cfg *config.Config) (*app, error) {
	log := newLogger(cfg.Logging.Level)

	index, err := vectordb.New(vectordb.Options{
		Addr:       cfg.Qdrant.Addr,
		APIKey:     cfg.QdrantAPIKey(),
		Collection: cfg.Qdrant.Collection,
		VectorSize: cfg.Qdrant.VectorSize,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	var embedder port.Embedder
	switch cfg.Embedding.Provider {
	case "clip":
		embedder = embedding.NewClipEmbedder(embedding.ClipOptions{
			Model:           cfg.Embedding.Model,
			ServerURL:       cfg.Embedding.ServerURL,
			Dimension:       cfg.Qdrant.VectorSize,
			Timeout:         time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
			DownloadTimeout: time.Duration(cfg.Image.DownloadTimeoutSeconds) * time.Second,
			MaxImageBytes:   cfg.Image.MaxBytes,
			SupportedGlobs:  cfg.Image.SupportedPatterns,
			Logger:          log,
		})
	case "mock":
		embedder = embedding.NewMockEmbedder(cfg.Qdrant.VectorSize)
	default:
		index.Close()
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}

	records := recordstore.New(recordstore.Options{
		BaseURL: cfg.RecordStore.BaseURL,
		APIKey:  cfg.RecordStoreAPIKey(),
		Timeout: time.Duration(cfg.RecordStore.TimeoutSeconds) * time.Second,
		Logger:  log,
	})

	var resultCache port.ResultCache
	switch cfg.Cache.Backend {
	case "remote":
		resultCache = records
	case "bolt":
		path := cfg.Cache.Path
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		resultCache, err = cache.NewBoltCache(path)
		if err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to open results cache: %w", err)
		}
	default:
		index.Close()
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		index:    index,
		embedder: embedder,
		records:  records,
		cache:    resultCache,
	}
	a.embed = usecase.NewEmbedUseCase(records, index, embedder, cfg.Embedding.RequireAllImages, log)
	a.search = usecase.NewSearchUseCase(records, index, embedder, resultCache,
		time.Duration(cfg.Cache.TTLSeconds)*time.Second, log)
	a.search.SetDefaults(cfg.Search.DefaultThreshold, cfg.Search.MaxResults)
	return a, nil
}

// initialize prepares the index collection and checks the model server.
func (a *app) initialize(ctx context.Context) error {
	if err := a.index.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if err := a.embedder.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.log.Info("components initialized",
		"collection", a.cfg.Qdrant.Collection,
		"model", a.embedder.ModelName(),
		"dimension", a.embedder.Dimension())
	return nil
}

func (a *app) close() {
	a.cache.Close()
	a.index.Close()
}

// newScheduler builds the periodic tasks from the configuration.
func (a *app) newScheduler() *scheduler.Scheduler {
	s := scheduler.New(a.log)

	if a.cfg.Scheduler.Enabled {
		s.Add(scheduler.Task{
			Name:         "embed-evidences",
			Interval:     time.Duration(a.cfg.Scheduler.EvidenceIntervalSeconds) * time.Second,
			RunAtStartup: true,
			Run: func(ctx context.Context) {
				a.embed.RunBatch(ctx, a.cfg.Scheduler.EvidenceBatchSize, nil)
			},
		})
		s.Add(scheduler.Task{
			Name:     "process-searches",
			Interval: time.Duration(a.cfg.Scheduler.SearchIntervalSeconds) * time.Second,
			Run: func(ctx context.Context) {
				a.search.ProcessPending(ctx, a.cfg.Scheduler.SearchBatchSize, nil)
			},
		})
		s.Add(scheduler.Task{
			Name:     "index-stats",
			Interval: time.Duration(a.cfg.Scheduler.StatsIntervalSeconds) * time.Second,
			Run: func(ctx context.Context) {
				stats, err := a.index.Stats(ctx)
				if err != nil {
					a.log.Warn("failed to fetch index stats", "error", err)
					return
				}
				a.log.Info("index stats",
					"collection", stats.Collection, "points", stats.Points, "status", stats.Status)
			},
		})
	}

	if a.cfg.Recalculation.Enabled {
		s.Add(scheduler.Task{
			Name:     "recalculate-searches",
			Interval: time.Duration(a.cfg.Recalculation.IntervalSeconds) * time.Second,
			Run: func(ctx context.Context) {
				a.search.Recalculate(ctx, a.cfg.Recalculation.BatchSize, a.cfg.Recalculation.HoursOld, nil)
			},
		})
	}

	return s
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
