package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/moodtrack/internal/api"
	"github.com/l0p7/moodtrack/internal/auth"
	"github.com/l0p7/moodtrack/internal/cache"
	"github.com/l0p7/moodtrack/internal/config"
	"github.com/l0p7/moodtrack/internal/dashboard"
	"github.com/l0p7/moodtrack/internal/fetch"
	"github.com/l0p7/moodtrack/internal/logging"
	"github.com/l0p7/moodtrack/internal/metrics"
	"github.com/l0p7/moodtrack/internal/server"
	"github.com/l0p7/moodtrack/internal/store"
	"github.com/l0p7/moodtrack/internal/tracker"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "MOODTRACK", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	app, err := buildApp(ctx, cfg, logger, metrics.NewRecorder(prometheus.NewRegistry()))
	if err != nil {
		logger.Error("unable to assemble application", slog.Any("error", err))
		os.Exit(1)
	}

	if interval := cfg.Server.Cache.SweepInterval(); interval > 0 {
		go app.cache.RunSweeper(ctx, interval)
		go runCSRFSweeper(ctx, app.csrf, interval)
	}

	if cfg.Server.Trackers.TrackersFile != "" || cfg.Server.Trackers.TrackersFolder != "" {
		watcher, err := loader.WatchTrackers(ctx, cfg, func(bundle config.TrackerBundle) {
			app.applyCatalog(ctx, bundle)
		}, func(err error) {
			app.metrics.ObserveCatalogReload("error")
			logger.Error("trackers watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("trackers watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := server.New(cfg, logger, app.handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}
	srv.OnShutdown(app.cache.Close)
	srv.OnShutdown(func(context.Context) error { return app.repo.Close() })

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// application is the assembled object graph behind the HTTP handler.
type application struct {
	handler  http.Handler
	cache    *cache.Cache
	repo     store.Repository
	catalogs *tracker.Registry
	insights *dashboard.Evaluator
	api      *api.API
	csrf     *auth.CSRFStore
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, rec *metrics.Recorder) (*application, error) {
	cacheCfg := cfg.Server.Cache
	snapshots, err := buildSnapshotStore(ctx, logger.With(slog.String("agent", "cache_factory")), cacheCfg)
	if err != nil {
		logger.Error("snapshot store initialization failed", slog.Any("error", err))
		logger.Info("falling back to memory-only cache")
		snapshots = nil
	}
	c := cache.Open(ctx, cache.Options{
		TTL:            cacheCfg.TTL(),
		MaxSnapshotAge: cacheCfg.MaxSnapshotAge(),
		Store:          snapshots,
		Logger:         logger,
		Metrics:        rec,
	})

	repo, err := buildRepository(ctx, logger, cfg.Server.Store)
	if err != nil {
		return nil, err
	}

	insights, err := dashboard.NewEvaluator(logger)
	if err != nil {
		return nil, err
	}
	client := fetch.NewClient(fetch.ClientOptions{
		Cache:     c,
		Logger:    logger,
		Metrics:   rec,
		StaleTime: cacheCfg.StaleTime(),
	})
	catalogs := tracker.NewRegistry(nil)
	dash, err := dashboard.NewService(dashboard.ServiceOptions{
		Repository: repo,
		Catalogs:   catalogs,
		Client:     client,
		Insights:   insights,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	csrf := auth.NewCSRFStore(cfg.Server.Auth.CSRF.TTL(), nil)
	handlers, err := api.New(api.Options{
		Repository: repo,
		Catalogs:   catalogs,
		Client:     client,
		Dashboard:  dash,
		CSRF:       csrf,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	router, err := server.NewRouter(server.RouterOptions{
		API:     handlers,
		Metrics: rec,
		Logger:  logger,
		CSRF:    csrf,
		Config:  cfg.Server,
	})
	if err != nil {
		return nil, err
	}

	app := &application{
		handler:  router,
		cache:    c,
		repo:     repo,
		catalogs: catalogs,
		insights: insights,
		api:      handlers,
		csrf:     csrf,
		metrics:  rec,
		logger:   logger.With(slog.String("agent", "catalog")),
	}
	app.installCatalog(config.TrackerBundle{
		Trackers: cfg.Trackers,
		Sources:  cfg.TrackerSources,
		Skipped:  cfg.SkippedDefinitions,
	})
	return app, nil
}

// applyCatalog swaps in a reloaded catalog and drops cached dashboards, whose
// items and insights may no longer match it.
func (a *application) applyCatalog(ctx context.Context, bundle config.TrackerBundle) {
	a.installCatalog(bundle)
	evicted := a.cache.InvalidatePrefix(ctx, dashboard.KeyPrefix)
	a.metrics.ObserveCatalogReload("success")
	a.logger.Info("tracker catalog reloaded",
		slog.Int("trackers", len(bundle.Trackers)),
		slog.Int("skipped", len(bundle.Skipped)),
		slog.Int("invalidated", evicted),
	)
}

func (a *application) installCatalog(bundle config.TrackerBundle) {
	catalog := tracker.NewCatalog(bundle.Trackers)
	for _, def := range catalog.Definitions() {
		if err := a.insights.Check(def); err != nil {
			a.logger.Warn("tracker insights invalid", slog.String("category", def.Name), slog.Any("error", err))
		}
	}
	a.catalogs.Store(catalog)
	a.api.SetCatalogInfo(bundle.Sources, bundle.Skipped)
}

func buildSnapshotStore(ctx context.Context, logger *slog.Logger, cfg config.ServerCacheConfig) (cache.SnapshotStore, error) {
	backend := strings.TrimSpace(strings.ToLower(cfg.Snapshot.Backend))
	switch backend {
	case "", "none":
		logger.Info("cache snapshots disabled")
		return nil, nil
	case "file":
		fileStore, err := cache.NewFileStore(cfg.Snapshot.File)
		if err != nil {
			return nil, err
		}
		logger.Info("using file cache snapshots", slog.String("path", fileStore.Path()))
		return fileStore, nil
	case "redis", "valkey":
		valkeyStore, err := cache.NewValkeyStore(cache.ValkeyConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.ValkeyTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
			Key:    cfg.Snapshot.Key,
			Expiry: cfg.MaxSnapshotAge(),
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using valkey cache snapshots", slog.String("address", cfg.Redis.Address))
		return valkeyStore, nil
	case "gcs":
		gcsStore, err := cache.NewGCSStore(ctx, cfg.GCS.Bucket, cfg.GCS.Object)
		if err != nil {
			return nil, err
		}
		logger.Info("using gcs cache snapshots", slog.String("bucket", cfg.GCS.Bucket))
		return gcsStore, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot backend %q", cfg.Snapshot.Backend)
	}
}

func buildRepository(ctx context.Context, logger *slog.Logger, cfg config.StoreConfig) (store.Repository, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "", "memory":
		logger.Info("using memory entry store")
		return store.NewMemory(), nil
	case "firestore":
		repo, err := store.NewFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CollectionPrefix)
		if err != nil {
			return nil, err
		}
		logger.Info("using firestore entry store", slog.String("project", cfg.Firestore.ProjectID))
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

func runCSRFSweeper(ctx context.Context, csrf *auth.CSRFStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			csrf.Sweep()
		}
	}
}
