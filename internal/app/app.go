// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"

	"github.com/jobrunner/cuenca/internal/adapters/cache"
	"github.com/jobrunner/cuenca/internal/adapters/earthengine"
	httpAdapter "github.com/jobrunner/cuenca/internal/adapters/http"
	"github.com/jobrunner/cuenca/internal/adapters/metrics"
	"github.com/jobrunner/cuenca/internal/adapters/storage"
	"github.com/jobrunner/cuenca/internal/adapters/studyarea"
	tlsAdapter "github.com/jobrunner/cuenca/internal/adapters/tls"
	"github.com/jobrunner/cuenca/internal/adapters/watcher"
	"github.com/jobrunner/cuenca/internal/application"
	"github.com/jobrunner/cuenca/internal/config"
	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Backend       *earthengine.Client
	Source        output.StudyAreaSource
	ResultStore   *cache.SQLiteStore
	Results       *cache.Cache
	Tiles         *cache.Cache
	Sessions      *application.SessionManager
	IndexService  *application.IndexService
	WarmupService *application.WarmupService
	HealthService *application.HealthService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server

	credentialsSource string
}

// New creates and wires a new application. The session is not opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("cuenca")
		if cfg.Metrics.Port > 0 {
			app.MetricsServer = metrics.NewServer(
				cfg.Metrics.Port,
				cfg.Metrics.Path,
				logger,
			)
		}
	}

	var metricsCollector output.MetricsCollector
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize storage adapter
	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = storage.NewInstrumented(store, metricsCollector)

	// Initialize remote backend. Missing credentials surface when the
	// session opens.
	backend, err := app.initBackend(metricsCollector)
	if err != nil {
		return nil, err
	}
	app.Backend = backend

	// Initialize study-area source
	source, err := initStudyArea(cfg, app.Storage, app.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing study area: %w", err)
	}
	app.Source = source

	// Initialize result caches
	var resultStore output.ResultStore
	if cfg.Cache.PersistPath != "" {
		sqlStore, err := cache.OpenSQLiteStore(ctx, cfg.Cache.PersistPath, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("opening result store: %w", err)
		}
		app.ResultStore = sqlStore
		resultStore = sqlStore
	}
	app.Results = cache.New(cache.Config{
		Name:     "results",
		Capacity: uint64(cfg.Cache.Capacity),
		TTL:      cfg.Cache.TTL,
	}, resultStore, logger)
	app.Tiles = cache.New(cache.Config{
		Name:     "tiles",
		Capacity: uint64(cfg.Cache.Capacity),
		TTL:      cfg.Cache.TileTTL,
	}, nil, logger)

	// Initialize session manager
	sessionCfg := application.SessionConfig{
		RetryInterval: cfg.Session.RetryInterval,
		Zoom:          cfg.StudyArea.Zoom,
	}
	if cfg.StudyArea.Source == config.SourceAsset {
		// Remote assets use the configured center; local outlines keep
		// their centroid.
		sessionCfg.Center = orb.Point{cfg.StudyArea.CenterLon, cfg.StudyArea.CenterLat}
	}
	app.Sessions = application.NewSessionManager(app.Backend, app.Source, metricsCollector, logger, sessionCfg)

	// Initialize index service
	app.IndexService = application.NewIndexService(
		app.Sessions,
		app.Backend,
		app.Results,
		app.Tiles,
		metricsCollector,
		logger,
		application.IndexServiceConfig{
			Parallelism:  cfg.Analysis.Parallelism,
			StartYear:    cfg.Analysis.StartYear,
			EndYear:      cfg.Analysis.EndYear,
			CompareYears: cfg.Analysis.CompareYears,
			MaxYears:     cfg.Analysis.MaxYears,
		},
	)

	// Initialize warmup service
	app.WarmupService = application.NewWarmupService(app.IndexService, cfg.Warmup.Interval, logger)

	// Initialize health service
	app.HealthService = application.NewHealthService(app.Sessions, app.Results)

	// Initialize HTTP server
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.IndexService,
		app.Sessions,
		app.HealthService,
		app.WarmupService,
		logger,
	)
	if app.Metrics != nil {
		app.HTTPServer.Use(app.Metrics.Middleware)
		if app.MetricsServer == nil {
			app.HTTPServer.Handle(cfg.Metrics.Path, metrics.Handler())
		}
	}

	// Initialize TLS server if enabled
	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Initialize file watcher for hot-reload of a local study-area file
	if path, ok := watchedStudyAreaFile(cfg); ok {
		w, err := watcher.New(watcher.Config{File: path}, app.handleFileEvent, logger)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Open opens the session and logs the outcome. A failed session is not an
// error of the process: every request reports the cause until a retry
// succeeds.
func (a *App) Open(ctx context.Context) error {
	a.Logger.Info("opening session",
		"project", a.Config.EarthEngine.Project,
		"study_area", a.Source.Describe(),
		"credentials", a.credentialsSource,
	)
	if err := a.Sessions.Open(ctx); err != nil {
		a.Logger.Error("session unavailable", "error", err)
		return err
	}
	return nil
}

// Start opens the session, starts the background components and serves
// HTTP until shutdown.
func (a *App) Start(ctx context.Context) error {
	go a.Results.Start()
	go a.Tiles.Start()

	// Warm up once the session is open, whether now or after a retry.
	if a.Config.Warmup.Enabled {
		var once sync.Once
		a.Sessions.OnOpen(func(ctx context.Context) {
			once.Do(func() { a.WarmupService.Start(ctx) })
		})
	}

	if err := a.Open(ctx); err != nil {
		a.Logger.Warn("session not open, retrying in background", "error", err)
	}
	a.Sessions.Start(ctx)

	// Start file watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	// Start metrics server in background
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start server
	if a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return err
		}
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	if err := a.HTTPServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	a.WarmupService.Stop()
	a.Sessions.Stop()

	// Shutdown metrics server
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Shutdown HTTP server
	if a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTPS server shutdown error", "error", err)
		}
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	a.Close()
	return nil
}

// Close releases the watcher, the session and the caches, including the
// persistent result store. One-shot commands call it directly.
func (a *App) Close() {
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}
	a.Sessions.Close()
	a.Results.Stop()
	a.Tiles.Stop()
}

// handleFileEvent reloads the study area when its file changes.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	a.Logger.Debug("file event", "path", event.Path, "operation", event.Operation.String())

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return a.Sessions.Reload(ctx)

	case watcher.OpDelete:
		// The loaded area stays in use until the file reappears.
		a.Logger.Warn("study-area file removed, keeping loaded area", "path", event.Path)
	}

	return nil
}

// initBackend resolves the credentials and creates the remote client.
func (a *App) initBackend(metricsCollector output.MetricsCollector) (*earthengine.Client, error) {
	cfg := a.Config.EarthEngine

	path := cfg.CredentialsFile
	if path == "" {
		if p, err := earthengine.DefaultCredentialsPath(); err == nil {
			path = p
		}
	}

	configured := earthengine.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	}
	creds, source, err := earthengine.ResolveCredentials(configured, path)
	if err != nil {
		var cfgErr *domain.ConfigError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		a.Logger.Warn("earth engine credentials incomplete", "error", err)
	}
	a.credentialsSource = source

	if cfg.WriteCredentials && source == "environment" && path != "" {
		if err := earthengine.WriteCredentialsFile(path, creds); err != nil {
			a.Logger.Warn("failed to write credentials file", "path", path, "error", err)
		} else {
			a.Logger.Info("credentials file written", "path", path)
		}
	}

	return earthengine.New(
		earthengine.Config{
			Project:  cfg.Project,
			BaseURL:  cfg.BaseURL,
			TokenURL: cfg.TokenURL,
			Timeout:  cfg.Timeout,
		},
		creds,
		metricsCollector,
		a.Logger,
	), nil
}

// initStudyArea selects the study-area source.
func initStudyArea(
	cfg *config.Config,
	store output.ObjectStorage,
	backend output.ComputeBackend,
	logger *slog.Logger,
) (output.StudyAreaSource, error) {
	sa := cfg.StudyArea
	switch sa.Source {
	case config.SourceAsset:
		return studyarea.NewAssetSource(backend, sa.Name, sa.Asset, logger), nil

	case config.SourceGeoJSON:
		return studyarea.NewGeoJSONSource(store, sa.Name, sa.Path, logger), nil

	case config.SourceGeoPackage:
		return studyarea.NewGeoPackageSource(store, studyarea.GeoPackageConfig{
			Name:     sa.Name,
			Key:      sa.Path,
			Layer:    sa.Layer,
			CacheDir: cfg.Storage.DownloadDir,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unknown study area source: %s", sa.Source)
	}
}

// watchedStudyAreaFile returns the local study-area file to watch, if any.
func watchedStudyAreaFile(cfg *config.Config) (string, bool) {
	if !cfg.StudyArea.Watch || cfg.Storage.Type != "local" {
		return "", false
	}
	if cfg.StudyArea.Source == config.SourceAsset || cfg.StudyArea.Path == "" {
		return "", false
	}
	return filepath.Join(cfg.Storage.LocalPath, cfg.StudyArea.Path), true
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
