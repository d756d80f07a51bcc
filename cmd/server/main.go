package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/c-ster/Athena-Ingestion-Module/internal/config"
	"github.com/c-ster/Athena-Ingestion-Module/internal/handlers"
	"github.com/c-ster/Athena-Ingestion-Module/internal/language"
	"github.com/c-ster/Athena-Ingestion-Module/internal/metadata"
	"github.com/c-ster/Athena-Ingestion-Module/internal/middleware"
	"github.com/c-ster/Athena-Ingestion-Module/internal/parser"
	"github.com/c-ster/Athena-Ingestion-Module/internal/pipeline"
	"github.com/c-ster/Athena-Ingestion-Module/internal/progress"
	"github.com/c-ster/Athena-Ingestion-Module/internal/registry"
	"github.com/c-ster/Athena-Ingestion-Module/internal/repositories"
	"github.com/c-ster/Athena-Ingestion-Module/internal/scanner"
	"github.com/c-ster/Athena-Ingestion-Module/internal/scheduler"
	"github.com/c-ster/Athena-Ingestion-Module/internal/storage"
	"github.com/c-ster/Athena-Ingestion-Module/pkg/logger"
)

const (
	// The database gets a few attempts to come up before we give up.
	healthCheckRetries    = 5
	healthCheckRetryDelay = 2 * time.Second

	shutdownTimeout = 30 * time.Second
)

// App holds every component of the service and owns their lifecycle.
type App struct {
	config    *config.Config
	logger    *zap.Logger
	repo      *repositories.SQLiteRepository
	store     *storage.DiskStore
	registry  *registry.ShardedRegistry
	bus       *progress.Bus
	scheduler *scheduler.Scheduler
	server    *http.Server

	initOnce sync.Once
	initErr  error

	shutdownOnce sync.Once
}

// NewApp creates an empty application shell; Initialize does the real
// assembly.
func NewApp() *App {
	return &App{}
}

// Initialize assembles all components, all-or-nothing.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

// doInitialize builds components in dependency order: logger and config
// first, then storage layers, then the pipeline, then HTTP.
func (a *App) doInitialize() error {
	if err := logger.Init("info", true); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger.Get()

	configPath := os.Getenv("APP_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := config.Load(configPath); err != nil {
		a.logger.Warn("failed to load config file, falling back to defaults and environment",
			zap.Error(err),
		)
		if err := config.Load(""); err != nil {
			return fmt.Errorf("configuration failed: %w", err)
		}
	}
	a.config = config.Get()
	a.logger.Info("configuration loaded",
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
		zap.Int("workers", a.config.Ingestion.Workers),
	)

	if err := a.initializeRepository(); err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}

	store, err := storage.NewDiskStore(a.config.Storage.UploadsDir, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize content store: %w", err)
	}
	a.store = store

	a.registry = registry.NewShardedRegistry(
		a.config.Ingestion.Shards,
		a.config.Ingestion.RegistryTTL,
	)
	a.registry.StartCleanupWorker()

	a.bus = progress.NewBus(a.config.Progress.SubscriberBuffer, a.logger)

	pipe := a.buildPipeline()
	a.scheduler = scheduler.New(
		pipe,
		a.repo,
		a.registry,
		a.bus,
		a.config.Ingestion.Workers,
		scheduler.DedupePolicy(a.config.Ingestion.DedupePolicy),
		a.logger,
	)

	if err := a.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	a.logger.Info("application ready")
	return nil
}

// buildPipeline wires the five stage capabilities into one pipeline.
func (a *App) buildPipeline() *pipeline.Pipeline {
	clam := scanner.NewClamAVScanner(
		a.config.Scanner.Binary,
		a.config.Scanner.Timeout,
		a.logger,
	)

	translator := language.NewPipeline(
		&language.Client{
			Endpoint: a.config.Translator.Endpoint,
			APIKey:   a.config.Translator.APIKey,
			Region:   a.config.Translator.Region,
		},
		a.config.Translator.ChunkSize,
		a.config.Translator.MaxRetries,
		a.config.Translator.InitialBackoff,
		a.logger,
	)

	// Without an API key the extractor runs on template rules alone.
	var nlp metadata.NLP
	if a.config.NLP.APIKey != "" {
		nlp = &metadata.NLPClient{
			BaseURL: a.config.NLP.BaseURL,
			APIKey:  a.config.NLP.APIKey,
			Model:   a.config.NLP.Model,
			HTTPClient: &http.Client{
				Timeout: a.config.NLP.Timeout,
			},
		}
	}

	return pipeline.New(
		pipeline.Config{
			MaxFileSize:     a.config.Storage.MaxFileSize,
			ScannerFailOpen: a.config.Scanner.FailOpen,
		},
		a.store,
		clam,
		language.NewWhatlangDetector(),
		translator,
		parser.NewDocumentParser(a.logger),
		metadata.NewExtractor(nlp, a.logger),
		a.repo,
		a.registry,
		a.bus,
		a.logger,
	)
}

// initializeRepository opens SQLite with a retry loop, then verifies the
// connection and the schema.
func (a *App) initializeRepository() error {
	var err error

	for attempt := 0; attempt < healthCheckRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("retrying database connection",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", healthCheckRetryDelay),
			)
			time.Sleep(healthCheckRetryDelay)
		}

		repo, initErr := repositories.NewSQLiteRepository(a.config.SQLite.Path, a.logger)
		if initErr != nil {
			err = initErr
			a.logger.Warn("failed to open database",
				zap.Int("attempt", attempt+1),
				zap.Error(initErr),
			)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if checkErr := repo.CheckConnection(ctx); checkErr != nil {
			cancel()
			repo.Close()
			err = checkErr
			a.logger.Warn("database connection check failed",
				zap.Int("attempt", attempt+1),
				zap.Error(checkErr),
			)
			continue
		}
		cancel()

		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		if ensureErr := repo.EnsureSchema(ctx); ensureErr != nil {
			cancel()
			repo.Close()
			err = ensureErr
			a.logger.Warn("schema check failed",
				zap.Int("attempt", attempt+1),
				zap.Error(ensureErr),
			)
			continue
		}
		cancel()

		a.repo = repo
		a.logger.Info("repository initialized",
			zap.Int("attempts", attempt+1),
			zap.String("path", a.config.SQLite.Path),
		)
		return nil
	}

	return fmt.Errorf("failed to connect to database after %d attempts: %w", healthCheckRetries, err)
}

// initializeServer sets up routing and middleware.
func (a *App) initializeServer() error {
	handler := handlers.NewIngestionHandler(
		a.scheduler,
		a.repo,
		a.registry,
		a.bus,
		a.store,
		a.repo,
		a.config.Storage.MaxFileSize,
		a.logger,
	)

	r := chi.NewRouter()

	rateLimiter := middleware.NewRateLimiter(100, 1*time.Minute)

	// Health answers without middleware so orchestrators get a fast,
	// reliable probe.
	r.Get("/health", a.healthCheckHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(a.logger))
		r.Use(middleware.RecoveryMiddleware(a.logger))
		r.Use(middleware.RateLimitMiddleware(rateLimiter, a.logger))

		// The event stream must outlive any request timeout.
		r.Get("/api/status", handler.StreamStatus)

		r.Group(func(r chi.Router) {
			r.Use(middleware.TimeoutMiddleware(60 * time.Second))

			r.Post("/api/upload", handler.Upload)
			r.Get("/api/files", handler.ListFiles)
			r.Get("/api/files/{filename}", handler.DownloadFile)
			r.Route("/api/records", func(r chi.Router) {
				r.Get("/", handler.ListRecords)
				r.Get("/{id}", handler.GetRecord)
			})
		})
	})

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.server = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout stays unset: the status stream writes for as
		// long as the subscriber listens.
		IdleTimeout: 120 * time.Second,
	}

	return nil
}

// healthCheckHandler reports whether the service can reach its database.
func (a *App) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	if a.repo != nil {
		if err := a.repo.CheckConnection(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			health["status"] = "unhealthy"
			health["error"] = err.Error()
			json.NewEncoder(w).Encode(health)
			return
		}
		health["database"] = "connected"
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// Start brings the HTTP server up; main keeps listening for signals.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	go func() {
		a.logger.Info("starting HTTP server",
			zap.String("addr", a.server.Addr),
		)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown stops accepting uploads, drains in-flight runs and closes
// everything in reverse dependency order.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down...")

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("failed to stop server", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		if a.scheduler != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.scheduler.Stop(ctx); err != nil {
				a.logger.Warn("ingestion runs did not drain in time", zap.Error(err))
			}
			cancel()
		}

		if a.bus != nil {
			a.bus.Close()
		}

		if a.registry != nil {
			a.registry.StopCleanupWorker()
		}

		if a.repo != nil {
			if err := a.repo.Close(); err != nil {
				a.logger.Error("failed to close database", zap.Error(err))
				if shutdownErr == nil {
					shutdownErr = err
				}
			}
		}

		if a.logger != nil {
			_ = a.logger.Sync()
		}
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
}
