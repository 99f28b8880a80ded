package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/FACorreiaa/charges-audit/internal/domain/export"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/extractor"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/normalizer"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/reconciler"
	importrepo "github.com/FACorreiaa/charges-audit/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/charges-audit/internal/domain/import/service"
	"github.com/FACorreiaa/charges-audit/internal/domain/import/splitter"
	"github.com/FACorreiaa/charges-audit/internal/domain/rules"
	"github.com/FACorreiaa/charges-audit/internal/domain/search"

	"github.com/FACorreiaa/charges-audit/pkg/config"
	"github.com/FACorreiaa/charges-audit/pkg/db"
	"github.com/FACorreiaa/charges-audit/pkg/metrics"
	"github.com/FACorreiaa/charges-audit/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo importrepo.ImportRepository
	RulesRepo  *rules.Repository

	// Collaborators
	FileStorage storage.BlobStore
	SearchIndex *search.Index
	Metrics     *metrics.Import

	// Services
	RulesService  *rules.Service
	ImportService *importservice.ImportService
	ExportService *export.Service
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Debug("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Debug("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
	d.RulesRepo = rules.NewRepository(d.DB.Pool)

	store, err := storage.New(&d.Config.Storage)
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = store

	index, err := search.NewIndex(d.Config.Search.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}
	d.SearchIndex = index

	d.Logger.Debug("repositories initialized")
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	imp := d.Config.Import

	overrides, err := normalizer.LoadLayoutOverrides(imp.LayoutOverridesFile)
	if err != nil {
		return err
	}

	engine := extractor.NewTabulaEngine(imp.JavaBin, imp.TabulaJar, d.Logger)
	ext := extractor.New(engine, d.Logger)
	for doc, n := range overrides.MinColumns() {
		ext.WithMinColumns(doc, n)
	}

	spl := splitter.New(splitter.NewTextSource(), splitter.NewTrimMaterializer(), d.Logger)

	d.Metrics = metrics.NewImport()
	d.RulesService = rules.NewService(d.RulesRepo, d.Logger)

	// Import service with supplier rules, search and metrics wired in
	d.ImportService = importservice.NewImportService(d.ImportRepo, d.FileStorage, ext, spl, d.Logger).
		WithProfiles(overrides.Apply(normalizer.DefaultProfiles())).
		WithMandatory(imp.Mandatory).
		WithWorkDir(imp.WorkDir).
		WithReconcilerOptions(reconciler.Options{WordBoundary: imp.WordBoundary}).
		WithSupplierRules(d.RulesService).
		WithIndex(d.SearchIndex).
		WithMetrics(d.Metrics)

	d.ExportService = export.NewService(d.ImportRepo, d.Logger)

	d.Logger.Debug("services initialized")
	return nil
}

// Close releases the index and the database pool
func (d *Dependencies) Close() {
	if d.SearchIndex != nil {
		if err := d.SearchIndex.Close(); err != nil {
			d.Logger.Warn("failed to close search index", "error", err)
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// newLogger builds the process logger from the log configuration
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
