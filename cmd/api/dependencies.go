package api

import (
	"fmt"
	"log/slog"
	"time"

	ingesthandler "github.com/tunelodge/royaltydesk/internal/domain/ingest/handler"
	ingestrepo "github.com/tunelodge/royaltydesk/internal/domain/ingest/repository"
	ingestservice "github.com/tunelodge/royaltydesk/internal/domain/ingest/service"
	"github.com/tunelodge/royaltydesk/internal/domain/lookup"
	reconhandler "github.com/tunelodge/royaltydesk/internal/domain/recon/handler"
	reconrepo "github.com/tunelodge/royaltydesk/internal/domain/recon/repository"
	reconservice "github.com/tunelodge/royaltydesk/internal/domain/recon/service"

	"github.com/tunelodge/royaltydesk/pkg/config"
	"github.com/tunelodge/royaltydesk/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo ingestrepo.ImportRepository
	ReconRepo  reconrepo.ReconRepository
	LookupRepo lookup.Repository

	// Services
	ImportService *ingestservice.ImportService
	ReconService  *reconservice.ReconService
	LookupQueue   *lookup.Queue

	// Handlers
	ImportHandler *ingesthandler.ImportHandler
	ReconHandler  *reconhandler.ReconHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()
	deps.initServices()
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.ImportRepo = ingestrepo.NewPostgresImportRepository(d.DB.Pool)
	d.ReconRepo = reconrepo.NewPostgresReconRepository(d.DB.Pool)
	d.LookupRepo = lookup.NewPostgresRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices() {
	d.ReconService = reconservice.NewReconService(d.ReconRepo, d.Logger)
	d.ImportService = ingestservice.NewImportService(d.ImportRepo, d.ReconRepo, d.Logger)

	resolver := lookup.NewMusicBrainzResolver("royaltydesk/1.0 (ops@tunelodge.com)")
	d.LookupQueue = lookup.NewQueue(d.LookupRepo, resolver, d.Logger)
	d.ImportService.SetLookupEnqueuer(d.LookupQueue)

	d.Logger.Info("services initialized")
}

func (d *Dependencies) initHandlers() {
	d.ImportHandler = ingesthandler.NewImportHandler(d.ImportService, d.Logger)
	d.ReconHandler = reconhandler.NewReconHandler(d.ReconService, d.Logger)

	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
