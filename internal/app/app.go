// Package app wires configuration, storage, services and handlers into
// one application instance.
package app

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/copro-tools/pilotage/internal/common"
	"github.com/copro-tools/pilotage/internal/handlers"
	"github.com/copro-tools/pilotage/internal/jobs"
	"github.com/copro-tools/pilotage/internal/mantis"
	"github.com/copro-tools/pilotage/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	Files   *storage.FileStore
	Tickets *storage.TicketStore
	Topics  *storage.TopicStore
	Docs    *storage.DocStore
	Uploads *storage.UploadStore

	// Services
	Enricher       *mantis.PriorityEnricher
	RefreshRunner  *jobs.RefreshRunner
	ExtractManager *jobs.ExtractManager

	// Handlers
	APIHandler    *handlers.APIHandler
	MantisHandler *handlers.MantisHandler
	TopicsHandler *handlers.TopicsHandler
	DocsHandler   *handlers.DocumentationHandler

	scheduler *cron.Cron
}

// New creates an application with all dependencies initialized.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	a.initServices()
	a.initHandlers()

	if err := a.initScheduler(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) initStorage() error {
	files, err := storage.NewFileStore(a.Config.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	a.Files = files

	if a.Tickets, err = storage.NewTicketStore(files); err != nil {
		return fmt.Errorf("init ticket store: %w", err)
	}
	if a.Topics, err = storage.NewTopicStore(files); err != nil {
		return fmt.Errorf("init topic store: %w", err)
	}
	if a.Docs, err = storage.NewDocStore(files); err != nil {
		return fmt.Errorf("init documentation store: %w", err)
	}
	if a.Uploads, err = storage.NewUploadStore(a.Config.Storage.UploadsDir); err != nil {
		return fmt.Errorf("init upload store: %w", err)
	}

	a.Logger.Info().
		Str("data_dir", a.Config.Storage.DataDir).
		Str("uploads_dir", a.Config.Storage.UploadsDir).
		Msg("Storage initialized")
	return nil
}

func (a *App) initServices() {
	mantisCfg := a.Config.Mantis

	a.Enricher = mantis.NewPriorityEnricher(mantisCfg.PriorityTTL, mantisCfg.PriorityMissTTL, a.Logger)
	a.RefreshRunner = jobs.NewRefreshRunner(mantisCfg, a.Tickets, a.Enricher, a.Logger)
	a.ExtractManager = jobs.NewExtractManager(mantisCfg, a.Tickets, a.Config.Jobs.ExtractRetention, a.Logger)
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.MantisHandler = handlers.NewMantisHandler(a.Config.Mantis, a.Tickets, a.Enricher, a.RefreshRunner, a.ExtractManager, a.Logger)
	a.TopicsHandler = handlers.NewTopicsHandler(a.Topics, a.Uploads, a.Logger)
	a.DocsHandler = handlers.NewDocumentationHandler(a.Docs, a.Uploads, a.Logger)
}

// initScheduler starts the optional automatic refresh. The schedule uses
// six-field cron syntax (with seconds).
func (a *App) initScheduler() error {
	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Scheduler disabled")
		return nil
	}
	if err := a.Config.Mantis.Validate(); err != nil {
		return fmt.Errorf("scheduler enabled but tracker not configured: %w", err)
	}

	a.scheduler = cron.New(cron.WithSeconds())
	_, err := a.scheduler.AddFunc(a.Config.Scheduler.Schedule, func() {
		jobID, err := a.RefreshRunner.Start()
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduled refresh skipped")
			return
		}
		a.Logger.Info().Str("job_id", jobID).Msg("Scheduled refresh started")
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", a.Config.Scheduler.Schedule, err)
	}

	a.scheduler.Start()
	a.Logger.Info().Str("schedule", a.Config.Scheduler.Schedule).Msg("Scheduler started")
	return nil
}

// Close stops background components.
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	return nil
}
