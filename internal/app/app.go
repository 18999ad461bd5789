package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/linkaudit/internal/common"
	"github.com/ternarybob/linkaudit/internal/interfaces"
	"github.com/ternarybob/linkaudit/internal/services/alerts"
	"github.com/ternarybob/linkaudit/internal/services/audit"
	"github.com/ternarybob/linkaudit/internal/services/fetch"
	"github.com/ternarybob/linkaudit/internal/services/mailer"
	"github.com/ternarybob/linkaudit/internal/services/pdf"
	"github.com/ternarybob/linkaudit/internal/services/scanner"
	"github.com/ternarybob/linkaudit/internal/services/scheduler"
	"github.com/ternarybob/linkaudit/internal/services/schema"
	"github.com/ternarybob/linkaudit/internal/storage"
	"github.com/ternarybob/linkaudit/internal/storage/badger"
)

// AuditJobName is the cron job that runs every active collection
const AuditJobName = "audit"

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager *badger.Manager

	Registry  *schema.Registry
	Fetcher   *fetch.Fetcher
	Scanner   *scanner.Scheduler
	Mailer    *mailer.Service
	Notifier  *alerts.Notifier
	Audit     *audit.Service
	Runner    *audit.Runner
	Scheduler *scheduler.Service
}

// New initializes the application with all dependencies
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.Logger.Info().
		Strs("formats", app.Registry.Formats()).
		Int("max_threads", cfg.Audit.MaxThreads).
		Str("email_mode", app.Mailer.Mode()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the store and loads the collection registry
func (a *App) initDatabase(ctx context.Context) error {
	manager, err := storage.NewStorageManager(ctx, a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager

	a.Logger.Debug().
		Str("path", a.Config.Storage.Badger.Path).
		Str("collections_file", a.Config.Collections.File).
		Msg("Storage initialized")
	return nil
}

// initServices wires the audit pipeline bottom-up
func (a *App) initServices() error {
	// 1. Format registry: inline definitions first, then the formats directory
	a.Registry = schema.NewRegistry(a.Logger)
	for name, def := range a.Config.Formats.Definitions {
		if def.Name == "" {
			def.Name = name
		}
		if err := a.Registry.Register(def); err != nil {
			return fmt.Errorf("invalid format definition %s: %w", name, err)
		}
	}
	loaded, failed := a.Registry.LoadDir(a.Config.Formats.Dir)
	a.Logger.Debug().
		Str("dir", a.Config.Formats.Dir).
		Int("loaded", loaded).
		Int("errors", failed).
		Msg("Format definitions loaded")
	if len(a.Registry.Formats()) == 0 {
		a.Logger.Warn().Msg("No metadata formats registered, every collection will fail")
	}

	// 2. Fetch and scan
	a.Fetcher = fetch.NewFetcher(fetch.NewConfig(a.Config.Audit), pdf.NewExtractor(a.Logger), a.Logger)
	a.Scanner = scanner.NewScheduler(a.Fetcher, scanner.Config{
		MaxConcurrency: a.Config.Audit.MaxThreads,
		Timeout:        a.Config.Audit.TimeoutDuration(),
		RateLimit:      a.Config.Audit.RateLimit,
	}, a.Logger)

	// 3. Delivery
	var transport interfaces.MailTransport
	if a.Config.Email.Mode == common.EmailModePrint {
		transport = mailer.NewPrintTransport(os.Stdout)
	} else {
		transport = mailer.NewSMTPTransport(a.Config.Email.Username, a.Config.Email.Password, a.Config.Email.UseTLS, a.Logger)
		if strings.TrimSpace(a.Config.Email.Host) == "" {
			a.Logger.Warn().Msg("email.host is not set, report delivery will fail")
		}
	}
	a.Mailer = mailer.NewService(a.Config.Email, transport, a.Logger)

	var renderer alerts.PDFRenderer
	if a.Config.Email.AttachPDF {
		renderer = pdf.NewReportRenderer(a.Logger)
	}
	a.Notifier = alerts.NewNotifier(a.StorageManager, a.Mailer, renderer, a.Logger)

	// 4. Audit
	auditConfig, err := audit.NewConfig(a.Config)
	if err != nil {
		return err
	}
	a.Audit = audit.NewService(a.StorageManager, a.Registry, a.Scanner, a.Notifier, auditConfig, a.Logger)
	a.Runner = audit.NewRunner(a.Audit, auditConfig.ParallelCollections, a.Logger)

	a.Scheduler = scheduler.NewService(a.Logger)

	return nil
}

// RunOnce audits the selected collections, or every active one
func (a *App) RunOnce(ctx context.Context, selectors []string) (audit.RunSummary, error) {
	return a.Runner.Run(ctx, selectors)
}

// Serve registers the audit job on the configured schedule and starts the
// scheduler. The caller stops it with Close.
func (a *App) Serve(ctx context.Context, selectors []string) error {
	schedule := a.Config.Scheduler.Schedule
	err := a.Scheduler.RegisterJob(AuditJobName, schedule, "audit collections", func() error {
		summary, err := a.Runner.Run(ctx, selectors)
		if err != nil {
			return err
		}
		if summary.HasFailures() {
			return fmt.Errorf("%d of %d collections failed", summary.Failed, len(summary.Collections))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := a.Scheduler.Start(); err != nil {
		return err
	}

	// First audit runs now rather than at the first cron tick
	if err := a.Scheduler.TriggerJob(AuditJobName); err != nil {
		return err
	}

	event := a.Logger.Info().Str("schedule", schedule)
	if status, err := a.Scheduler.GetJobStatus(AuditJobName); err == nil && status.NextRun != nil {
		event = event.Str("next_run", status.NextRun.Format(time.RFC3339))
	}
	event.Msg("Audit daemon started")
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.Scheduler != nil && a.Scheduler.IsRunning() {
		if err := a.Scheduler.DisableJob(AuditJobName); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to disable audit job")
		}
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
		for name, status := range a.Scheduler.GetAllJobStatuses() {
			event := a.Logger.Info().Str("job_name", name)
			if status.LastRun != nil {
				event = event.Str("last_run", status.LastRun.Format(time.RFC3339))
			}
			if status.LastError != "" {
				event = event.Str("last_error", status.LastError)
			}
			event.Msg("Scheduled job final status")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
