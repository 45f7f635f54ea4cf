// Package app wires the ledger, extraction, archive and notification stack
// from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/voice-ledger/internal/archive"
	"github.com/dvloznov/voice-ledger/internal/capture"
	"github.com/dvloznov/voice-ledger/internal/config"
	"github.com/dvloznov/voice-ledger/internal/extraction"
	"github.com/dvloznov/voice-ledger/internal/jobs"
	"github.com/dvloznov/voice-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/voice-ledger/internal/ledger"
	ledgerbq "github.com/dvloznov/voice-ledger/internal/ledger/bigquery"
	"github.com/dvloznov/voice-ledger/internal/ledger/memory"
	"github.com/dvloznov/voice-ledger/internal/ledger/sqlite"
	"github.com/dvloznov/voice-ledger/internal/logger"
	"github.com/dvloznov/voice-ledger/internal/notify"
	"github.com/dvloznov/voice-ledger/internal/voiceflow"
	"github.com/rs/zerolog"
)

const archiveQueueSize = 100

// App holds the wired components.
type App struct {
	Repo      *ledger.CachedRepository
	Committer *voiceflow.Committer
	Deps      voiceflow.Deps
	Capture   capture.Config

	// Jobs is nil when no archive sink is configured.
	Jobs jobs.Store

	queue   *inmemory.Queue
	sinks   []archive.Sink
	closers []func() error
	log     zerolog.Logger
}

// New builds the application from cfg. Components that are not configured
// are left out and logged.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{log: log}

	repo, bq, err := a.openLedger(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Repo = ledger.WithReferenceCache(repo, cfg.ReferenceCacheTTL)

	if err := a.buildArchive(ctx, cfg, bq); err != nil {
		a.Close(ctx)
		return nil, err
	}

	notifier, err := a.buildNotifier(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Committer = voiceflow.NewCommitter(a.Repo, notifier, logger.Component(log, "committer"))

	var recorder extraction.OutputRecorder
	if a.queue != nil {
		recorder = archive.NewRecorder(a.queue, logger.Component(log, "archive"))
	}
	a.Deps = voiceflow.Deps{
		Reference: a.Repo,
		Extractor: extraction.NewClient(a.buildModel(ctx, cfg), recorder, logger.Component(log, "extraction")),
		Committer: a.Committer,
	}
	a.Capture = capture.Config{
		Language:  cfg.CaptureLanguage,
		StopGrace: cfg.CaptureStopGrace,
	}
	return a, nil
}

func (a *App) openLedger(ctx context.Context, cfg *config.Config) (ledger.Repository, *ledgerbq.Repository, error) {
	log := a.log.With().Str("backend", cfg.LedgerBackend).Logger()

	switch cfg.LedgerBackend {
	case config.BackendSQLite:
		repo, err := sqlite.Open(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("openLedger: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		log.Info().Str("path", cfg.SQLiteDBPath).Msg("Ledger opened")
		return repo, nil, nil

	case config.BackendBigQuery:
		repo, err := ledgerbq.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, nil, fmt.Errorf("openLedger: %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		log.Info().Str("project", cfg.BigQueryProject).Str("dataset", cfg.BigQueryDataset).Msg("Ledger opened")
		return repo, repo, nil

	default:
		log.Warn().Msg("Using in-memory ledger; transactions are lost on exit")
		return memory.NewSeeded(), nil, nil
	}
}

func (a *App) buildArchive(ctx context.Context, cfg *config.Config, bq *ledgerbq.Repository) error {
	if cfg.ArchiveBucket != "" {
		store, err := archive.NewGCSStore(ctx, cfg.ArchiveBucket)
		if err != nil {
			return fmt.Errorf("buildArchive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.sinks = append(a.sinks, archive.NewObjectSink(store, ""))
	}
	if bq != nil {
		a.sinks = append(a.sinks, archive.NewTableSink(bq))
	}
	if len(a.sinks) == 0 {
		a.log.Info().Msg("No archive sink configured; model outputs are not kept")
		return nil
	}

	store := inmemory.NewStore()
	a.Jobs = store
	a.queue = inmemory.NewQueue(archiveQueueSize, inmemory.DefaultWorkers, store, logger.Component(a.log, "archive-queue"))
	return nil
}

func (a *App) buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.NotionToken != "" {
		notifiers = append(notifiers, notify.NewNotionMirror(notify.NewNotionClient(cfg.NotionToken), cfg.NotionDatabaseID))
	}
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			return nil, fmt.Errorf("buildNotifier: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		notifiers = append(notifiers, pub)
	}

	fanout := notify.NewFanout(logger.Component(a.log, "notify"), notifiers...)
	if fanout.Len() == 0 {
		return nil, nil
	}
	a.log.Info().Int("notifiers", fanout.Len()).Msg("Transaction notifications enabled")
	return fanout, nil
}

// buildModel returns nil when extraction is unconfigured; calls then fail
// with extraction.ErrServiceUnavailable and manual entry keeps working.
func (a *App) buildModel(ctx context.Context, cfg *config.Config) extraction.Model {
	if !cfg.ExtractionConfigured() {
		a.log.Warn().Msg("GOOGLE_API_KEY not set; voice extraction is disabled")
		return nil
	}
	model, err := extraction.NewGeminiModel(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to create extraction model; voice extraction is disabled")
		return nil
	}
	return model
}

// Start launches the archive workers, if any.
func (a *App) Start(ctx context.Context) error {
	if a.queue == nil {
		return nil
	}
	a.log.Info().Int("sinks", len(a.sinks)).Msg("Starting archive worker")
	return a.queue.Start(ctx, archive.Handler(a.sinks...))
}

// Close stops the archive queue, waiting for in-flight jobs until ctx is
// done, then releases every client.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop archive queue: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
