// Package app assembles the pipeline components from configuration. The
// daemon and the CLI share it so both see the same store and policies.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/fallback"
	"github.com/joseph-ayodele/docflow/internal/monitor"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/processor"
	"github.com/joseph-ayodele/docflow/internal/progress"
	"github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/retry"
	"github.com/joseph-ayodele/docflow/internal/server"
	"github.com/joseph-ayodele/docflow/internal/validate"
)

// App holds the wired components.
type App struct {
	Config       *common.Config
	DB           *repository.DB
	Store        repository.JobStore
	Registry     *processor.Registry
	Tracker      *progress.Tracker
	Orchestrator *pipeline.Orchestrator
	Monitor      *monitor.Monitor
	Health       *server.HealthBridge
	Mirror       *progress.RedisMirror

	logger *slog.Logger
}

// Build opens the store and wires every component. Optional integrations
// (OCR, Redis) are skipped with a warning when unavailable.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, store, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a, err := Wire(store, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.DB = db

	if cfg.Redis.URL != "" {
		mirror, err := progress.NewRedisMirror(cfg.Redis.URL, cfg.Redis.TTL, logger)
		switch {
		case err != nil:
			logger.Warn("redis progress mirror disabled", "error", err)
		case mirror.Ping(ctx) != nil:
			logger.Warn("redis progress mirror unreachable; disabled", "url", cfg.Redis.URL)
			_ = mirror.Close()
		default:
			a.Tracker.Subscribe(mirror.Callback())
			a.Mirror = mirror
			logger.Info("redis progress mirror enabled")
		}
	}
	return a, nil
}

// Wire builds the components over an already open store.
func Wire(store repository.JobStore, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc := cfg.Pipeline
	registry := processor.NewDefaultRegistry(logger, pc.SupportedFormats...)

	var recognizer fallback.Recognizer
	ocrEnabled := false
	if pc.OCREnabled {
		engine := ocr.NewEngine(ocr.Config{
			Pdftoppm:            cfg.OCR.Pdftoppm,
			Tesseract:           cfg.OCR.Tesseract,
			Lang:                cfg.OCR.Language,
			DPI:                 cfg.OCR.DPI,
			TessdataDir:         cfg.OCR.TessdataDir,
			EnableTSVConfidence: true,
		}, nil, logger)
		if engine.Available() {
			recognizer, ocrEnabled = engine, true
		} else {
			logger.Warn("ocr enabled but pdftoppm or tesseract not found; ocr fallback disabled")
		}
	}

	tracker := progress.NewTracker(pc.ProgressClearDelay, logger)
	scheduler := retry.NewScheduler(store, retry.NewPolicy(cfg.Retry), logger)
	orch, err := pipeline.New(pipeline.Deps{
		Store:     store,
		Validator: validate.New(validate.Config{MaxFileSize: pc.MaxFileSize, SupportedFormats: pc.SupportedFormats}, logger),
		Registry:  registry,
		Chain:     fallback.NewDefaultChain(pc.MinTextLength, registry, recognizer, ocrEnabled, pc.DefaultTimeout, logger),
		Scheduler: scheduler,
		Tracker:   tracker,
		Breakers:  pipeline.NewBreakers(pipeline.DefaultBreakerSettings(), logger),
	}, pipeline.FromCommon(pc), logger)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	health := server.NewHealthBridge(logger)
	mcfg := monitor.FromCommon(cfg.Monitor)
	if err := mcfg.Validate(); err != nil {
		return nil, fmt.Errorf("monitor config: %w", err)
	}
	mon := monitor.New(store, mcfg, logger,
		monitor.OnRecovered(orch.OnRecovered),
		monitor.OnHealth(health.Update),
	)

	return &App{
		Config:       cfg,
		Store:        store,
		Registry:     registry,
		Tracker:      tracker,
		Orchestrator: orch,
		Monitor:      mon,
		Health:       health,
		logger:       logger,
	}, nil
}

// Close releases the database and the Redis client.
func (a *App) Close() {
	if a.Mirror != nil {
		if err := a.Mirror.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	server.CloseDB(a.DB, a.logger)
}
