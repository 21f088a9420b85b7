package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/agents"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/cache"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/config"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/db"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/db/sqlite"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/llm"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/pipeline"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/render"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/server"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/storage/objectstore"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/variations"
)

// migrator is implemented by the SQL stores
type migrator interface {
	Migrate(ctx context.Context) error
	MigrationVersion(ctx context.Context) (int64, error)
}

// app holds the collaborators shared by every command
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	history  history.Store
	cache    cache.Store
	migrator migrator
	objects  *objectstore.Store
	checks   []server.ReadinessCheck
	closers  []func()
}

// newApp opens the configured stores. Callers must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}
	if cfg.ObjectStore.Enabled {
		objects, err := objectstore.New(cfg.ObjectStore)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := objects.EnsureBuckets(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.objects = objects
		a.checks = append(a.checks, server.ReadinessCheck{Name: "object_store", Check: objects.CheckBuckets})
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := db.Connect(ctx, a.cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.history, a.cache, a.migrator = pg.History(), pg, pg
		a.checks = append(a.checks, server.ReadinessCheck{Name: "postgres", Check: pg.Ping})
	case config.DriverSQLite:
		lite, err := sqlite.Open(ctx, a.cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = lite.Close() })
		a.history, a.cache, a.migrator = lite, lite, lite
		a.checks = append(a.checks, server.ReadinessCheck{Name: "sqlite", Check: lite.Ping})
	default:
		a.history, a.cache = history.NewMemoryStore(), cache.NewMemoryStore()
		a.logger.Warn("using in-memory store; history is lost on exit")
		return nil
	}

	if a.cfg.Store.AutoMigrate {
		if err := a.migrator.Migrate(ctx); err != nil {
			return err
		}
	}
	a.logger.Debug("store ready", "driver", a.cfg.Store.Driver)
	return nil
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// stack is the agent chain with history recording attached
type stack struct {
	runs     *pipeline.Orchestrator
	agent    *agents.Invoker
	recorder *history.Recorder
}

func (a *app) buildStack(ctx context.Context) (*stack, error) {
	if a.cfg.LLM.APIKey == "" {
		return nil, errors.New("an LLM API key is required: set REEL_LLM__API_KEY or GEMINI_API_KEY")
	}
	client, err := llm.NewClient(ctx, a.cfg.LLMSettings(), a.cfg.LLM.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	agent := agents.NewInvoker(client, a.logger)
	recorder := history.NewRecorder(a.history, a.cfg.Pricing, a.logger)
	opts := pipeline.Options{
		Cache:     cache.New(a.cache, a.cfg.CacheSettings(), a.logger),
		Observers: []pipeline.Observer{recorder},
		Strict:    a.cfg.Pipeline.StrictTransitions,
		Logger:    a.logger,
	}
	if a.objects != nil {
		opts.Images = a.objects
	}
	return &stack{runs: pipeline.New(agent, opts), agent: agent, recorder: recorder}, nil
}

// renderRunner returns nil when no rendering service is configured
func (a *app) renderRunner() (*render.Runner, error) {
	if a.cfg.Render.BaseURL == "" {
		return nil, nil
	}
	client, err := render.NewClient(a.cfg.RenderSettings(), a.logger)
	if err != nil {
		return nil, err
	}
	var archiver render.Archiver
	if a.cfg.Render.Archive && a.objects != nil {
		archiver = a.objects
	}
	return render.NewRunner(client, archiver, a.cfg.Render.Concurrency), nil
}

func (a *app) variationEngine(s *stack, previews *render.Runner) (*variations.Engine, error) {
	opts := variations.Options{
		Width:     a.cfg.Variations.Width,
		Observers: []pipeline.Observer{s.recorder},
		Logger:    a.logger,
	}
	if previews != nil {
		opts.Previewer = previews
	}
	return variations.NewEngine(s.runs, s.agent, opts)
}

// readProductImage loads a photo from disk and identifies its type
func readProductImage(path string) (pipeline.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return pipeline.Input{}, fmt.Errorf("%s is not an image (detected %s)", path, mimeType)
	}
	return pipeline.Input{Image: data, MIMEType: mimeType, Filename: filepath.Base(path)}, nil
}
