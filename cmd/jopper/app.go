package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/joplin"
	"github.com/kalambet/jopper/internal/openwebui"
	"github.com/kalambet/jopper/internal/scheduler"
	"github.com/kalambet/jopper/internal/state"
	"github.com/kalambet/jopper/internal/syncer"
	"github.com/kalambet/jopper/internal/telemetry"
)

// app holds the components shared by the sync, daemon and mcp commands.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *state.Store
	joplin *joplin.Client
	owui   *openwebui.Client
	engine *syncer.Engine
	sched  *scheduler.Scheduler
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, err
	}

	rec, err := telemetry.NewRecorder(telemetry.Meter(""))
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	jc := joplin.New(cfg.Joplin.URL(), cfg.Joplin.Token)
	oc := openwebui.New(openwebui.Config{
		URL:               cfg.OpenWebUI.URL,
		APIKey:            cfg.OpenWebUI.APIKey,
		KnowledgeBaseName: cfg.OpenWebUI.KnowledgeBaseName,
		CollectionID:      cfg.OpenWebUI.CollectionID,
		Logger:            logger,
	})
	engine := syncer.NewEngine(jc, oc, store, syncer.Options{
		Mode:     cfg.Sync.Mode,
		Tags:     cfg.Sync.Tags,
		Logger:   logger,
		AfterRun: rec.RecordRun,
	})

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		joplin: jc,
		owui:   oc,
		engine: engine,
		sched:  scheduler.New(engine, cfg.Sync.Interval(), logger),
	}, nil
}

// ensureJoplin makes the Joplin Data API reachable. When jopper manages the
// server it is started (after an optional upstream pull) and the returned
// stop function shuts it down again. Otherwise the API must already answer.
func (a *app) ensureJoplin(ctx context.Context) (stop func(), err error) {
	noop := func() {}
	jc := a.cfg.Joplin

	if !jc.ManageServer {
		if !a.joplin.Ping(ctx) {
			return noop, fmt.Errorf("%w: nothing answers at %s", joplin.ErrNotReady, jc.URL())
		}
		return noop, nil
	}

	settings, err := config.JoplinSettings(jc)
	if err != nil {
		return noop, err
	}
	sup := joplin.NewSupervisor(joplin.SupervisorConfig{
		Binary:      jc.Binary,
		ProfileDir:  jc.ProfileDir,
		Host:        jc.Host,
		Port:        jc.Port,
		Settings:    settings,
		Logger:      a.logger,
		SyncTimeout: jc.SyncTimeout,
	})
	if err := sup.EnsureSettings(); err != nil {
		return noop, fmt.Errorf("writing joplin settings: %w", err)
	}

	printStep("Starting Joplin server on port %d...", jc.Port)
	if !sup.Start(ctx, jc.StartTimeout, jc.SyncFirst) {
		return noop, fmt.Errorf("%w: server did not start within %s (state %s)", joplin.ErrNotReady, jc.StartTimeout, sup.State())
	}
	printSuccess("Joplin server ready")
	return sup.Stop, nil
}

func printResult(res syncer.RunResult) {
	if res.Interrupted {
		printWarning("Sync interrupted")
	}
	printStatus("Created", "%d", res.Created)
	printStatus("Updated", "%d", res.Updated)
	printStatus("Deleted", "%d", res.Deleted)
	printStatus("Errors", "%d", res.Errors)
	printStatus("Duration", "%s", res.Duration.Round(time.Millisecond))
}
