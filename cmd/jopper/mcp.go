package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/jopper/internal/api"
	"github.com/kalambet/jopper/internal/syncer"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the sync tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		defer initTelemetry(ctx)()

		a, err := newApp(cfg, slog.Default())
		if err != nil {
			return err
		}
		trig := &lazyJoplinTrigger{app: a}
		defer trig.close()

		s := api.NewMCPServer(api.MCPDeps{Config: cfg, Store: a.store, Sync: trig}, version)
		stdio := server.NewStdioServer(s)
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// lazyJoplinTrigger brings the Joplin server up on the first sync request
// and keeps it running until close.
type lazyJoplinTrigger struct {
	app *app

	mu    sync.Mutex
	ready bool
	stop  func()
}

func (t *lazyJoplinTrigger) TriggerNow(ctx context.Context) (syncer.RunResult, error) {
	t.mu.Lock()
	if !t.ready {
		stop, err := t.app.ensureJoplin(ctx)
		if err != nil {
			t.mu.Unlock()
			return syncer.RunResult{}, err
		}
		t.ready, t.stop = true, stop
	}
	t.mu.Unlock()
	return t.app.sched.TriggerNow(ctx)
}

func (t *lazyJoplinTrigger) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
	}
}
