package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/jopper/internal/api"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync on a fixed interval until interrupted",
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

		stopJoplin, err := a.ensureJoplin(ctx)
		if err != nil {
			return err
		}
		defer stopJoplin()

		printSuccess("jopper daemon started, syncing every %s", a.sched.Interval())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.sched.Run(gctx)
			return nil
		})

		if cfg.Server.Port > 0 {
			srv := &http.Server{
				Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
				Handler: api.NewAppHandler(api.AppDeps{
					Config: cfg,
					Store:  a.store,
					Sync:   a.sched,
					Token:  cfg.Server.Token,
				}),
				BaseContext: func(_ net.Listener) context.Context {
					return gctx
				},
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error {
				slog.Info("status server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("status server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		err = g.Wait()
		printStep("shutting down...")
		return err
	},
}
