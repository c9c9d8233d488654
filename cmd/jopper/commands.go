package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/joplin"
	"github.com/kalambet/jopper/internal/openwebui"
	"github.com/kalambet/jopper/internal/state"
	"github.com/kalambet/jopper/internal/syncer"
	"github.com/kalambet/jopper/internal/telemetry"
)

// initTelemetry installs the meter provider and returns its flush function.
func initTelemetry(ctx context.Context) func() {
	if err := telemetry.Init(ctx, "jopper", version); err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync from Joplin to OpenWebUI",
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

		printStep("Syncing notes...")
		res, err := a.sched.TriggerNow(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printResult(res)
		if res.Errors > 0 {
			printWarning("Sync finished with %d error(s)", res.Errors)
			return nil
		}
		printSuccess("Sync complete")
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync configuration and statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		check, _ := cmd.Flags().GetBool("check")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := state.Open(cfg.State.Path)
		if err != nil {
			return err
		}
		st, err := syncer.ReadStatus(cfg, store)
		if err != nil {
			return err
		}

		if format == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printStatusReport(cmd.OutOrStdout(), st)

		if check {
			checkServices(cmd.Context(), cfg)
		}
		return nil
	},
}

// printStatusReport writes the human-readable status to w.
func printStatusReport(w io.Writer, st syncer.Status) {
	c := st.Config
	fprintStatus(w, "Joplin", "%s", c.JoplinHost)
	fprintStatus(w, "OpenWebUI", "%s", c.OpenWebUIURL)
	fprintStatus(w, "Knowledge base", "%s", c.KnowledgeBaseName)
	if c.CollectionID != "" {
		fprintStatus(w, "Collection", "%s", c.CollectionID)
	}
	if c.SyncMode == config.ModeTagged {
		fprintStatus(w, "Mode", "%s (%s)", c.SyncMode, strings.Join(c.SyncTags, ", "))
	} else {
		fprintStatus(w, "Mode", "%s", c.SyncMode)
	}
	fprintStatus(w, "Interval", "%d min", c.SyncIntervalMinutes)
	fprintStatus(w, "State", "%s", c.StatePath)
	fprintStatus(w, "Synced notes", "%d", st.Stats.TotalNotes)

	last := st.Stats.LastSync
	if last == nil {
		fprintStatus(w, "Last sync", "never")
		return
	}
	fprintStatus(w, "Last sync", "%s (%d created, %d updated, %d deleted, %d errors)",
		last.Timestamp.Local().Format(time.DateTime), last.Created, last.Updated, last.Deleted, last.Errors)
}

// checkServices probes the daemon, Joplin and OpenWebUI and reports whether
// the configured collection exists.
func checkServices(ctx context.Context, cfg config.Config) {
	if client, err := newAPIClient(cfg); err == nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		resp, err := client.get(probeCtx, "/health")
		cancel()
		if err == nil {
			resp.Body.Close()
			printSuccess("Daemon running on port %d", cfg.Server.Port)
		} else {
			printStatus("Daemon", "not running")
		}
	}

	if joplin.New(cfg.Joplin.URL(), cfg.Joplin.Token).Ping(ctx) {
		printSuccess("Joplin Data API reachable")
	} else {
		printWarning("Joplin Data API not reachable at %s", cfg.Joplin.URL())
	}

	owui := openwebui.New(openwebui.Config{URL: cfg.OpenWebUI.URL, APIKey: cfg.OpenWebUI.APIKey})
	kbs := owui.ListKnowledge(ctx)
	if kbs == nil {
		printWarning("Could not list OpenWebUI knowledge bases")
		return
	}
	printSuccess("OpenWebUI reachable (%d knowledge bases)", len(kbs))

	id := cfg.OpenWebUI.CollectionID
	for _, kb := range kbs {
		if id != "" && kb.ID == id {
			printSuccess("Collection %s is %q", id, kb.Name)
			return
		}
		if id == "" && kb.Name == cfg.OpenWebUI.KnowledgeBaseName {
			printStep("Knowledge base %q has id %s; set openwebui.collection_id to attach files to it", kb.Name, kb.ID)
			return
		}
	}
	if id != "" {
		printWarning("Collection %s not found in OpenWebUI", id)
	}
}

func init() {
	statusCmd.Flags().String("format", "text", "output format: text or json")
	statusCmd.Flags().Bool("check", false, "also probe Joplin and OpenWebUI")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys := config.ShowAll(cfg)

		out := cmd.OutOrStdout()
		switch format {
		case "json":
			m := make(map[string]string, len(keys))
			for _, k := range keys {
				m[k.Key] = k.Value
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		case "text":
			fmt.Fprintf(out, "# %s\n", cfg.File)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
			}
			return nil
		default:
			return fmt.Errorf("unknown format %q (want text or json)", format)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		path := configPath
		if path == "" {
			path = config.ConfigFilePath()
		}
		if err := config.SetKey(path, key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configShowCmd.Flags().String("format", "text", "output format: text or json")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- trigger ---

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask a running daemon to sync now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newAPIClient(cfg)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}
		var res syncer.RunResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printResult(res)
		printSuccess("Sync complete")
		return nil
	},
}
