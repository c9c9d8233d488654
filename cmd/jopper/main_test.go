package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/jopper/internal/config"
)

// setupEnv points every jopper path at a temp dir and supplies the required
// settings through the environment. It returns the config file path.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")

	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("JOPPER_CONFIG_FILE", cfgFile)
	t.Setenv("JOPPER_STATE_DB_PATH", filepath.Join(dir, "state.db"))
	t.Setenv("JOPPER_JOPLIN_TOKEN", "joplin-secret")
	t.Setenv("JOPPER_OPENWEBUI_URL", "http://owui.test")
	t.Setenv("JOPPER_OPENWEBUI_API_KEY", "owui-secret")
	t.Setenv("JOPPER_LOG_FILE", "")
	t.Setenv("JOPPER_SERVER_PORT", "")

	old := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(old)
		configPath = ""
	})
	return cfgFile
}

// execute runs the root command and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeCapture(t, args...)
	return out, err
}

// executeCapture runs the root command and returns its stdout and stderr.
func executeCapture(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		msgOut = os.Stderr
	})
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "jopper version dev\n", out)
}

func TestConfigShow_JSONRedactsSecrets(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "config", "show", "--format", "json")
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "http://owui.test", m["openwebui.url"])
	assert.Equal(t, "***cret", m["joplin.token"])
	assert.Equal(t, "***cret", m["openwebui.api_key"])
	assert.NotContains(t, out, "joplin-secret")
}

func TestConfigShow_Text(t *testing.T) {
	cfgFile := setupEnv(t)
	noColor = true
	t.Cleanup(func() { noColor = false })

	out, err := execute(t, "config", "show", "--format", "text")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# "+cfgFile+"\n"))
	assert.Contains(t, out, "  sync.mode = all\n")
}

func TestConfigShow_UnknownFormat(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "config", "show", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestConfigSet_WritesFile(t *testing.T) {
	cfgFile := setupEnv(t)

	_, err := execute(t, "config", "set", "sync.interval_minutes", "15", "--config", cfgFile)
	require.NoError(t, err)

	cfg, err := config.LoadFile(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Sync.IntervalMinutes)
}

func TestConfigSet_RefusesSecrets(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "config", "set", "joplin.token", "x")
	assert.Error(t, err)
}

func TestMissingRequiredConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("JOPPER_JOPLIN_TOKEN", "")

	_, err := execute(t, "status", "--format", "json")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestStatus_JSON(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "status", "--format", "json")
	require.NoError(t, err)

	var st struct {
		Config map[string]any `json:"config"`
		Stats  struct {
			TotalNotes int             `json:"total_notes"`
			LastSync   json.RawMessage `json:"last_sync"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "localhost:41184", st.Config["joplin_host"])
	assert.Zero(t, st.Stats.TotalNotes)
	assert.Equal(t, "null", string(st.Stats.LastSync))
	assert.NotContains(t, out, "secret")
}

func TestStatus_Text(t *testing.T) {
	setupEnv(t)

	out, _, err := executeCapture(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Joplin:")
	assert.Contains(t, out, "localhost:41184")
	assert.Contains(t, out, "http://owui.test")
	assert.Contains(t, out, "Synced notes:")
	assert.Contains(t, out, "never")
	assert.NotContains(t, out, "secret")
}

func TestMessagesGoToCommandStderr(t *testing.T) {
	cfgFile := setupEnv(t)

	out, errOut, err := executeCapture(t, "--config", cfgFile, "config", "set", "sync.interval_minutes", "15")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Set sync.interval_minutes = 15")
}

func TestFprintStatus(t *testing.T) {
	old := noColor
	t.Cleanup(func() { noColor = old })
	noColor = true

	var buf bytes.Buffer
	fprintStatus(&buf, "Errors", "%d", 3)
	assert.Equal(t, "  Errors:          3\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewLogger_Stderr(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn"}, false, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "note_id", "n1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "note_id=n1")

	buf.Reset()
	newLogger(config.LogConfig{Level: "warn"}, true, &buf).Debug("verbose")
	assert.Contains(t, buf.String(), "verbose")
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "jopper.log")
	var stderr bytes.Buffer

	newLogger(config.LogConfig{Level: "info", File: path}, false, &stderr).Info("to file")

	assert.Empty(t, stderr.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestColorize(t *testing.T) {
	old := noColor
	t.Cleanup(func() { noColor = old })

	noColor = true
	assert.Equal(t, "test", colorize(colorRed, "test"))

	noColor = false
	assert.Equal(t, colorRed+"test"+colorReset, colorize(colorRed, "test"))
}
