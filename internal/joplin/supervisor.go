package joplin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotReady is returned by callers when the Data API cannot be reached.
var ErrNotReady = errors.New("joplin server is not ready")

// errExited signals that the child died while we were waiting for it.
var errExited = errors.New("joplin server process exited")

const (
	defaultPollInterval = 2 * time.Second
	defaultStopGrace    = 10 * time.Second
	defaultSyncTimeout  = 5 * time.Minute
	outputLimit         = 64 << 10
)

// State is the lifecycle state of the supervised server.
type State int

const (
	Stopped State = iota
	Starting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Binary is the Joplin CLI executable.
	Binary     string
	ProfileDir string
	Host       string
	Port       int
	// Settings is the settings document passed to the CLI. Its api.token is
	// what EnsureSettings persists.
	Settings map[string]any
	Logger   *slog.Logger

	// SyncTimeout bounds the upstream pull run by Start. Default 5m.
	SyncTimeout time.Duration

	PollInterval time.Duration
	StopGrace    time.Duration
}

// Supervisor owns the local `joplin server` process that serves the Data API.
type Supervisor struct {
	cfg        SupervisorConfig
	logger     *slog.Logger
	httpClient *http.Client

	// lifecycle serializes Start and Stop; mu guards the fields below and
	// is never held across process or network calls.
	lifecycle sync.Mutex

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	exited chan struct{}
	output *tailBuffer
}

// NewSupervisor creates a Supervisor. Nothing is started until Start.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "joplin"
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:        cfg,
		logger:     logger.With("component", "joplin-supervisor"),
		httpClient: &http.Client{},
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether a process started by this supervisor is still alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

// Output returns the tail of the last spawned server's combined output.
func (s *Supervisor) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output == nil {
		return ""
	}
	return s.output.String()
}

func (s *Supervisor) aliveLocked() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Start brings the Data API online and reports whether it became ready.
//
// An already tracked live process, or any server already answering on the
// configured port, counts as ready without spawning anything. When pullFirst
// is set an upstream sync runs before the server is spawned; its failure is
// logged and startup continues with the local data.
//
// State and IsRunning stay responsive while Start pulls or polls.
func (s *Supervisor) Start(ctx context.Context, timeout time.Duration, pullFirst bool) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.aliveLocked() {
		pid := s.cmd.Process.Pid
		s.mu.Unlock()
		s.logger.Info("joplin server already running", "pid", pid)
		return true
	}
	s.mu.Unlock()

	if s.probe(ctx) {
		s.logger.Info("joplin server already available, not starting one", "port", s.cfg.Port)
		s.setState(Ready)
		return true
	}

	s.setState(Starting)
	if pullFirst {
		if !s.TriggerUpstreamPull(ctx, s.cfg.SyncTimeout) {
			s.logger.Warn("joplin sync failed, continuing with cached notes")
		}
	}

	s.logger.Info("starting joplin server", "port", s.cfg.Port, "profile", s.cfg.ProfileDir)

	env, err := s.env()
	if err != nil {
		s.logger.Error("preparing joplin environment", "error", err)
		s.setState(Failed)
		return false
	}

	out := &tailBuffer{limit: outputLimit}
	cmd := exec.Command(s.cfg.Binary, "server", "start", "--profile", s.cfg.ProfileDir)
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			s.logger.Error("joplin CLI not found; make sure it is on PATH", "binary", s.cfg.Binary)
		} else {
			s.logger.Error("failed to start joplin server", "error", err)
		}
		s.setState(Failed)
		return false
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	s.mu.Lock()
	s.cmd, s.exited, s.output = cmd, exited, out
	s.mu.Unlock()
	s.logger.Info("joplin server process started", "pid", cmd.Process.Pid)

	if err := s.waitReady(ctx, exited, timeout); err != nil {
		if errors.Is(err, errExited) {
			s.logger.Error("joplin server process died during startup", "output", out.String())
		} else {
			s.logger.Error("joplin server did not become ready", "timeout", timeout, "error", err)
		}
		s.stop()
		s.setState(Failed)
		return false
	}

	s.setState(Ready)
	s.logger.Info("joplin server is ready", "port", s.cfg.Port)
	return true
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// waitReady polls the liveness probe at a fixed interval until it succeeds,
// the child exits, or timeout elapses.
func (s *Supervisor) waitReady(ctx context.Context, exited <-chan struct{}, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	op := func() error {
		select {
		case <-exited:
			return backoff.Permanent(errExited)
		default:
		}
		if s.probe(waitCtx) {
			return nil
		}
		return ErrNotReady
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.PollInterval), waitCtx)
	return backoff.Retry(op, b)
}

// probe dials the port and then expects 200 from GET /ping.
func (s *Supervisor) probe(ctx context.Context) bool {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()

	if !ping(ctx, s.httpClient, "http://"+addr) {
		s.logger.Debug("port is open but not answering as joplin", "port", s.cfg.Port)
		return false
	}
	return true
}

// Stop terminates the tracked process: SIGTERM, then SIGKILL after the grace
// period. It is a no-op when nothing is tracked.
func (s *Supervisor) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop()
}

// stop must be called with lifecycle held.
func (s *Supervisor) stop() {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	s.mu.Unlock()
	if cmd == nil {
		return
	}
	defer func() {
		s.mu.Lock()
		s.cmd, s.exited = nil, nil
		s.state = Stopped
		s.mu.Unlock()
	}()

	pid := cmd.Process.Pid
	s.logger.Info("stopping joplin server", "pid", pid)

	select {
	case <-exited:
		return
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("SIGTERM failed, killing", "pid", pid, "error", err)
		_ = cmd.Process.Kill()
		<-exited
		return
	}

	select {
	case <-exited:
	case <-time.After(s.cfg.StopGrace):
		s.logger.Warn("joplin server did not stop gracefully, killing", "pid", pid)
		_ = cmd.Process.Kill()
		<-exited
	}
	s.logger.Info("joplin server stopped", "pid", pid)
}

// TriggerUpstreamPull runs `joplin sync` once so the local profile picks up
// remote changes. It returns false on a non-zero exit, a timeout, or a
// missing executable.
func (s *Supervisor) TriggerUpstreamPull(ctx context.Context, timeout time.Duration) bool {
	env, err := s.env()
	if err != nil {
		s.logger.Error("preparing joplin environment", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("running joplin sync")
	cmd := exec.CommandContext(ctx, s.cfg.Binary, "sync", "--profile", s.cfg.ProfileDir)
	cmd.Env = env
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()

	switch {
	case err == nil:
		s.logger.Info("joplin sync completed")
		return true
	case errors.Is(err, exec.ErrNotFound):
		s.logger.Error("joplin CLI not found, cannot sync", "binary", s.cfg.Binary)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Error("joplin sync timed out", "timeout", timeout)
	default:
		s.logger.Error("joplin sync failed", "error", err, "output", tail(out, outputLimit))
	}
	return false
}

// EnsureSettings makes <profile>/settings.json carry the configured API token.
// The file is only rewritten when the stored token differs or the file cannot
// be read.
func (s *Supervisor) EnsureSettings() error {
	if err := os.MkdirAll(s.cfg.ProfileDir, 0o700); err != nil {
		return fmt.Errorf("creating joplin profile dir: %w", err)
	}
	path := filepath.Join(s.cfg.ProfileDir, "settings.json")

	if data, err := os.ReadFile(path); err == nil {
		var existing map[string]any
		if err := json.Unmarshal(data, &existing); err == nil {
			have, _ := existing["api.token"].(string)
			want, _ := s.cfg.Settings["api.token"].(string)
			if have == want {
				s.logger.Debug("joplin settings already carry the configured token")
				return nil
			}
			s.logger.Info("joplin token mismatch, updating settings file")
		} else {
			s.logger.Warn("could not parse existing joplin settings, rewriting", "error", err)
		}
	}

	data, err := json.MarshalIndent(s.cfg.Settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding joplin settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing joplin settings: %w", err)
	}
	s.logger.Info("wrote joplin settings file", "path", path)
	return nil
}

// env is the parent environment plus the settings document and a HOME that
// points two levels above the profile dir (~/.config/joplin -> ~).
func (s *Supervisor) env() ([]string, error) {
	settings, err := json.Marshal(s.cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("encoding joplin settings: %w", err)
	}
	home := filepath.Dir(filepath.Dir(s.cfg.ProfileDir))
	return append(os.Environ(),
		"JOPLIN_CONFIG_JSON="+string(settings),
		"HOME="+home,
	), nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = append([]byte(nil), b.buf[len(b.buf)-b.limit:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func tail(p []byte, n int) string {
	if len(p) > n {
		p = p[len(p)-n:]
	}
	return string(p)
}
