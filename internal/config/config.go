package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingRequired is wrapped by Load when a required value is absent.
var ErrMissingRequired = errors.New("missing required config")

// Sync modes.
const (
	ModeAll    = "all"
	ModeTagged = "tagged"
)

type Config struct {
	Joplin    JoplinConfig
	OpenWebUI OpenWebUIConfig
	Sync      SyncConfig
	State     StateConfig
	Log       LogConfig
	Server    ServerConfig

	// File is the config file that was consulted (it may not exist).
	File string
}

type JoplinConfig struct {
	Host         string
	Port         int
	Token        string
	ProfileDir   string
	Binary       string
	ManageServer bool
	SyncFirst    bool
	StartTimeout time.Duration
	SyncTimeout  time.Duration
}

// URL returns the base URL of the Joplin Data API.
func (j JoplinConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", j.Host, j.Port)
}

type OpenWebUIConfig struct {
	URL               string
	APIKey            string
	KnowledgeBaseName string
	CollectionID      string
}

type SyncConfig struct {
	Mode            string
	Tags            []string
	IntervalMinutes int
}

// Interval returns the scheduler interval.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

type StateConfig struct {
	Path string
}

type LogConfig struct {
	Level string
	File  string
}

type ServerConfig struct {
	Port  int
	Token string
}

func defaults() Config {
	return Config{
		Joplin: JoplinConfig{
			Host:         "localhost",
			Port:         41184,
			ProfileDir:   defaultProfileDir(),
			Binary:       "joplin",
			ManageServer: true,
			SyncFirst:    true,
			StartTimeout: 60 * time.Second,
			SyncTimeout:  5 * time.Minute,
		},
		OpenWebUI: OpenWebUIConfig{
			KnowledgeBaseName: "Joplin Notes",
		},
		Sync: SyncConfig{
			Mode:            ModeAll,
			IntervalMinutes: 60,
		},
		State: StateConfig{
			Path: filepath.Join(defaultDataDir(), "state.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration with precedence environment > YAML file > defaults.
//
// The file is $JOPPER_CONFIG_FILE when set, otherwise
// $XDG_CONFIG_HOME/jopper/config.yaml. Secrets that neither source provides
// are looked up in the secrets file under the data directory.
func Load() (Config, error) {
	return loadFromPath(ConfigFilePath(), secretsReader{})
}

// LoadFile is Load with an explicit config file path (the --config flag).
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Load()
	}
	return loadFromPath(path, secretsReader{})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadFromPath(path string, secrets secretStore) (Config, error) {
	return loadWith(newFileBackend(path), secrets)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()
	cfg.File = b.Location()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Joplin.Token == "" {
		if v, err := secrets.Get("jopper", "joplin_token"); err == nil && v != "" {
			cfg.Joplin.Token = v
		}
	}
	if cfg.OpenWebUI.APIKey == "" {
		if v, err := secrets.Get("jopper", "openwebui_api_key"); err == nil && v != "" {
			cfg.OpenWebUI.APIKey = v
		}
	}

	cfg.OpenWebUI.URL = strings.TrimRight(cfg.OpenWebUI.URL, "/")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	required := []struct {
		value, what, key string
	}{
		{cfg.Joplin.Token, "Joplin token", "joplin.token"},
		{cfg.OpenWebUI.URL, "OpenWebUI URL", "openwebui.url"},
		{cfg.OpenWebUI.APIKey, "OpenWebUI API key", "openwebui.api_key"},
	}
	for _, r := range required {
		if r.value != "" {
			continue
		}
		return fmt.Errorf("%w: %s. Set it via environment variable %s or %s in %s",
			ErrMissingRequired, r.what, envFor(r.key), r.key, cfg.File)
	}

	switch cfg.Sync.Mode {
	case ModeAll, ModeTagged:
	default:
		return fmt.Errorf("invalid sync.mode %q: must be %q or %q", cfg.Sync.Mode, ModeAll, ModeTagged)
	}
	if cfg.Sync.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid sync.interval_minutes %d: must be positive", cfg.Sync.IntervalMinutes)
	}
	return nil
}

// ConfigFilePath returns the default location of the YAML config file.
func ConfigFilePath() string {
	if p := os.Getenv("JOPPER_CONFIG_FILE"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "jopper", "config.yaml")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "jopper-data"
		}
	}
	return filepath.Join(dir, "jopper")
}

func defaultProfileDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "joplin")
	}
	return filepath.Join(".config", "joplin")
}
