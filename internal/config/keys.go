package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "joplin.host", typ: kString, env: "JOPPER_JOPLIN_HOST",
		apply:   func(cfg *Config, v any) { cfg.Joplin.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Joplin.Host },
	},
	{
		key: "joplin.port", typ: kInt, env: "JOPPER_JOPLIN_PORT",
		apply:   func(cfg *Config, v any) { cfg.Joplin.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Joplin.Port },
	},
	{
		key: "joplin.token", typ: kString, env: "JOPPER_JOPLIN_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Joplin.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Joplin.Token },
	},
	{
		key: "joplin.profile_dir", typ: kString, env: "JOPLIN_PROFILE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Joplin.ProfileDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Joplin.ProfileDir },
	},
	{
		key: "joplin.binary", typ: kString, env: "JOPPER_JOPLIN_BINARY",
		apply:   func(cfg *Config, v any) { cfg.Joplin.Binary = v.(string) },
		extract: func(cfg Config) any { return cfg.Joplin.Binary },
	},
	{
		key: "joplin.manage_server", typ: kBool, env: "JOPPER_JOPLIN_MANAGE_SERVER",
		apply:   func(cfg *Config, v any) { cfg.Joplin.ManageServer = v.(bool) },
		extract: func(cfg Config) any { return cfg.Joplin.ManageServer },
	},
	{
		key: "joplin.sync_first", typ: kBool, env: "JOPPER_JOPLIN_SYNC_FIRST",
		apply:   func(cfg *Config, v any) { cfg.Joplin.SyncFirst = v.(bool) },
		extract: func(cfg Config) any { return cfg.Joplin.SyncFirst },
	},
	{
		key: "joplin.start_timeout", typ: kDuration, env: "JOPPER_JOPLIN_START_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Joplin.StartTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Joplin.StartTimeout },
	},
	{
		key: "joplin.sync_timeout", typ: kDuration, env: "JOPPER_JOPLIN_SYNC_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Joplin.SyncTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Joplin.SyncTimeout },
	},
	{
		key: "openwebui.url", typ: kString, env: "JOPPER_OPENWEBUI_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenWebUI.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenWebUI.URL },
	},
	{
		key: "openwebui.api_key", typ: kString, env: "JOPPER_OPENWEBUI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenWebUI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenWebUI.APIKey },
	},
	{
		key: "openwebui.knowledge_base_name", typ: kString, env: "JOPPER_OPENWEBUI_KB_NAME",
		apply:   func(cfg *Config, v any) { cfg.OpenWebUI.KnowledgeBaseName = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenWebUI.KnowledgeBaseName },
	},
	{
		key: "openwebui.collection_id", typ: kString, env: "JOPPER_OPENWEBUI_COLLECTION_ID",
		apply:   func(cfg *Config, v any) { cfg.OpenWebUI.CollectionID = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenWebUI.CollectionID },
	},
	{
		key: "sync.mode", typ: kString, env: "JOPPER_SYNC_MODE",
		apply:   func(cfg *Config, v any) { cfg.Sync.Mode = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Sync.Mode },
	},
	{
		key: "sync.tags", typ: kList, env: "JOPPER_SYNC_TAGS",
		apply:   func(cfg *Config, v any) { cfg.Sync.Tags = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Sync.Tags, ",") },
	},
	{
		key: "sync.interval_minutes", typ: kInt, env: "JOPPER_SYNC_INTERVAL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Sync.IntervalMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.IntervalMinutes },
	},
	{
		key: "state_db_path", typ: kString, env: "JOPPER_STATE_DB_PATH",
		apply:   func(cfg *Config, v any) { cfg.State.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.State.Path },
	},
	{
		key: "log.level", typ: kString, env: "JOPPER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "JOPPER_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "server.port", typ: kInt, env: "JOPPER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "JOPPER_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
}

func envFor(key string) string {
	for _, s := range specs {
		if s.key == key {
			return s.env
		}
	}
	return ""
}

// applyBackend copies file values into cfg. Secrets are read from the file
// too; they just cannot be written with SetKey.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := parseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kList:
			v, ok, err := b.GetStringList(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw, set := os.LookupEnv(s.env)
		if !set || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := parseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kList:
			s.apply(cfg, splitList(raw))
		}
	}
}

// parseDuration accepts Go duration strings and bare integers (seconds).
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs) * time.Second, nil
}
