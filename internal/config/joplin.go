package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// JoplinSettings builds the settings document handed to the Joplin CLI
// (written to settings.json and passed as JOPLIN_CONFIG_JSON).
//
// JOPLIN_CONFIG_JSON is used verbatim when set. Otherwise the document is
// assembled from the JOPLIN_* sync variables. In both cases api.token is
// filled from the configured token when the document does not carry one.
func JoplinSettings(j JoplinConfig) (map[string]any, error) {
	settings := make(map[string]any)

	if raw := os.Getenv("JOPLIN_CONFIG_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			return nil, fmt.Errorf("parsing JOPLIN_CONFIG_JSON: %w", err)
		}
	} else {
		settings["api.port"] = envInt("JOPLIN_API_PORT", j.Port)
		settings["sync.target"] = envInt("JOPLIN_SYNC_TARGET", 0)
		settings["sync.9.path"] = os.Getenv("JOPLIN_SYNC_PATH")
		settings["sync.9.username"] = os.Getenv("JOPLIN_SYNC_USERNAME")
		settings["sync.9.password"] = os.Getenv("JOPLIN_SYNC_PASSWORD")
		settings["sync.interval"] = envInt("JOPLIN_SYNC_INTERVAL", 300)
		settings["clipperServer.autoStart"] = true
	}

	if tok, _ := settings["api.token"].(string); tok == "" && j.Token != "" {
		settings["api.token"] = j.Token
	}
	return settings, nil
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", name, raw, err)
		return def
	}
	return v
}
