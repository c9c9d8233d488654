package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SecretsFilePath returns the location of the fallback secrets file.
func SecretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// secretsReader reads {"service": {"account": "value"}} from the secrets file.
type secretsReader struct {
	path string
}

func (r secretsReader) Get(service, account string) (string, error) {
	p := r.path
	if p == "" {
		p = SecretsFilePath()
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	svc, ok := secrets[service]
	if !ok {
		return "", fmt.Errorf("service %q not found", service)
	}
	val, ok := svc[account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return val, nil
}
