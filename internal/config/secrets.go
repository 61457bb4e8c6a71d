package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretStore abstracts where the API key is kept when it is not in the
// environment.
type secretStore interface {
	Get(service, account string) (string, error)
}

// secretsFile keeps secrets in $XDG_DATA_HOME/mimil/secrets.json with
// owner-only permissions.
type secretsFile struct {
	path string
}

func defaultSecrets() secretsFile {
	return secretsFile{path: secretsFilePath()}
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, appName, "secrets.json")
}

func (s secretsFile) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (s secretsFile) Get(service, account string) (string, error) {
	secrets, err := s.read()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return val, nil
}

func (s secretsFile) Set(service, account, value string) error {
	secrets, err := s.read()
	if err != nil || secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}

// SetAPIKey stores the Gemini API key in the secrets file.
func SetAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("API key must not be empty")
	}
	return defaultSecrets().Set(appName, apiKeyAccount, key)
}
