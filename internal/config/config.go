package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that may carry the Gemini API key, in priority order.
const (
	EnvAPIKey       = "MIMIL_GEMINI_API_KEY"
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
)

const apiKeyAccount = "gemini_api_key"

type Config struct {
	Files   FilesConfig
	Gemini  GeminiConfig
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Planner PlannerConfig
}

// FilesConfig locates the CSV/JSON/markdown working files.
type FilesConfig struct {
	Dir string
}

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type PlannerConfig struct {
	DefaultDays int
}

func defaults() Config {
	return Config{
		Files: FilesConfig{Dir: "files"},
		Gemini: GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.5-flash-preview-09-2025",
			Timeout:     60 * time.Second,
			MaxAttempts: 5,
		},
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Planner: PlannerConfig{DefaultDays: 7},
	}
}

// Well-known file names under Files.Dir.
const (
	RecipeFileName = "recipes.csv"
	URLLogFileName = "URL_recipes.csv"
)

func (c Config) RecipeFile() string { return filepath.Join(c.Files.Dir, RecipeFileName) }
func (c Config) URLLogFile() string { return filepath.Join(c.Files.Dir, URLLogFileName) }

// Load reads configuration in order: defaults, the JSON config file,
// MIMIL_* environment variables. A .env file in the working directory is
// loaded into the environment first without overriding variables that are
// already set.
//
// The API key comes from MIMIL_GEMINI_API_KEY, then GOOGLE_API_KEY, then the
// secrets file. A missing key is not an error: the features that need the
// model degrade or fail on their own.
func Load() (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), defaultSecrets())
}

// LoadDotEnv loads path into the process environment. A missing file is
// ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		if key, err := secrets.Get(appName, apiKeyAccount); err == nil {
			cfg.Gemini.APIKey = strings.TrimSpace(key)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Gemini.MaxAttempts < 1 {
		return fmt.Errorf("invalid config: gemini.max_attempts must be at least 1")
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("invalid config: gemini.timeout must be positive")
	}
	if c.Planner.DefaultDays < 1 || c.Planner.DefaultDays > 7 {
		return fmt.Errorf("invalid config: planner.default_days must be between 1 and 7")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}
