// Package settings loads daemon settings from a YAML file and BOTSCRIPT_*
// environment variables.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BOTSCRIPT_"

// Settings holds the daemon configuration.
type Settings struct {
	PackagesDir     string        `yaml:"packages_dir"`
	Database        string        `yaml:"database"`
	Listen          string        `yaml:"listen"`
	RedisURL        string        `yaml:"redis_url"`
	RedisChannel    string        `yaml:"redis_channel"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LoginTries      int           `yaml:"login_tries"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() *Settings {
	return &Settings{
		PackagesDir:     "packages",
		Listen:          ":8080",
		RedisChannel:    "botscript",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		LoginTries:      3,
	}
}

// Load reads settings from a YAML file, then applies environment variable
// overrides. A missing file is fine; path "" skips the file entirely.
// Environment variables take precedence over YAML values.
func Load(path string) (*Settings, error) {
	s := Defaults()

	if path != "" {
		if err := loadYAML(path, s); err != nil {
			return nil, fmt.Errorf("load settings %s: %w", path, err)
		}
	}

	if err := applyEnv(s, os.Getenv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadDotEnv loads a .env file into the process environment. A missing
// file is not an error. Variables already set are not overridden.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}
	if s.LoginTries < 1 {
		return fmt.Errorf("login_tries must be at least 1, got %d", s.LoginTries)
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level of LogLevel, Info if it is unknown.
func (s *Settings) Level() slog.Level {
	l, err := ParseLevel(s.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func loadYAML(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, s)
}

func applyEnv(s *Settings, getenv func(string) string) error {
	if v := getenv(EnvPrefix + "PACKAGES_DIR"); v != "" {
		s.PackagesDir = v
	}
	if v := getenv(EnvPrefix + "DATABASE"); v != "" {
		s.Database = v
	}
	if v := getenv(EnvPrefix + "LISTEN"); v != "" {
		s.Listen = v
	}
	if v := getenv(EnvPrefix + "REDIS_URL"); v != "" {
		s.RedisURL = v
	}
	if v := getenv(EnvPrefix + "REDIS_CHANNEL"); v != "" {
		s.RedisChannel = v
	}
	if v := getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		s.LogLevel = strings.ToLower(v)
	}
	if v := getenv(EnvPrefix + "SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", EnvPrefix, err)
		}
		s.ShutdownTimeout = d
	}
	if v := getenv(EnvPrefix + "LOGIN_TRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sLOGIN_TRIES: %w", EnvPrefix, err)
		}
		s.LoginTries = n
	}
	return nil
}
