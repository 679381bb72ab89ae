// Package config loads the chatgate profile.
//
// A profile is a YAML file, by default config.yaml under the user's config
// directory. A missing file is not an error: the defaults point at a local
// gateway. CHATGATE_* environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"git.sr.ht/~jakintosh/chatgate/pkg/credentials"
	"git.sr.ht/~jakintosh/chatgate/pkg/gateway"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGateway  = "http://localhost:18081"
	DefaultUsername = "admin"
	DefaultPassword = "admin"
	DefaultUserID   = "demo-user"
	DefaultTimeout  = 30 * time.Second
	DefaultLogLevel = "error"

	EnvGateway  = "CHATGATE_GATEWAY"
	EnvStore    = "CHATGATE_STORE"
	EnvLogLevel = "CHATGATE_LOG_LEVEL"
	EnvTimeout  = "CHATGATE_TIMEOUT"

	// EnvPassword is read by login only; passwords never live in the profile.
	EnvPassword = "CHATGATE_PASSWORD"
)

type Config struct {
	// Gateway is the base URL of the chat gateway.
	Gateway string `yaml:"gateway"`

	// Store is the path of the sqlite credential store.
	Store string `yaml:"store"`

	// Username is offered at login when none is given.
	Username string `yaml:"username"`

	// UserID is sent when creating chat sessions.
	UserID string `yaml:"user_id"`

	// Timeout bounds each command's calls to the gateway. Zero means none.
	Timeout time.Duration `yaml:"timeout"`

	// LogLevel is one of none, error, info, debug.
	LogLevel string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Gateway:  DefaultGateway,
		Store:    filepath.Join(configDir(), "credentials.db"),
		Username: DefaultUsername,
		UserID:   DefaultUserID,
		Timeout:  DefaultTimeout,
		LogLevel: DefaultLogLevel,
	}
}

// DefaultPath is where the profile is read from when no path is given.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "chatgate")
}

// Load reads the profile at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the CHATGATE_* variables that lookup
// reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvGateway); ok {
		c.Gateway = v
	}
	if v, ok := lookup(EnvStore); ok {
		c.Store = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvTimeout); ok {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("env var '%s' could not be parsed as duration (%q)", EnvTimeout, v)
		}
		c.Timeout = timeout
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := credentials.Origin(c.Gateway); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if c.Store == "" {
		return errors.New("store: path is empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout: negative duration %v", c.Timeout)
	}
	if _, ok := gateway.ParseLogLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	return nil
}

// Level is the parsed LogLevel. Validate has already rejected unknown names.
func (c *Config) Level() gateway.LogLevel {
	level, _ := gateway.ParseLogLevel(c.LogLevel)
	return level
}
