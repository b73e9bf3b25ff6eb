// Package config provides configuration management for ralph.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Dir is the repository-relative directory holding ralph's files.
const Dir = ".ralph"

// ConfigNames are the config files looked up in Dir, in order.
var ConfigNames = []string{"config.yaml", "config.yml", "config.toml"}

// Config represents the ralph configuration.
type Config struct {
	Loop    LoopConfig    `yaml:"loop" toml:"loop"`
	Tools   ToolsConfig   `yaml:"tools" toml:"tools"`
	Service ServiceConfig `yaml:"service" toml:"service"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`

	// Root is the repository root every relative path is resolved against.
	Root string `yaml:"-" toml:"-"`
	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-" toml:"-"`
}

// LoopConfig contains iteration controller settings.
type LoopConfig struct {
	MaxIterations int    `yaml:"max_iterations" toml:"max_iterations"`
	HistoryLimit  int    `yaml:"history_limit" toml:"history_limit"`
	StateFile     string `yaml:"state_file" toml:"state_file"`
	JournalFile   string `yaml:"journal_file" toml:"journal_file"`
}

// ToolsConfig names the host tools the safety policy inspects.
type ToolsConfig struct {
	Shell []string `yaml:"shell" toml:"shell"`
	File  []string `yaml:"file" toml:"file"`
}

// ServiceConfig contains HTTP bridge settings.
type ServiceConfig struct {
	Host    string `yaml:"host" toml:"host"`
	Port    int    `yaml:"port" toml:"port"`
	DataDir string `yaml:"data_dir" toml:"data_dir"`
	// APIKey, when set, is required in the X-API-Key header.
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// LoggingConfig contains log writer settings.
type LoggingConfig struct {
	Level      string   `yaml:"level" toml:"level"`
	Format     string   `yaml:"format" toml:"format"`
	Output     []string `yaml:"output" toml:"output"`
	TimeFormat string   `yaml:"time_format" toml:"time_format"`
	MaxSizeMB  int      `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups" toml:"max_backups"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Loop: LoopConfig{
			MaxIterations: 25,
			HistoryLimit:  25,
			StateFile:     filepath.Join(Dir, "state.json"),
			JournalFile:   filepath.Join(Dir, "logs", "transitions.jsonl"),
		},
		Tools: ToolsConfig{
			Shell: []string{"bash"},
			File:  []string{"read", "write", "edit", "multiedit", "notebookedit"},
		},
		Service: ServiceConfig{
			Host:    "127.0.0.1",
			Port:    8421,
			DataDir: Dir,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"file"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Root: ".",
	}
}

// Find returns the first config file present under root, or "".
func Find(root string) string {
	for _, name := range ConfigNames {
		p := filepath.Join(root, Dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load loads the configuration for the repository at root. When path is
// empty the file is looked up with Find; when none exists the defaults are
// returned. An explicit path must exist.
func Load(root, path string) (*Config, error) {
	cfg := DefaultConfig()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg.Root = absRoot

	if path == "" {
		path = Find(absRoot)
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
	cfg.Source = path

	// Expand tilde in data_dir
	if strings.HasPrefix(cfg.Service.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		cfg.Service.DataDir = filepath.Join(home, cfg.Service.DataDir[2:])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations))
	}
	if c.Loop.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("loop.history_limit must be positive, got %d", c.Loop.HistoryLimit))
	}
	if c.Loop.StateFile == "" {
		errs = append(errs, errors.New("loop.state_file must be set"))
	}
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		errs = append(errs, fmt.Errorf("service.port out of range: %d", c.Service.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Resolve returns p resolved against the repository root.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Address returns the full address string for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

// StatePath returns the session state file.
func (c *Config) StatePath() string {
	return c.Resolve(c.Loop.StateFile)
}

// JournalPath returns the transition journal file, or "" when disabled.
func (c *Config) JournalPath() string {
	return c.Resolve(c.Loop.JournalFile)
}

// DataDir returns the directory for logs and the pid file.
func (c *Config) DataDir() string {
	return c.Resolve(c.Service.DataDir)
}

// LogPath returns the path to the log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir(), "logs", "ralph.log")
}

// PIDPath returns the path to the service pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir(), "ralph.pid")
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir(),
		filepath.Dir(c.LogPath()),
		filepath.Dir(c.StatePath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
