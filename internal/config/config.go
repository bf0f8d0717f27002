// Package config loads the settings of the dashconf daemon and CLI: where
// the Unix socket lives, where the dashboard document is stored, whether it
// is watched for external edits, and the log level.
//
// Settings are read from a YAML file (default ~/.dashconf/config.yaml):
//
//	socket:
//	  path: /var/run/dashconfd.socket
//	document:
//	  path: /etc/dashconf/config.json
//	  watch: true
//	  watch_debounce: 250ms
//	log:
//	  level: info
//
// A missing file yields Default(). DASHCONF_SOCKET and DASHCONF_DOCUMENT
// override the corresponding paths after the file is read.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/octodash/dashconf/internal/filesys"
)

var (
	// ErrInvalidConfig is returned when the settings are invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoConfig is returned when the settings file is not found.
	ErrNoConfig = errors.New("configuration file not found")
)

const (
	// DefaultSocketPath is the default path for the Unix socket.
	DefaultSocketPath = "/var/run/dashconfd.socket"
	// DefaultConfigPath is the settings file path relative to the home directory.
	DefaultConfigPath = ".dashconf/config.yaml"
	// DefaultDocumentPath is the default location of the dashboard document.
	DefaultDocumentPath = "/etc/dashconf/config.json"
	// DefaultWatchDebounce is how long the watcher waits for writes to settle.
	DefaultWatchDebounce = 250 * time.Millisecond
)

// Environment overrides.
const (
	EnvSocketPath   = "DASHCONF_SOCKET"
	EnvDocumentPath = "DASHCONF_DOCUMENT"
)

// Config holds the daemon and CLI settings.
type Config struct {
	Socket   SocketConfig   `yaml:"socket"`
	Document DocumentConfig `yaml:"document"`
	Log      LogConfig      `yaml:"log"`
}

// SocketConfig holds socket-related settings.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// DocumentConfig says where the dashboard document lives and whether
// external edits to it are picked up.
type DocumentConfig struct {
	Path          string        `yaml:"path"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Provider defines the interface for loading configuration.
type Provider interface {
	Load() (*Config, error)
}

// FSProvider implements Provider using the local filesystem.
type FSProvider struct {
	fs     filesys.ReadWriteFS
	path   string
	getenv func(string) string
}

// Verify FSProvider implements Provider interface.
var _ Provider = (*FSProvider)(nil)

// New returns a Provider reading ~/.dashconf/config.yaml. If the home
// directory cannot be determined the path is resolved against the working
// directory.
func New() Provider {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not determine home directory: %v\n", err)
		home = ""
	}
	return NewWithPath(filesys.OS(), filepath.Join(home, DefaultConfigPath))
}

// NewWithPath creates a new provider with a specific settings path.
func NewWithPath(fs filesys.ReadWriteFS, path string) *FSProvider {
	return &FSProvider{
		fs:     fs,
		path:   path,
		getenv: os.Getenv,
	}
}

// WithEnv replaces the environment lookup, for tests.
func (p *FSProvider) WithEnv(getenv func(string) string) *FSProvider {
	p.getenv = getenv
	return p
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			Path: DefaultSocketPath,
		},
		Document: DocumentConfig{
			Path:          DefaultDocumentPath,
			Watch:         true,
			WatchDebounce: DefaultWatchDebounce,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads, overrides, and validates the settings.
func (p *FSProvider) Load() (*Config, error) {
	_ = p.ensureConfigDir()

	cfg, err := p.loadAndParse()
	if err != nil {
		if !errors.Is(err, ErrNoConfig) {
			return nil, err
		}
		cfg = Default()
	}

	p.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// Validate checks the configuration to ensure all required fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Socket.Path) == "" {
		return errors.New("socket path cannot be empty")
	}
	if strings.TrimSpace(c.Document.Path) == "" {
		return errors.New("document path cannot be empty")
	}
	if c.Document.Watch && c.Document.WatchDebounce < 10*time.Millisecond {
		return errors.New("watch debounce must be at least 10ms")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

func (p *FSProvider) applyEnv(cfg *Config) {
	if v := strings.TrimSpace(p.getenv(EnvSocketPath)); v != "" {
		cfg.Socket.Path = v
	}
	if v := strings.TrimSpace(p.getenv(EnvDocumentPath)); v != "" {
		cfg.Document.Path = v
	}
}

func (p *FSProvider) ensureConfigDir() error {
	dir := filepath.Dir(p.path)
	if _, err := p.fs.Stat(dir); os.IsNotExist(err) {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return nil
}

func (p *FSProvider) loadAndParse() (*Config, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	// Start from defaults so a partial file only overrides what it names.
	cfg := Default()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	return cfg, nil
}
