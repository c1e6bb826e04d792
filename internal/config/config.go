// Package config provides configuration types and defaults for pvdd.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/pvdd/internal/log"
	"github.com/zjrosen/pvdd/internal/tracing"
)

// Config holds all configuration options for pvdd.
type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Storage      StorageConfig      `mapstructure:"storage"`
	API          APIConfig          `mapstructure:"api"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
}

// RegistryConfig holds PvD registry behaviour.
type RegistryConfig struct {
	// EvictOnAddressRemoval removes a PvD when the last address associated
	// with it disappears.
	EvictOnAddressRemoval bool `mapstructure:"evict_on_address_removal"`
}

// MonitorConfig holds address monitor settings.
type MonitorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"` // how often expired lifetimes are purged
	IncludeLoopback bool          `mapstructure:"include_loopback"`
}

// ProvisioningConfig holds the declaration directory settings.
type ProvisioningConfig struct {
	Dir      string        `mapstructure:"dir"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// StorageConfig holds snapshot persistence settings.
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfigDir returns ~/.config/pvdd, or "" if the home directory is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "pvdd")
}

func defaultPath(elem ...string) string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(append([]string{dir}, elem...)...)
}

// DefaultDatabasePath returns ~/.config/pvdd/pvdd.db.
func DefaultDatabasePath() string {
	return defaultPath("pvdd.db")
}

// DefaultProvisioningDir returns ~/.config/pvdd/pvds.
func DefaultProvisioningDir() string {
	return defaultPath("pvds")
}

// DefaultTracesFilePath returns ~/.config/pvdd/traces/traces.jsonl.
func DefaultTracesFilePath() string {
	return defaultPath("traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()

	return Config{
		LogLevel: "info",
		Registry: RegistryConfig{
			EvictOnAddressRemoval: true,
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			PollInterval:  5 * time.Second,
			SweepInterval: time.Second,
		},
		Provisioning: ProvisioningConfig{
			Dir:      DefaultProvisioningDir(),
			Watch:    true,
			Debounce: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    DefaultDatabasePath(),
		},
		API: APIConfig{
			Enabled:         true,
			Listen:          "127.0.0.1:8533",
			ShutdownTimeout: 5 * time.Second,
		},
		Tracing: tc,
	}
}

// Validate checks every section.
func Validate(cfg Config) error {
	if err := ValidateLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if err := ValidateMonitor(cfg.Monitor); err != nil {
		return err
	}
	if err := ValidateProvisioning(cfg.Provisioning); err != nil {
		return err
	}
	if err := ValidateStorage(cfg.Storage); err != nil {
		return err
	}
	if err := ValidateAPI(cfg.API); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateLogLevel accepts debug, info, warn, warning, error, or empty.
func ValidateLogLevel(level string) error {
	switch level {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", level)
}

// ValidateMonitor checks monitor configuration for errors.
func ValidateMonitor(m MonitorConfig) error {
	if !m.Enabled {
		return nil
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive, got %s", m.PollInterval)
	}
	if m.SweepInterval <= 0 {
		return fmt.Errorf("monitor.sweep_interval must be positive, got %s", m.SweepInterval)
	}
	return nil
}

// ValidateProvisioning checks provisioning configuration for errors.
// An empty dir disables file declarations.
func ValidateProvisioning(p ProvisioningConfig) error {
	if p.Dir != "" && !filepath.IsAbs(p.Dir) {
		return fmt.Errorf("provisioning.dir must be an absolute path, got %q", p.Dir)
	}
	if p.Watch && p.Debounce < 0 {
		return fmt.Errorf("provisioning.debounce must not be negative, got %s", p.Debounce)
	}
	return nil
}

// ValidateStorage checks storage configuration for errors.
func ValidateStorage(s StorageConfig) error {
	if !s.Enabled {
		return nil
	}
	if s.Path == "" {
		return fmt.Errorf("storage.path is required when storage is enabled")
	}
	if !filepath.IsAbs(s.Path) {
		return fmt.Errorf("storage.path must be an absolute path, got %q", s.Path)
	}
	return nil
}

// ValidateAPI checks API configuration for errors.
func ValidateAPI(a APIConfig) error {
	if !a.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(a.Listen); err != nil {
		return fmt.Errorf("api.listen must be host:port, got %q: %w", a.Listen, err)
	}
	if a.ShutdownTimeout < 0 {
		return fmt.Errorf("api.shutdown_timeout must not be negative, got %s", a.ShutdownTimeout)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	switch t.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
	}

	// Only validate path requirements when tracing is enabled
	if t.Enabled {
		if t.Exporter == tracing.ExporterFile && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == tracing.ExporterOTLP && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# pvdd configuration
# Every key can be overridden with a PVDD_ environment variable,
# e.g. PVDD_API_LISTEN=0.0.0.0:8533

# Log level when logging is enabled with --debug: debug, info, warn, error
log_level: info

registry:
  # Remove a PvD when the last address associated with it disappears
  evict_on_address_removal: true

# Address monitor: polls interface addresses and expires lifetimes
monitor:
  enabled: true
  poll_interval: 5s
  sweep_interval: 1s
  include_loopback: false

# Static PvD declarations (*.yaml, *.yml, *.toml)
provisioning:
  # dir: ~/.config/pvdd/pvds
  watch: true       # Reload when files change
  debounce: 500ms

# Snapshot persistence for warm restarts
storage:
  enabled: true
  # path: ~/.config/pvdd/pvdd.db

# HTTP API
api:
  enabled: true
  listen: 127.0.0.1:8533
  shutdown_timeout: 5s

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/pvdd/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
