package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/pvdd/internal/config"
	"github.com/zjrosen/pvdd/internal/log"
)

const envPrefix = "PVDD"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgErr    error
)

var rootCmd = &cobra.Command{
	Use:   "pvdd",
	Short: "Provisioning Domain registry daemon",
	Long: `pvdd keeps the set of Provisioning Domains (PvDs) known to this host.

PvDs are declared in files, through the HTTP API, or restored from the last
snapshot. The daemon tracks interface addresses and evicts a PvD when the
last address associated with it goes away.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: checkConfig,
}

// checkConfig fails every command when the config could not be loaded.
func checkConfig(_ *cobra.Command, _ []string) error {
	return cfgErr
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/pvdd/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also enabled by PVDD_DEBUG)")
}

func initConfig() {
	var used string
	cfg, used, cfgErr = loadConfig(viper.GetViper(), cfgFile)
	if cfgErr == nil && used != "" {
		log.Debug(log.CatConfig, "Loaded config", "path", used)
	}
}

// loadConfig reads configuration into v and returns the decoded config and
// the file it came from.
//
// Config lookup order:
//  1. explicit path (--config)
//  2. .pvdd/config.yaml (current directory)
//  3. ~/.config/pvdd/config.yaml (user config, written with defaults if missing)
func loadConfig(v *viper.Viper, path string) (config.Config, string, error) {
	setDefaults(v, config.Defaults())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	userDir := config.DefaultConfigDir()
	switch {
	case path != "":
		v.SetConfigFile(path)
	case fileExists(filepath.Join(".pvdd", "config.yaml")):
		v.SetConfigFile(filepath.Join(".pvdd", "config.yaml"))
	default:
		if userDir != "" {
			v.AddConfigPath(userDir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return config.Config{}, "", fmt.Errorf("reading config: %w", err)
		}
		// No config file found anywhere - create the default user config
		if userDir != "" {
			defaultPath := filepath.Join(userDir, "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				v.SetConfigFile(defaultPath)
				_ = v.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	var out config.Config
	if err := v.Unmarshal(&out); err != nil {
		return config.Config{}, "", fmt.Errorf("decoding config: %w", err)
	}
	return out, v.ConfigFileUsed(), nil
}

// setDefaults registers every key so environment overrides apply to it.
func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("registry.evict_on_address_removal", d.Registry.EvictOnAddressRemoval)

	v.SetDefault("monitor.enabled", d.Monitor.Enabled)
	v.SetDefault("monitor.poll_interval", d.Monitor.PollInterval)
	v.SetDefault("monitor.sweep_interval", d.Monitor.SweepInterval)
	v.SetDefault("monitor.include_loopback", d.Monitor.IncludeLoopback)

	v.SetDefault("provisioning.dir", d.Provisioning.Dir)
	v.SetDefault("provisioning.watch", d.Provisioning.Watch)
	v.SetDefault("provisioning.debounce", d.Provisioning.Debounce)

	v.SetDefault("storage.enabled", d.Storage.Enabled)
	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.shutdown_timeout", d.API.ShutdownTimeout)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// initLogging enables the debug log when --debug or PVDD_DEBUG is set.
// The log goes to PVDD_LOG, or pvdd-debug.log in the working directory.
func initLogging(name string) (func(), error) {
	if !debugFlag && os.Getenv(envPrefix+"_DEBUG") == "" {
		return func() {}, nil
	}
	logPath := os.Getenv(envPrefix + "_LOG")
	if logPath == "" {
		logPath = "pvdd-debug.log"
	}

	cleanup, err := log.Init(logPath)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.SetMinLevel(log.ParseLevel(cfg.LogLevel))
	log.Info(log.CatConfig, "pvdd starting", "command", name, "logPath", logPath)
	return cleanup, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
