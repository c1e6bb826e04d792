package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/pvdd/internal/tracing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.NoError(t, Validate(cfg))
	require.True(t, cfg.Registry.EvictOnAddressRemoval)
	require.Equal(t, 5*time.Second, cfg.Monitor.PollInterval)
	require.Equal(t, "127.0.0.1:8533", cfg.API.Listen)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, DefaultTracesFilePath(), cfg.Tracing.FilePath)
}

func TestDefaultPaths_UnderConfigDir(t *testing.T) {
	dir := DefaultConfigDir()
	if dir == "" {
		t.Skip("no home directory")
	}
	require.Equal(t, filepath.Join(dir, "pvdd.db"), DefaultDatabasePath())
	require.Equal(t, filepath.Join(dir, "pvds"), DefaultProvisioningDir())
	require.Equal(t, filepath.Join(dir, "traces", "traces.jsonl"), DefaultTracesFilePath())
}

func TestValidateLogLevel(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "warning", "error"} {
		require.NoError(t, ValidateLogLevel(level), level)
	}
	err := ValidateLogLevel("verbose")
	require.Error(t, err)
	require.Contains(t, err.Error(), "log_level")
}

func TestValidateMonitor_DisabledSkipsChecks(t *testing.T) {
	require.NoError(t, ValidateMonitor(MonitorConfig{Enabled: false}))
}

func TestValidateMonitor_NonPositiveInterval(t *testing.T) {
	err := ValidateMonitor(MonitorConfig{Enabled: true, PollInterval: 0, SweepInterval: time.Second})
	require.Error(t, err)
	require.Contains(t, err.Error(), "monitor.poll_interval")

	err = ValidateMonitor(MonitorConfig{Enabled: true, PollInterval: time.Second, SweepInterval: -time.Second})
	require.Error(t, err)
	require.Contains(t, err.Error(), "monitor.sweep_interval")
}

func TestValidateProvisioning(t *testing.T) {
	require.NoError(t, ValidateProvisioning(ProvisioningConfig{}), "empty dir disables declarations")
	require.NoError(t, ValidateProvisioning(ProvisioningConfig{Dir: "/etc/pvdd/pvds", Watch: true}))

	err := ValidateProvisioning(ProvisioningConfig{Dir: "relative/pvds"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "provisioning.dir")

	err = ValidateProvisioning(ProvisioningConfig{Dir: "/pvds", Watch: true, Debounce: -time.Millisecond})
	require.Error(t, err)
	require.Contains(t, err.Error(), "provisioning.debounce")
}

func TestValidateStorage(t *testing.T) {
	require.NoError(t, ValidateStorage(StorageConfig{Enabled: false}))

	err := ValidateStorage(StorageConfig{Enabled: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.path is required")

	err = ValidateStorage(StorageConfig{Enabled: true, Path: "pvdd.db"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "absolute")
}

func TestValidateAPI(t *testing.T) {
	require.NoError(t, ValidateAPI(APIConfig{Enabled: true, Listen: ":8533"}))
	require.NoError(t, ValidateAPI(APIConfig{Enabled: false, Listen: "garbage"}))

	err := ValidateAPI(APIConfig{Enabled: true, Listen: "localhost"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api.listen")
}

func TestValidateTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     tracing.Config
		wantErr string
	}{
		{name: "zero value", cfg: tracing.Config{}},
		{name: "sample rate too high", cfg: tracing.Config{SampleRate: 1.5}, wantErr: "sample_rate"},
		{name: "sample rate negative", cfg: tracing.Config{SampleRate: -0.1}, wantErr: "sample_rate"},
		{name: "unknown exporter", cfg: tracing.Config{Exporter: "jaeger"}, wantErr: "tracing.exporter"},
		{
			name:    "file exporter without path",
			cfg:     tracing.Config{Enabled: true, Exporter: tracing.ExporterFile, SampleRate: 1},
			wantErr: "tracing.file_path",
		},
		{
			name:    "otlp without endpoint",
			cfg:     tracing.Config{Enabled: true, Exporter: tracing.ExporterOTLP, SampleRate: 1},
			wantErr: "tracing.otlp_endpoint",
		},
		{
			name: "disabled file exporter without path",
			cfg:  tracing.Config{Enabled: false, Exporter: tracing.ExporterFile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTracing(tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(DefaultConfigTemplate())))

	cfg := Defaults()
	require.NoError(t, v.Unmarshal(&cfg))
	require.Equal(t, Defaults(), cfg)
}

func TestWriteDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(configPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteDefaultConfig_ParentIsFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, nil, 0o600))

	err := WriteDefaultConfig(filepath.Join(parent, "config.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "creating config directory")
}
