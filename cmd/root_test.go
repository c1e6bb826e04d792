package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/pvdd/internal/config"
)

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  listen: 127.0.0.1:9999
monitor:
  poll_interval: 30s
registry:
  evict_on_address_removal: false
`), 0o600))

	got, used, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, path, used)

	require.Equal(t, "127.0.0.1:9999", got.API.Listen)
	require.Equal(t, 30*time.Second, got.Monitor.PollInterval)
	require.False(t, got.Registry.EvictOnAddressRemoval)

	defaults := config.Defaults()
	require.Equal(t, defaults.Monitor.SweepInterval, got.Monitor.SweepInterval, "unset keys keep defaults")
	require.Equal(t, defaults.Storage, got.Storage)
	require.Equal(t, defaults.Tracing, got.Tracing)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  listen: 127.0.0.1:9999\n"), 0o600))
	t.Setenv("PVDD_API_LISTEN", "0.0.0.0:8000")
	t.Setenv("PVDD_MONITOR_ENABLED", "false")
	t.Setenv("PVDD_TRACING_SAMPLE_RATE", "0.25")

	got, _, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:8000", got.API.Listen)
	require.False(t, got.Monitor.Enabled)
	require.InDelta(t, 0.25, got.Tracing.SampleRate, 1e-9)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, _, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "reading config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [\n"), 0o600))

	_, _, err := loadConfig(viper.New(), path)
	require.Error(t, err)
}

func TestLoadConfig_DefaultTemplateIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.WriteDefaultConfig(path))

	got, _, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	require.NoError(t, config.Validate(got))
	require.Equal(t, config.Defaults(), got)
}
