package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readConfig(t *testing.T, path string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestSetValue_CreatesNewFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, SetValue(configPath, "api.listen", "0.0.0.0:9000"))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api:")
	assert.Contains(t, string(data), "listen: 0.0.0.0:9000")
}

func TestSetValue_PreservesCommentsAndOtherKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(configPath))

	require.NoError(t, SetValue(configPath, "monitor.poll_interval", "30s"))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Address monitor: polls interface addresses and expires lifetimes")
	assert.Contains(t, string(data), "# Reload when files change")

	cfg := readConfig(t, configPath)
	require.Equal(t, 30*time.Second, cfg.Monitor.PollInterval)
	require.Equal(t, time.Second, cfg.Monitor.SweepInterval)
	require.Equal(t, "127.0.0.1:8533", cfg.API.Listen)
	require.True(t, cfg.Registry.EvictOnAddressRemoval)
}

func TestSetValue_AddsMissingSection(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log_level: debug\n"), 0o600))

	require.NoError(t, SetValue(configPath, "tracing.enabled", "true"))
	require.NoError(t, SetValue(configPath, "tracing.exporter", "stdout"))

	cfg := readConfig(t, configPath)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, "stdout", cfg.Tracing.Exporter)
}

func TestSetValue_OverwritesQuotedValue(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("registry:\n  evict_on_address_removal: \"true\"\n"), 0o600))

	require.NoError(t, SetValue(configPath, "registry.evict_on_address_removal", "false"))

	cfg := readConfig(t, configPath)
	require.False(t, cfg.Registry.EvictOnAddressRemoval)
}

func TestSetValue_RejectsSectionAsValue(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(configPath))
	before, err := os.ReadFile(configPath)
	require.NoError(t, err)

	err = SetValue(configPath, "api", "off")
	require.Error(t, err)
	require.Contains(t, err.Error(), "is a section")

	err = SetValue(configPath, "log_level.nested", "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a section")

	after, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after), "failed set must not touch the file")
}

func TestSetValue_InvalidKey(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	for _, key := range []string{"", "api.", ".listen", "api..listen"} {
		err := SetValue(configPath, key, "x")
		require.Error(t, err, key)
	}
	_, err := os.Stat(configPath)
	require.True(t, os.IsNotExist(err))
}

func TestSetValue_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("api: [unclosed\n"), 0o600))

	err := SetValue(configPath, "api.listen", ":1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "parsing config")
}

func TestSetValue_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	require.NoError(t, SetValue(configPath, "storage.enabled", "false"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.yaml", entries[0].Name())
}
