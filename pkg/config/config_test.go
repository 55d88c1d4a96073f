package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumatoshi-tech/devpulse/pkg/config"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Stream.Port)
	assert.Equal(t, "0.0.0.0", cfg.Stream.Host)
	assert.Equal(t, 90, cfg.Storage.RetentionDays)
	assert.True(t, cfg.Queues.AutoRouting)
	assert.Equal(t, 10_000, cfg.Queues.Named["default"].MaxSize)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Parallel()

	configContent := `
stream:
  port: 9000
  host: "127.0.0.1"

stageAnalyzer:
  confidenceThreshold: 0.75
  historySize: 50

fileMonitor:
  root: "/tmp/watched"
`

	tmpDir := t.TempDir()

	tmpFile, err := os.CreateTemp(tmpDir, "test-config-*.yaml")
	require.NoError(t, err)

	_, writeErr := tmpFile.WriteString(configContent)
	require.NoError(t, writeErr)

	tmpFile.Close()

	cfg, loadErr := config.LoadConfig(tmpFile.Name())
	require.NoError(t, loadErr)

	assert.Equal(t, 9000, cfg.Stream.Port)
	assert.Equal(t, "127.0.0.1", cfg.Stream.Host)
	assert.InDelta(t, 0.75, cfg.StageAnalyzer.ConfidenceThreshold, 0.0001)
	assert.Equal(t, 50, cfg.StageAnalyzer.HistorySize)
	assert.Equal(t, "/tmp/watched", cfg.FileMonitor.Root)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DEVPULSE_STREAM_PORT", "9090")
	t.Setenv("DEVPULSE_STORAGE_RETENTIONDAYS", "30")
	t.Setenv("DEVPULSE_GITMONITOR_REPOPATH", "/repo")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Stream.Port)
	assert.Equal(t, 30, cfg.Storage.RetentionDays)
	assert.Equal(t, "/repo", cfg.GitMonitor.RepoPath)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Stream.Port)
	assert.Equal(t, 90, cfg.Storage.RetentionDays)
	assert.InDelta(t, 0.5, cfg.StageAnalyzer.ConfidenceThreshold, 0.0001)
}

func TestMillisecondHelpersConvertToDuration(t *testing.T) {
	t.Parallel()

	configContent := `
fileMonitor:
  debounceMs: 150

gitMonitor:
  pollIntervalMs: 5000

stageAnalyzer:
  transitionCooldownMs: 45000
  windowMs: 1800000

stream:
  replayWindowMs: 600000
`

	tmpDir := t.TempDir()

	tmpFile, err := os.CreateTemp(tmpDir, "test-duration-*.yaml")
	require.NoError(t, err)

	_, writeErr := tmpFile.WriteString(configContent)
	require.NoError(t, writeErr)

	tmpFile.Close()

	cfg, loadErr := config.LoadConfig(tmpFile.Name())
	require.NoError(t, loadErr)

	assert.Equal(t, 150*time.Millisecond, cfg.FileMonitor.Debounce())
	assert.Equal(t, 5*time.Second, cfg.GitMonitor.PollInterval())
	assert.Equal(t, 45*time.Second, cfg.StageAnalyzer.TransitionCooldown())
	assert.Equal(t, 30*time.Minute, cfg.StageAnalyzer.Window())
	assert.Equal(t, 10*time.Minute, cfg.Stream.ReplayWindow())
}

func TestValidateConfigRejectsBadPort(t *testing.T) {
	t.Parallel()

	configContent := `
stream:
  port: 0
`
	tmpDir := t.TempDir()
	tmpFile, err := os.CreateTemp(tmpDir, "test-bad-port-*.yaml")
	require.NoError(t, err)
	_, writeErr := tmpFile.WriteString(configContent)
	require.NoError(t, writeErr)
	tmpFile.Close()

	_, loadErr := config.LoadConfig(tmpFile.Name())
	require.Error(t, loadErr)
	assert.ErrorIs(t, loadErr, config.ErrInvalidPort)
}
