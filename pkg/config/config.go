// Package config provides configuration loading and validation for the
// devpulse server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPort        = errors.New("invalid stream port")
	ErrInvalidRetention   = errors.New("storage retention days must be positive")
	ErrInvalidQueueSize   = errors.New("queue maxSize must be positive")
	ErrInvalidMaxAttempts = errors.New("queue maxAttempts must be positive")
	ErrInvalidWindow      = errors.New("stageAnalyzer windowMs must be positive")
	ErrInvalidConfidence  = errors.New("stageAnalyzer confidenceThreshold must be in (0,1]")
)

// Default configuration values.
const (
	defaultPort            = 8080
	defaultHost            = "0.0.0.0"
	defaultRetentionDays   = 90
	defaultQueueMaxSize    = 10_000
	defaultQueueMaxBytes   = 64 * 1024 * 1024
	defaultQueueBatchSize  = 50
	defaultQueueMaxAttempt = 5
	defaultDebounceMs      = 300
	defaultPollIntervalMs  = 2_000
	defaultConfidence      = 0.5
	defaultCooldownMs      = 60_000
	defaultWindowMs        = 3_600_000
	defaultHistorySize     = 200
	defaultReplayWindowMs  = 900_000
	defaultStreamBuffer    = 64
	maxPort                = 65535
)

// Config holds all configuration for the devpulse server.
type Config struct {
	Storage       StorageConfig       `mapstructure:"storage"`
	Bus           BusConfig           `mapstructure:"bus"`
	Queues        QueuesConfig        `mapstructure:"queues"`
	FileMonitor   FileMonitorConfig   `mapstructure:"fileMonitor"`
	GitMonitor    GitMonitorConfig    `mapstructure:"gitMonitor"`
	StageAnalyzer StageAnalyzerConfig `mapstructure:"stageAnalyzer"`
	Stream        StreamConfig        `mapstructure:"stream"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// StorageConfig controls the event store.
type StorageConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retentionDays"`
}

// BusConfig controls the in-process event bus.
type BusConfig struct {
	// ValidateStrict is read from the validateStrict key, but no
	// component consumes it: the bus rejects events with an
	// unrecognized category through event.Validate whatever its value.
	ValidateStrict bool `mapstructure:"validateStrict"`
}

// QueueConfig tunes a single named queue. Zero fields fall back to
// queue.DefaultConfig's values at wiring time.
type QueueConfig struct {
	MaxSize         int   `mapstructure:"maxSize"`
	MaxBytes        int64 `mapstructure:"maxBytes"`
	BatchSize       int   `mapstructure:"batchSize"`
	FlushIntervalMs int   `mapstructure:"flushIntervalMs"`
	MaxAttempts     int   `mapstructure:"maxAttempts"`
}

// FlushInterval converts FlushIntervalMs to a time.Duration.
func (q QueueConfig) FlushInterval() time.Duration {
	return time.Duration(q.FlushIntervalMs) * time.Millisecond
}

// QueuesConfig is the per-queue tuning table plus routing toggles.
type QueuesConfig struct {
	// AutoRouting installs the default category->queue routing rules at
	// startup instead of requiring the operator to supply their own.
	AutoRouting bool                   `mapstructure:"autoRouting"`
	Named       map[string]QueueConfig `mapstructure:"named"`
}

// FileMonitorConfig controls pkg/monitor/filemon.
type FileMonitorConfig struct {
	Root       string   `mapstructure:"root"`
	Ignore     []string `mapstructure:"ignore"`
	DebounceMs int      `mapstructure:"debounceMs"`
}

// Debounce converts DebounceMs to a time.Duration.
func (f FileMonitorConfig) Debounce() time.Duration {
	return time.Duration(f.DebounceMs) * time.Millisecond
}

// GitMonitorConfig controls pkg/monitor/gitmon.
type GitMonitorConfig struct {
	RepoPath        string `mapstructure:"repoPath"`
	PollIntervalMs  int    `mapstructure:"pollIntervalMs"`
	AnalyzeMessages bool   `mapstructure:"analyzeMessages"`
}

// PollInterval converts PollIntervalMs to a time.Duration.
func (g GitMonitorConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalMs) * time.Millisecond
}

// StageAnalyzerConfig controls pkg/analyzer/stage.
type StageAnalyzerConfig struct {
	ConfidenceThreshold  float64 `mapstructure:"confidenceThreshold"`
	TransitionCooldownMs int     `mapstructure:"transitionCooldownMs"`
	WindowMs             int     `mapstructure:"windowMs"`
	HistorySize          int     `mapstructure:"historySize"`
}

// TransitionCooldown converts TransitionCooldownMs to a time.Duration.
func (s StageAnalyzerConfig) TransitionCooldown() time.Duration {
	return time.Duration(s.TransitionCooldownMs) * time.Millisecond
}

// Window converts WindowMs to a time.Duration.
func (s StageAnalyzerConfig) Window() time.Duration {
	return time.Duration(s.WindowMs) * time.Millisecond
}

// StreamConfig controls pkg/stream's hub and WebSocket server.
type StreamConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ReplayWindowMs int    `mapstructure:"replayWindowMs"`
	BufferSize     int    `mapstructure:"bufferSize"`
}

// ReplayWindow converts ReplayWindowMs to a time.Duration.
func (s StreamConfig) ReplayWindow() time.Duration {
	return time.Duration(s.ReplayWindowMs) * time.Millisecond
}

// LoggingConfig holds logging-specific configuration, consumed by
// internal/observability when building the process-wide slog.Logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	// Set defaults.
	setDefaults(viperCfg)

	// Read config file.
	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("config")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/devpulse")
	}

	// Read environment variables.
	viperCfg.SetEnvPrefix("DEVPULSE")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file.
	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	// Storage defaults.
	viperCfg.SetDefault("storage.path", "./devpulse.db")
	viperCfg.SetDefault("storage.retentionDays", defaultRetentionDays)

	// Bus defaults.
	viperCfg.SetDefault("bus.validateStrict", false)

	// Queue defaults. Per-queue overrides live under queues.named.<name>.*
	// and are sparse — anything left at zero falls back to
	// queue.DefaultConfig at wiring time.
	viperCfg.SetDefault("queues.autoRouting", true)
	viperCfg.SetDefault("queues.named.default.maxSize", defaultQueueMaxSize)
	viperCfg.SetDefault("queues.named.default.maxBytes", defaultQueueMaxBytes)
	viperCfg.SetDefault("queues.named.default.batchSize", defaultQueueBatchSize)
	viperCfg.SetDefault("queues.named.default.flushIntervalMs", 500)
	viperCfg.SetDefault("queues.named.default.maxAttempts", defaultQueueMaxAttempt)

	// File monitor defaults.
	viperCfg.SetDefault("fileMonitor.root", ".")
	viperCfg.SetDefault("fileMonitor.ignore", []string{})
	viperCfg.SetDefault("fileMonitor.debounceMs", defaultDebounceMs)

	// Git monitor defaults.
	viperCfg.SetDefault("gitMonitor.repoPath", ".")
	viperCfg.SetDefault("gitMonitor.pollIntervalMs", defaultPollIntervalMs)
	viperCfg.SetDefault("gitMonitor.analyzeMessages", true)

	// Stage analyzer defaults.
	viperCfg.SetDefault("stageAnalyzer.confidenceThreshold", defaultConfidence)
	viperCfg.SetDefault("stageAnalyzer.transitionCooldownMs", defaultCooldownMs)
	viperCfg.SetDefault("stageAnalyzer.windowMs", defaultWindowMs)
	viperCfg.SetDefault("stageAnalyzer.historySize", defaultHistorySize)

	// Stream defaults.
	viperCfg.SetDefault("stream.host", defaultHost)
	viperCfg.SetDefault("stream.port", defaultPort)
	viperCfg.SetDefault("stream.replayWindowMs", defaultReplayWindowMs)
	viperCfg.SetDefault("stream.bufferSize", defaultStreamBuffer)

	// Logging defaults.
	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "json")
	viperCfg.SetDefault("logging.output", "stdout")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Stream.Port <= 0 || config.Stream.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, config.Stream.Port)
	}

	if config.Storage.RetentionDays <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetention, config.Storage.RetentionDays)
	}

	for name, q := range config.Queues.Named {
		if q.MaxSize <= 0 {
			return fmt.Errorf("%w: queue %q has maxSize %d", ErrInvalidQueueSize, name, q.MaxSize)
		}
		if q.MaxAttempts <= 0 {
			return fmt.Errorf("%w: queue %q has maxAttempts %d", ErrInvalidMaxAttempts, name, q.MaxAttempts)
		}
	}

	if config.StageAnalyzer.WindowMs <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWindow, config.StageAnalyzer.WindowMs)
	}

	if config.StageAnalyzer.ConfidenceThreshold <= 0 || config.StageAnalyzer.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidConfidence, config.StageAnalyzer.ConfidenceThreshold)
	}

	return nil
}
