// Package config defines all configuration for the VeloZ trading
// runtime. Config is loaded from a YAML file (default:
// configs/config.yaml) with sensitive fields overridable via VELOZ_*
// environment variables, mirroring the teacher's viper-based loader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	Venue      VenueConfig      `mapstructure:"venue"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Book       BookConfig       `mapstructure:"book"`
	Kline      KlineConfig      `mapstructure:"kline"`
	Quality    QualityConfig    `mapstructure:"quality"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// VenueConfig holds exchange endpoints and the symbol set to trade.
type VenueConfig struct {
	Name          string        `mapstructure:"name"`
	WSBaseURL     string        `mapstructure:"ws_base_url"`
	RESTBaseURL   string        `mapstructure:"rest_base_url"`
	Symbols       []string      `mapstructure:"symbols"`
	DepthLimit    int           `mapstructure:"depth_limit"`
	RESTTimeout   time.Duration `mapstructure:"rest_timeout"`
	SnapshotDelay time.Duration `mapstructure:"snapshot_delay"`
}

// DispatcherConfig tunes the event dispatcher and its timer wheel.
type DispatcherConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	TickRate     time.Duration `mapstructure:"tick_rate"`
	SignalDrain  time.Duration `mapstructure:"signal_drain_interval"`
	EnabledTags  []string      `mapstructure:"enabled_tags"`
}

// BookConfig tunes the managed order book's buffering and sync behavior.
type BookConfig struct {
	MaxBufferSize   int           `mapstructure:"max_buffer_size"`
	MaxDepthLevels  int           `mapstructure:"max_depth_levels"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
}

// KlineConfig tunes the candle aggregator.
type KlineConfig struct {
	Intervals             []string `mapstructure:"intervals"`
	MaxHistoryPerInterval int      `mapstructure:"max_history_per_interval"`
	EmitOnUpdate          bool     `mapstructure:"emit_on_update"`
	EmitOnClose           bool     `mapstructure:"emit_on_close"`
}

// QualityConfig tunes the market-quality analyzer's anomaly detectors.
type QualityConfig struct {
	PriceSpikeThreshold   float64 `mapstructure:"price_spike_threshold"`
	VolumeSpikeMultiplier float64 `mapstructure:"volume_spike_multiplier"`
	VolumeDropThreshold   float64 `mapstructure:"volume_drop_threshold"`
	MaxSpreadBps          float64 `mapstructure:"max_spread_bps"`
	StaleThresholdMS      int64   `mapstructure:"stale_threshold_ms"`
	MaxClockSkewMS        int64   `mapstructure:"max_clock_skew_ms"`
}

// StrategyConfig describes one strategy instance to load at startup.
type StrategyConfig struct {
	ID     string             `mapstructure:"id"`
	Kind   string             `mapstructure:"kind"`
	Symbol string             `mapstructure:"symbol"`
	Params map[string]float64 `mapstructure:"params"`
}

// SnapshotConfig controls periodic state persistence.
type SnapshotConfig struct {
	Dir               string        `mapstructure:"dir"`
	Interval          time.Duration `mapstructure:"interval"`
	MaxSnapshots      int           `mapstructure:"max_snapshots"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive/operational overrides use env vars: VELOZ_VENUE_WS_BASE_URL,
// VELOZ_VENUE_REST_BASE_URL, VELOZ_SNAPSHOT_DIR, VELOZ_LOGGING_LEVEL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VELOZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if url := os.Getenv("VELOZ_VENUE_WS_BASE_URL"); url != "" {
		cfg.Venue.WSBaseURL = url
	}
	if url := os.Getenv("VELOZ_VENUE_REST_BASE_URL"); url != "" {
		cfg.Venue.RESTBaseURL = url
	}
	if dir := os.Getenv("VELOZ_SNAPSHOT_DIR"); dir != "" {
		cfg.Snapshot.Dir = dir
	}
	if level := os.Getenv("VELOZ_LOGGING_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults fills zero-valued tunables with the same defaults the
// respective component constructors otherwise assume, so a minimal YAML
// file is enough to run.
func applyDefaults(c *Config) {
	if c.Venue.DepthLimit == 0 {
		c.Venue.DepthLimit = 1000
	}
	if c.Venue.RESTTimeout == 0 {
		c.Venue.RESTTimeout = 10 * time.Second
	}
	if c.Venue.SnapshotDelay == 0 {
		c.Venue.SnapshotDelay = 100 * time.Millisecond
	}
	if c.Dispatcher.QueueSize == 0 {
		c.Dispatcher.QueueSize = 4096
	}
	if c.Dispatcher.TickRate == 0 {
		c.Dispatcher.TickRate = time.Millisecond
	}
	if c.Dispatcher.SignalDrain == 0 {
		c.Dispatcher.SignalDrain = 500 * time.Millisecond
	}
	if c.Book.MaxBufferSize == 0 {
		c.Book.MaxBufferSize = 2000
	}
	if c.Book.MaxDepthLevels == 0 {
		c.Book.MaxDepthLevels = 1000
	}
	if c.Book.SnapshotTimeout == 0 {
		c.Book.SnapshotTimeout = 5 * time.Second
	}
	if c.Kline.MaxHistoryPerInterval == 0 {
		c.Kline.MaxHistoryPerInterval = 1000
	}
	if c.Quality.PriceSpikeThreshold == 0 {
		c.Quality.PriceSpikeThreshold = 0.05
	}
	if c.Quality.VolumeSpikeMultiplier == 0 {
		c.Quality.VolumeSpikeMultiplier = 5.0
	}
	if c.Quality.VolumeDropThreshold == 0 {
		c.Quality.VolumeDropThreshold = 0.1
	}
	if c.Quality.MaxSpreadBps == 0 {
		c.Quality.MaxSpreadBps = 100.0
	}
	if c.Quality.StaleThresholdMS == 0 {
		c.Quality.StaleThresholdMS = 5000
	}
	if c.Quality.MaxClockSkewMS == 0 {
		c.Quality.MaxClockSkewMS = 1000
	}
	if c.Snapshot.Interval == 0 {
		c.Snapshot.Interval = time.Minute
	}
	if c.Snapshot.MaxSnapshots == 0 {
		c.Snapshot.MaxSnapshots = 20
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Venue.WSBaseURL == "" {
		return fmt.Errorf("venue.ws_base_url is required")
	}
	if c.Venue.RESTBaseURL == "" {
		return fmt.Errorf("venue.rest_base_url is required")
	}
	if len(c.Venue.Symbols) == 0 {
		return fmt.Errorf("venue.symbols must list at least one symbol")
	}
	if c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher.queue_size must be > 0")
	}
	if c.Book.MaxBufferSize <= 0 {
		return fmt.Errorf("book.max_buffer_size must be > 0")
	}
	for _, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategies: id is required")
		}
		if s.Kind == "" {
			return fmt.Errorf("strategies[%s]: kind is required", s.ID)
		}
		if s.Symbol == "" {
			return fmt.Errorf("strategies[%s]: symbol is required", s.ID)
		}
	}
	if c.Snapshot.Dir == "" {
		return fmt.Errorf("snapshot.dir is required")
	}
	if c.Snapshot.MaxSnapshots <= 0 {
		return fmt.Errorf("snapshot.max_snapshots must be > 0")
	}
	return nil
}
