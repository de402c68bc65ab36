package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the query observability engine
// and its supporting services.
type Config struct {
	LogLevel    string           `yaml:"log_level"`
	LogEncoding string           `yaml:"log_encoding"`
	Engine      EngineConfig     `yaml:"engine"`
	Cache       CacheConfig      `yaml:"cache"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
}

// EngineConfig holds the engine tunables: store bounds, detection windows
// and the thresholds driving suggestions and health classification.
type EngineConfig struct {
	// Metric store
	MaxMetrics     int `yaml:"max_metrics"`
	MaxQueryLength int `yaml:"max_query_length"`

	// Suggestion engine
	MaxSuggestions  int     `yaml:"max_suggestions"`
	SlowQueryMs     float64 `yaml:"slow_query_ms"`
	CriticalQueryMs float64 `yaml:"critical_query_ms"`
	LargeResultRows int64   `yaml:"large_result_rows"`

	// N+1 detection
	NPlusOneWindow         time.Duration `yaml:"n_plus_one_window"`
	NPlusOneThreshold      int           `yaml:"n_plus_one_threshold"`
	BatchNPlusOneThreshold int           `yaml:"batch_n_plus_one_threshold"`

	// Health classification
	HealthAvgWarningMs  float64 `yaml:"health_avg_warning_ms"`
	HealthAvgCriticalMs float64 `yaml:"health_avg_critical_ms"`
	HealthSlowWarnRatio float64 `yaml:"health_slow_warn_ratio"`
	HealthSlowCritRatio float64 `yaml:"health_slow_crit_ratio"`

	// Pruning gate: fraction of system memory in use before
	// ClearOldMetrics is allowed to run.
	MemoryPressureThreshold float64 `yaml:"memory_pressure_threshold"`

	// Normalization memoization
	NormalizerCacheMB int `yaml:"normalizer_cache_mb"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	DefaultTTL           time.Duration `yaml:"default_ttl"`
	MaxEntries           int           `yaml:"max_entries"`
	EnableCompression    bool          `yaml:"enable_compression"`
	CompressionThreshold int           `yaml:"compression_threshold"`
}

// MonitoringConfig holds the stats/debug HTTP server settings.
type MonitoringConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`
	MetricsPath   string        `yaml:"metrics_path"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	Namespace     string        `yaml:"namespace"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		LogEncoding: "json",
		Engine: EngineConfig{
			MaxMetrics:              10000,
			MaxQueryLength:          512,
			MaxSuggestions:          1000,
			SlowQueryMs:             1000,
			CriticalQueryMs:         5000,
			LargeResultRows:         10000,
			NPlusOneWindow:          5 * time.Second,
			NPlusOneThreshold:       10,
			BatchNPlusOneThreshold:  10,
			HealthAvgWarningMs:      500,
			HealthAvgCriticalMs:     2000,
			HealthSlowWarnRatio:     0.10,
			HealthSlowCritRatio:     0.30,
			MemoryPressureThreshold: 0.80,
			NormalizerCacheMB:       8,
		},
		Cache: CacheConfig{
			DefaultTTL:           5 * time.Minute,
			MaxEntries:           10000,
			EnableCompression:    true,
			CompressionThreshold: 4096,
		},
		Monitoring: MonitoringConfig{
			Enabled:       true,
			ListenAddr:    ":9187",
			MetricsPath:   "/metrics",
			StatsInterval: 5 * time.Second,
			Namespace:     "queryscope",
		},
	}
}

// Load reads a yaml configuration file, applying defaults for any
// fields the file leaves unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	e := &c.Engine
	if e.MaxMetrics <= 0 {
		return fmt.Errorf("engine.max_metrics must be positive, got %d", e.MaxMetrics)
	}
	if e.MaxQueryLength <= 0 {
		return fmt.Errorf("engine.max_query_length must be positive, got %d", e.MaxQueryLength)
	}
	if e.MaxSuggestions <= 0 {
		return fmt.Errorf("engine.max_suggestions must be positive, got %d", e.MaxSuggestions)
	}
	if e.NPlusOneWindow <= 0 {
		return fmt.Errorf("engine.n_plus_one_window must be positive, got %s", e.NPlusOneWindow)
	}
	if e.NPlusOneThreshold <= 1 {
		return fmt.Errorf("engine.n_plus_one_threshold must be greater than 1, got %d", e.NPlusOneThreshold)
	}
	if e.SlowQueryMs <= 0 || e.CriticalQueryMs <= e.SlowQueryMs {
		return fmt.Errorf("engine slow/critical thresholds must satisfy 0 < slow < critical, got %.0f/%.0f",
			e.SlowQueryMs, e.CriticalQueryMs)
	}
	if e.MemoryPressureThreshold <= 0 || e.MemoryPressureThreshold > 1 {
		return fmt.Errorf("engine.memory_pressure_threshold must be in (0,1], got %.2f", e.MemoryPressureThreshold)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Monitoring.Enabled {
		if c.Monitoring.ListenAddr == "" {
			return fmt.Errorf("monitoring.listen_addr must be set when monitoring is enabled")
		}
		if c.Monitoring.StatsInterval <= 0 {
			return fmt.Errorf("monitoring.stats_interval must be positive, got %s", c.Monitoring.StatsInterval)
		}
	}
	return nil
}
