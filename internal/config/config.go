// Package config loads the engine's run configuration: YAML file plus
// environment-variable overrides, grounded on the teacher's
// internal/config/config.go (singleton Get(), LoadConfig, applyEnvOverrides,
// applyDefaults, and the getEnv*/splitCSV helper family).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root run configuration for a `simulate` invocation.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	MCS        MCSConfig        `yaml:"mcs"`
	Results    ResultsConfig    `yaml:"results"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Streamer   StreamerConfig   `yaml:"streamer"`
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// SimulationConfig names the superlog trace to replay and the invariant
// check to run against it.
type SimulationConfig struct {
	SuperlogPath      string `yaml:"superlog_path"`
	InvariantCheck    string `yaml:"invariant_check"`
	WaitOnDeterministicValues bool `yaml:"wait_on_deterministic_values"`
}

// SchedulerConfig mirrors EventScheduler's tunables (spec §4.3).
type SchedulerConfig struct {
	Speedup              float64 `yaml:"speedup"`
	DelayInputEvents      bool    `yaml:"delay_input_events"`
	InitialWaitMs        int     `yaml:"initial_wait_ms"`
	EpsilonSeconds       float64 `yaml:"epsilon_seconds"`
	SleepIntervalMs      int     `yaml:"sleep_interval_ms"`
}

// MCSConfig mirrors MCSFinder's tunables (spec §4.7–§4.9).
type MCSConfig struct {
	EndWaitSeconds              float64 `yaml:"end_wait_seconds"`
	NoViolationVerificationRuns int     `yaml:"no_violation_verification_runs"`
	OptimizedFiltering          bool    `yaml:"optimized_filtering"`
	Efficient                   bool    `yaml:"efficient"`
}

// ResultsConfig locates output artifacts.
type ResultsConfig struct {
	Dir              string `yaml:"dir"`
	MCSTracePath     string `yaml:"mcs_trace_path"`
	RuntimeStatsPath string `yaml:"runtime_stats_path"`
}

// MetricsConfig enables the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StreamerConfig enables the websocket live-progress hub.
type StreamerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StoreConfig is the Postgres archive connection (lib/pq).
type StoreConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DSN        string `yaml:"dsn"`
}

// CacheConfig selects the Redis-backed precompute cache, if any (otherwise
// the in-memory cache.Cache is used).
type CacheConfig struct {
	RedisEnabled bool   `yaml:"redis_enabled"`
	RedisAddr    string `yaml:"redis_addr"`
}

// HTTPConfig is the gorilla/mux status/control API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton, loading CONFIG_PATH (default
// "config.yaml") on first call and applying environment overrides and
// defaults.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "err", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyDefaults()
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads a Config from a YAML file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.Speedup == 0 {
		c.Scheduler.Speedup = 1.0
	}
	if c.Scheduler.InitialWaitMs == 0 {
		c.Scheduler.InitialWaitMs = 500
	}
	if c.Scheduler.EpsilonSeconds == 0 {
		c.Scheduler.EpsilonSeconds = 0.5
	}
	if c.Scheduler.SleepIntervalMs == 0 {
		c.Scheduler.SleepIntervalMs = 200
	}
	if c.MCS.NoViolationVerificationRuns == 0 {
		c.MCS.NoViolationVerificationRuns = 1
	}
	if c.MCS.EndWaitSeconds == 0 {
		c.MCS.EndWaitSeconds = 0.5
	}
	if c.Results.Dir == "" {
		c.Results.Dir = "results"
	}
	if c.Results.MCSTracePath == "" {
		c.Results.MCSTracePath = c.Results.Dir + "/mcs.trace"
	}
	if c.Results.RuntimeStatsPath == "" {
		c.Results.RuntimeStatsPath = c.Results.Dir + "/runtime_stats.json"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Streamer.Addr == "" {
		c.Streamer.Addr = ":8766"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

func (c *Config) applyEnvOverrides() {
	c.Simulation.SuperlogPath = getEnv("STS_SUPERLOG_PATH", c.Simulation.SuperlogPath)
	c.Simulation.InvariantCheck = getEnv("STS_INVARIANT_CHECK", c.Simulation.InvariantCheck)
	c.Simulation.WaitOnDeterministicValues = getEnvBool("STS_WAIT_ON_DETERMINISTIC_VALUES", c.Simulation.WaitOnDeterministicValues)

	c.Scheduler.Speedup = getEnvFloat("STS_SPEEDUP", c.Scheduler.Speedup)
	c.Scheduler.DelayInputEvents = getEnvBool("STS_DELAY_INPUT_EVENTS", c.Scheduler.DelayInputEvents)
	c.Scheduler.InitialWaitMs = getEnvInt("STS_INITIAL_WAIT_MS", c.Scheduler.InitialWaitMs)
	c.Scheduler.EpsilonSeconds = getEnvFloat("STS_EPSILON_SECONDS", c.Scheduler.EpsilonSeconds)
	c.Scheduler.SleepIntervalMs = getEnvInt("STS_SLEEP_INTERVAL_MS", c.Scheduler.SleepIntervalMs)

	c.MCS.EndWaitSeconds = getEnvFloat("STS_END_WAIT_SECONDS", c.MCS.EndWaitSeconds)
	c.MCS.NoViolationVerificationRuns = getEnvInt("STS_NO_VIOLATION_VERIFICATION_RUNS", c.MCS.NoViolationVerificationRuns)
	c.MCS.OptimizedFiltering = getEnvBool("STS_OPTIMIZED_FILTERING", c.MCS.OptimizedFiltering)
	c.MCS.Efficient = getEnvBool("STS_EFFICIENT", c.MCS.Efficient)

	c.Results.Dir = getEnv("STS_RESULTS_DIR", c.Results.Dir)

	c.Metrics.Enabled = getEnvBool("STS_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getEnv("STS_METRICS_ADDR", c.Metrics.Addr)

	c.Streamer.Enabled = getEnvBool("STS_STREAMER_ENABLED", c.Streamer.Enabled)
	c.Streamer.Addr = getEnv("STS_STREAMER_ADDR", c.Streamer.Addr)

	c.Store.Enabled = getEnvBool("STS_STORE_ENABLED", c.Store.Enabled)
	c.Store.DSN = getEnv("STS_STORE_DSN", c.Store.DSN)

	c.Cache.RedisEnabled = getEnvBool("STS_CACHE_REDIS_ENABLED", c.Cache.RedisEnabled)
	c.Cache.RedisAddr = getEnv("STS_CACHE_REDIS_ADDR", c.Cache.RedisAddr)

	c.HTTP.Enabled = getEnvBool("STS_HTTP_ENABLED", c.HTTP.Enabled)
	c.HTTP.Addr = getEnv("STS_HTTP_ADDR", c.HTTP.Addr)
}

// InitialWait/SleepInterval as time.Duration convenience accessors for
// wiring into scheduler.Options.
func (c SchedulerConfig) InitialWait() time.Duration {
	return time.Duration(c.InitialWaitMs) * time.Millisecond
}

func (c SchedulerConfig) SleepInterval() time.Duration {
	return time.Duration(c.SleepIntervalMs) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
