// Package config loads coordinator configuration from YAML with
// defaults suitable for a single-coordinator deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conclave-io/conclave/pkg/types"
)

// Config holds the full coordinator configuration.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Data        DataConfig        `yaml:"data"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DataConfig controls state persistence.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// SchedulerConfig controls task placement.
type SchedulerConfig struct {
	Interval        time.Duration      `yaml:"interval"`
	Strategy        string             `yaml:"strategy"` // least-loaded, round-robin, capability-weighted
	DefaultMaxNodes int                `yaml:"default_max_nodes"`
	DefaultTimeout  time.Duration      `yaml:"default_timeout"`
	MaxRetries      int                `yaml:"max_retries"` // scheduling passes with no eligible node before the task fails
	RetryBackoff    time.Duration      `yaml:"retry_backoff"`
	DefaultPriority types.TaskPriority `yaml:"default_priority"`
}

// AggregationConfig controls result reduction.
type AggregationConfig struct {
	Quorum          int                       `yaml:"quorum"` // minimum partials before finalizing
	DefaultStrategy types.AggregationStrategy `yaml:"default_strategy"`
}

// MonitorConfig controls failure detection.
type MonitorConfig struct {
	Interval           time.Duration `yaml:"interval"`
	NodeTimeout        time.Duration `yaml:"node_timeout"`         // heartbeat age before a node is suspected
	FailureGrace       time.Duration `yaml:"failure_grace"`        // additional silence before suspected becomes failed
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"` // executor error fraction that flags a node
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Addr:           "127.0.0.1:7410",
			RequestTimeout: 30 * time.Second,
		},
		Data: DataConfig{
			Dir: "/var/lib/conclave",
		},
		Scheduler: SchedulerConfig{
			Interval:        1 * time.Second,
			Strategy:        "least-loaded",
			DefaultMaxNodes: 3,
			DefaultTimeout:  60 * time.Second,
			MaxRetries:      5,
			RetryBackoff:    2 * time.Second,
			DefaultPriority: types.PriorityMedium,
		},
		Aggregation: AggregationConfig{
			Quorum:          1,
			DefaultStrategy: types.StrategyMajorityVote,
		},
		Monitor: MonitorConfig{
			Interval:           5 * time.Second,
			NodeTimeout:        15 * time.Second,
			FailureGrace:       15 * time.Second,
			ErrorRateThreshold: 0.5,
			ProbeTimeout:       3 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads the config file at path, layered over defaults. A missing
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.DefaultMaxNodes < 1 {
		return fmt.Errorf("scheduler.default_max_nodes must be at least 1")
	}
	if c.Aggregation.Quorum < 1 {
		return fmt.Errorf("aggregation.quorum must be at least 1")
	}
	if c.Monitor.NodeTimeout <= 0 || c.Monitor.FailureGrace <= 0 {
		return fmt.Errorf("monitor timeouts must be positive")
	}
	switch c.Aggregation.DefaultStrategy {
	case types.StrategyMajorityVote, types.StrategyWeightedAverage,
		types.StrategyConfidenceWeighted, types.StrategyBestResult:
	default:
		return fmt.Errorf("unknown aggregation strategy: %s", c.Aggregation.DefaultStrategy)
	}
	return nil
}
