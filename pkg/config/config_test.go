package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-io/conclave/pkg/types"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:7410", cfg.API.Addr)
	assert.Equal(t, 3, cfg.Scheduler.DefaultMaxNodes)
	assert.Equal(t, types.StrategyMajorityVote, cfg.Aggregation.DefaultStrategy)
	assert.Equal(t, 1, cfg.Aggregation.Quorum)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conclave.yaml")
	data := `
api:
  addr: 0.0.0.0:9000
scheduler:
  strategy: round-robin
  default_max_nodes: 5
monitor:
  node_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Addr)
	assert.Equal(t, "round-robin", cfg.Scheduler.Strategy)
	assert.Equal(t, 5, cfg.Scheduler.DefaultMaxNodes)
	assert.Equal(t, 30*time.Second, cfg.Monitor.NodeTimeout)

	// Untouched sections keep their defaults
	assert.Equal(t, Default().Aggregation, cfg.Aggregation)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero max nodes", "scheduler:\n  default_max_nodes: -1\n"},
		{"zero quorum", "aggregation:\n  quorum: -2\n"},
		{"unknown strategy", "aggregation:\n  default_strategy: plurality\n"},
		{"negative node timeout", "monitor:\n  node_timeout: -5s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
