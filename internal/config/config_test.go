package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1920, cfg.Sandbox.ViewportWidth)
	assert.Equal(t, 0.02, cfg.Sandbox.VisualChangeThreshold)
	assert.Equal(t, 2, cfg.Pipeline.MaxRepairCycles)
	assert.True(t, cfg.Features.JSONRepairEnabled)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lumen.yaml")
	data := []byte(`
sandbox:
  viewport_width: 1280
  viewport_height: 720
  visual_change_threshold: 0.02
  element_diff_threshold: 0.30
  blank_page_threshold: 0.95
  min_responsive_ratio: 0.70
  modal_open_threshold: 0.15
  max_inputs_to_test: 5
  max_cascade_depth: 2
  max_cascade_elements: 4
  stabilization_ms: 150
  interaction_timeout_ms: 1000
  max_concurrent_validations: 1
pipeline:
  max_repair_cycles: 3
  json_repair_retries: 1
  patch_retries: 2
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Sandbox.ViewportWidth)
	assert.Equal(t, 5, cfg.Sandbox.MaxInputsToTest)
	assert.Equal(t, 3, cfg.Pipeline.MaxRepairCycles)
	// Untouched sections keep defaults.
	assert.Equal(t, "https://api.anthropic.com/v1", cfg.Providers.Reasoner.BaseURL)
	assert.Equal(t, 1000, cfg.MonitorHistorySize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LUMEN_GEMINI_API_KEY", "gk-test")
	t.Setenv("LUMEN_DEBUG_DIR", "/tmp/lumen-debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gk-test", cfg.Providers.Cheap.APIKey)
	assert.Equal(t, "/tmp/lumen-debug", cfg.DebugDir)
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero viewport", func(c *Config) { c.Sandbox.ViewportWidth = 0 }},
		{"blank threshold above one", func(c *Config) { c.Sandbox.BlankPageThreshold = 1.5 }},
		{"negative responsive ratio", func(c *Config) { c.Sandbox.MinResponsiveRatio = -0.1 }},
		{"negative repair cycles", func(c *Config) { c.Pipeline.MaxRepairCycles = -1 }},
		{"zero history", func(c *Config) { c.MonitorHistorySize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSandboxTimeoutDerivations(t *testing.T) {
	s := Default().Sandbox
	assert.Equal(t, 5*s.InteractionTimeout(), s.LoadTimeout())
	assert.Equal(t, s.Stabilization().Milliseconds(), int64(s.StabilizationMs))
}
