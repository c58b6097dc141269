// Package config holds the process-wide, read-only settings for lumen.
// Configuration is loaded once at startup from an optional YAML file plus
// environment overrides; reconfiguration requires a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all lumen configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Providers configures the three LLM back-ends.
	Providers ProvidersConfig `yaml:"providers"`

	// Features toggles optional behavior.
	Features FeatureFlags `yaml:"features"`

	// Sandbox configures the headless-browser validator.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Pipeline configures the custom-layout loop.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// PromptsDir optionally overrides the embedded prompt assets with files
	// on disk (hot-reloaded).
	PromptsDir string `yaml:"prompts_dir"`

	// DebugDir receives screenshot dumps when set.
	DebugDir string `yaml:"debug_dir"`

	// MonitorHistorySize bounds the in-memory event ring.
	MonitorHistorySize int `yaml:"monitor_history_size"`
}

// ProvidersConfig holds one entry per back-end tier.
type ProvidersConfig struct {
	Cheap    ProviderConfig `yaml:"cheap"`
	Coder    ProviderConfig `yaml:"coder"`
	Reasoner ProviderConfig `yaml:"reasoner"`
}

// ProviderConfig configures a single LLM back-end.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// HighTokenModel is the long-output reasoning variant, used for full
	// document generation and rewrites.
	HighTokenModel string `yaml:"high_token_model"`
	// VisionModel accepts image input. Empty means the base model does.
	VisionModel string `yaml:"vision_model"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// Timeout returns the per-call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// FeatureFlags toggles optional subsystems.
type FeatureFlags struct {
	JSONRepairEnabled             bool `yaml:"json_repair_enabled"`
	HTMLRepairEnabled             bool `yaml:"html_repair_enabled"`
	CustomLayoutEnabled           bool `yaml:"custom_layout_enabled"`
	CustomLayoutValidationEnabled bool `yaml:"custom_layout_validation_enabled"`
}

// SandboxConfig holds the validator thresholds. Values were calibrated for a
// 1920x1080 dark-theme viewport; re-derive them before retargeting.
type SandboxConfig struct {
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	VisualChangeThreshold float64 `yaml:"visual_change_threshold"`
	ElementDiffThreshold  float64 `yaml:"element_diff_threshold"`
	BlankPageThreshold    float64 `yaml:"blank_page_threshold"`
	MinResponsiveRatio    float64 `yaml:"min_responsive_ratio"`
	ModalOpenThreshold    float64 `yaml:"modal_open_threshold"`

	MaxInputsToTest      int `yaml:"max_inputs_to_test"`
	MaxCascadeDepth      int `yaml:"max_cascade_depth"`
	MaxCascadeElements   int `yaml:"max_cascade_elements"`
	StabilizationMs      int `yaml:"stabilization_ms"`
	InteractionTimeoutMs int `yaml:"interaction_timeout_ms"`

	// MaxConcurrentValidations bounds simultaneous browser contexts.
	MaxConcurrentValidations int `yaml:"max_concurrent_validations"`

	// ChromeBin optionally points at a Chromium binary; empty lets the
	// launcher resolve one.
	ChromeBin string `yaml:"chrome_bin"`
}

// InteractionTimeout returns the per-click timeout.
func (s SandboxConfig) InteractionTimeout() time.Duration {
	return time.Duration(s.InteractionTimeoutMs) * time.Millisecond
}

// LoadTimeout caps initial page render at 5x the interaction timeout.
func (s SandboxConfig) LoadTimeout() time.Duration {
	return 5 * s.InteractionTimeout()
}

// Stabilization returns the post-click settle delay.
func (s SandboxConfig) Stabilization() time.Duration {
	return time.Duration(s.StabilizationMs) * time.Millisecond
}

// PipelineConfig bounds the generate/validate/repair loop.
type PipelineConfig struct {
	MaxRepairCycles int `yaml:"max_repair_cycles"`
	// JSONRepairRetries bounds the structured-output self-repair loop.
	JSONRepairRetries int `yaml:"json_repair_retries"`
	// PatchRetries bounds the LLM patch generation loop.
	PatchRetries int `yaml:"patch_retries"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Name:    "lumen",
		Version: "1.0.0",
		Providers: ProvidersConfig{
			Cheap: ProviderConfig{
				BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
				Model:      "gemini-2.5-flash",
				TimeoutSec: 30,
			},
			Coder: ProviderConfig{
				BaseURL:    "https://api.openai.com/v1",
				Model:      "gpt-5.1-codex-mini",
				TimeoutSec: 60,
			},
			Reasoner: ProviderConfig{
				BaseURL:        "https://api.anthropic.com/v1",
				Model:          "claude-sonnet-4-20250514",
				HighTokenModel: "claude-opus-4-20250514",
				TimeoutSec:     120,
			},
		},
		Features: FeatureFlags{
			JSONRepairEnabled:             true,
			HTMLRepairEnabled:             true,
			CustomLayoutEnabled:           true,
			CustomLayoutValidationEnabled: true,
		},
		Sandbox: SandboxConfig{
			ViewportWidth:            1920,
			ViewportHeight:           1080,
			VisualChangeThreshold:    0.02,
			ElementDiffThreshold:     0.30,
			BlankPageThreshold:       0.95,
			MinResponsiveRatio:       0.70,
			ModalOpenThreshold:       0.15,
			MaxInputsToTest:          10,
			MaxCascadeDepth:          2,
			MaxCascadeElements:       4,
			StabilizationMs:          150,
			InteractionTimeoutMs:     2000,
			MaxConcurrentValidations: 2,
		},
		Pipeline: PipelineConfig{
			MaxRepairCycles:   2,
			JSONRepairRetries: 1,
			PatchRetries:      2,
		},
		MonitorHistorySize: 1000,
	}
}

// Load reads YAML from path (if non-empty), layers it over defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the loaded file.
// Keys are never written to config files in production deployments.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUMEN_GEMINI_API_KEY"); v != "" {
		cfg.Providers.Cheap.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Providers.Cheap.APIKey == "" {
		cfg.Providers.Cheap.APIKey = v
	}
	if v := os.Getenv("LUMEN_OPENAI_API_KEY"); v != "" {
		cfg.Providers.Coder.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Providers.Coder.APIKey == "" {
		cfg.Providers.Coder.APIKey = v
	}
	if v := os.Getenv("LUMEN_ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Reasoner.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Providers.Reasoner.APIKey == "" {
		cfg.Providers.Reasoner.APIKey = v
	}
	if v := os.Getenv("LUMEN_DEBUG_DIR"); v != "" {
		cfg.DebugDir = v
	}
	if v := os.Getenv("LUMEN_PROMPTS_DIR"); v != "" {
		cfg.PromptsDir = v
	}
	if v := os.Getenv("LUMEN_CHROME_BIN"); v != "" {
		cfg.Sandbox.ChromeBin = v
	}
}

// Validate rejects configurations that cannot work at runtime.
func (c Config) Validate() error {
	if c.Sandbox.ViewportWidth <= 0 || c.Sandbox.ViewportHeight <= 0 {
		return fmt.Errorf("sandbox viewport must be positive, got %dx%d",
			c.Sandbox.ViewportWidth, c.Sandbox.ViewportHeight)
	}
	if c.Sandbox.BlankPageThreshold <= 0 || c.Sandbox.BlankPageThreshold > 1 {
		return fmt.Errorf("blank_page_threshold must be in (0,1], got %g", c.Sandbox.BlankPageThreshold)
	}
	if c.Sandbox.MinResponsiveRatio < 0 || c.Sandbox.MinResponsiveRatio > 1 {
		return fmt.Errorf("min_responsive_ratio must be in [0,1], got %g", c.Sandbox.MinResponsiveRatio)
	}
	if c.Pipeline.MaxRepairCycles < 0 {
		return fmt.Errorf("max_repair_cycles must be >= 0, got %d", c.Pipeline.MaxRepairCycles)
	}
	if c.MonitorHistorySize <= 0 {
		return fmt.Errorf("monitor_history_size must be positive, got %d", c.MonitorHistorySize)
	}
	return nil
}
