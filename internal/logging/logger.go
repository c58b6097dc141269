// Package logging provides categorized structured logging for lumen.
// Every subsystem logs through a named zap logger so operators can raise
// or lower verbosity per category without touching the rest of the tree.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // process startup and config load
	CategoryProvider Category = "provider" // LLM API calls
	CategoryMonitor  Category = "monitor"  // event recording
	CategoryRouter   Category = "router"   // routing decisions
	CategoryIntent   Category = "intent"   // utterance -> intent parsing
	CategoryService  Category = "service"  // intent dispatch
	CategoryDevice   Category = "device"   // device resolution and dispatch
	CategoryLayout   Category = "layout"   // HTML generation
	CategorySandbox  Category = "sandbox"  // browser validation phases
	CategoryRepair   Category = "repair"   // deterministic + LLM fixes
	CategoryVision   Category = "vision"   // two-step vision repair
	CategoryPipeline Category = "pipeline" // custom-layout loop
	CategoryPrompts  Category = "prompts"  // prompt asset store
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init installs the process-wide root logger. Call once at startup.
func Init(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	root = logger
}

// NewDevelopment builds and installs a console logger, debug-level when
// verbose is set. Intended for the CLI entrypoints.
func NewDevelopment(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	Init(logger)
	return logger, nil
}

// L returns the named logger for a category.
func L(c Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(string(c))
}

// S returns the sugared logger for a category.
func S(c Category) *zap.SugaredLogger {
	return L(c).Sugar()
}

// Sync flushes buffered log entries. Safe to call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
