// Package prompts ships the model prompt text as versioned assets. Prompt
// text is data, not code: components fetch it by name from a Store, which
// serves embedded defaults and optionally hot-reloads overrides from disk.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"lumen/internal/logging"
)

//go:embed assets
var assets embed.FS

// Asset names. Each maps to assets/<name>.md (or .yaml).
const (
	RouterSystem       = "router_system"
	IntentSystem       = "intent_system"
	LayoutSystem       = "layout_system"
	ContentHints       = "content_hints"
	JSONDiagnosis      = "json_diagnosis"
	JSONRepair         = "json_repair"
	TailwindFix        = "tailwind_fix"
	JSFix              = "js_fix"
	VisionAnalyze      = "vision_analyze"
	VisionRepairSystem = "vision_repair_system"
	FeedbackRepair     = "feedback_repair"
)

// Store serves prompt text by name. When an override directory is
// configured, files there shadow the embedded assets and are re-read on
// change; otherwise the embedded copies are authoritative.
type Store struct {
	overrideDir string

	mu        sync.RWMutex
	overrides map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore creates a Store. overrideDir may be empty.
func NewStore(overrideDir string) (*Store, error) {
	s := &Store{
		overrideDir: overrideDir,
		overrides:   make(map[string]string),
		done:        make(chan struct{}),
	}
	if overrideDir == "" {
		return s, nil
	}

	if err := s.loadOverrides(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("prompt watcher: %w", err)
	}
	if err := watcher.Add(overrideDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", overrideDir, err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *Store) loadOverrides() error {
	entries, err := os.ReadDir(s.overrideDir)
	if err != nil {
		return fmt.Errorf("read prompts dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		s.loadOverrideFile(filepath.Join(s.overrideDir, entry.Name()))
	}
	return nil
}

func (s *Store) loadOverrideFile(path string) {
	ext := filepath.Ext(path)
	if ext != ".md" && ext != ".yaml" {
		return
	}
	name := strings.TrimSuffix(filepath.Base(path), ext)
	data, err := os.ReadFile(path)
	if err != nil {
		logging.S(logging.CategoryPrompts).Warnw("prompt override unreadable", "path", path, "error", err)
		return
	}
	s.mu.Lock()
	s.overrides[name] = string(data)
	s.mu.Unlock()
	logging.S(logging.CategoryPrompts).Infow("prompt override loaded", "name", name)
}

func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.loadOverrideFile(ev.Name)
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				ext := filepath.Ext(ev.Name)
				name := strings.TrimSuffix(filepath.Base(ev.Name), ext)
				s.mu.Lock()
				delete(s.overrides, name)
				s.mu.Unlock()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.S(logging.CategoryPrompts).Warnw("prompt watcher error", "error", err)
		}
	}
}

// Close stops the override watcher.
func (s *Store) Close() {
	if s.watcher != nil {
		close(s.done)
		_ = s.watcher.Close()
	}
}

// Get returns the prompt text for a name. Unknown names return "" so the
// caller fails at the model call, not with a panic mid-request.
func (s *Store) Get(name string) string {
	s.mu.RLock()
	if text, ok := s.overrides[name]; ok {
		s.mu.RUnlock()
		return text
	}
	s.mu.RUnlock()

	for _, ext := range []string{".md", ".yaml"} {
		if data, err := assets.ReadFile("assets/" + name + ext); err == nil {
			return string(data)
		}
	}
	logging.S(logging.CategoryPrompts).Warnw("unknown prompt asset", "name", name)
	return ""
}

// Fill substitutes {{KEY}} placeholders in a prompt template.
func Fill(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}
