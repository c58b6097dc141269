package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/semaphore"

	"lumen/internal/config"
	"lumen/internal/logging"
)

// Validator runs browser validations. A weighted semaphore bounds how many
// browser contexts exist at once; each validation gets its own and frees it
// on every exit path.
type Validator struct {
	cfg      config.SandboxConfig
	sem      *semaphore.Weighted
	debugDir string
}

// NewValidator builds a Validator. debugDir may be empty (no screenshot
// dumps).
func NewValidator(cfg config.SandboxConfig, debugDir string) *Validator {
	limit := int64(cfg.MaxConcurrentValidations)
	if limit <= 0 {
		limit = 1
	}
	return &Validator{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(limit),
		debugDir: debugDir,
	}
}

// session owns the live browser resources for one validation.
type session struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	mu        sync.Mutex
	jsErrors  []string
	consoleWn int
}

// close releases every browser resource. Safe to call more than once.
func (s *session) close() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
		s.launcher = nil
	}
}

func (s *session) recordJSError(msg string) {
	s.mu.Lock()
	s.jsErrors = append(s.jsErrors, msg)
	s.mu.Unlock()
}

func (s *session) errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.jsErrors))
	copy(out, s.jsErrors)
	return out
}

func (s *session) warnings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consoleWn
}

// launch starts a headless browser, opens an incognito page at the declared
// viewport, and subscribes to page errors and console errors.
func (v *Validator) launch(ctx context.Context) (*session, error) {
	log := logging.S(logging.CategorySandbox)
	sess := &session{}

	l := launcher.New().Headless(true)
	if v.cfg.ChromeBin != "" {
		l = l.Bin(v.cfg.ChromeBin)
	}
	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	sess.launcher = l

	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		sess.close()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	sess.browser = browser

	incognito, err := browser.Incognito()
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	sess.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             v.cfg.ViewportWidth,
		Height:            v.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Warnw("failed to set viewport", "error", err)
	}

	go page.EachEvent(
		func(ev *proto.RuntimeExceptionThrown) {
			if ev.ExceptionDetails != nil {
				sess.recordJSError(ev.ExceptionDetails.Text)
			}
		},
		func(ev *proto.RuntimeConsoleAPICalled) {
			switch ev.Type {
			case proto.RuntimeConsoleAPICalledTypeError:
				sess.recordJSError(stringifyConsole(ev.Args))
			case proto.RuntimeConsoleAPICalledTypeWarning:
				sess.mu.Lock()
				sess.consoleWn++
				sess.mu.Unlock()
			}
		},
	)()

	return sess, nil
}

func stringifyConsole(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if arg.Value.Nil() {
			parts = append(parts, arg.Description)
		} else {
			parts = append(parts, arg.Value.String())
		}
	}
	if len(parts) == 0 {
		return "console error"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

// setContent loads the HTML and waits for render, bounded by the load
// timeout.
func (v *Validator) setContent(sess *session, html string) error {
	page := sess.page.Timeout(v.cfg.LoadTimeout())
	if err := page.SetDocumentContent(html); err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	// Let the Tailwind CDN script finish its first paint.
	_ = page.WaitIdle(2 * time.Second)
	return nil
}

// eval runs a JS function on the page and unmarshals the result into out.
func (v *Validator) eval(sess *session, js string, out any, args ...any) error {
	res, err := sess.page.Timeout(v.cfg.InteractionTimeout()).Evaluate(
		rod.Eval(js, args...))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	raw := res.Value.JSON("", "")
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// screenshot captures the page as a snapshot and optionally dumps it.
func (v *Validator) screenshot(sess *session, label string) (*VisualSnapshot, error) {
	data, err := sess.page.Timeout(v.cfg.InteractionTimeout()).Screenshot(true, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	snap, err := NewSnapshot(data)
	if err != nil {
		return nil, err
	}
	v.dump(label, data)
	return snap, nil
}

// dump writes a debug screenshot. Timestamp plus microseconds keeps names
// unique across concurrent validations.
func (v *Validator) dump(label string, png []byte) {
	if v.debugDir == "" {
		return
	}
	name := fmt.Sprintf("%s_%s.png", time.Now().Format("20060102_150405.000000"), label)
	path := filepath.Join(v.debugDir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		logging.S(logging.CategorySandbox).Warnw("screenshot dump failed", "path", path, "error", err)
	}
}

// click clicks the element behind a selector, bounded by the interaction
// timeout. Returns a reason string when the element was skipped.
func (v *Validator) click(sess *session, selector string) (skipReason string, err error) {
	page := sess.page.Timeout(v.cfg.InteractionTimeout())
	el, err := page.Element(selector)
	if err != nil {
		return "element not found", nil
	}
	visible, err := el.Visible()
	if err != nil || !visible {
		return "element not visible", nil
	}
	if disabled, _ := el.Property("disabled"); disabled.Bool() {
		return "element disabled", nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("click %s: %w", selector, err)
	}
	return "", nil
}

// pressEscape sends the Escape key, used to dismiss modals during cascade
// restore.
func (v *Validator) pressEscape(sess *session) {
	_ = sess.page.Timeout(v.cfg.InteractionTimeout()).Keyboard.Press(input.Escape)
}
