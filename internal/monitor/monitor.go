// Package monitor records structured events for every request, model call,
// intent, routing decision, and device command, and keeps in-memory
// aggregates keyed by provider. History is a bounded ring; aggregates grow
// monotonically and may be reset by tests only.
package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumen/internal/logging"
)

// Kind classifies a monitor event.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindIntent   Kind = "intent"
	KindRouting  Kind = "routing"
	KindCommand  Kind = "command"
	KindError    Kind = "error"
)

// Severity mirrors log levels for recorded events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one monitor record. All events are timestamped and carry an id so
// request/response pairs can be correlated.
type Event struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	Kind     Kind           `json:"kind"`
	Severity Severity       `json:"severity"`
	Provider string         `json:"provider,omitempty"`
	Model    string         `json:"model,omitempty"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// ProviderStats aggregates per-provider counters.
type ProviderStats struct {
	Requests         int     `json:"requests"`
	Failures         int     `json:"failures"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	TotalLatencyMS   int64   `json:"total_latency_ms"`
	CostUSD          float64 `json:"cost_usd"`
}

// Stats is a point-in-time copy of all aggregates.
type Stats struct {
	Events     int                      `json:"events"`
	Errors     int                      `json:"errors"`
	Warnings   int                      `json:"warnings"`
	ByProvider map[string]ProviderStats `json:"by_provider"`
}

// rate is the cost per 1K tokens (prompt, completion) for a provider tier.
type rate struct {
	prompt     float64
	completion float64
}

// Default per-1K-token rates. Approximate; used only for relative cost
// pressure in routing dashboards, not billing.
var defaultRates = map[string]rate{
	"cheap":    {prompt: 0.00015, completion: 0.0006},
	"coder":    {prompt: 0.0011, completion: 0.0044},
	"reasoner": {prompt: 0.003, completion: 0.015},
}

// Monitor is the unified event log. A single mutex guards both the history
// ring and the aggregates so the two views never disagree.
type Monitor struct {
	mu       sync.Mutex
	history  []Event
	capacity int
	next     int
	filled   bool

	events   int
	errors   int
	warnings int
	provider map[string]*ProviderStats
}

// New creates a Monitor with the given ring capacity.
func New(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Monitor{
		history:  make([]Event, capacity),
		capacity: capacity,
		provider: make(map[string]*ProviderStats),
	}
}

// Record appends an event and folds it into the aggregates atomically.
// Missing id, time, and severity are filled in.
func (m *Monitor) Record(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}

	m.mu.Lock()
	m.history[m.next] = ev
	m.next++
	if m.next == m.capacity {
		m.next = 0
		m.filled = true
	}

	m.events++
	switch ev.Severity {
	case SeverityError:
		m.errors++
	case SeverityWarning:
		m.warnings++
	}

	if ev.Provider != "" {
		stats := m.provider[ev.Provider]
		if stats == nil {
			stats = &ProviderStats{}
			m.provider[ev.Provider] = stats
		}
		switch ev.Kind {
		case KindRequest:
			stats.Requests++
		case KindResponse:
			prompt, _ := ev.Fields["prompt_tokens"].(int)
			completion, _ := ev.Fields["completion_tokens"].(int)
			latency, _ := ev.Fields["latency_ms"].(int64)
			stats.PromptTokens += prompt
			stats.CompletionTokens += completion
			stats.TotalTokens += prompt + completion
			stats.TotalLatencyMS += latency
			if r, ok := defaultRates[ev.Provider]; ok {
				stats.CostUSD += float64(prompt)/1000*r.prompt + float64(completion)/1000*r.completion
			}
			if ok, present := ev.Fields["ok"].(bool); present && !ok {
				stats.Failures++
			}
		case KindError:
			stats.Failures++
		}
	}
	m.mu.Unlock()

	m.log(ev)
	return ev
}

func (m *Monitor) log(ev Event) {
	logger := logging.L(logging.CategoryMonitor)
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
	}
	if ev.Provider != "" {
		fields = append(fields, zap.String("provider", ev.Provider))
	}
	if ev.Model != "" {
		fields = append(fields, zap.String("model", ev.Model))
	}
	for k, v := range ev.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch ev.Severity {
	case SeverityError:
		logger.Error(ev.Message, fields...)
	case SeverityWarning:
		logger.Warn(ev.Message, fields...)
	default:
		logger.Info(ev.Message, fields...)
	}
}

// History returns up to n most recent events, newest last.
func (m *Monitor) History(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = m.capacity
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	start := m.next - n
	if start < 0 {
		start += m.capacity
	}
	for i := 0; i < n; i++ {
		out = append(out, m.history[(start+i)%m.capacity])
	}
	return out
}

// Snapshot returns a copy of the aggregates.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byProvider := make(map[string]ProviderStats, len(m.provider))
	for name, stats := range m.provider {
		byProvider[name] = *stats
	}
	return Stats{
		Events:     m.events,
		Errors:     m.errors,
		Warnings:   m.warnings,
		ByProvider: byProvider,
	}
}

// Reset clears history and aggregates. Test support only.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = make([]Event, m.capacity)
	m.next = 0
	m.filled = false
	m.events = 0
	m.errors = 0
	m.warnings = 0
	m.provider = make(map[string]*ProviderStats)
}
