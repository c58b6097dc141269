// Package router classifies each utterance by complexity and maps it to the
// model tier that should handle it. Classification itself runs on the cheap
// tier; the mapping from complexity class to target tier is a fixed table.
package router

import (
	"context"
	"strings"

	"lumen/internal/logging"
	"lumen/internal/monitor"
	"lumen/internal/prompts"
	"lumen/internal/provider"
)

// Complexity classes emitted by the classifier.
const (
	ComplexitySimple    = "simple"
	ComplexityExecution = "complex-execution"
	ComplexityReasoning = "complex-reasoning"
)

// Decision is the routing outcome for one utterance.
type Decision struct {
	Complexity            string        `json:"complexity"`
	Target                provider.Tier `json:"target_provider"`
	IsDeviceCommand       bool          `json:"is_device_command"`
	ShouldRespondDirectly bool          `json:"should_respond_directly"`
	Confidence            float64       `json:"confidence"`
	Reasoning             string        `json:"reasoning"`

	// Fallback marks a default decision taken because the classifier
	// failed or returned an unusable record.
	Fallback bool `json:"fallback,omitempty"`
}

// TargetFor maps a complexity class to its tier. Unknown classes map to the
// cheap tier.
func TargetFor(complexity string) provider.Tier {
	switch complexity {
	case ComplexityExecution:
		return provider.TierCoder
	case ComplexityReasoning:
		return provider.TierReasoner
	default:
		return provider.TierCheap
	}
}

// Router runs the classification call. It never returns an error: on any
// failure the decision degrades to simple/cheap with confidence 0.5.
type Router struct {
	cheap    provider.Client
	repairer *provider.Repairer
	mon      *monitor.Monitor
	store    *prompts.Store
}

// New builds a Router around the cheap-tier client.
func New(cheap provider.Client, repairer *provider.Repairer, mon *monitor.Monitor, store *prompts.Store) *Router {
	return &Router{cheap: cheap, repairer: repairer, mon: mon, store: store}
}

// classifier wire record.
type routingJSON struct {
	Complexity            string  `json:"complexity"`
	IsDeviceCommand       bool    `json:"is_device_command"`
	ShouldRespondDirectly bool    `json:"should_respond_directly"`
	Confidence            float64 `json:"confidence"`
	Reasoning             string  `json:"reasoning"`
}

// Decide classifies one utterance. contextSummary is an optional block of
// conversational context appended to the analysis prompt.
func (r *Router) Decide(ctx context.Context, text, contextSummary string) Decision {
	log := logging.S(logging.CategoryRouter)

	prompt := prompts.Fill(r.store.Get(prompts.RouterSystem), map[string]string{"TEXT": text})
	if contextSummary != "" {
		prompt += "\n\nContext:\n" + contextSummary
	}

	var parsed routingJSON
	resp := r.repairer.CompleteJSON(ctx, r.cheap, provider.Request{
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   512,
	}, &parsed)

	if !resp.OK {
		log.Warnw("classifier failed, defaulting", "error", resp.Error)
		return r.fallback(resp.Error)
	}

	complexity := strings.TrimSpace(strings.ToLower(parsed.Complexity))
	switch complexity {
	case ComplexitySimple, ComplexityExecution, ComplexityReasoning:
	default:
		log.Warnw("unknown complexity class, defaulting", "complexity", parsed.Complexity)
		return r.fallback("unknown complexity class: " + parsed.Complexity)
	}

	d := Decision{
		Complexity:            complexity,
		Target:                TargetFor(complexity),
		IsDeviceCommand:       parsed.IsDeviceCommand,
		ShouldRespondDirectly: parsed.ShouldRespondDirectly,
		Confidence:            parsed.Confidence,
		Reasoning:             parsed.Reasoning,
	}
	if r.mon != nil {
		r.mon.LogRouting(d.Complexity, string(d.Target), d.Confidence, false)
	}
	log.Debugw("routed", "complexity", d.Complexity, "target", d.Target,
		"device_command", d.IsDeviceCommand, "confidence", d.Confidence)
	return d
}

func (r *Router) fallback(reason string) Decision {
	d := Decision{
		Complexity: ComplexitySimple,
		Target:     provider.TierCheap,
		Confidence: 0.5,
		Reasoning:  "classifier unavailable: " + reason,
		Fallback:   true,
	}
	if r.mon != nil {
		r.mon.LogRouting(d.Complexity, string(d.Target), d.Confidence, true)
	}
	return d
}
