package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lumen/internal/logging"
)

// StripFences removes a leading/trailing markdown code fence (``` or
// ```json) from model output. Text without fences passes through unchanged.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	// Drop the opening fence line, including any language tag.
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	} else {
		return strings.TrimSpace(strings.TrimPrefix(text, "```"))
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// ExtractJSONObject returns the first brace-balanced JSON object or array in
// text, ignoring braces inside string literals. Empty string when none found.
func ExtractJSONObject(text string) string {
	start := -1
	var open, close rune
	for i, r := range text {
		if r == '{' || r == '[' {
			start = i
			open = r
			close = '}'
			if r == '[' {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := rune(text[i])
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// Repairer runs the JSON self-repair loop: when a structured completion does
// not parse, a cheap-tier diagnosis plus a targeted retry on the original
// back-end recovers it without the caller ever seeing malformed text.
type Repairer struct {
	cheap        Client
	enabled      bool
	retries      int
	diagnosisTpl string
	repairTpl    string
}

// NewRepairer builds the repair stage. retries is the number of repair
// attempts after the initial parse failure; values below zero clamp to zero.
func NewRepairer(cheap Client, enabled bool, retries int, diagnosisTpl, repairTpl string) *Repairer {
	if retries < 0 {
		retries = 0
	}
	return &Repairer{
		cheap:        cheap,
		enabled:      enabled,
		retries:      retries,
		diagnosisTpl: diagnosisTpl,
		repairTpl:    repairTpl,
	}
}

const originalContextLimit = 2000

// CompleteJSON calls the client and unmarshals its output into out. On parse
// failure with repair enabled it runs diagnosis and repair rounds, up to the
// configured retry cap. On success the returned Response carries the exact
// text that parsed; on final failure the parse error is surfaced verbatim.
func (r *Repairer) CompleteJSON(ctx context.Context, c Client, req Request, out any) Response {
	log := logging.S(logging.CategoryProvider)

	resp := c.Complete(ctx, req)
	if !resp.OK {
		return resp
	}

	text, parseErr := parseInto(resp.Content, out)
	if parseErr == nil {
		resp.Content = text
		return resp
	}

	if !r.enabled || r.retries == 0 {
		return Failure(c.Tier(), resp.Model, ErrorInvalidResponse, parseErr, resp.LatencyMS)
	}

	malformed := resp.Content
	totalLatency := resp.LatencyMS

	for attempt := 1; attempt <= r.retries; attempt++ {
		log.Warnw("json parse failed, repairing",
			"tier", c.Tier(), "attempt", attempt, "error", parseErr.Error())

		diagnosis := parseErr.Error()
		if r.cheap != nil && r.diagnosisTpl != "" {
			diagResp := r.cheap.Complete(ctx, Request{
				Prompt: fillTemplate(r.diagnosisTpl, map[string]string{
					"ERROR":  parseErr.Error(),
					"OUTPUT": malformed,
				}),
				Temperature: 0,
			})
			totalLatency += diagResp.LatencyMS
			if diagResp.OK {
				diagnosis = diagResp.Content
			}
		}

		original := req.Prompt
		if len(original) > originalContextLimit {
			original = original[:originalContextLimit] + "\n[truncated]"
		}
		repairReq := Request{
			Prompt: fillTemplate(r.repairTpl, map[string]string{
				"DIAGNOSIS": diagnosis,
				"OUTPUT":    malformed,
				"ORIGINAL":  original,
			}),
			Temperature: 0,
			MaxTokens:   req.MaxTokens,
		}
		if c.Tier() == TierCoder {
			repairReq.ReasoningEffort = "high"
		}

		repairResp := c.Complete(ctx, repairReq)
		totalLatency += repairResp.LatencyMS
		if !repairResp.OK {
			repairResp.LatencyMS = totalLatency
			return repairResp
		}

		text, parseErr = parseInto(repairResp.Content, out)
		if parseErr == nil {
			log.Infow("json repair succeeded", "tier", c.Tier(), "attempt", attempt)
			repairResp.Content = text
			repairResp.LatencyMS = totalLatency
			return repairResp
		}
		malformed = repairResp.Content
	}

	log.Warnw("json repair exhausted", "tier", c.Tier(), "error", parseErr.Error())
	return Failure(c.Tier(), resp.Model, ErrorInvalidResponse, parseErr, totalLatency)
}

// parseInto extracts and unmarshals the JSON payload in raw model output.
// Returns the exact text that parsed.
func parseInto(content string, out any) (string, error) {
	text := StripFences(content)
	if obj := ExtractJSONObject(text); obj != "" {
		text = obj
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	return text, nil
}

func fillTemplate(template string, vars map[string]string) string {
	for key, value := range vars {
		template = strings.ReplaceAll(template, "{{"+key+"}}", value)
	}
	return template
}
