// Package brain is the top-level entry point: one call takes a user
// utterance plus caller-supplied conversational state and returns a typed
// response, routing internally through complexity classification, intent
// parsing, and the service dispatcher. It never panics and never returns an
// error; every failure becomes a well-formed response envelope.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"lumen/internal/intent"
	"lumen/internal/logging"
	"lumen/internal/monitor"
	"lumen/internal/router"
	"lumen/internal/service"
)

// IntentResponse is the uniform reply envelope.
type IntentResponse struct {
	OK            bool           `json:"ok"`
	ParsedCommand *intent.Intent `json:"parsed_command,omitempty"`
	Message       string         `json:"message,omitempty"`
	Response      string         `json:"response,omitempty"`
	CommandSent   bool           `json:"command_sent"`
	CommandID     string         `json:"command_id,omitempty"`
	Debug         map[string]any `json:"debug,omitempty"`
}

// Router decides how an utterance is handled.
type Router interface {
	Decide(ctx context.Context, text, contextSummary string) router.Decision
}

// Parser turns an utterance into a typed intent.
type Parser interface {
	Parse(ctx context.Context, text string, cctx *intent.Context) intent.Intent
}

// Dispatcher executes a parsed intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.Intent, decision router.Decision, cctx *intent.Context) service.Result
}

// Brain glues routing, parsing, and dispatch together.
type Brain struct {
	router Router
	parser Parser
	svc    Dispatcher
	mon    *monitor.Monitor
}

// New builds a Brain from its three stages.
func New(r Router, p Parser, svc Dispatcher, mon *monitor.Monitor) *Brain {
	return &Brain{router: r, parser: p, svc: svc, mon: mon}
}

// Process handles one utterance. raw is the caller's open-schema
// conversational state; unknown keys are ignored, missing keys default.
func (b *Brain) Process(ctx context.Context, text, userID string, raw map[string]any) (resp IntentResponse) {
	log := logging.S(logging.CategoryService)

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("panic during processing",
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if b.mon != nil {
				b.mon.LogError("brain", fmt.Sprintf("panic: %v", r), nil)
			}
			resp = IntentResponse{
				OK:      false,
				Message: "Something went wrong handling that request.",
				Debug:   map[string]any{"panic": fmt.Sprint(r)},
			}
		}
	}()

	cctx := ParseContext(raw)
	log.Debugw("processing utterance", "user", userID, "chars", len(text))

	decision := b.router.Decide(ctx, text, cctx.Summary())
	in := b.parser.Parse(ctx, text, cctx)
	result := b.svc.Dispatch(ctx, in, decision, cctx)

	resp = IntentResponse{
		OK:            result.OK,
		ParsedCommand: &in,
		Message:       result.Message,
		Response:      result.UserVisibleText,
		CommandSent:   result.CommandSent,
		CommandID:     result.CommandID,
		Debug:         result.Debug,
	}
	if resp.Debug == nil {
		resp.Debug = map[string]any{}
	}
	resp.Debug["complexity"] = string(decision.Complexity)
	resp.Debug["target_tier"] = string(decision.Target)
	if decision.Fallback {
		resp.Debug["routing_fallback"] = true
	}
	return resp
}

// ParseContext decodes the caller's open-schema state into a typed context.
// Both the plural "pending_operations" list and the legacy singular
// "pending_operation" object are accepted.
func ParseContext(raw map[string]any) *intent.Context {
	cctx := &intent.Context{}
	if len(raw) == 0 {
		return cctx
	}

	data, err := json.Marshal(raw)
	if err != nil {
		logging.S(logging.CategoryService).Warnw("unencodable context", "error", err)
		return cctx
	}
	if err := json.Unmarshal(data, cctx); err != nil {
		logging.S(logging.CategoryService).Warnw("malformed context", "error", err)
		return &intent.Context{}
	}

	if single, ok := raw["pending_operation"]; ok && len(cctx.PendingOperations) == 0 {
		data, err := json.Marshal(single)
		if err == nil {
			var op intent.PendingOperation
			if json.Unmarshal(data, &op) == nil && op.Type != "" {
				cctx.PendingOperations = append(cctx.PendingOperations, op)
			}
		}
	}
	return cctx
}
