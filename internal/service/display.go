package service

import (
	"context"
	"fmt"
	"strings"

	"lumen/internal/device"
	"lumen/internal/intent"
	"lumen/internal/logging"
	"lumen/internal/provider"
	"lumen/internal/router"
)

func (s *Service) handleDisplayContent(ctx context.Context, in intent.Intent, cctx *intent.Context) Result {
	log := logging.S(logging.CategoryService)
	if s.layouts == nil {
		return Result{
			OK:              true,
			Message:         "layouts disabled",
			UserVisibleText: "Custom layouts aren't enabled on this system.",
		}
	}

	request := in.ContentRequest
	if request == "" {
		request = in.OriginalText
	}
	if len(in.LayoutHints) > 0 {
		request += "\nLayout preferences: " + strings.Join(in.LayoutHints, ", ")
	}
	if in.InfoType != "" {
		request = in.InfoType + ": " + request
	}

	outcome := s.layouts.Run(ctx, request, cctx)
	if !outcome.OK {
		return Result{
			Message:         "generation failed",
			UserVisibleText: "I couldn't put that layout together.",
			Debug:           map[string]any{"error": outcome.Error},
		}
	}

	debug := map[string]any{
		"score":              outcome.Score,
		"validation_skipped": outcome.ValidationSkipped,
	}

	// Without a target device there is still content to hand back.
	var devices []device.Device
	if cctx != nil {
		devices = cctx.Devices
	}
	match := device.Resolve(in.DeviceName, devices)
	if !match.Resolved() {
		if in.DeviceName != "" {
			log.Warnw("display device not resolved", "name", in.DeviceName)
		}
		return Result{
			OK:              true,
			Message:         "layout generated",
			UserVisibleText: "Here's the layout I made.",
			Debug:           mergeDebug(debug, map[string]any{"html": outcome.HTML}),
		}
	}

	env := device.NewEnvelope(match.Device.ID, "display_html", map[string]any{"html": outcome.HTML})
	res := s.dispatcher.Send(env)
	if s.mon != nil {
		s.mon.LogCommand(env.DeviceID, env.CommandType, env.CommandID, res.OK)
	}
	if !res.OK {
		return Result{
			Message:         "dispatch failed",
			UserVisibleText: fmt.Sprintf("I made the layout but couldn't reach %s.", match.Device.Name),
			CommandID:       res.CommandID,
			Debug:           mergeDebug(debug, map[string]any{"error": res.Error}),
		}
	}
	return Result{
		OK:              true,
		Message:         "layout displayed",
		UserVisibleText: fmt.Sprintf("Showing it on %s now.", match.Device.Name),
		CommandSent:     true,
		CommandID:       res.CommandID,
		Debug:           debug,
	}
}

func (s *Service) handleConversation(ctx context.Context, in intent.Intent, decision router.Decision, cctx *intent.Context) Result {
	client := s.providers.ForTier(decision.Target)
	if client == nil {
		return Result{
			Message:         "no provider",
			UserVisibleText: "I can't answer right now.",
		}
	}

	prompt := in.OriginalText
	if summary := cctx.Summary(); summary != "" {
		prompt = "Context:\n" + summary + "\n\nUser: " + in.OriginalText
	}

	resp := client.Complete(ctx, provider.Request{
		Prompt:      prompt,
		System:      "You are a concise, friendly smart-display assistant. Answer in a couple of sentences.",
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if !resp.OK {
		return Result{
			Message:         "provider failed",
			UserVisibleText: "I can't answer right now.",
			Debug:           map[string]any{"error": resp.Error},
		}
	}

	out := Result{
		OK:              true,
		Message:         "conversation",
		UserVisibleText: resp.Content,
		Debug:           map[string]any{"provider": string(resp.Provider)},
	}

	// Generate-and-display compound requests stay routed as conversation;
	// the display step is synthesized here with the generated text.
	if wantsDisplay(in) {
		follow := intent.Intent{
			Type:           intent.TypeDisplayContent,
			Confidence:     in.Confidence,
			ContentRequest: "Display this content:\n" + resp.Content,
			DeviceName:     displayTarget(in, cctx),
		}
		display := s.handleDisplayContent(ctx, follow, cctx)
		out.CommandSent = display.CommandSent
		out.CommandID = display.CommandID
		out.Debug["display"] = display.Message
	}
	return out
}

func wantsDisplay(in intent.Intent) bool {
	for _, a := range in.SequentialActions {
		if a == string(intent.TypeDisplayContent) || a == "display" {
			return true
		}
	}
	lower := strings.ToLower(in.OriginalText)
	return strings.Contains(lower, "show it on") || strings.Contains(lower, "display it") ||
		strings.Contains(lower, "put it on the screen")
}

func displayTarget(in intent.Intent, cctx *intent.Context) string {
	if in.DisplayDevice != "" {
		return in.DisplayDevice
	}
	if cctx != nil && len(cctx.Devices) == 1 {
		return cctx.Devices[0].Name
	}
	return ""
}

func mergeDebug(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
