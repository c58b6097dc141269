package monitor

// Convenience facades for the common event shapes. Earlier revisions split
// logging and metrics into two types; these methods keep call sites terse
// while everything flows through the unified Record path.

// LogRequest records an outbound model call.
func (m *Monitor) LogRequest(provider, model, operation string, promptLen int) Event {
	return m.Record(Event{
		Kind:     KindRequest,
		Provider: provider,
		Model:    model,
		Message:  "provider request",
		Fields: map[string]any{
			"operation":  operation,
			"prompt_len": promptLen,
		},
	})
}

// LogResponse records a completed model call with token usage.
func (m *Monitor) LogResponse(provider, model string, promptTokens, completionTokens int, latencyMS int64, ok bool, errMsg string) Event {
	severity := SeverityInfo
	message := "provider response"
	fields := map[string]any{
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
		"latency_ms":        latencyMS,
		"ok":                ok,
	}
	if !ok {
		severity = SeverityWarning
		message = "provider failure"
		fields["error"] = errMsg
	}
	return m.Record(Event{
		Kind:     KindResponse,
		Severity: severity,
		Provider: provider,
		Model:    model,
		Message:  message,
		Fields:   fields,
	})
}

// LogIntent records a parsed intent.
func (m *Monitor) LogIntent(intentType string, confidence float64) Event {
	return m.Record(Event{
		Kind:    KindIntent,
		Message: "intent parsed",
		Fields: map[string]any{
			"intent_type": intentType,
			"confidence":  confidence,
		},
	})
}

// LogRouting records a routing decision.
func (m *Monitor) LogRouting(complexity, target string, confidence float64, fallback bool) Event {
	severity := SeverityInfo
	if fallback {
		severity = SeverityWarning
	}
	return m.Record(Event{
		Kind:     KindRouting,
		Severity: severity,
		Message:  "request routed",
		Fields: map[string]any{
			"complexity": complexity,
			"target":     target,
			"confidence": confidence,
			"fallback":   fallback,
		},
	})
}

// LogCommand records a device command dispatch.
func (m *Monitor) LogCommand(deviceID, commandType, commandID string, ok bool) Event {
	severity := SeverityInfo
	if !ok {
		severity = SeverityWarning
	}
	return m.Record(Event{
		Kind:     KindCommand,
		Severity: severity,
		Message:  "device command",
		Fields: map[string]any{
			"device_id":    deviceID,
			"command_type": commandType,
			"command_id":   commandID,
			"ok":           ok,
		},
	})
}

// LogError records a dropped request or unrecoverable failure.
func (m *Monitor) LogError(provider, message string, fields map[string]any) Event {
	return m.Record(Event{
		Kind:     KindError,
		Severity: SeverityError,
		Provider: provider,
		Message:  message,
		Fields:   fields,
	})
}
