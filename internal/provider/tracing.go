package provider

import (
	"context"

	"lumen/internal/monitor"
)

// TracingClient decorates a Client so every call is recorded in the monitor.
// Wrap once at wiring time; callers see the ordinary Client interface.
type TracingClient struct {
	inner Client
	mon   *monitor.Monitor
}

// WithTracing wraps c so its requests and responses land in mon. A nil
// monitor returns c unchanged.
func WithTracing(c Client, mon *monitor.Monitor) Client {
	if mon == nil {
		return c
	}
	return &TracingClient{inner: c, mon: mon}
}

func (t *TracingClient) Tier() Tier              { return t.inner.Tier() }
func (t *TracingClient) Model() string           { return t.inner.Model() }
func (t *TracingClient) SupportsVision() bool    { return t.inner.SupportsVision() }
func (t *TracingClient) SupportsGrounding() bool { return t.inner.SupportsGrounding() }

// Complete records the request, delegates, and records the outcome.
func (t *TracingClient) Complete(ctx context.Context, req Request) Response {
	operation := "complete"
	switch {
	case len(req.Images) > 0:
		operation = "vision"
	case req.UseSearch:
		operation = "grounded"
	}
	t.mon.LogRequest(string(t.inner.Tier()), t.inner.Model(), operation, len(req.Prompt))

	resp := t.inner.Complete(ctx, req)

	t.mon.LogResponse(string(resp.Provider), resp.Model,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
		resp.LatencyMS, resp.OK, resp.Error)
	return resp
}
