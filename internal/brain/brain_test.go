package brain

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/device"
	"lumen/internal/intent"
	"lumen/internal/monitor"
	"lumen/internal/provider"
	"lumen/internal/router"
	"lumen/internal/service"
)

type stubRouter struct {
	decision router.Decision
	gotText  string
	gotCtx   string
}

func (s *stubRouter) Decide(_ context.Context, text, summary string) router.Decision {
	s.gotText = text
	s.gotCtx = summary
	return s.decision
}

type stubParser struct {
	out    intent.Intent
	gotCtx *intent.Context
}

func (s *stubParser) Parse(_ context.Context, _ string, cctx *intent.Context) intent.Intent {
	s.gotCtx = cctx
	return s.out
}

type stubService struct {
	out service.Result
	in  intent.Intent
}

func (s *stubService) Dispatch(_ context.Context, in intent.Intent, _ router.Decision, _ *intent.Context) service.Result {
	s.in = in
	return s.out
}

type panicService struct{}

func (panicService) Dispatch(context.Context, intent.Intent, router.Decision, *intent.Context) service.Result {
	panic("device map is nil")
}

func simpleDecision() router.Decision {
	return router.Decision{
		Complexity: router.ComplexitySimple,
		Target:     provider.TierCheap,
		Confidence: 0.9,
	}
}

func TestProcessFlowsThroughStages(t *testing.T) {
	rt := &stubRouter{decision: simpleDecision()}
	p := &stubParser{out: intent.Intent{
		Type: intent.TypeDeviceCommand, Action: intent.ActionPowerOn, DeviceName: "living room tv",
	}}
	svc := &stubService{out: service.Result{
		OK: true, Message: "Turning on living room tv.", CommandSent: true, CommandID: "cmd-1",
	}}
	b := New(rt, p, svc, monitor.New(100))

	raw := map[string]any{
		"devices": []any{
			map[string]any{"id": "u1", "name": "living room tv", "is_online": true},
		},
	}
	resp := b.Process(context.Background(), "turn on the living room tv", "user-1", raw)

	require.True(t, resp.OK)
	assert.True(t, resp.CommandSent)
	assert.Equal(t, "cmd-1", resp.CommandID)
	require.NotNil(t, resp.ParsedCommand)
	assert.Equal(t, intent.ActionPowerOn, resp.ParsedCommand.Action)
	assert.Equal(t, "simple", resp.Debug["complexity"])

	assert.Equal(t, "turn on the living room tv", rt.gotText)
	assert.Contains(t, rt.gotCtx, "living room tv", "router sees the device fleet")
	require.NotNil(t, p.gotCtx)
	require.Len(t, p.gotCtx.Devices, 1)
	assert.Equal(t, "u1", p.gotCtx.Devices[0].ID)
	assert.Equal(t, intent.ActionPowerOn, svc.in.Action)
}

func TestProcessRecoversFromPanic(t *testing.T) {
	mon := monitor.New(100)
	b := New(&stubRouter{decision: simpleDecision()}, &stubParser{}, panicService{}, mon)

	resp := b.Process(context.Background(), "hello", "user-1", nil)

	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Message)
	assert.Contains(t, resp.Debug["panic"], "device map is nil")

	stats := mon.Snapshot()
	assert.Equal(t, 1, stats.Errors)
}

func TestParseContext(t *testing.T) {
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	raw := map[string]any{
		"devices": []any{
			map[string]any{"id": "u1", "name": "kitchen display", "is_online": false},
		},
		"conversation": map[string]any{
			"history": []any{
				map[string]any{"user": "hi", "assistant": "hello"},
			},
			"generated_content": "a trivia page",
		},
		"pending_operations": []any{
			map[string]any{"pending_op_type": "create", "timestamp": ts.Format(time.RFC3339)},
		},
		"resolved_references": map[string]any{"document": "meeting notes"},
		"unknown_key":         42,
	}

	cctx := ParseContext(raw)
	wantDevices := []device.Device{{ID: "u1", Name: "kitchen display", Online: false}}
	if diff := cmp.Diff(wantDevices, cctx.Devices); diff != "" {
		t.Fatalf("devices mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, cctx.Conversation.History, 1)
	assert.Equal(t, "a trivia page", cctx.Conversation.GeneratedContent)
	assert.Equal(t, "meeting notes", cctx.Resolved.Document)

	pending := cctx.ActivePending()
	require.NotNil(t, pending)
	assert.Equal(t, intent.PendingCreate, pending.Type)
	assert.True(t, pending.Timestamp.Equal(ts))
}

func TestParseContextSingularPendingOperation(t *testing.T) {
	raw := map[string]any{
		"pending_operation": map[string]any{
			"pending_op_type": "edit",
			"timestamp":       "2026-08-25T09:00:00Z",
		},
	}
	cctx := ParseContext(raw)
	pending := cctx.ActivePending()
	require.NotNil(t, pending)
	assert.Equal(t, intent.PendingEdit, pending.Type)
}

func TestParseContextEmptyAndMalformed(t *testing.T) {
	assert.NotNil(t, ParseContext(nil))
	assert.Empty(t, ParseContext(nil).Devices)

	cctx := ParseContext(map[string]any{"devices": "not a list"})
	require.NotNil(t, cctx)
	assert.Empty(t, cctx.Devices)
}
