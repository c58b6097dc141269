package intent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/internal/device"
	"lumen/internal/prompts"
	"lumen/internal/provider"
	"lumen/internal/provider/providertest"
)

func newParser(t *testing.T, cheap provider.Client) *Parser {
	t.Helper()
	store, err := prompts.NewStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	repairer := provider.NewRepairer(cheap, true, 1,
		store.Get(prompts.JSONDiagnosis), store.Get(prompts.JSONRepair))
	p := NewParser(cheap, repairer, nil, store)
	p.now = func() time.Time { return testNow }
	return p
}

func TestParseEmptyUtterance(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m")
	p := newParser(t, cheap)

	in := p.Parse(context.Background(), "   ", nil)
	assert.Equal(t, TypeUnknown, in.Type)
	assert.Zero(t, in.Confidence)
	// No model call for empty input.
	assert.Zero(t, cheap.Calls())
}

func TestParseDeviceCommand(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").Reply(
		`{"type":"device_command","device_name":"living room TV","action":"power_on","confidence":0.95}`)
	p := newParser(t, cheap)

	in := p.Parse(context.Background(), "Turn on the living room TV", nil)
	assert.Equal(t, TypeDeviceCommand, in.Type)
	assert.Equal(t, "living room TV", in.DeviceName)
	assert.Equal(t, ActionPowerOn, in.Action)
	assert.GreaterOrEqual(t, in.Confidence, 0.9)
}

func TestParseCalendarQueryResolvesDate(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").Reply(
		`{"type":"calendar_query","action":"count","date":"today","confidence":0.9}`)
	p := newParser(t, cheap)

	in := p.Parse(context.Background(), "How many events do I have today?", nil)
	assert.Equal(t, TypeCalendarQuery, in.Type)
	assert.Equal(t, ActionCountEvents, in.Action)
	assert.Equal(t, "2026-08-25", in.DateRange)
}

func TestParseCalendarQueryFallsBackToTextDate(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").Reply(
		`{"type":"calendar_query","action":"find","confidence":0.8}`)
	p := newParser(t, cheap)

	in := p.Parse(context.Background(), "when is my dentist appointment tomorrow", nil)
	assert.Equal(t, "2026-08-26", in.DateRange)
	assert.Equal(t, "dentist", in.SearchTerm)
}

func TestParsePendingCreateBareValueEdit(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m")
	p := newParser(t, cheap)
	cctx := &Context{PendingOperations: []PendingOperation{
		{Type: PendingCreate, Timestamp: testNow},
	}}

	in := p.Parse(context.Background(), "change it to 3pm", cctx)
	assert.Equal(t, TypeCalendarCreate, in.Type)
	assert.Equal(t, ActionEditPendingEvent, in.Action)
	assert.Equal(t, "event_time", in.EditField)
	assert.Equal(t, "15:00", in.EditValue)
	// Resolved deterministically, no model call.
	assert.Zero(t, cheap.Calls())
}

func TestParsePendingConfirmAndCancel(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m")
	p := newParser(t, cheap)

	create := &Context{PendingOperations: []PendingOperation{{Type: PendingCreate, Timestamp: testNow}}}
	in := p.Parse(context.Background(), "yes", create)
	assert.Equal(t, TypeCalendarCreate, in.Type)
	assert.Equal(t, ActionConfirmPendingEvent, in.Action)

	edit := &Context{PendingOperations: []PendingOperation{{Type: PendingEdit, Timestamp: testNow}}}
	in = p.Parse(context.Background(), "cancel", edit)
	assert.Equal(t, TypeCalendarEdit, in.Type)
	assert.Equal(t, ActionCancelEdit, in.Action)
}

func TestParsePendingMostRecentWins(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m")
	p := newParser(t, cheap)
	cctx := &Context{PendingOperations: []PendingOperation{
		{Type: PendingCreate, Timestamp: testNow.Add(-time.Minute)},
		{Type: PendingEdit, Timestamp: testNow},
	}}

	in := p.Parse(context.Background(), "yes", cctx)
	assert.Equal(t, TypeCalendarEdit, in.Type)
	assert.Equal(t, ActionConfirmEdit, in.Action)

	// Explicit phrasing overrides recency.
	in = p.Parse(context.Background(), "confirm the create", cctx)
	assert.Equal(t, TypeCalendarCreate, in.Type)
	assert.Equal(t, ActionConfirmPendingEvent, in.Action)
}

func TestParseProviderFailureReturnsUnknown(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").
		Fail(provider.ErrorNetwork, errors.New("connection refused"))
	p := newParser(t, cheap)

	in := p.Parse(context.Background(), "turn on the TV", nil)
	assert.Equal(t, TypeUnknown, in.Type)
	assert.Zero(t, in.Confidence)
	assert.Contains(t, in.Reasoning, "connection refused")
}

func TestParseUnknownActionCollapsesToStatus(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").Reply(
		`{"type":"device_command","device_name":"TV","action":"defenestrate","confidence":0.7}`)
	p := newParser(t, cheap)

	in := p.Parse(context.Background(), "defenestrate the TV", nil)
	assert.Equal(t, ActionStatus, in.Action)
}

func TestParseSelectionOrdinal(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").Reply(
		`{"type":"calendar_edit","action":"edit","search_term":"Standup","confidence":0.85}`)
	p := newParser(t, cheap)

	in := p.Parse(context.Background(), "the first one", nil)
	assert.Equal(t, TypeCalendarEdit, in.Type)
	assert.Equal(t, "standup", in.SearchTerm)
	assert.Equal(t, 1, in.Selection)
}

func TestParseDisplayContent(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").Reply(
		`{"type":"display_content","info_type":"trivia","device_name":"Living Room TV","confidence":0.9}`)
	p := newParser(t, cheap)
	cctx := &Context{Devices: []device.Device{{ID: "u1", Name: "Living Room TV", Online: true}}}

	in := p.Parse(context.Background(), "Show me trivia about world capitals on the living room TV", cctx)
	assert.Equal(t, TypeDisplayContent, in.Type)
	assert.Equal(t, "trivia", in.InfoType)
	assert.Equal(t, "Living Room TV", in.DeviceName)
	assert.NotEmpty(t, in.ContentRequest)
}

func TestParseContextReachesPrompt(t *testing.T) {
	cheap := providertest.New(provider.TierCheap, "m").Reply(
		`{"type":"conversation","text":"hi","confidence":0.9}`)
	p := newParser(t, cheap)
	cctx := &Context{Devices: []device.Device{{ID: "u1", Name: "Kitchen Display", Online: true}}}

	p.Parse(context.Background(), "hello", cctx)
	require.Equal(t, 1, cheap.Calls())
	assert.Contains(t, cheap.Requests[0].Prompt, "Kitchen Display")
}

func TestIntentJSONRoundTrip(t *testing.T) {
	in := Intent{
		Type:       TypeDeviceCommand,
		Confidence: 0.93,
		Action:     ActionPowerOn,
		DeviceName: "Living Room TV",
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var back Intent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, in.Type, back.Type)
	assert.Equal(t, in.Action, back.Action)
	assert.InDelta(t, in.Confidence, back.Confidence, 1e-9)
}
