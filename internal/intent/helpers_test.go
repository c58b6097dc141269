package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testNow = time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)

func TestMapAction(t *testing.T) {
	tests := []struct {
		raw  string
		want Action
	}{
		{"POWER_ON", ActionPowerOn},
		{"power_on", ActionPowerOn},
		{"turn on", ActionPowerOn},
		{"turn-off", ActionPowerOff},
		{"COUNT_EVENTS", ActionCountEvents},
		{"count", ActionCountEvents},
		{"EDIT_PENDING_EVENT", ActionEditPendingEvent},
		{"summarize", ActionSummarizeMeetingDoc},
		{"launch missiles", ActionStatus},
		{"", ActionStatus},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapAction(tt.raw), tt.raw)
	}
}

func TestResolveDate(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"today", "2026-08-25"},
		{"Tomorrow", "2026-08-26"},
		{"this_week", "this_week"},
		{"this week", "this_week"},
		{"2026-12-01", "2026-12-01"},
		{"next year", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveDate(tt.token, testNow), tt.token)
	}
}

func TestExtractDateToken(t *testing.T) {
	assert.Equal(t, "2026-08-25", ExtractDateToken("how many events do I have today?", testNow))
	assert.Equal(t, "2026-08-26", ExtractDateToken("anything tomorrow morning", testNow))
	assert.Equal(t, "this_week", ExtractDateToken("what does this week look like", testNow))
	assert.Equal(t, "", ExtractDateToken("what is on the calendar", testNow))
}

func TestExtractSearchTerm(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"when is my dentist appointment?", "dentist"},
		{"When's my standup today", "standup"},
		{"find my team review", "team review"},
		{"do I have any interviews tomorrow", "interviews"},
		{"turn on the TV", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractSearchTerm(tt.text), tt.text)
	}
}

func TestNormalizeTime(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"3pm", "15:00"},
		{"3 PM", "15:00"},
		{"3:30pm", "15:30"},
		{"12pm", "12:00"},
		{"12am", "00:00"},
		{"15:00", "15:00"},
		{"9:05", "09:05"},
		{"25:00", ""},
		{"13pm", ""},
		{"soon", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTime(tt.value), tt.value)
	}
}

func TestInferEditField(t *testing.T) {
	tests := []struct {
		value     string
		wantField string
		wantValue string
	}{
		{"3pm", "event_time", "15:00"},
		{"15:00", "event_time", "15:00"},
		{"tomorrow", "event_date", "2026-08-26"},
		{"2026-09-01", "event_date", "2026-09-01"},
		{"30 minutes", "duration_minutes", "30"},
		{"1 hour", "duration_minutes", "60"},
		{"45", "duration_minutes", "45"},
		{"https://docs.example.com/d/abc", "doc_url", "https://docs.example.com/d/abc"},
		{"something else entirely", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		field, value := InferEditField(tt.value, testNow)
		assert.Equal(t, tt.wantField, field, tt.value)
		assert.Equal(t, tt.wantValue, value, tt.value)
	}
}

func TestParseOrdinal(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"the first one", 1},
		{"first", 1},
		{"1st", 1},
		{"1", 1},
		{"number 2", 2},
		{"the third one please", 3},
		{"tenth", 10},
		{"0", 0},
		{"yes", 0},
		{"change it to 3pm", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseOrdinal(tt.text), tt.text)
	}
}
