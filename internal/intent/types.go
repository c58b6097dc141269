// Package intent converts free-form utterances into a closed taxonomy of
// typed intents. Parsing runs on the cheap model tier; all post-processing
// (action mapping, date resolution, ordinal detection) is deterministic.
package intent

import (
	"strings"
)

// Type tags the intent variant.
type Type string

const (
	TypeDeviceCommand  Type = "device_command"
	TypeDeviceQuery    Type = "device_query"
	TypeSystemQuery    Type = "system_query"
	TypeCalendarQuery  Type = "calendar_query"
	TypeCalendarCreate Type = "calendar_create"
	TypeCalendarEdit   Type = "calendar_edit"
	TypeDocQuery       Type = "doc_query"
	TypeDisplayContent Type = "display_content"
	TypeConversation   Type = "conversation"
	TypeUnknown        Type = "unknown"
)

// Action is the closed action enum shared by the prompt and the mapping
// table. Unknown action strings collapse to ActionStatus.
type Action string

const (
	// Device actions.
	ActionPowerOn  Action = "POWER_ON"
	ActionPowerOff Action = "POWER_OFF"
	ActionToggle   Action = "TOGGLE"
	ActionStatus   Action = "STATUS"
	ActionSet      Action = "SET"
	ActionOpen     Action = "OPEN"
	ActionClose    Action = "CLOSE"

	// Calendar query actions.
	ActionCountEvents Action = "COUNT_EVENTS"
	ActionNextEvent   Action = "NEXT_EVENT"
	ActionListEvents  Action = "LIST_EVENTS"
	ActionFindEvent   Action = "FIND_EVENT"

	// Calendar create actions, including the pending-operation sub-flow.
	ActionCreateEvent         Action = "CREATE_EVENT"
	ActionConfirmPendingEvent Action = "CONFIRM_PENDING_EVENT"
	ActionCancelPendingEvent  Action = "CANCEL_PENDING_EVENT"
	ActionEditPendingEvent    Action = "EDIT_PENDING_EVENT"

	// Calendar edit actions.
	ActionEditEvent   Action = "EDIT_EVENT"
	ActionConfirmEdit Action = "CONFIRM_EDIT"
	ActionCancelEdit  Action = "CANCEL_EDIT"

	// Doc actions.
	ActionLinkDoc             Action = "LINK_DOC"
	ActionOpenDoc             Action = "OPEN_DOC"
	ActionReadDoc             Action = "READ_DOC"
	ActionSummarizeMeetingDoc Action = "SUMMARIZE_MEETING_DOC"
	ActionCreateEventFromDoc  Action = "CREATE_EVENT_FROM_DOC"
)

// actionSynonyms folds common model phrasings into the closed enum.
var actionSynonyms = map[string]Action{
	"ON":        ActionPowerOn,
	"TURN_ON":   ActionPowerOn,
	"OFF":       ActionPowerOff,
	"TURN_OFF":  ActionPowerOff,
	"SWITCH":    ActionToggle,
	"QUERY":     ActionStatus,
	"GET_STATE": ActionStatus,
	"ADJUST":    ActionSet,
	"COUNT":     ActionCountEvents,
	"NEXT":      ActionNextEvent,
	"LIST":      ActionListEvents,
	"FIND":      ActionFindEvent,
	"SEARCH":    ActionFindEvent,
	"CREATE":    ActionCreateEvent,
	"ADD_EVENT": ActionCreateEvent,
	"CONFIRM":   ActionConfirmPendingEvent,
	"CANCEL":    ActionCancelPendingEvent,
	"EDIT":      ActionEditEvent,
	"MODIFY":    ActionEditEvent,
	"LINK":      ActionLinkDoc,
	"OPEN_LINK": ActionOpenDoc,
	"READ":      ActionReadDoc,
	"SUMMARIZE": ActionSummarizeMeetingDoc,
}

var knownActions = map[Action]bool{
	ActionPowerOn: true, ActionPowerOff: true, ActionToggle: true,
	ActionStatus: true, ActionSet: true, ActionOpen: true, ActionClose: true,
	ActionCountEvents: true, ActionNextEvent: true, ActionListEvents: true,
	ActionFindEvent: true, ActionCreateEvent: true,
	ActionConfirmPendingEvent: true, ActionCancelPendingEvent: true,
	ActionEditPendingEvent: true, ActionEditEvent: true,
	ActionConfirmEdit: true, ActionCancelEdit: true,
	ActionLinkDoc: true, ActionOpenDoc: true, ActionReadDoc: true,
	ActionSummarizeMeetingDoc: true, ActionCreateEventFromDoc: true,
}

// MapAction maps a raw action string to the closed enum. Unknown values
// collapse to ActionStatus.
func MapAction(raw string) Action {
	norm := strings.ToUpper(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, " ", "_")
	norm = strings.ReplaceAll(norm, "-", "_")
	if knownActions[Action(norm)] {
		return Action(norm)
	}
	if a, ok := actionSynonyms[norm]; ok {
		return a
	}
	return ActionStatus
}

// Intent is the parsed record. Type selects the variant; only the fields
// belonging to that variant are populated.
type Intent struct {
	Type         Type    `json:"type"`
	Confidence   float64 `json:"confidence"`
	OriginalText string  `json:"original_text,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`

	// Device variants.
	DeviceName string         `json:"device_name,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
	Action     Action         `json:"action,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Calendar variants.
	DateRange       string            `json:"date_range,omitempty"`
	SearchTerm      string            `json:"search_term,omitempty"`
	EventTitle      string            `json:"event_title,omitempty"`
	EventDate       string            `json:"event_date,omitempty"`
	EventTime       string            `json:"event_time,omitempty"`
	DurationMinutes int               `json:"duration_minutes,omitempty"`
	Location        string            `json:"location,omitempty"`
	Attendees       []string          `json:"attendees,omitempty"`
	Recurrence      string            `json:"recurrence,omitempty"`
	Changes         map[string]string `json:"changes,omitempty"`
	EditField       string            `json:"edit_field,omitempty"`
	EditValue       string            `json:"edit_value,omitempty"`
	Selection       int               `json:"selection,omitempty"`

	// Doc variant.
	DocURL        string `json:"doc_url,omitempty"`
	Query         string `json:"query,omitempty"`
	AlsoDisplay   bool   `json:"also_display,omitempty"`
	DisplayDevice string `json:"display_device,omitempty"`

	// Display-content variant.
	InfoType       string   `json:"info_type,omitempty"`
	LayoutHints    []string `json:"layout_hints,omitempty"`
	ContentRequest string   `json:"content_request,omitempty"`

	// Conversation variant.
	Text string `json:"text,omitempty"`

	// Compound-request convention: names of actions the service should
	// synthesize after this one (e.g. auto-display of generated content).
	SequentialActions []string `json:"sequential_actions,omitempty"`
}

// Unknown builds the give-up intent with a diagnostic reason.
func Unknown(text, reason string) Intent {
	return Intent{
		Type:         TypeUnknown,
		Confidence:   0,
		OriginalText: text,
		Reasoning:    reason,
	}
}
