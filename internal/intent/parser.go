package intent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"lumen/internal/logging"
	"lumen/internal/monitor"
	"lumen/internal/prompts"
	"lumen/internal/provider"
)

// Parser converts utterances into typed intents using the cheap model tier.
// It never returns an error: every failure path yields the Unknown variant.
type Parser struct {
	cheap    provider.Client
	repairer *provider.Repairer
	mon      *monitor.Monitor
	store    *prompts.Store
	now      func() time.Time
}

// NewParser builds a Parser around the cheap-tier client.
func NewParser(cheap provider.Client, repairer *provider.Repairer, mon *monitor.Monitor, store *prompts.Store) *Parser {
	return &Parser{cheap: cheap, repairer: repairer, mon: mon, store: store, now: time.Now}
}

// intent wire record as emitted by the model.
type intentJSON struct {
	Type              string         `json:"type"`
	Confidence        float64        `json:"confidence"`
	Reasoning         string         `json:"reasoning"`
	DeviceName        string         `json:"device_name"`
	Action            string         `json:"action"`
	Parameters        map[string]any `json:"parameters"`
	Date              string         `json:"date"`
	EventTitle        string         `json:"event_title"`
	EventTime         string         `json:"event_time"`
	DurationMinutes   int            `json:"duration_minutes"`
	Location          string         `json:"location"`
	Attendees         []string       `json:"attendees"`
	Recurrence        string         `json:"recurrence"`
	SearchTerm        string         `json:"search_term"`
	Ordinal           int            `json:"ordinal"`
	Field             string         `json:"field"`
	NewValue          string         `json:"new_value"`
	DocURL            string         `json:"doc_url"`
	Query             string         `json:"query"`
	AlsoDisplay       bool           `json:"also_display"`
	DisplayDevice     string         `json:"display_device"`
	InfoType          string         `json:"info_type"`
	LayoutHints       []string       `json:"layout_hints"`
	ContentRequest    string         `json:"content_request"`
	Text              string         `json:"text"`
	SequentialActions []string       `json:"sequential_actions"`
}

// Parse converts one utterance. cctx may be nil.
func (p *Parser) Parse(ctx context.Context, text string, cctx *Context) Intent {
	log := logging.S(logging.CategoryIntent)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Unknown(text, "empty utterance")
	}

	// A pending create/edit flow captures ambiguous confirmations and
	// bare-value edits before any model call.
	if out, ok := p.resolvePending(trimmed, cctx); ok {
		p.record(out)
		return out
	}

	prompt := prompts.Fill(p.store.Get(prompts.IntentSystem), map[string]string{
		"TODAY":   p.now().Format(isoDate),
		"CONTEXT": cctx.Summary(),
		"TEXT":    trimmed,
	})

	var parsed intentJSON
	resp := p.repairer.CompleteJSON(ctx, p.cheap, provider.Request{
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   1024,
	}, &parsed)
	if !resp.OK {
		log.Warnw("intent model failed", "error", resp.Error)
		return Unknown(text, resp.Error)
	}

	out := p.build(trimmed, parsed, cctx)
	p.record(out)
	log.Debugw("parsed", "type", out.Type, "action", out.Action, "confidence", out.Confidence)
	return out
}

func (p *Parser) record(in Intent) {
	if p.mon != nil {
		p.mon.LogIntent(string(in.Type), in.Confidence)
	}
}

var (
	confirmRe  = regexp.MustCompile(`(?i)^(yes|yeah|yep|ok|okay|sure|confirm( it| that)?|correct|do it|go ahead)[.!]?$`)
	cancelRe   = regexp.MustCompile(`(?i)^(no|nope|cancel( it| that)?|never ?mind|stop|forget it)[.!]?$`)
	changeToRe = regexp.MustCompile(`(?i)^(?:change|set|make|move) (?:it|that|the \w+) to (.+)$`)
)

// resolvePending maps confirmations, cancellations, and bare-value edits
// onto the pending operation. Explicit phrasing ("confirm the create")
// overrides the most-recent-timestamp choice.
func (p *Parser) resolvePending(text string, cctx *Context) (Intent, bool) {
	pending := cctx.ActivePending()
	if pending == nil {
		return Intent{}, false
	}

	lower := strings.ToLower(text)
	opType := pending.Type
	if strings.Contains(lower, "create") {
		opType = PendingCreate
	} else if strings.Contains(lower, "edit") {
		opType = PendingEdit
	}

	base := Intent{OriginalText: text, Confidence: 0.95}

	if confirmRe.MatchString(text) || strings.HasPrefix(lower, "confirm") {
		switch opType {
		case PendingEdit:
			base.Type = TypeCalendarEdit
			base.Action = ActionConfirmEdit
		default:
			base.Type = TypeCalendarCreate
			base.Action = ActionConfirmPendingEvent
		}
		return base, true
	}

	if cancelRe.MatchString(text) || strings.HasPrefix(lower, "cancel the") {
		switch opType {
		case PendingEdit:
			base.Type = TypeCalendarEdit
			base.Action = ActionCancelEdit
		default:
			base.Type = TypeCalendarCreate
			base.Action = ActionCancelPendingEvent
		}
		return base, true
	}

	// "change it to 3pm" or a bare "3pm".
	value := text
	if m := changeToRe.FindStringSubmatch(text); m != nil {
		value = m[1]
	}
	if field, normalized := InferEditField(value, p.now()); field != "" {
		base.Type = TypeCalendarCreate
		base.Action = ActionEditPendingEvent
		base.EditField = field
		base.EditValue = normalized
		if opType == PendingEdit {
			base.Type = TypeCalendarEdit
			base.Action = ActionEditEvent
			base.Changes = map[string]string{field: normalized}
		}
		return base, true
	}

	return Intent{}, false
}

// build assembles the typed intent from the wire record, applying the
// deterministic resolution passes.
func (p *Parser) build(text string, parsed intentJSON, cctx *Context) Intent {
	now := p.now()

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	out := Intent{
		Confidence:        confidence,
		OriginalText:      text,
		Reasoning:         parsed.Reasoning,
		SequentialActions: parsed.SequentialActions,
	}

	switch Type(parsed.Type) {
	case TypeDeviceCommand, TypeDeviceQuery:
		out.Type = Type(parsed.Type)
		out.DeviceName = parsed.DeviceName
		out.Action = MapAction(parsed.Action)
		out.Parameters = parsed.Parameters

	case TypeSystemQuery:
		out.Type = TypeSystemQuery
		out.Action = MapAction(parsed.Action)
		out.Query = parsed.Query

	case TypeCalendarQuery:
		out.Type = TypeCalendarQuery
		out.Action = MapAction(parsed.Action)
		out.DateRange = ResolveDate(parsed.Date, now)
		if out.DateRange == "" {
			out.DateRange = ExtractDateToken(text, now)
		}
		out.SearchTerm = strings.ToLower(strings.TrimSpace(parsed.SearchTerm))
		if out.SearchTerm == "" {
			out.SearchTerm = ExtractSearchTerm(text)
		}

	case TypeCalendarCreate:
		out.Type = TypeCalendarCreate
		out.Action = MapAction(parsed.Action)
		out.EventTitle = parsed.EventTitle
		out.EventDate = ResolveDate(parsed.Date, now)
		out.EventTime = NormalizeTime(parsed.EventTime)
		if out.EventTime == "" {
			out.EventTime = parsed.EventTime
		}
		out.DurationMinutes = parsed.DurationMinutes
		out.Location = parsed.Location
		out.Attendees = parsed.Attendees
		out.Recurrence = parsed.Recurrence
		out.DocURL = parsed.DocURL
		if out.Action == ActionEditPendingEvent {
			out.EditField = parsed.Field
			out.EditValue = parsed.NewValue
			if out.EditField == "" {
				out.EditField, out.EditValue = InferEditField(parsed.NewValue, now)
			}
		}

	case TypeCalendarEdit:
		out.Type = TypeCalendarEdit
		out.Action = MapAction(parsed.Action)
		out.SearchTerm = strings.ToLower(strings.TrimSpace(parsed.SearchTerm))
		out.DateRange = ResolveDate(parsed.Date, now)
		if parsed.Field != "" {
			out.Changes = map[string]string{parsed.Field: parsed.NewValue}
		}
		out.Selection = parsed.Ordinal
		if out.Selection == 0 {
			out.Selection = ParseOrdinal(text)
		}

	case TypeDocQuery:
		out.Type = TypeDocQuery
		out.Action = MapAction(parsed.Action)
		out.DocURL = parsed.DocURL
		out.Query = parsed.Query
		out.SearchTerm = strings.ToLower(strings.TrimSpace(parsed.SearchTerm))
		out.AlsoDisplay = parsed.AlsoDisplay
		out.DisplayDevice = parsed.DisplayDevice

	case TypeDisplayContent:
		out.Type = TypeDisplayContent
		out.InfoType = parsed.InfoType
		out.LayoutHints = parsed.LayoutHints
		out.ContentRequest = parsed.ContentRequest
		if out.ContentRequest == "" {
			out.ContentRequest = text
		}
		out.DeviceName = parsed.DeviceName
		if out.DeviceName == "" {
			out.DeviceName = parsed.DisplayDevice
		}

	case TypeConversation:
		out.Type = TypeConversation
		out.Text = parsed.Text

	default:
		return Unknown(text, "unrecognized intent type: "+parsed.Type)
	}

	return out
}
