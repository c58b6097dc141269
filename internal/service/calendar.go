package service

import (
	"context"
	"fmt"
	"strings"

	"lumen/internal/intent"
	"lumen/internal/logging"
)

func notConnected(what string) Result {
	return Result{
		OK:              true,
		Message:         what + " not connected",
		UserVisibleText: fmt.Sprintf("Your %s isn't connected yet.", what),
	}
}

func (s *Service) handleCalendarQuery(ctx context.Context, in intent.Intent) Result {
	if s.calendar == nil {
		return notConnected("calendar")
	}
	log := logging.S(logging.CategoryService)

	switch in.Action {
	case intent.ActionCountEvents:
		n, err := s.calendar.Count(ctx, in.DateRange)
		if err != nil {
			return calendarError(err)
		}
		when := describeDate(in.DateRange)
		return Result{
			OK:              true,
			Message:         "event count",
			UserVisibleText: fmt.Sprintf("You have %d %s %s.", n, plural(n, "event", "events"), when),
		}

	case intent.ActionNextEvent:
		ev, err := s.calendar.Next(ctx)
		if err != nil {
			return calendarError(err)
		}
		if ev == nil {
			return Result{OK: true, Message: "no upcoming events", UserVisibleText: "You have nothing coming up."}
		}
		return Result{
			OK:              true,
			Message:         "next event",
			UserVisibleText: fmt.Sprintf("Next up: %s at %s on %s.", ev.Title, ev.Time, ev.Date),
		}

	case intent.ActionFindEvent:
		events, err := s.calendar.Find(ctx, in.SearchTerm, in.DateRange)
		if err != nil {
			return calendarError(err)
		}
		if len(events) == 0 {
			return Result{
				OK:              true,
				Message:         "no matching events",
				UserVisibleText: fmt.Sprintf("I couldn't find anything matching %q.", in.SearchTerm),
			}
		}
		return Result{
			OK:              true,
			Message:         "events found",
			UserVisibleText: formatEventList(events),
			Debug:           map[string]any{"matches": len(events)},
		}

	default: // ActionListEvents and anything that collapsed to STATUS
		events, err := s.calendar.List(ctx, in.DateRange)
		if err != nil {
			return calendarError(err)
		}
		log.Debugw("calendar list", "date", in.DateRange, "events", len(events))
		if len(events) == 0 {
			return Result{OK: true, Message: "no events", UserVisibleText: "Your calendar is clear."}
		}
		return Result{OK: true, Message: "events listed", UserVisibleText: formatEventList(events)}
	}
}

func (s *Service) handleCalendarCreate(ctx context.Context, in intent.Intent) Result {
	if s.calendar == nil {
		return notConnected("calendar")
	}

	switch in.Action {
	case intent.ActionConfirmPendingEvent:
		// The caller supplies the staged event through the changes the
		// pending flow accumulated; at this layer the confirmation just
		// commits whatever was staged.
		err := s.calendar.Create(ctx, Event{
			Title:           in.EventTitle,
			Date:            in.EventDate,
			Time:            in.EventTime,
			DurationMinutes: in.DurationMinutes,
			Location:        in.Location,
			DocURL:          in.DocURL,
		})
		if err != nil {
			return calendarError(err)
		}
		return Result{
			OK:              true,
			Message:         "event created",
			UserVisibleText: "Done — the event is on your calendar.",
			Debug:           map[string]any{"pending_cleared": true},
		}

	case intent.ActionCancelPendingEvent:
		return Result{
			OK:              true,
			Message:         "pending event cancelled",
			UserVisibleText: "Okay, I won't create it.",
			Debug:           map[string]any{"pending_cleared": true},
		}

	case intent.ActionEditPendingEvent:
		return Result{
			OK:              true,
			Message:         "pending event updated",
			UserVisibleText: fmt.Sprintf("Updated %s to %s. Shall I create it?", humanField(in.EditField), in.EditValue),
			Debug: map[string]any{
				"pending_op": intent.PendingCreate,
				"edit_field": in.EditField,
				"edit_value": in.EditValue,
			},
		}

	default: // ActionCreateEvent
		summary := in.EventTitle
		if summary == "" {
			summary = "the event"
		}
		details := []string{}
		if in.EventDate != "" {
			details = append(details, "on "+in.EventDate)
		}
		if in.EventTime != "" {
			details = append(details, "at "+in.EventTime)
		}
		return Result{
			OK:              true,
			Message:         "event staged",
			UserVisibleText: fmt.Sprintf("I'll create %s %s. Confirm?", summary, strings.Join(details, " ")),
			Debug: map[string]any{
				"pending_op": intent.PendingCreate,
				"event": Event{
					Title:           in.EventTitle,
					Date:            in.EventDate,
					Time:            in.EventTime,
					DurationMinutes: in.DurationMinutes,
					Location:        in.Location,
					DocURL:          in.DocURL,
				},
			},
		}
	}
}

func (s *Service) handleCalendarEdit(ctx context.Context, in intent.Intent) Result {
	if s.calendar == nil {
		return notConnected("calendar")
	}

	switch in.Action {
	case intent.ActionCancelEdit:
		return Result{
			OK:              true,
			Message:         "edit cancelled",
			UserVisibleText: "Okay, leaving it as is.",
			Debug:           map[string]any{"pending_cleared": true},
		}

	case intent.ActionConfirmEdit, intent.ActionEditEvent:
		ev, err := s.calendar.Update(ctx, in.SearchTerm, in.Changes, in.Selection)
		if err != nil {
			return calendarError(err)
		}
		if ev == nil {
			return Result{
				OK:              true,
				Message:         "no matching event",
				UserVisibleText: fmt.Sprintf("I couldn't find an event matching %q.", in.SearchTerm),
			}
		}
		return Result{
			OK:              true,
			Message:         "event updated",
			UserVisibleText: fmt.Sprintf("Updated %s — now at %s on %s.", ev.Title, ev.Time, ev.Date),
			Debug:           map[string]any{"pending_cleared": true},
		}

	default:
		return Result{
			OK:              true,
			Message:         "edit needs detail",
			UserVisibleText: "What would you like to change?",
		}
	}
}

func (s *Service) handleDocQuery(ctx context.Context, in intent.Intent, cctx *intent.Context) Result {
	if s.docs == nil {
		return notConnected("documents")
	}

	url := in.DocURL
	if url == "" && cctx != nil {
		url = cctx.Resolved.Document
	}

	switch in.Action {
	case intent.ActionLinkDoc:
		if err := s.docs.Link(ctx, in.SearchTerm, url); err != nil {
			return docError(err)
		}
		return Result{OK: true, Message: "doc linked", UserVisibleText: "Linked the document to your meeting."}

	case intent.ActionReadDoc, intent.ActionOpenDoc:
		text, err := s.docs.Read(ctx, url)
		if err != nil {
			return docError(err)
		}
		out := Result{OK: true, Message: "doc read", UserVisibleText: text}
		return s.maybeDisplay(ctx, in, cctx, text, out)

	default: // ActionSummarizeMeetingDoc and collapsed actions
		summary, err := s.docs.Summarize(ctx, url)
		if err != nil {
			return docError(err)
		}
		out := Result{OK: true, Message: "doc summarized", UserVisibleText: summary}
		return s.maybeDisplay(ctx, in, cctx, summary, out)
	}
}

// maybeDisplay honors also_display by synthesizing a follow-up
// display-content run carrying the produced text.
func (s *Service) maybeDisplay(ctx context.Context, in intent.Intent, cctx *intent.Context, content string, out Result) Result {
	if !in.AlsoDisplay {
		return out
	}
	follow := intent.Intent{
		Type:           intent.TypeDisplayContent,
		Confidence:     in.Confidence,
		ContentRequest: "Display this content:\n" + content,
		DeviceName:     in.DisplayDevice,
	}
	display := s.handleDisplayContent(ctx, follow, cctx)
	out.CommandSent = display.CommandSent
	out.CommandID = display.CommandID
	if out.Debug == nil {
		out.Debug = map[string]any{}
	}
	out.Debug["display"] = display.Message
	return out
}

func calendarError(err error) Result {
	return Result{
		Message:         "calendar error",
		UserVisibleText: "I couldn't reach your calendar just now.",
		Debug:           map[string]any{"error": err.Error()},
	}
}

func docError(err error) Result {
	return Result{
		Message:         "document error",
		UserVisibleText: "I couldn't read that document.",
		Debug:           map[string]any{"error": err.Error()},
	}
}

func describeDate(date string) string {
	switch date {
	case "":
		return "coming up"
	case "this_week":
		return "this week"
	default:
		return "for " + date
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func formatEventList(events []Event) string {
	var sb strings.Builder
	for i, ev := range events {
		fmt.Fprintf(&sb, "%d. %s at %s on %s\n", i+1, ev.Title, ev.Time, ev.Date)
	}
	return strings.TrimSpace(sb.String())
}

func humanField(field string) string {
	switch field {
	case "event_time":
		return "the time"
	case "event_date":
		return "the date"
	case "duration_minutes":
		return "the duration"
	case "doc_url":
		return "the document link"
	default:
		return field
	}
}
