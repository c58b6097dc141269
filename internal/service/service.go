// Package service dispatches typed intents to their handlers and shapes the
// user-visible result envelope. It owns no transport: devices are reached
// through a Dispatcher, calendars and documents through narrow collaborator
// interfaces, and creative display requests through a LayoutRunner.
package service

import (
	"context"
	"fmt"
	"strings"

	"lumen/internal/device"
	"lumen/internal/intent"
	"lumen/internal/logging"
	"lumen/internal/monitor"
	"lumen/internal/provider"
	"lumen/internal/router"
)

// Result is the envelope returned for every dispatched intent.
type Result struct {
	OK              bool           `json:"ok"`
	Message         string         `json:"message,omitempty"`
	UserVisibleText string         `json:"user_visible_text,omitempty"`
	CommandSent     bool           `json:"command_sent"`
	CommandID       string         `json:"command_id,omitempty"`
	Debug           map[string]any `json:"debug,omitempty"`
}

// Event is a calendar entry as exchanged with the calendar collaborator.
type Event struct {
	Title           string `json:"title"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Location        string `json:"location,omitempty"`
	DocURL          string `json:"doc_url,omitempty"`
}

// Calendar is the narrow read/write API the calendar collaborator exposes.
type Calendar interface {
	Count(ctx context.Context, date string) (int, error)
	Next(ctx context.Context) (*Event, error)
	List(ctx context.Context, date string) ([]Event, error)
	Find(ctx context.Context, term, date string) ([]Event, error)
	Create(ctx context.Context, ev Event) error
	Update(ctx context.Context, term string, changes map[string]string, selection int) (*Event, error)
}

// Docs is the narrow API the document collaborator exposes.
type Docs interface {
	Read(ctx context.Context, url string) (string, error)
	Summarize(ctx context.Context, url string) (string, error)
	Link(ctx context.Context, meetingTerm, url string) error
}

// LayoutOutcome is what a layout run hands back to the service.
type LayoutOutcome struct {
	OK                bool
	HTML              string
	Score             float64
	ValidationSkipped bool
	Error             string
}

// LayoutRunner produces validated HTML for a creative display request.
type LayoutRunner interface {
	Run(ctx context.Context, request string, cctx *intent.Context) LayoutOutcome
}

// Service is the intent dispatcher.
type Service struct {
	providers  provider.Set
	dispatcher device.Dispatcher
	calendar   Calendar
	docs       Docs
	layouts    LayoutRunner
	mon        *monitor.Monitor
}

// New builds the dispatcher. calendar, docs, and layouts may be nil; the
// corresponding intents then answer with a "not connected" message.
func New(providers provider.Set, dispatcher device.Dispatcher, calendar Calendar, docs Docs, layouts LayoutRunner, mon *monitor.Monitor) *Service {
	return &Service{
		providers:  providers,
		dispatcher: dispatcher,
		calendar:   calendar,
		docs:       docs,
		layouts:    layouts,
		mon:        mon,
	}
}

// Dispatch routes one parsed intent to its handler. It never panics and
// never returns a Go error: every failure is a Result with OK=false.
func (s *Service) Dispatch(ctx context.Context, in intent.Intent, decision router.Decision, cctx *intent.Context) Result {
	log := logging.S(logging.CategoryService)
	log.Debugw("dispatch", "type", in.Type, "action", in.Action)

	switch in.Type {
	case intent.TypeDeviceCommand:
		return s.handleDeviceCommand(in, cctx)
	case intent.TypeDeviceQuery:
		return s.handleDeviceQuery(in, cctx)
	case intent.TypeSystemQuery:
		return s.handleSystemQuery(cctx)
	case intent.TypeCalendarQuery:
		return s.handleCalendarQuery(ctx, in)
	case intent.TypeCalendarCreate:
		return s.handleCalendarCreate(ctx, in)
	case intent.TypeCalendarEdit:
		return s.handleCalendarEdit(ctx, in)
	case intent.TypeDocQuery:
		return s.handleDocQuery(ctx, in, cctx)
	case intent.TypeDisplayContent:
		return s.handleDisplayContent(ctx, in, cctx)
	case intent.TypeConversation:
		return s.handleConversation(ctx, in, decision, cctx)
	default:
		return Result{
			OK:              true,
			Message:         "unknown intent",
			UserVisibleText: "I didn't catch that. Could you rephrase?",
			Debug:           map[string]any{"reason": in.Reasoning},
		}
	}
}

// commandType maps a device action to its wire command type.
func commandType(a intent.Action) string {
	return strings.ToLower(string(a))
}

func (s *Service) handleDeviceCommand(in intent.Intent, cctx *intent.Context) Result {
	var devices []device.Device
	if cctx != nil {
		devices = cctx.Devices
	}
	match := device.Resolve(in.DeviceName, devices)

	if match.Ambiguous() {
		names := make([]string, len(match.Candidates))
		for i, d := range match.Candidates {
			names[i] = d.Name
		}
		return Result{
			OK:              true,
			Message:         "ambiguous device",
			UserVisibleText: fmt.Sprintf("Which one did you mean: %s?", strings.Join(names, ", ")),
			Debug:           map[string]any{"candidates": names},
		}
	}
	if !match.Resolved() {
		return Result{
			OK:              true,
			Message:         "device not found",
			UserVisibleText: fmt.Sprintf("I couldn't find a device called %q.", in.DeviceName),
		}
	}

	env := device.NewEnvelope(match.Device.ID, commandType(in.Action), in.Parameters)
	res := s.dispatcher.Send(env)
	if s.mon != nil {
		s.mon.LogCommand(env.DeviceID, env.CommandType, env.CommandID, res.OK)
	}
	if !res.OK {
		return Result{
			Message:         "dispatch failed",
			UserVisibleText: fmt.Sprintf("I couldn't reach %s: %s", match.Device.Name, res.Error),
			CommandID:       res.CommandID,
			Debug:           map[string]any{"error": res.Error},
		}
	}
	return Result{
		OK:              true,
		Message:         "command sent",
		UserVisibleText: fmt.Sprintf("Done — sent %s to %s.", env.CommandType, match.Device.Name),
		CommandSent:     true,
		CommandID:       res.CommandID,
	}
}

func (s *Service) handleDeviceQuery(in intent.Intent, cctx *intent.Context) Result {
	var devices []device.Device
	if cctx != nil {
		devices = cctx.Devices
	}
	match := device.Resolve(in.DeviceName, devices)
	if !match.Resolved() {
		return Result{
			OK:              true,
			Message:         "device not found",
			UserVisibleText: fmt.Sprintf("I couldn't find a device called %q.", in.DeviceName),
		}
	}
	state := "offline"
	if match.Device.Online {
		state = "online"
	}
	return Result{
		OK:              true,
		Message:         "device status",
		UserVisibleText: fmt.Sprintf("%s is %s.", match.Device.Name, state),
	}
}

func (s *Service) handleSystemQuery(cctx *intent.Context) Result {
	total, online := 0, 0
	if cctx != nil {
		total = len(cctx.Devices)
		for _, d := range cctx.Devices {
			if d.Online {
				online++
			}
		}
	}
	return Result{
		OK:              true,
		Message:         "system status",
		UserVisibleText: fmt.Sprintf("%d of %d devices are online.", online, total),
	}
}
