package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"lumen/internal/brain"
	"lumen/internal/device"
	"lumen/internal/monitor"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	statStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	statsBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// responseMsg carries a finished brain call back into the update loop.
type responseMsg struct {
	resp brain.IntentResponse
}

type consoleModel struct {
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	brain *brain.Brain
	mon   *monitor.Monitor

	transcript []string
	history    []map[string]any
	pendingOp  map[string]any
	generated  string
	contentMem []string

	busy  bool
	ready bool
}

func newConsoleModel(b *brain.Brain, mon *monitor.Monitor) consoleModel {
	ta := textarea.New()
	ta.Placeholder = "Say something... (/help for commands)"
	ta.Focus()
	ta.SetHeight(2)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))

	return consoleModel{
		textarea: ta,
		spinner:  sp,
		renderer: renderer,
		brain:    b,
		mon:      mon,
	}
}

func (m consoleModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport = viewport.New(msg.Width, msg.Height-5)
		m.textarea.SetWidth(msg.Width - 2)
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			m.transcript = append(m.transcript, userStyle.Render("you")+" "+input)
			m.refresh()
			m.busy = true
			return m, tea.Batch(m.spinner.Tick, m.processCmd(input))
		}

	case responseMsg:
		m.busy = false
		m.absorb(msg.resp)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.busy {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	var taCmd, vpCmd tea.Cmd
	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(taCmd, vpCmd)
}

// processCmd runs the brain off the update loop.
func (m consoleModel) processCmd(input string) tea.Cmd {
	raw := map[string]any{}
	if len(m.history) > 0 || len(m.contentMem) > 0 {
		conv := map[string]any{"history": m.history}
		if m.generated != "" {
			conv["generated_content"] = m.generated
		}
		if len(m.contentMem) > 0 {
			conv["content_memory"] = m.contentMem
		}
		raw["conversation"] = conv
	}
	if m.pendingOp != nil {
		raw["pending_operation"] = m.pendingOp
	}

	b := m.brain
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		return responseMsg{resp: b.Process(ctx, input, "console", raw)}
	}
}

// absorb folds a response into the transcript and the carried context.
func (m *consoleModel) absorb(resp brain.IntentResponse) {
	text := resp.Message
	if resp.Response != "" {
		text = resp.Response
	}
	if text == "" {
		text = "(no response)"
	}

	rendered := text
	if m.renderer != nil {
		if out, err := m.renderer.Render(text); err == nil {
			rendered = strings.TrimRight(out, "\n")
		}
	}
	if !resp.OK {
		rendered = errorStyle.Render(rendered)
	}
	m.transcript = append(m.transcript, titleStyle.Render("lumen")+" "+rendered)

	if resp.CommandSent {
		m.transcript = append(m.transcript,
			faintStyle.Render(fmt.Sprintf("  -> command %s sent", resp.CommandID)))
	}

	last := text
	if len(last) > 400 {
		last = last[:400]
	}
	m.history = append(m.history, map[string]any{"user": lastUserInput(m.transcript), "assistant": last})
	if len(m.history) > 8 {
		m.history = m.history[len(m.history)-8:]
	}

	if resp.Debug != nil {
		if op, ok := resp.Debug["pending_op"].(string); ok && op != "" {
			m.pendingOp = map[string]any{
				"pending_op_type": op,
				"timestamp":       time.Now().UTC().Format(time.RFC3339),
			}
		}
		if _, ok := resp.Debug["pending_cleared"]; ok {
			m.pendingOp = nil
		}
		if html, ok := resp.Debug["html"].(string); ok && html != "" {
			m.generated = html
			m.contentMem = append(m.contentMem, lastUserInput(m.transcript))
			if len(m.contentMem) > 3 {
				m.contentMem = m.contentMem[len(m.contentMem)-3:]
			}
		}
	}
}

func lastUserInput(transcript []string) string {
	prefix := userStyle.Render("you") + " "
	for i := len(transcript) - 1; i >= 0; i-- {
		if strings.HasPrefix(transcript[i], prefix) {
			return strings.TrimPrefix(transcript[i], prefix)
		}
	}
	return ""
}

func (m consoleModel) handleCommand(input string) (tea.Model, tea.Cmd) {
	switch strings.Fields(input)[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/stats":
		m.transcript = append(m.transcript, renderStats(m.mon))
	case "/clear":
		m.transcript = nil
		m.history = nil
		m.pendingOp = nil
		m.generated = ""
		m.contentMem = nil
	case "/help":
		m.transcript = append(m.transcript, faintStyle.Render(
			"/stats  model usage and cost\n/clear  reset the conversation\n/quit   leave"))
	default:
		m.transcript = append(m.transcript, errorStyle.Render("unknown command: "+input))
	}
	m.refresh()
	return m, nil
}

func renderStats(mon *monitor.Monitor) string {
	stats := mon.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("session stats"))
	fmt.Fprintf(&b, "events %d  errors %d  warnings %d\n", stats.Events, stats.Errors, stats.Warnings)
	for name, ps := range stats.ByProvider {
		fmt.Fprintf(&b, "%s\n", statStyle.Render(name))
		fmt.Fprintf(&b, "  requests %d  failures %d  tokens %d  latency %dms  cost $%.4f\n",
			ps.Requests, ps.Failures, ps.TotalTokens, ps.TotalLatencyMS, ps.CostUSD)
	}
	return statsBorder.Render(strings.TrimRight(b.String(), "\n"))
}

func (m *consoleModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.transcript, "\n"))
	m.viewport.GotoBottom()
}

func (m consoleModel) View() string {
	if !m.ready {
		return "loading..."
	}
	status := ""
	if m.busy {
		status = m.spinner.View() + " thinking..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), status, m.textarea.View())
}

// runConsole starts the interactive chat.
func runConsole() error {
	cfg, mon, store, err := bootstrap()
	if err != nil {
		return err
	}
	defer store.Close()

	hub := device.NewHub()
	b := brain.Build(cfg, mon, store, hub, nil, nil)

	p := tea.NewProgram(newConsoleModel(b, mon), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
