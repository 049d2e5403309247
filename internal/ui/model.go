// ABOUTME: Bubbletea model for the casting TUI
// ABOUTME: Lists renderers, streaming clients and recent events
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lucalewin/sonar/pkg/events"
	"github.com/lucalewin/sonar/pkg/stream"
	"github.com/lucalewin/sonar/pkg/upnp"
)

// maxEvents is the number of events kept on screen
const maxEvents = 8

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	status   StatusMsg
	events   []events.Event
	cursor   int
	quitting bool

	startTime time.Time
	controls  *Controls

	// Dimensions
	width  int
	height int
}

// StatusMsg replaces the displayed application state
type StatusMsg struct {
	Name      string
	StreamURL string
	Format    string
	Source    string
	Playing   map[string]bool // renderer IDs
	Renderers []upnp.Renderer
	Clients   []stream.ClientInfo
}

// EventMsg appends an event to the log panel
type EventMsg events.Event

type tickMsg time.Time

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tickEvery()
	case StatusMsg:
		m.applyStatus(msg)
	case EventMsg:
		m.appendEvent(events.Event(msg))
	}

	return m, nil
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.controls.quit()
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.status.Renderers)-1 {
			m.cursor++
		}
	case "enter", "p":
		if r, ok := m.selected(); ok {
			m.controls.send(Action{Kind: ActionPlay, RendererID: r.ID})
		}
	case "s":
		if r, ok := m.selected(); ok {
			m.controls.send(Action{Kind: ActionStop, RendererID: r.ID})
		}
	case "r":
		m.controls.send(Action{Kind: ActionDiscover})
	}

	return m, nil
}

func (m Model) selected() (upnp.Renderer, bool) {
	if m.cursor < 0 || m.cursor >= len(m.status.Renderers) {
		return upnp.Renderer{}, false
	}
	return m.status.Renderers[m.cursor], true
}

// applyStatus updates the model and keeps the cursor on the same renderer
func (m *Model) applyStatus(msg StatusMsg) {
	var selectedID string
	if r, ok := m.selected(); ok {
		selectedID = r.ID
	}

	m.status = msg

	m.cursor = 0
	for i, r := range msg.Renderers {
		if r.ID == selectedID {
			m.cursor = i
			break
		}
	}
}

func (m *Model) appendEvent(e events.Event) {
	m.events = append(m.events, e)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(m.status.Name))
	b.WriteString("\n\n")

	b.WriteString(m.renderInfo())
	b.WriteString("\n")
	b.WriteString(m.renderRenderers())
	b.WriteString("\n")
	b.WriteString(m.renderClients())
	b.WriteString("\n")
	b.WriteString(m.renderEvents())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓:Select  enter/p:Play  s:Stop  r:Discover  q:Quit"))

	return b.String()
}

func (m Model) renderInfo() string {
	var b strings.Builder
	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Stream", m.status.StreamURL)
	field("Format", m.status.Format)
	field("Source", m.status.Source)
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	return b.String()
}

func (m Model) renderRenderers() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Renderers (%d)", len(m.status.Renderers))))
	b.WriteString("\n")

	if len(m.status.Renderers) == 0 {
		b.WriteString(valueStyle.Render("  Searching..."))
		b.WriteString("\n")
		return b.String()
	}

	for i, r := range m.status.Renderers {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		playing := ""
		if m.status.Playing[r.ID] {
			playing = " ▶"
		}
		b.WriteString(prefix)
		b.WriteString(truncate(r.Name, 32))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %s)", r.RemoteAddr, r.Protocols)))
		b.WriteString(playing)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderClients() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Streaming Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n")

	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
		return b.String()
	}

	for _, c := range m.status.Clients {
		b.WriteString(fmt.Sprintf("  • %s", c.Addr))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" [%s] dropped: %d",
			renderBar(c.Queued, stream.DefaultQueueSize, 10), c.Dropped)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderEvents() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Events"))
	b.WriteString("\n")

	for _, e := range m.events {
		b.WriteString(valueStyle.Render(fmt.Sprintf("  %s %s", e.Time.Format("15:04:05"), truncate(e.String(), 70))))
		b.WriteString("\n")
	}
	return b.String()
}

// Utility functions
func renderBar(value, max, width int) string {
	if max <= 0 {
		max = 1
	}
	filled := (value * width) / max
	if filled > width {
		filled = width
	}
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
