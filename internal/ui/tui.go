// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the user action channel
package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ActionKind is a user request from the TUI
type ActionKind int

const (
	ActionDiscover ActionKind = iota
	ActionPlay
	ActionStop
)

// Action is sent to the application when a key is pressed
type Action struct {
	Kind       ActionKind
	RendererID string
}

// Controls holds channels for communication with the application
type Controls struct {
	Actions chan Action
	Quit    chan struct{}
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Actions: make(chan Action, 10),
		Quit:    make(chan struct{}, 1),
	}
}

func (c *Controls) send(a Action) {
	if c == nil {
		return
	}
	select {
	case c.Actions <- a:
	default:
		// Don't block the UI if the application is busy
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(name string, controls *Controls) Model {
	return Model{
		status:    StatusMsg{Name: name},
		startTime: time.Now(),
		controls:  controls,
	}
}

// New creates the TUI program. The caller runs it and feeds it with
// StatusMsg and EventMsg through Send.
func New(name string, controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(name, controls), tea.WithAltScreen())
}
