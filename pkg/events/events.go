// ABOUTME: Application event types and the sink interface
// ABOUTME: Components report discoveries, connections and control results here
package events

import (
	"fmt"
	"time"
)

// Kind identifies what happened
type Kind string

const (
	RendererFound      Kind = "renderer_found"
	DiscoveryStarted   Kind = "discovery_started"
	DiscoveryFinished  Kind = "discovery_finished"
	DiscoveryFailed    Kind = "discovery_failed"
	ClientConnected    Kind = "client_connected"
	ClientDisconnected Kind = "client_disconnected"
	PlayStarted        Kind = "play_started"
	PlayFailed         Kind = "play_failed"
	PlayStopped        Kind = "play_stopped"
	Info               Kind = "info"
)

// Event is a single notification
type Event struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Subject string    `json:"subject,omitempty"` // renderer name or client address
	Message string    `json:"message,omitempty"`
}

func (e Event) String() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s %s", e.Kind, e.Subject)
	}
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Subject, e.Message)
}

// New stamps an event with the current time
func New(kind Kind, subject, format string, args ...any) Event {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return Event{Kind: kind, Time: time.Now(), Subject: subject, Message: msg}
}

// Sink receives events. Emit must not block.
type Sink interface {
	Emit(Event)
}

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event
var Discard Sink = discard{}

// OrDiscard returns s, or Discard when s is nil
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
