// Package engine implements the conversational command engine: the step
// abstraction, the shared command lifecycle, and the registry that routes
// inbound chat events to the right in-progress or newly started flow.
package engine

import "strings"

// Kind identifies a command flow. The set of kinds is closed: every kind is
// declared as a constant by its owning package and registered exactly once
// at startup.
type Kind string

// CallbackEvent describes an inline button press.
type CallbackEvent struct {
	// ID is the transport callback id used to acknowledge the press.
	ID string
	// MessageID is the message carrying the pressed keyboard.
	MessageID int
	// Namespace is the button's owning step namespace (e.g. "quota.categoria").
	Namespace string
	// Data is the opaque button payload.
	Data string
}

// Event is one inbound chat event, already decoded from the transport.
type Event struct {
	UpdateID  int
	UserID    int64
	ChatID    int64
	Username  string
	MessageID int
	// Text is the raw message text; empty for callbacks.
	Text string
	// ReplyTo is the id of the message this one replies to; 0 when none.
	ReplyTo int
	// Callback is set when the event is a button press rather than text.
	Callback *CallbackEvent
}

// IsCallback reports whether the event is a button press.
func (e Event) IsCallback() bool { return e.Callback != nil }

// IsStartCommand reports whether text is the slash command that starts the
// given kind: "/<kind>" or "/<kind>@anything", optionally followed by args.
func IsStartCommand(text string, kind Kind) bool {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return false
	}
	cmd := fields[0]
	if !strings.HasPrefix(cmd, "/") {
		return false
	}
	cmd = strings.TrimPrefix(cmd, "/")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd == string(kind)
}
