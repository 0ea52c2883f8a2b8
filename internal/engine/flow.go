package engine

import (
	"context"
	"errors"
)

// ErrCorruptSession marks persisted session state the owning flow does not
// recognize: an unknown step value or an undecodable payload. It is reported,
// never silently coerced.
var ErrCorruptSession = errors.New("engine: corrupt session state")

// Payload is the command-specific typed shape of the session's accumulated
// data. The generic store keeps it as an opaque blob; the command decodes it
// immediately after load and never operates on untyped maps past that point.
type Payload interface {
	// Apply stores a validated step value into the typed payload.
	Apply(stepID string, value any) error
	// Summary renders the collected fields as display lines for prompts.
	Summary() []string
	Encode() ([]byte, error)
}

// Flow describes one business flow: its ordered steps, its payload codec,
// and what happens when the final step validates.
type Flow interface {
	Kind() Kind
	Steps() []Step
	NewPayload() Payload
	DecodePayload(raw []byte) (Payload, error)
	// Complete runs the flow's completion logic and returns the confirmation
	// text to show the user. An error leaves the session untouched so the
	// final input can be retried.
	Complete(ctx context.Context, ev Event, p Payload) (string, error)
}

// Result is the discriminated outcome of routing one inbound event.
// A nil *Result from the registry means no command claimed the event.
type Result struct {
	Kind Kind
	// Step is the step presented (or just completed) after handling.
	Step string
	// Done reports that the flow ran its completion logic.
	Done bool
	// Rejected reports the expected ask-again path: validation failed or the
	// event was acknowledged without advancing the conversation.
	Rejected bool
	// Message is the text presented to the user, if any.
	Message string
}
