// Package transport defines the chat-transport collaborator contract consumed
// by the conversational engine. The engine only builds flat text+options
// payloads; how they map onto a concrete chat API lives in the implementation.
package transport

import "context"

// Button describes one inline keyboard button. Unique is the callback
// namespace the owning step listens on; Data is the opaque payload echoed
// back when the button is pressed.
type Button struct {
	Text   string
	Unique string
	Data   string
}

// Options is the opaque presentation bag attached to an outgoing message.
// The engine forwards it without interpreting it.
type Options struct {
	ParseMode      string
	ForceReply     bool
	RemoveKeyboard bool
	Buttons        [][]Button
}

// Client is the outbound side of the chat transport.
type Client interface {
	// Send delivers a message to the chat and returns the transport message id.
	Send(ctx context.Context, chatID int64, text string, opts *Options) (int, error)
	// Edit replaces the text and keyboard of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int, text string, opts *Options) error
	// Delete removes a message. Implementations must treat already-deleted
	// messages as an error so callers can count failures.
	Delete(ctx context.Context, chatID int64, messageID int) error
	// AnswerCallback acknowledges a button press, optionally with a toast text.
	AnswerCallback(ctx context.Context, callbackID, text string) error
	// SendUsername delivers a message addressed by @username. Best-effort:
	// the transport may not be able to resolve the recipient.
	SendUsername(ctx context.Context, username, text string) (int, error)
}
