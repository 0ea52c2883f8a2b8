package engine

import "quotabot/internal/transport"

// View is the flat text+options payload a step asks the transport to show.
type View struct {
	Text    string
	Options *transport.Options
}

// StepResult is the discriminated outcome of validating raw input.
// Err is meant for direct display to the user when Valid is false.
type StepResult struct {
	Valid bool
	Value any
	Err   string
}

// Accept builds a successful StepResult carrying the typed value.
func Accept(value any) StepResult { return StepResult{Valid: true, Value: value} }

// Reject builds a failed StepResult with a user-facing error message.
func Reject(msg string) StepResult { return StepResult{Err: msg} }

// StepContext is the read-only slice of session state a step may consult
// while rendering its prompt. Steps never mutate state or perform I/O.
type StepContext struct {
	UserID   int64
	Username string
	// Summary lists the fields collected so far, one display line each.
	Summary []string
}

// Step is a reusable, pure unit of prompt presentation and input validation.
// The same step implementation can serve any command; all side effects live
// in the command lifecycle.
type Step interface {
	// ID is the step identifier persisted in the session row.
	ID() string
	// Prompt builds the message shown when the conversation reaches this step.
	Prompt(sc StepContext) View
	// Validate parses raw text into a typed value. It never performs I/O and
	// is idempotent: the same input always yields the same result.
	Validate(raw string) StepResult
	// ErrorPrompt re-renders the prompt with the validation error prepended,
	// so retries keep a consistent shape.
	ErrorPrompt(sc StepContext, errMsg string) View
}

// CallbackOutcome describes how a button press on a step's keyboard was
// handled. Exactly one of the three modes applies: Refresh re-renders the
// keyboard in place without advancing; Selected carries a final Result;
// neither set means the press is acknowledged and ignored.
type CallbackOutcome struct {
	Refresh *View
	// Ack is shown to the user as a callback toast; may be empty.
	Ack      string
	Selected bool
	Result   StepResult
}

// CallbackStep is implemented by steps whose input arrives as button
// presses (e.g. a paginated picker) in addition to, or instead of, text.
type CallbackStep interface {
	Step
	// Namespace is the callback namespace this step's buttons carry.
	Namespace() string
	HandleCallback(data string, sc StepContext) CallbackOutcome
}
