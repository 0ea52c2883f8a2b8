package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quotabot/internal/session"
	"quotabot/internal/tracker"
	"quotabot/internal/transport"
)

// Command is the registry-facing contract of one registered command kind.
// A command instance carries no state of its own; everything durable lives
// in the session row.
type Command interface {
	Kind() Kind
	// CanStart reports whether a fresh event with no active session should
	// instantiate this command.
	CanStart(ev Event) bool
	// CanHandleCallback reports whether the command owns the callback's
	// button namespace, so a stale keyboard from another command is never
	// misrouted to a newer session.
	CanHandleCallback(cb CallbackEvent) bool
	// Start begins a new flow; the command decides what happens to any
	// pre-existing session of the same kind (discard-and-restart by default).
	Start(ctx context.Context, ev Event) (*Result, error)
	// Resume feeds free text into the session's current step.
	Resume(ctx context.Context, ev Event, sess *session.Session) (*Result, error)
	// ResumeCallback feeds a button press into the session's current step.
	ResumeCallback(ctx context.Context, ev Event, sess *session.Session) (*Result, error)
}

// Deps bundles the collaborators every command lifecycle needs.
type Deps struct {
	Sessions session.Store
	Messages tracker.Tracker
	Client   transport.Client
	// TTL bounds how long an abandoned session stays resumable.
	TTL time.Duration
	// CleanupWorkers bounds concurrent deletions during message cleanup.
	CleanupWorkers int
	// RetryText is shown when a persistence failure interrupts a step.
	RetryText string
	// StaleText acknowledges button presses from outdated keyboards.
	StaleText string

	// Now and NewID are swappable for tests.
	Now   func() time.Time
	NewID func() string
}

func (d *Deps) normalize() {
	if d.TTL <= 0 {
		d.TTL = time.Hour
	}
	if d.CleanupWorkers <= 0 {
		d.CleanupWorkers = 4
	}
	if d.RetryText == "" {
		d.RetryText = "⚠️ Si è verificato un problema. Riprova tra qualche istante."
	}
	if d.StaleText == "" {
		d.StaleText = "Azione non più disponibile"
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
}
