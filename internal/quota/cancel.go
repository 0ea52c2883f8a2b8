package quota

import (
	"context"
	"errors"

	"quotabot/core/logger"
	"quotabot/internal/engine"
	"quotabot/internal/session"
	"quotabot/internal/tracker"
	"quotabot/internal/transport"

	"log/slog"
)

// KindCancel aborts whatever flow is in progress via /annulla.
const KindCancel engine.Kind = "annulla"

// Cancel is a stateless command: it never persists a session of its own,
// so Resume and ResumeCallback are unreachable and error out.
type Cancel struct {
	sessions session.Store
	messages tracker.Tracker
	client   transport.Client
	workers  int
}

// NewCancel builds the /annulla command.
func NewCancel(sessions session.Store, messages tracker.Tracker, client transport.Client, workers int) *Cancel {
	if workers <= 0 {
		workers = 4
	}
	return &Cancel{sessions: sessions, messages: messages, client: client, workers: workers}
}

func (c *Cancel) Kind() engine.Kind { return KindCancel }

func (c *Cancel) CanStart(ev engine.Event) bool {
	return engine.IsStartCommand(ev.Text, KindCancel)
}

func (c *Cancel) CanHandleCallback(engine.CallbackEvent) bool { return false }

// Start drops every live session of the user in this chat and cleans up
// their tracked messages before confirming.
func (c *Cancel) Start(ctx context.Context, ev engine.Event) (*engine.Result, error) {
	cancelled := 0
	// LoadAny yields one session at a time; the kind set bounds the loop.
	for {
		sess, err := c.sessions.LoadAny(ctx, ev.UserID, ev.ChatID)
		if errors.Is(err, session.ErrNotFound) {
			break
		}
		if err != nil {
			logger.Error(ctx, "cancel", "session.load.failed", slog.String("err", err.Error()))
			break
		}
		del := func(ctx context.Context, messageID int) error {
			return c.client.Delete(ctx, ev.ChatID, messageID)
		}
		if _, cerr := tracker.Cleanup(ctx, c.messages, del, sess.ID, false, c.workers); cerr != nil {
			logger.Warn(ctx, "cancel", "cleanup.failed", slog.String("err", cerr.Error()))
		}
		if derr := c.sessions.Delete(ctx, sess.UserID, sess.ChatID, sess.Kind); derr != nil {
			logger.Error(ctx, "cancel", "session.delete.failed", slog.String("err", derr.Error()))
			break
		}
		cancelled++
	}

	text := "❌ Operazione annullata."
	if cancelled == 0 {
		text = "Nessuna operazione in corso."
	}
	if _, err := c.client.Send(ctx, ev.ChatID, text, nil); err != nil {
		logger.Warn(ctx, "cancel", "send.failed", slog.String("err", err.Error()))
	}
	logger.Info(ctx, "cancel", "sessions.cancelled", slog.Int("count", cancelled))
	return &engine.Result{Kind: KindCancel, Done: true, Message: text}, nil
}

func (c *Cancel) Resume(context.Context, engine.Event, *session.Session) (*engine.Result, error) {
	return nil, errors.New("cancel: resume on stateless command")
}

func (c *Cancel) ResumeCallback(context.Context, engine.Event, *session.Session) (*engine.Result, error) {
	return nil, errors.New("cancel: callback resume on stateless command")
}
