package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"quotabot/core/logger"
	"quotabot/internal/session"
	"quotabot/internal/tracker"
	"quotabot/internal/transport"
)

// Base implements the shared command lifecycle on top of a Flow: session
// creation and restart, step advancement, message tracking, prompt
// editing, completion cleanup. Concrete commands embed or wrap it and only
// supply the Flow.
type Base struct {
	flow Flow
	deps Deps
}

// NewBase builds the lifecycle driver for a flow.
func NewBase(flow Flow, deps Deps) *Base {
	deps.normalize()
	return &Base{flow: flow, deps: deps}
}

func (b *Base) Kind() Kind { return b.flow.Kind() }

func (b *Base) CanStart(ev Event) bool {
	return IsStartCommand(ev.Text, b.flow.Kind())
}

func (b *Base) CanHandleCallback(cb CallbackEvent) bool {
	return strings.HasPrefix(cb.Namespace, string(b.flow.Kind())+".")
}

// Start creates a fresh session at the first step. An existing session of
// the same kind is discarded, its tracked messages cleaned up, and the
// flow restarts from scratch.
func (b *Base) Start(ctx context.Context, ev Event) (*Result, error) {
	kind := b.flow.Kind()
	if prev, err := b.deps.Sessions.Load(ctx, ev.UserID, ev.ChatID, string(kind)); err == nil {
		b.cleanup(ctx, ev.ChatID, prev.ID, false)
		if derr := b.deps.Sessions.Delete(ctx, ev.UserID, ev.ChatID, string(kind)); derr != nil {
			logger.Warn(ctx, "engine", "session.restart.delete.failed",
				slog.String("kind", string(kind)), slog.String("err", derr.Error()))
		}
	} else if !errors.Is(err, session.ErrNotFound) {
		return b.persistenceFailure(ctx, ev, "session.load.failed", err)
	}

	steps := b.flow.Steps()
	if len(steps) == 0 {
		return nil, fmt.Errorf("flow %q has no steps", kind)
	}

	payload := b.flow.NewPayload()
	raw, err := payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := b.deps.Now()
	sess := &session.Session{
		ID:        b.deps.NewID(),
		UserID:    ev.UserID,
		ChatID:    ev.ChatID,
		Kind:      string(kind),
		Step:      steps[0].ID(),
		Data:      raw,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(b.deps.TTL),
	}
	if err := b.deps.Sessions.Save(ctx, sess); err != nil {
		return b.persistenceFailure(ctx, ev, "session.save.failed", err)
	}
	b.trackIncoming(ctx, sess, ev)

	sc := StepContext{UserID: ev.UserID, Username: ev.Username, Summary: payload.Summary()}
	b.present(ctx, ev, sess, steps[0].Prompt(sc))
	logger.Info(ctx, "engine", "flow.started",
		slog.String("kind", string(kind)), slog.String("step", sess.Step))
	return &Result{Kind: kind, Step: sess.Step}, nil
}

// Resume validates free text against the session's current step.
func (b *Base) Resume(ctx context.Context, ev Event, sess *session.Session) (*Result, error) {
	steps := b.flow.Steps()
	idx := stepIndex(steps, sess.Step)
	payload, err := b.decode(sess)
	if idx < 0 || err != nil {
		return b.corrupt(ctx, sess, err)
	}
	b.trackIncoming(ctx, sess, ev)

	step := steps[idx]
	sc := StepContext{UserID: ev.UserID, Username: ev.Username, Summary: payload.Summary()}
	res := step.Validate(ev.Text)
	if !res.Valid {
		b.present(ctx, ev, sess, step.ErrorPrompt(sc, res.Err))
		return &Result{Kind: b.flow.Kind(), Step: sess.Step, Rejected: true, Message: res.Err}, nil
	}
	if err := payload.Apply(step.ID(), res.Value); err != nil {
		return b.corrupt(ctx, sess, err)
	}
	return b.advance(ctx, ev, sess, payload, idx)
}

// ResumeCallback routes a button press to the current step, which must be
// a CallbackStep owning the pressed namespace. Presses against any other
// keyboard are acknowledged as stale and otherwise ignored.
func (b *Base) ResumeCallback(ctx context.Context, ev Event, sess *session.Session) (*Result, error) {
	cb := ev.Callback
	if cb == nil {
		return nil, fmt.Errorf("callback resume without callback event")
	}
	steps := b.flow.Steps()
	idx := stepIndex(steps, sess.Step)
	payload, err := b.decode(sess)
	if idx < 0 || err != nil {
		b.answer(ctx, cb.ID, b.deps.StaleText)
		return b.corrupt(ctx, sess, err)
	}

	step, ok := steps[idx].(CallbackStep)
	if !ok || step.Namespace() != cb.Namespace {
		b.answer(ctx, cb.ID, b.deps.StaleText)
		return &Result{Kind: b.flow.Kind(), Step: sess.Step, Rejected: true}, nil
	}

	sc := StepContext{UserID: ev.UserID, Username: ev.Username, Summary: payload.Summary()}
	out := step.HandleCallback(cb.Data, sc)

	if out.Refresh != nil {
		b.answer(ctx, cb.ID, out.Ack)
		b.present(ctx, ev, sess, *out.Refresh)
		return &Result{Kind: b.flow.Kind(), Step: sess.Step}, nil
	}
	if !out.Selected {
		b.answer(ctx, cb.ID, out.Ack)
		return &Result{Kind: b.flow.Kind(), Step: sess.Step, Rejected: true}, nil
	}
	if !out.Result.Valid {
		b.answer(ctx, cb.ID, out.Result.Err)
		return &Result{Kind: b.flow.Kind(), Step: sess.Step, Rejected: true, Message: out.Result.Err}, nil
	}
	b.answer(ctx, cb.ID, out.Ack)
	if err := payload.Apply(steps[idx].ID(), out.Result.Value); err != nil {
		return b.corrupt(ctx, sess, err)
	}
	return b.advance(ctx, ev, sess, payload, idx)
}

// advance persists the applied value and either shows the next prompt or,
// past the last step, completes the flow.
func (b *Base) advance(ctx context.Context, ev Event, sess *session.Session, payload Payload, idx int) (*Result, error) {
	steps := b.flow.Steps()
	raw, err := payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	sess.Data = raw

	if idx+1 >= len(steps) {
		return b.complete(ctx, ev, sess, payload)
	}

	next := steps[idx+1]
	now := b.deps.Now()
	sess.Step = next.ID()
	sess.UpdatedAt = now
	sess.ExpiresAt = now.Add(b.deps.TTL)
	if err := b.deps.Sessions.Save(ctx, sess); err != nil {
		return b.persistenceFailure(ctx, ev, "session.save.failed", err)
	}

	sc := StepContext{UserID: ev.UserID, Username: ev.Username, Summary: payload.Summary()}
	b.present(ctx, ev, sess, next.Prompt(sc))
	logger.Debug(ctx, "engine", "step.advanced",
		slog.String("kind", string(b.flow.Kind())), slog.String("step", sess.Step))
	return &Result{Kind: b.flow.Kind(), Step: sess.Step}, nil
}

// complete runs the flow's terminal action, sends its confirmation, and
// tears the session down leaving only the confirmation message tracked.
func (b *Base) complete(ctx context.Context, ev Event, sess *session.Session, payload Payload) (*Result, error) {
	text, err := b.flow.Complete(ctx, ev, payload)
	if err != nil {
		logger.Error(ctx, "engine", "flow.complete.failed",
			slog.String("kind", string(b.flow.Kind())), slog.String("err", err.Error()))
		// Session untouched: the user can repeat the last input and retry.
		if werr := b.deps.Sessions.Save(ctx, sess); werr != nil {
			logger.Warn(ctx, "engine", "session.save.failed", slog.String("err", werr.Error()))
		}
		b.send(ctx, ev.ChatID, b.deps.RetryText, nil)
		return &Result{Kind: b.flow.Kind(), Step: sess.Step, Rejected: true}, nil
	}

	if id, serr := b.deps.Client.Send(ctx, ev.ChatID, text, nil); serr != nil {
		logger.Warn(ctx, "engine", "confirmation.send.failed", slog.String("err", serr.Error()))
	} else if terr := b.deps.Messages.Track(ctx, sess.ID, id, tracker.Outgoing, true); terr != nil {
		logger.Warn(ctx, "engine", "message.track.failed", slog.String("err", terr.Error()))
	}

	b.cleanup(ctx, sess.ChatID, sess.ID, true)
	if err := b.deps.Sessions.Delete(ctx, sess.UserID, sess.ChatID, sess.Kind); err != nil {
		logger.Warn(ctx, "engine", "session.delete.failed", slog.String("err", err.Error()))
	}
	logger.Info(ctx, "engine", "flow.completed", slog.String("kind", string(b.flow.Kind())))
	return &Result{Kind: b.flow.Kind(), Done: true, Message: text}, nil
}

// present delivers a step view: callback-driven turns edit the last
// outgoing message in place, text turns send a new one. Either way the
// session's last outgoing message id is refreshed and persisted
// best-effort so free-text replies keep threading correctly.
func (b *Base) present(ctx context.Context, ev Event, sess *session.Session, view View) {
	if ev.IsCallback() && sess.LastMessageID != 0 {
		err := b.deps.Client.Edit(ctx, sess.ChatID, sess.LastMessageID, view.Text, view.Options)
		if err == nil {
			return
		}
		logger.Debug(ctx, "engine", "edit.fallback.send", slog.String("err", err.Error()))
	}
	id := b.send(ctx, sess.ChatID, view.Text, view.Options)
	if id == 0 {
		return
	}
	if err := b.deps.Messages.Track(ctx, sess.ID, id, tracker.Outgoing, true); err != nil {
		logger.Warn(ctx, "engine", "message.track.failed", slog.String("err", err.Error()))
	}
	sess.LastMessageID = id
	if err := b.deps.Sessions.Save(ctx, sess); err != nil {
		logger.Warn(ctx, "engine", "session.save.failed", slog.String("err", err.Error()))
	}
}

func (b *Base) send(ctx context.Context, chatID int64, text string, opts *transport.Options) int {
	id, err := b.deps.Client.Send(ctx, chatID, text, opts)
	if err != nil {
		logger.Warn(ctx, "engine", "send.failed",
			slog.Int64("chat_id", chatID), slog.String("err", err.Error()))
		return 0
	}
	return id
}

func (b *Base) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := b.deps.Client.AnswerCallback(ctx, callbackID, text); err != nil {
		logger.Debug(ctx, "engine", "callback.answer.failed", slog.String("err", err.Error()))
	}
}

func (b *Base) trackIncoming(ctx context.Context, sess *session.Session, ev Event) {
	if ev.MessageID == 0 || ev.IsCallback() {
		return
	}
	if err := b.deps.Messages.Track(ctx, sess.ID, ev.MessageID, tracker.Incoming, false); err != nil {
		logger.Warn(ctx, "engine", "message.track.failed", slog.String("err", err.Error()))
	}
}

// cleanup deletes the session's tracked messages from the chat,
// optionally preserving the latest outgoing one. Transport failures are
// counted, not propagated: the conversation must proceed regardless.
func (b *Base) cleanup(ctx context.Context, chatID int64, sessionID string, preserveLast bool) {
	del := func(ctx context.Context, messageID int) error {
		return b.deps.Client.Delete(ctx, chatID, messageID)
	}
	stats, err := tracker.Cleanup(ctx, b.deps.Messages, del, sessionID, preserveLast, b.deps.CleanupWorkers)
	if err != nil {
		logger.Warn(ctx, "engine", "cleanup.failed",
			slog.String("session_id", sessionID), slog.String("err", err.Error()))
		return
	}
	logger.Debug(ctx, "engine", "cleanup.done",
		slog.String("session_id", sessionID),
		slog.Int("deleted", stats.Deleted),
		slog.Int("preserved", stats.Preserved),
		slog.Int("failed", stats.Failed),
	)
}

func (b *Base) decode(sess *session.Session) (Payload, error) {
	p, err := b.flow.DecodePayload(sess.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	return p, nil
}

// corrupt drops an unusable session so the user can start over cleanly.
func (b *Base) corrupt(ctx context.Context, sess *session.Session, cause error) (*Result, error) {
	if cause == nil {
		cause = fmt.Errorf("%w: unknown step %q", ErrCorruptSession, sess.Step)
	}
	logger.Error(ctx, "engine", "session.corrupt",
		slog.String("kind", sess.Kind), slog.String("step", sess.Step),
		slog.String("err", cause.Error()))
	if err := b.deps.Sessions.Delete(ctx, sess.UserID, sess.ChatID, sess.Kind); err != nil {
		logger.Warn(ctx, "engine", "session.delete.failed", slog.String("err", err.Error()))
	}
	return nil, cause
}

func (b *Base) persistenceFailure(ctx context.Context, ev Event, event string, err error) (*Result, error) {
	logger.Error(ctx, "engine", event,
		slog.String("kind", string(b.flow.Kind())), slog.String("err", err.Error()))
	b.send(ctx, ev.ChatID, b.deps.RetryText, nil)
	return &Result{Kind: b.flow.Kind(), Rejected: true}, nil
}

func stepIndex(steps []Step, id string) int {
	for i, s := range steps {
		if s.ID() == id {
			return i
		}
	}
	return -1
}
