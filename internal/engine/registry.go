package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"quotabot/core/logger"
	"quotabot/internal/session"
)

// Registry owns the closed set of command kinds and routes incoming
// events to them. It is built once at startup and injected wherever
// routing is needed; there is no package-level instance.
type Registry struct {
	sessions session.Store
	commands map[Kind]Command
	order    []Kind
}

// NewRegistry builds an empty registry routing against the given store.
func NewRegistry(store session.Store) *Registry {
	return &Registry{
		sessions: store,
		commands: make(map[Kind]Command),
	}
}

// Register adds a command. Registering the same kind twice is a wiring
// bug and fails loudly instead of silently shadowing the first command.
func (r *Registry) Register(cmd Command) error {
	kind := cmd.Kind()
	if kind == "" {
		return fmt.Errorf("registry: command with empty kind")
	}
	if _, dup := r.commands[kind]; dup {
		return fmt.Errorf("registry: duplicate command kind %q", kind)
	}
	r.commands[kind] = cmd
	r.order = append(r.order, kind)
	return nil
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// RouteMessage dispatches a text event. Slash commands always start
// their flow, superseding any session in flight. Plain text resumes the
// user's most recent live session, but only when the message replies to
// that session's last prompt; anything else is a routing miss and
// returns a nil result so unrelated chatter stays untouched.
func (r *Registry) RouteMessage(ctx context.Context, ev Event) (*Result, error) {
	for _, kind := range r.order {
		cmd := r.commands[kind]
		if cmd.CanStart(ev) {
			return cmd.Start(ctx, ev)
		}
	}

	sess, err := r.sessions.LoadAny(ctx, ev.UserID, ev.ChatID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: load session: %w", err)
	}
	if sess.LastMessageID == 0 || ev.ReplyTo != sess.LastMessageID {
		logger.Debug(ctx, "registry", "reply.outside.thread",
			slog.String("kind", sess.Kind),
			slog.Int("reply_to", ev.ReplyTo),
			slog.Int("want", sess.LastMessageID))
		return nil, nil
	}
	cmd, ok := r.commands[Kind(sess.Kind)]
	if !ok {
		// A session written by a build that knew more kinds than this one.
		logger.Warn(ctx, "registry", "session.orphan", slog.String("kind", sess.Kind))
		if derr := r.sessions.Delete(ctx, sess.UserID, sess.ChatID, sess.Kind); derr != nil {
			logger.Warn(ctx, "registry", "session.delete.failed", slog.String("err", derr.Error()))
		}
		return nil, nil
	}
	return cmd.Resume(ctx, ev, sess)
}

// RouteCallback dispatches a button press. It requires a live session
// whose command claims the pressed namespace; everything else is a miss.
func (r *Registry) RouteCallback(ctx context.Context, ev Event) (*Result, error) {
	if ev.Callback == nil {
		return nil, fmt.Errorf("registry: callback route without callback event")
	}
	sess, err := r.sessions.LoadAny(ctx, ev.UserID, ev.ChatID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: load session: %w", err)
	}
	cmd, ok := r.commands[Kind(sess.Kind)]
	if !ok || !cmd.CanHandleCallback(*ev.Callback) {
		logger.Debug(ctx, "registry", "callback.namespace.miss",
			slog.String("kind", sess.Kind),
			slog.String("namespace", ev.Callback.Namespace))
		return nil, nil
	}
	return cmd.ResumeCallback(ctx, ev, sess)
}
