package logger

import (
	"context"
	"io"
	"log/slog"
)

type logFormat int

const (
	formatJSON logFormat = iota
	formatKV
)

// contextHandler wraps a slog handler and injects correlation attributes
// (rid, update_id, user_id, chat_id, handler) carried by the context, so
// call sites only pass the context and event-specific attrs.
type contextHandler struct {
	inner slog.Handler
}

func newContextHandler(w io.Writer, format logFormat, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Key = "ts"
			}
			if a.Key == slog.MessageKey && a.Value.String() == "" {
				return slog.Attr{}
			}
			return a
		},
	}
	var inner slog.Handler
	if format == formatKV {
		inner = slog.NewTextHandler(w, opts)
	} else {
		inner = slog.NewJSONHandler(w, opts)
	}
	return &contextHandler{inner: inner}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if rid := RIDFrom(ctx); rid != "" {
			r.AddAttrs(slog.String("rid", rid))
		}
		if id := UpdateIDFrom(ctx); id != 0 {
			r.AddAttrs(slog.Int("update_id", id))
		}
		if id := UserIDFrom(ctx); id != 0 {
			r.AddAttrs(slog.Int64("user_id", id))
		}
		if id := ChatIDFrom(ctx); id != 0 {
			r.AddAttrs(slog.Int64("chat_id", id))
		}
		if name := HandlerFrom(ctx); name != "" {
			r.AddAttrs(slog.String("handler", name))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}
