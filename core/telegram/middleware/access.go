package middleware

import (
	"quotabot/core/logger"
	tghelpers "quotabot/core/telegram/helpers"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// AccessOptions configures the chat allow-list gate.
type AccessOptions struct {
	// AllowedChats lists the chats the bot serves. Empty means open access.
	AllowedChats []int64
	// RejectText, when non-empty, is replied to senders in other chats.
	RejectText string
}

// Access restricts the bot to the configured chats. Everything else is
// answered with the reject text once and otherwise dropped.
func Access(opts AccessOptions) tele.MiddlewareFunc {
	allowed := make(map[int64]struct{}, len(opts.AllowedChats))
	for _, id := range opts.AllowedChats {
		allowed[id] = struct{}{}
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if len(allowed) == 0 {
				return next(c)
			}
			chat := c.Chat()
			if chat != nil {
				if _, ok := allowed[chat.ID]; ok {
					return next(c)
				}
			}
			ctx := tghelpers.BuildContext(c)
			logger.Warn(ctx, "tg", "access.denied",
				slog.Int64("chat_id", chatIDOf(chat)),
			)
			if opts.RejectText != "" && c.Message() != nil {
				_ = c.Send(opts.RejectText)
			}
			return nil
		}
	}
}

func chatIDOf(chat *tele.Chat) int64 {
	if chat == nil {
		return 0
	}
	return chat.ID
}
