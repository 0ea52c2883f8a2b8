package transport

import (
	"context"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// TelebotClient implements Client on top of a telebot bot instance.
type TelebotClient struct {
	bot *tele.Bot
}

// NewTelebotClient wraps an initialized bot.
func NewTelebotClient(bot *tele.Bot) *TelebotClient {
	return &TelebotClient{bot: bot}
}

func (c *TelebotClient) Send(_ context.Context, chatID int64, text string, opts *Options) (int, error) {
	msg, err := c.bot.Send(tele.ChatID(chatID), text, sendOptions(opts))
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (c *TelebotClient) Edit(_ context.Context, chatID int64, messageID int, text string, opts *Options) error {
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	}
	_, err := c.bot.Edit(stored, text, sendOptions(opts))
	return err
}

func (c *TelebotClient) Delete(_ context.Context, chatID int64, messageID int) error {
	return c.bot.Delete(tele.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	})
}

func (c *TelebotClient) AnswerCallback(_ context.Context, callbackID, text string) error {
	return c.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (c *TelebotClient) SendUsername(_ context.Context, username, text string) (int, error) {
	if !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	msg, err := c.bot.Send(userRecipient(username), text, &tele.SendOptions{})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// userRecipient addresses a chat by @username.
type userRecipient string

func (u userRecipient) Recipient() string { return string(u) }

// sendOptions maps the engine's flat options onto telebot send options.
// Inline keyboards, force-reply and keyboard removal are mutually
// exclusive on the Telegram side; Buttons win when both are set.
func sendOptions(o *Options) *tele.SendOptions {
	so := &tele.SendOptions{}
	if o == nil {
		return so
	}
	if o.ParseMode != "" {
		so.ParseMode = tele.ParseMode(o.ParseMode)
	}

	markup := &tele.ReplyMarkup{}
	switch {
	case len(o.Buttons) > 0:
		rows := make([]tele.Row, 0, len(o.Buttons))
		for _, row := range o.Buttons {
			btns := make([]tele.Btn, 0, len(row))
			for _, b := range row {
				btns = append(btns, markup.Data(b.Text, b.Unique, b.Data))
			}
			rows = append(rows, markup.Row(btns...))
		}
		markup.Inline(rows...)
	case o.ForceReply:
		markup.ForceReply = true
		markup.Selective = true
	case o.RemoveKeyboard:
		markup.RemoveKeyboard = true
	default:
		return so
	}
	so.ReplyMarkup = markup
	return so
}
