// Package callbacks decodes telebot's inline button payload encoding.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Parse splits telebot's \f<unique>|<payload> callback encoding into the
// button's unique key and its payload (which may be empty).
func Parse(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	raw := strings.TrimPrefix(cb.Data, "\f")
	raw = strings.TrimPrefix(raw, "\\f")
	parts := strings.SplitN(raw, "|", 2)
	unique := strings.TrimSpace(parts[0])
	payload := ""
	if len(parts) == 2 {
		payload = parts[1]
	}
	return unique, payload
}

// Key returns the button's unique key, preferring cb.Unique when telebot
// already resolved it.
func Key(c tele.Context) string {
	cb := c.Callback()
	if cb == nil {
		return ""
	}
	if cb.Unique != "" {
		return cb.Unique
	}
	k, _ := Parse(cb)
	return k
}

// Payload returns the part after '|'. cb.Data is preferred over cb.Unique
// since Unique may be empty in a generic OnCallback handler.
func Payload(c tele.Context) string {
	cb := c.Callback()
	if cb == nil {
		return ""
	}
	_, payload := Parse(cb)
	return payload
}
