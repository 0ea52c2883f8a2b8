// Package steps provides the reusable step implementations commands are
// assembled from: free-text prompts with typed parsers and a paginated
// inline-keyboard picker.
package steps

import (
	"fmt"
	"strconv"
	"strings"

	"quotabot/internal/engine"
	"quotabot/internal/transport"
)

// Text is a free-text step: it shows a force-reply prompt and runs a
// parser over the user's reply. Force-reply matters: clients pre-fill the
// reply thread, which is what lets the router attribute the answer to
// this conversation.
type Text struct {
	id     string
	prompt string
	parse  func(raw string) engine.StepResult
}

// NewText builds a text step with a custom parser.
func NewText(id, prompt string, parse func(raw string) engine.StepResult) Text {
	return Text{id: id, prompt: prompt, parse: parse}
}

// NewRequiredText builds a text step accepting any non-blank reply,
// trimmed.
func NewRequiredText(id, prompt, emptyMsg string) Text {
	return NewText(id, prompt, func(raw string) engine.StepResult {
		v := strings.TrimSpace(raw)
		if v == "" {
			return engine.Reject(emptyMsg)
		}
		return engine.Accept(v)
	})
}

func (t Text) ID() string { return t.id }

func (t Text) Prompt(sc engine.StepContext) engine.View {
	return engine.View{
		Text:    withSummary(sc, t.prompt),
		Options: &transport.Options{ForceReply: true},
	}
}

func (t Text) Validate(raw string) engine.StepResult { return t.parse(raw) }

func (t Text) ErrorPrompt(sc engine.StepContext, errMsg string) engine.View {
	return engine.View{
		Text:    errMsg + "\n\n" + withSummary(sc, t.prompt),
		Options: &transport.Options{ForceReply: true},
	}
}

// withSummary prepends the fields collected so far, mirroring how each
// prompt of the conversation recaps the running transaction.
func withSummary(sc engine.StepContext, prompt string) string {
	if len(sc.Summary) == 0 {
		return prompt
	}
	return strings.Join(sc.Summary, "\n") + "\n\n" + prompt
}

// NewAmount builds a text step parsing a positive monetary amount.
// A decimal comma is accepted alongside the decimal point.
func NewAmount(id, prompt, invalidMsg string) Text {
	return NewText(id, prompt, func(raw string) engine.StepResult {
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", "."), 64)
		if err != nil || v <= 0 {
			return engine.Reject(invalidMsg)
		}
		return engine.Accept(v)
	})
}

// Period is a calendar month, the typed value produced by NewPeriod.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

func (p Period) String() string { return fmt.Sprintf("%02d-%04d", p.Month, p.Year) }

// NewPeriod builds a text step parsing an "MM-YYYY" period.
func NewPeriod(id, prompt, invalidMsg string) Text {
	return NewText(id, prompt, func(raw string) engine.StepResult {
		parts := strings.Split(strings.TrimSpace(raw), "-")
		if len(parts) != 2 {
			return engine.Reject(invalidMsg)
		}
		month, merr := strconv.Atoi(parts[0])
		year, yerr := strconv.Atoi(parts[1])
		if merr != nil || yerr != nil || month < 1 || month > 12 || year < 2000 || year > 2100 {
			return engine.Reject(invalidMsg)
		}
		return engine.Accept(Period{Month: month, Year: year})
	})
}

// NewContact builds a text step parsing a chat username; a missing "@"
// prefix is added rather than rejected.
func NewContact(id, prompt, invalidMsg string) Text {
	return NewText(id, prompt, func(raw string) engine.StepResult {
		v := strings.TrimSpace(raw)
		if v == "" || strings.ContainsAny(v, " \t") {
			return engine.Reject(invalidMsg)
		}
		if !strings.HasPrefix(v, "@") {
			v = "@" + v
		}
		if len(v) < 2 {
			return engine.Reject(invalidMsg)
		}
		return engine.Accept(v)
	})
}
