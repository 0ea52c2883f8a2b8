package steps

import (
	"fmt"
	"strconv"
	"strings"

	"quotabot/internal/engine"
	"quotabot/internal/transport"
)

// Option is one selectable entry of a Choice step.
type Option struct {
	// Label is shown on the button.
	Label string
	// Value is the typed value applied to the payload when picked.
	Value string
}

// Choice is a picker step backed by an inline keyboard, paginated when the
// option list exceeds PerPage. Button payloads are "pick:<index>" against
// the full option list and "page:<n>" for navigation, so pagination state
// never needs to live in the session.
type Choice struct {
	id        string
	prompt    string
	namespace string
	options   []Option
	perPage   int

	// freeParse, when set, additionally accepts typed replies.
	freeParse func(raw string) engine.StepResult
	notButton string
}

// ChoiceConfig configures a Choice step.
type ChoiceConfig struct {
	ID     string
	Prompt string
	// Namespace is the callback namespace, "<kind>.<step>" by convention.
	Namespace string
	Options   []Option
	// PerPage bounds options per keyboard page; 0 disables pagination.
	PerPage int
	// FreeText, when set, also accepts a typed reply through this parser.
	FreeText func(raw string) engine.StepResult
	// NotButtonMsg rejects typed replies on button-only steps.
	NotButtonMsg string
}

// NewChoice builds a picker step.
func NewChoice(cfg ChoiceConfig) Choice {
	msg := cfg.NotButtonMsg
	if msg == "" {
		msg = "Usa i pulsanti qui sotto per scegliere."
	}
	return Choice{
		id:        cfg.ID,
		prompt:    cfg.Prompt,
		namespace: cfg.Namespace,
		options:   cfg.Options,
		perPage:   cfg.PerPage,
		freeParse: cfg.FreeText,
		notButton: msg,
	}
}

func (c Choice) ID() string        { return c.id }
func (c Choice) Namespace() string { return c.namespace }

func (c Choice) Prompt(sc engine.StepContext) engine.View {
	return c.pageView(0, sc)
}

func (c Choice) Validate(raw string) engine.StepResult {
	if c.freeParse != nil {
		return c.freeParse(raw)
	}
	return engine.Reject(c.notButton)
}

func (c Choice) ErrorPrompt(sc engine.StepContext, errMsg string) engine.View {
	v := c.pageView(0, sc)
	v.Text = errMsg + "\n\n" + v.Text
	return v
}

// HandleCallback resolves "pick:<index>" into the option's value and
// "page:<n>" into an in-place keyboard refresh.
func (c Choice) HandleCallback(data string, sc engine.StepContext) engine.CallbackOutcome {
	verb, arg, ok := strings.Cut(data, ":")
	if !ok {
		return engine.CallbackOutcome{Ack: "Azione non riconosciuta"}
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return engine.CallbackOutcome{Ack: "Azione non riconosciuta"}
	}
	switch verb {
	case "page":
		if n < 0 || n >= c.pages() {
			return engine.CallbackOutcome{Ack: ""}
		}
		view := c.pageView(n, sc)
		return engine.CallbackOutcome{Refresh: &view}
	case "pick":
		if n < 0 || n >= len(c.options) {
			return engine.CallbackOutcome{Ack: "Scelta non valida"}
		}
		opt := c.options[n]
		return engine.CallbackOutcome{
			Ack:      opt.Label,
			Selected: true,
			Result:   engine.Accept(opt.Value),
		}
	default:
		return engine.CallbackOutcome{Ack: "Azione non riconosciuta"}
	}
}

func (c Choice) pages() int {
	if c.perPage <= 0 || len(c.options) <= c.perPage {
		return 1
	}
	return (len(c.options) + c.perPage - 1) / c.perPage
}

func (c Choice) pageView(page int, sc engine.StepContext) engine.View {
	pages := c.pages()
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}

	start, end := 0, len(c.options)
	if pages > 1 {
		start = page * c.perPage
		end = start + c.perPage
		if end > len(c.options) {
			end = len(c.options)
		}
	}

	var rows [][]transport.Button
	for i := start; i < end; i++ {
		rows = append(rows, []transport.Button{{
			Text:   c.options[i].Label,
			Unique: c.namespace,
			Data:   fmt.Sprintf("pick:%d", i),
		}})
	}
	if pages > 1 {
		var nav []transport.Button
		if page > 0 {
			nav = append(nav, transport.Button{
				Text: "⬅️", Unique: c.namespace, Data: fmt.Sprintf("page:%d", page-1),
			})
		}
		if page < pages-1 {
			nav = append(nav, transport.Button{
				Text: "➡️", Unique: c.namespace, Data: fmt.Sprintf("page:%d", page+1),
			})
		}
		rows = append(rows, nav)
	}

	text := c.prompt
	if pages > 1 {
		text = fmt.Sprintf("%s (pagina %d/%d)", c.prompt, page+1, pages)
	}
	return engine.View{Text: withSummary(sc, text), Options: &transport.Options{Buttons: rows}}
}
