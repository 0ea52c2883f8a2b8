package quota

import (
	"context"
	"errors"

	"quotabot/core/logger"
	"quotabot/internal/engine"
	"quotabot/internal/session"
	"quotabot/internal/transport"

	"log/slog"
)

// KindHelp shows the command summary via /help.
const KindHelp engine.Kind = "help"

const helpText = "🤖 Bot di Gestione Transazioni\n\n" +
	"Comandi disponibili:\n" +
	"/quota - Inizia una nuova registrazione transazione\n" +
	"/annulla - Annulla l'operazione in corso\n" +
	"/help - Mostra questo messaggio di aiuto\n\n" +
	"Come usare:\n" +
	"1. Usa /quota per iniziare\n" +
	"2. Segui le istruzioni per inserire i dati\n" +
	"3. La transazione verrà salvata e una notifica inviata al contatto specificato"

// Help is the stateless /help command.
type Help struct {
	client transport.Client
}

// NewHelp builds the /help command.
func NewHelp(client transport.Client) *Help {
	return &Help{client: client}
}

func (h *Help) Kind() engine.Kind { return KindHelp }

func (h *Help) CanStart(ev engine.Event) bool {
	return engine.IsStartCommand(ev.Text, KindHelp)
}

func (h *Help) CanHandleCallback(engine.CallbackEvent) bool { return false }

func (h *Help) Start(ctx context.Context, ev engine.Event) (*engine.Result, error) {
	if _, err := h.client.Send(ctx, ev.ChatID, helpText, nil); err != nil {
		logger.Warn(ctx, "help", "send.failed", slog.String("err", err.Error()))
	}
	return &engine.Result{Kind: KindHelp, Done: true, Message: helpText}, nil
}

func (h *Help) Resume(context.Context, engine.Event, *session.Session) (*engine.Result, error) {
	return nil, errors.New("help: resume on stateless command")
}

func (h *Help) ResumeCallback(context.Context, engine.Event, *session.Session) (*engine.Result, error) {
	return nil, errors.New("help: callback resume on stateless command")
}
