// Package app wires the conversational engine to the telegram runtime:
// stores, commands, registry, routes and the session sweeper.
package app

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "quotabot/core/config"
	"quotabot/core/logger"
	"quotabot/core/telegram"
	"quotabot/core/telegram/callbacks"
	tghelpers "quotabot/core/telegram/helpers"
	"quotabot/core/telegram/middleware"
	"quotabot/internal/engine"
	"quotabot/internal/export"
	"quotabot/internal/quota"
	"quotabot/internal/session"
	"quotabot/internal/tracker"
	"quotabot/internal/transaction"
	"quotabot/internal/transport"

	tele "gopkg.in/telebot.v4"
	"log/slog"
)

const sweepInterval = 10 * time.Minute

// App owns the assembled application graph.
type App struct {
	cfg      *coreconfig.Config
	sessions session.Store
	messages tracker.Tracker
	txs      transaction.Repository

	// Built in onStart once the bot exists.
	registry   *engine.Registry
	dispatcher *transport.Dispatcher

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds the database-backed part of the graph. The transport-bound
// part is assembled when the bot starts.
func New(cfg *coreconfig.Config, db *sqlx.DB) *App {
	return &App{
		cfg:      cfg,
		sessions: session.NewPostgresStore(db),
		messages: tracker.NewPostgresTracker(db),
		txs:      transaction.NewPostgresRepository(db),
	}
}

// Run starts the bot and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return telegram.Run(ctx, telegram.RunOptions{
		Config: a.cfg,
		Middlewares: []telegram.Middleware{
			{Name: "recover", Use: middleware.Recover},
			{Name: "logging", Use: middleware.Logging},
			{Name: "access", Use: middleware.Access(middleware.AccessOptions{
				AllowedChats: a.cfg.Telegram.AllowedChats,
				RejectText:   "❌ Questo bot può essere utilizzato solo nel gruppo autorizzato.",
			})},
			{Name: "rate_limit", Use: middleware.RateLimit(middleware.RateLimitOptions{
				Interval: time.Duration(a.cfg.RateLimit.IntervalMS) * time.Millisecond,
				Exclude:  map[string]struct{}{"callback": {}},
			})},
		},
		Routes: []telegram.Route{
			{Endpoint: tele.OnText, Handler: a.handleText},
			{Endpoint: tele.OnCallback, Handler: a.handleCallback},
		},
		Commands: []tele.Command{
			{Text: "quota", Description: "Registra una nuova transazione"},
			{Text: "annulla", Description: "Annulla l'operazione in corso"},
			{Text: "help", Description: "Mostra i comandi disponibili"},
		},
		OnStart: a.onStart,
		OnStop:  a.onStop,
	})
}

func (a *App) onStart(ctx context.Context, bot *tele.Bot) error {
	client := transport.NewTelebotClient(bot)
	a.dispatcher = transport.NewDispatcher(transport.DispatcherOptions{})

	var exporter export.Exporter = export.Disabled{}
	if a.cfg.Export.Enabled {
		// No spreadsheet backend is compiled in; the flow treats the
		// disabled exporter's ErrNotConfigured as a silent skip.
		logger.Warn(ctx, "app", "export.unavailable",
			slog.String("spreadsheet_id", a.cfg.Export.SpreadsheetID))
	}
	flow := quota.NewFlow(a.txs, exporter, quota.NewNotifier(client, a.dispatcher))

	deps := engine.Deps{
		Sessions:       a.sessions,
		Messages:       a.messages,
		Client:         client,
		TTL:            time.Duration(a.cfg.Session.TTLMinutes) * time.Minute,
		CleanupWorkers: a.cfg.Session.CleanupWorkers,
	}

	registry := engine.NewRegistry(a.sessions)
	for _, cmd := range []engine.Command{
		engine.NewBase(flow, deps),
		quota.NewCancel(a.sessions, a.messages, client, a.cfg.Session.CleanupWorkers),
		quota.NewHelp(client),
	} {
		if err := registry.Register(cmd); err != nil {
			return err
		}
	}
	a.registry = registry

	if count, err := a.sessions.SweepExpired(ctx); err != nil {
		logger.Warn(ctx, "app", "sweep.failed", slog.String("err", err.Error()))
	} else if count > 0 {
		logger.Info(ctx, "app", "sweep.startup", slog.Int64("deleted", count))
	}
	a.startSweeper()

	logger.Info(ctx, "app", "started",
		slog.String("bot", bot.Me.Username),
		slog.Int("commands", len(registry.Kinds())),
	)
	return nil
}

func (a *App) onStop(ctx context.Context, _ *tele.Bot) error {
	if a.sweepCancel != nil {
		a.sweepCancel()
		<-a.sweepDone
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	logger.Info(ctx, "app", "stopped")
	return nil
}

// startSweeper periodically removes expired session rows. Expiry is
// otherwise enforced passively at load time.
func (a *App) startSweeper() {
	ctx, cancel := context.WithCancel(context.Background())
	a.sweepCancel = cancel
	a.sweepDone = make(chan struct{})
	go func() {
		defer close(a.sweepDone)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.sessions.SweepExpired(ctx); err != nil {
					logger.Warn(ctx, "app", "sweep.failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}

func (a *App) handleText(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "text")
	msg := c.Message()
	if msg == nil || a.registry == nil {
		return nil
	}

	ev := engine.Event{
		UpdateID:  c.Update().ID,
		UserID:    senderID(c),
		ChatID:    msg.Chat.ID,
		Username:  senderUsername(c),
		MessageID: msg.ID,
		Text:      msg.Text,
	}
	if msg.ReplyTo != nil {
		ev.ReplyTo = msg.ReplyTo.ID
	}

	res, err := a.registry.RouteMessage(ctx, ev)
	if err != nil {
		logger.Error(ctx, "app", "route.message.failed", slog.String("err", err.Error()))
		return nil
	}
	// A nil result is a routing miss: unrelated chatter, expected
	// steady-state, nothing to do.
	if res != nil && res.Done {
		logger.Debug(ctx, "app", "command.done", slog.String("kind", string(res.Kind)))
	}
	return nil
}

func (a *App) handleCallback(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "callback")
	cb := c.Callback()
	if cb == nil || a.registry == nil {
		return nil
	}

	unique, payload := callbacks.Parse(cb)
	ev := engine.Event{
		UpdateID: c.Update().ID,
		UserID:   senderID(c),
		Username: senderUsername(c),
		Callback: &engine.CallbackEvent{
			ID:        cb.ID,
			Namespace: unique,
			Data:      payload,
		},
	}
	if cb.Message != nil {
		ev.ChatID = cb.Message.Chat.ID
		ev.Callback.MessageID = cb.Message.ID
	}

	res, err := a.registry.RouteCallback(ctx, ev)
	if err != nil {
		logger.Error(ctx, "app", "route.callback.failed", slog.String("err", err.Error()))
		return c.Respond(&tele.CallbackResponse{})
	}
	if res == nil {
		// Stop the client spinner even when nothing claims the press.
		return c.Respond(&tele.CallbackResponse{})
	}
	return nil
}

func senderID(c tele.Context) int64 {
	if u := c.Sender(); u != nil {
		return u.ID
	}
	return 0
}

func senderUsername(c tele.Context) string {
	if u := c.Sender(); u != nil {
		return u.Username
	}
	return ""
}
