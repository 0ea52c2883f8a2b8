package quota

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"quotabot/internal/engine"
	"quotabot/internal/export"
	"quotabot/internal/session"
	"quotabot/internal/tracker"
	"quotabot/internal/transaction"
	"quotabot/internal/transport"
)

type fakeRepo struct {
	records []transaction.Record
	err     error
}

func (f *fakeRepo) Insert(_ context.Context, r *transaction.Record) error {
	if f.err != nil {
		return f.err
	}
	r.ID = int64(len(f.records) + 1)
	f.records = append(f.records, *r)
	return nil
}

type fakeExporter struct {
	rows [][]string
	err  error
}

func (f *fakeExporter) Append(_ context.Context, row []string) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

type fakeClient struct {
	mu       sync.Mutex
	nextID   int
	sent     []string
	notified map[string]string

	failNotify bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{nextID: 500, notified: map[string]string{}}
}

func (f *fakeClient) Send(_ context.Context, _ int64, text string, _ *transport.Options) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	return f.nextID, nil
}

func (f *fakeClient) Edit(_ context.Context, _ int64, _ int, _ string, _ *transport.Options) error {
	return nil
}

func (f *fakeClient) Delete(_ context.Context, _ int64, _ int) error { return nil }

func (f *fakeClient) AnswerCallback(_ context.Context, _, _ string) error { return nil }

func (f *fakeClient) SendUsername(_ context.Context, username, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNotify {
		return 0, errors.New("chat not found")
	}
	f.notified[username] = text
	return 1, nil
}

func (f *fakeClient) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fixture struct {
	store    *session.MemoryStore
	messages *tracker.MemoryTracker
	client   *fakeClient
	repo     *fakeRepo
	exporter *fakeExporter
	registry *engine.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		store:    session.NewMemoryStore(),
		messages: tracker.NewMemoryTracker(),
		client:   newFakeClient(),
		repo:     &fakeRepo{},
		exporter: &fakeExporter{},
	}
	fx.registry = engine.NewRegistry(fx.store)
	deps := engine.Deps{Sessions: fx.store, Messages: fx.messages, Client: fx.client}
	flow := NewFlow(fx.repo, fx.exporter, NewNotifier(fx.client, nil))
	for _, cmd := range []engine.Command{
		engine.NewBase(flow, deps),
		NewCancel(fx.store, fx.messages, fx.client, 2),
		NewHelp(fx.client),
	} {
		if err := fx.registry.Register(cmd); err != nil {
			t.Fatalf("register %s: %v", cmd.Kind(), err)
		}
	}
	return fx
}

func (fx *fixture) text(t *testing.T, text string) *engine.Result {
	t.Helper()
	replyTo := 0
	if sess, err := fx.store.LoadAny(context.Background(), 7, 42); err == nil {
		replyTo = sess.LastMessageID
	}
	res, err := fx.registry.RouteMessage(context.Background(), engine.Event{
		UserID: 7, ChatID: 42, Username: "mario", MessageID: 9000 + len(fx.client.sent),
		Text: text, ReplyTo: replyTo,
	})
	if err != nil {
		t.Fatalf("route %q: %v", text, err)
	}
	return res
}

func (fx *fixture) press(t *testing.T, namespace, data string) *engine.Result {
	t.Helper()
	res, err := fx.registry.RouteCallback(context.Background(), engine.Event{
		UserID: 7, ChatID: 42, Username: "mario",
		Callback: &engine.CallbackEvent{ID: "cb", Namespace: namespace, Data: data},
	})
	if err != nil {
		t.Fatalf("callback %s %s: %v", namespace, data, err)
	}
	return res
}

func TestQuotaFullFlow(t *testing.T) {
	fx := newFixture(t)

	res := fx.text(t, "/quota")
	if res == nil || res.Step != StepFamiglia {
		t.Fatalf("start = %+v", res)
	}

	res = fx.press(t, "quota.famiglia", "pick:0")
	if res == nil || res.Step != StepImporto {
		t.Fatalf("after family pick = %+v", res)
	}
	res = fx.text(t, "25,50")
	if res == nil || res.Step != StepPeriodo {
		t.Fatalf("after amount = %+v", res)
	}
	res = fx.text(t, "03-2026")
	if res == nil || res.Step != StepCategoria {
		t.Fatalf("after period = %+v", res)
	}
	res = fx.press(t, "quota.categoria", "pick:1")
	if res == nil || res.Step != StepContatto {
		t.Fatalf("after category pick = %+v", res)
	}
	res = fx.text(t, "mario.rossi")
	if res == nil || !res.Done {
		t.Fatalf("after contact = %+v", res)
	}

	if len(fx.repo.records) != 1 {
		t.Fatalf("stored records = %d", len(fx.repo.records))
	}
	rec := fx.repo.records[0]
	if rec.Family != "Famiglia Rossi" || rec.Category != "Quota Iscrizione" ||
		rec.Amount != 25.5 || rec.Month != 3 || rec.Year != 2026 ||
		rec.Contact != "@mario.rossi" || rec.UserID != 7 || rec.Username != "mario" {
		t.Fatalf("record = %+v", rec)
	}
	if len(fx.exporter.rows) != 1 {
		t.Fatalf("exported rows = %d", len(fx.exporter.rows))
	}
	if _, ok := fx.client.notified["@mario.rossi"]; !ok {
		t.Fatal("contact not notified")
	}
	conf := fx.client.lastSent()
	if !strings.Contains(conf, "✅ Transazione registrata con successo!") ||
		!strings.Contains(conf, "📨 Notifica inviata a @mario.rossi") {
		t.Fatalf("confirmation = %q", conf)
	}
	if _, err := fx.store.LoadAny(context.Background(), 7, 42); err != session.ErrNotFound {
		t.Fatalf("session after completion: %v", err)
	}
}

func TestQuotaFamilyAcceptsTypedName(t *testing.T) {
	fx := newFixture(t)
	fx.text(t, "/quota")
	res := fx.text(t, "Famiglia Esposito")
	if res == nil || res.Step != StepImporto {
		t.Fatalf("typed family = %+v", res)
	}
	sess, err := fx.store.Load(context.Background(), 7, 42, string(KindQuota))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, derr := NewFlow(fx.repo, fx.exporter, nil).DecodePayload(sess.Data)
	if derr != nil {
		t.Fatalf("decode: %v", derr)
	}
	if got := p.(*Payload).Family; got != "Famiglia Esposito" {
		t.Fatalf("family = %q", got)
	}
}

func TestQuotaRejectsNegativeAmount(t *testing.T) {
	fx := newFixture(t)
	fx.text(t, "/quota")
	fx.press(t, "quota.famiglia", "pick:2")

	res := fx.text(t, "-5")
	if res == nil || !res.Rejected {
		t.Fatalf("negative amount = %+v", res)
	}
	prompt := fx.client.lastSent()
	if !strings.Contains(prompt, "❌ Formato non valido") ||
		!strings.Contains(prompt, "Inserisci l'importo") {
		t.Fatalf("error prompt = %q", prompt)
	}
	sess, _ := fx.store.Load(context.Background(), 7, 42, string(KindQuota))
	if sess.Step != StepImporto {
		t.Fatalf("step = %q", sess.Step)
	}
}

func TestQuotaNotificationFailureWarnsUser(t *testing.T) {
	fx := newFixture(t)
	fx.client.failNotify = true

	fx.text(t, "/quota")
	fx.press(t, "quota.famiglia", "pick:0")
	fx.text(t, "10")
	fx.text(t, "01-2026")
	fx.press(t, "quota.categoria", "pick:0")
	res := fx.text(t, "@luigi")
	if res == nil || !res.Done {
		t.Fatalf("completion = %+v", res)
	}
	if len(fx.repo.records) != 1 {
		t.Fatal("transaction not stored despite notification failure")
	}
	conf := fx.client.lastSent()
	if !strings.Contains(conf, "non è stato possibile inviare la notifica a @luigi") {
		t.Fatalf("confirmation = %q", conf)
	}
	if strings.Contains(conf, "📨 Notifica inviata") {
		t.Fatalf("confirmation claims delivery: %q", conf)
	}
}

func TestQuotaDisabledExporterStaysSilent(t *testing.T) {
	fx := newFixture(t)
	flow := NewFlow(fx.repo, export.Disabled{}, nil)
	text, err := flow.Complete(context.Background(), engine.Event{UserID: 7, Username: "mario"}, &Payload{
		Family: "Famiglia Blu", Amount: 5, Month: 1, Year: 2026,
		Category: "Altro", Contact: "@luigi",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if strings.Contains(text, "⚠️") {
		t.Fatalf("disabled exporter surfaced a warning: %q", text)
	}
}

func TestQuotaExporterFailureWarnsButKeepsRecord(t *testing.T) {
	fx := newFixture(t)
	fx.exporter.err = errors.New("sheet unavailable")
	flow := NewFlow(fx.repo, fx.exporter, nil)
	text, err := flow.Complete(context.Background(), engine.Event{UserID: 7, Username: "mario"}, &Payload{
		Family: "Famiglia Blu", Amount: 5, Month: 1, Year: 2026,
		Category: "Altro", Contact: "@luigi",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(fx.repo.records) != 1 {
		t.Fatal("record missing")
	}
	if !strings.Contains(text, "non sincronizzata") {
		t.Fatalf("confirmation = %q", text)
	}
}

func TestCancelDropsActiveFlow(t *testing.T) {
	fx := newFixture(t)
	fx.text(t, "/quota")
	sess, _ := fx.store.Load(context.Background(), 7, 42, string(KindQuota))
	sessionID := sess.ID

	res := fx.text(t, "/annulla")
	if res == nil || !res.Done || res.Message != "❌ Operazione annullata." {
		t.Fatalf("cancel = %+v", res)
	}
	if _, err := fx.store.LoadAny(context.Background(), 7, 42); err != session.ErrNotFound {
		t.Fatalf("session survived cancel: %v", err)
	}
	msgs, _ := fx.messages.List(context.Background(), sessionID)
	if len(msgs) != 0 {
		t.Fatalf("tracked messages survived cancel: %d", len(msgs))
	}
}

func TestCancelWithoutSession(t *testing.T) {
	fx := newFixture(t)
	res := fx.text(t, "/annulla")
	if res == nil || res.Message != "Nessuna operazione in corso." {
		t.Fatalf("cancel = %+v", res)
	}
}

func TestHelpListsCommands(t *testing.T) {
	fx := newFixture(t)
	res := fx.text(t, "/help")
	if res == nil || !res.Done {
		t.Fatalf("help = %+v", res)
	}
	got := fx.client.lastSent()
	for _, want := range []string{"/quota", "/annulla", "/help"} {
		if !strings.Contains(got, want) {
			t.Fatalf("help text missing %q: %q", want, got)
		}
	}
}

func TestFamilyKeyboardPagination(t *testing.T) {
	fx := newFixture(t)
	fx.text(t, "/quota")

	// Second page of the family keyboard, then a pick from it.
	res := fx.press(t, "quota.famiglia", "page:1")
	if res == nil || res.Step != StepFamiglia {
		t.Fatalf("page turn = %+v", res)
	}
	res = fx.press(t, "quota.famiglia", "pick:4")
	if res == nil || res.Step != StepImporto {
		t.Fatalf("pick from page 2 = %+v", res)
	}
	sess, _ := fx.store.Load(context.Background(), 7, 42, string(KindQuota))
	p, _ := NewFlow(fx.repo, fx.exporter, nil).DecodePayload(sess.Data)
	if got := p.(*Payload).Family; got != "Famiglia Blu" {
		t.Fatalf("family = %q", got)
	}
}
