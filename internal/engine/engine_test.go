package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"quotabot/internal/session"
	"quotabot/internal/tracker"
	"quotabot/internal/transport"
)

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeClient struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	edits   []int
	deleted []int
	acks    []string

	failDelete bool
	failSend   bool
}

func newFakeClient() *fakeClient { return &fakeClient{nextID: 100} }

func (f *fakeClient) Send(_ context.Context, chatID int64, text string, _ *transport.Options) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return 0, errors.New("send refused")
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return f.nextID, nil
}

func (f *fakeClient) Edit(_ context.Context, _ int64, messageID int, _ string, _ *transport.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, messageID)
	return nil
}

func (f *fakeClient) Delete(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errors.New("message to delete not found")
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeClient) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, text)
	return nil
}

func (f *fakeClient) SendUsername(_ context.Context, _ string, _ string) (int, error) {
	return 0, nil
}

func (f *fakeClient) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeClient) lastID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID
}

// spesaPayload is the test flow payload: an amount plus a free-form note.
type spesaPayload struct {
	Importo float64 `json:"importo"`
	Nota    string  `json:"nota"`
}

func (p *spesaPayload) Apply(stepID string, value any) error {
	switch stepID {
	case "importo":
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("importo: unexpected value type %T", value)
		}
		p.Importo = v
	case "nota":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("nota: unexpected value type %T", value)
		}
		p.Nota = v
	default:
		return fmt.Errorf("unknown step %q", stepID)
	}
	return nil
}

func (p *spesaPayload) Summary() []string {
	var out []string
	if p.Importo != 0 {
		out = append(out, fmt.Sprintf("Importo: %.2f", p.Importo))
	}
	if p.Nota != "" {
		out = append(out, "Nota: "+p.Nota)
	}
	return out
}

func (p *spesaPayload) Encode() ([]byte, error) { return json.Marshal(p) }

type textStep struct {
	id       string
	prompt   string
	validate func(string) StepResult
}

func (s textStep) ID() string              { return s.id }
func (s textStep) Prompt(StepContext) View { return View{Text: s.prompt} }

func (s textStep) Validate(raw string) StepResult {
	return s.validate(raw)
}
func (s textStep) ErrorPrompt(_ StepContext, errMsg string) View {
	return View{Text: errMsg + "\n" + s.prompt}
}

type spesaFlow struct {
	completeErr error
	completed   []spesaPayload
}

func (f *spesaFlow) Kind() Kind { return "spesa" }

func (f *spesaFlow) Steps() []Step {
	return []Step{
		textStep{id: "importo", prompt: "Inserisci l'importo:", validate: func(raw string) StepResult {
			v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
			if err != nil || v <= 0 {
				return Reject("⚠️ Importo non valido.")
			}
			return Accept(v)
		}},
		textStep{id: "nota", prompt: "Aggiungi una nota:", validate: func(raw string) StepResult {
			if strings.TrimSpace(raw) == "" {
				return Reject("⚠️ La nota non può essere vuota.")
			}
			return Accept(strings.TrimSpace(raw))
		}},
	}
}

func (f *spesaFlow) NewPayload() Payload { return &spesaPayload{} }

func (f *spesaFlow) DecodePayload(raw []byte) (Payload, error) {
	var p spesaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (f *spesaFlow) Complete(_ context.Context, _ Event, p Payload) (string, error) {
	if f.completeErr != nil {
		return "", f.completeErr
	}
	f.completed = append(f.completed, *p.(*spesaPayload))
	return "✅ Spesa registrata.", nil
}

type harness struct {
	store    *session.MemoryStore
	messages *tracker.MemoryTracker
	client   *fakeClient
	flow     *spesaFlow
	registry *Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    session.NewMemoryStore(),
		messages: tracker.NewMemoryTracker(),
		client:   newFakeClient(),
		flow:     &spesaFlow{},
	}
	h.registry = NewRegistry(h.store)
	cmd := NewBase(h.flow, Deps{
		Sessions: h.store,
		Messages: h.messages,
		Client:   h.client,
	})
	if err := h.registry.Register(cmd); err != nil {
		t.Fatalf("register: %v", err)
	}
	return h
}

func (h *harness) message(t *testing.T, text string, replyTo int) *Result {
	t.Helper()
	res, err := h.registry.RouteMessage(context.Background(), Event{
		UserID: 7, ChatID: 42, Username: "mario", MessageID: h.client.lastID() + 1000,
		Text: text, ReplyTo: replyTo,
	})
	if err != nil {
		t.Fatalf("route %q: %v", text, err)
	}
	return res
}

func TestRegistryRejectsDuplicateKind(t *testing.T) {
	h := newHarness(t)
	err := h.registry.Register(NewBase(&spesaFlow{}, Deps{
		Sessions: h.store, Messages: h.messages, Client: h.client,
	}))
	if err == nil {
		t.Fatal("duplicate registration accepted")
	}
}

func TestStartCreatesSessionAtFirstStep(t *testing.T) {
	h := newHarness(t)

	res := h.message(t, "/spesa", 0)
	if res == nil || res.Step != "importo" {
		t.Fatalf("start result = %+v, want step importo", res)
	}
	sess, err := h.store.Load(context.Background(), 7, 42, "spesa")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.Step != "importo" {
		t.Fatalf("session step = %q, want importo", sess.Step)
	}
	if sess.LastMessageID == 0 {
		t.Fatal("prompt message id not recorded on session")
	}
	if got := h.client.lastSent().Text; got != "Inserisci l'importo:" {
		t.Fatalf("prompt = %q", got)
	}
}

func TestBotMentionStartsCommand(t *testing.T) {
	h := newHarness(t)
	if res := h.message(t, "/spesa@quotabot extra", 0); res == nil || res.Step != "importo" {
		t.Fatalf("mention start result = %+v", res)
	}
}

func TestFreeTextRequiresReplyToLastPrompt(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	sess, _ := h.store.Load(context.Background(), 7, 42, "spesa")

	// Unrelated chatter, no reply: ignored.
	if res := h.message(t, "12,50", 0); res != nil {
		t.Fatalf("non-reply routed: %+v", res)
	}
	// Reply to some other message: ignored.
	if res := h.message(t, "12,50", sess.LastMessageID+999); res != nil {
		t.Fatalf("stale reply routed: %+v", res)
	}
	// Reply to the session's own prompt: advances.
	res := h.message(t, "12,50", sess.LastMessageID)
	if res == nil || res.Step != "nota" {
		t.Fatalf("threaded reply result = %+v, want step nota", res)
	}
}

func TestInvalidInputRepromptsWithoutAdvancing(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	sess, _ := h.store.Load(context.Background(), 7, 42, "spesa")

	res := h.message(t, "-5", sess.LastMessageID)
	if res == nil || !res.Rejected {
		t.Fatalf("invalid input result = %+v, want rejected", res)
	}
	after, _ := h.store.Load(context.Background(), 7, 42, "spesa")
	if after.Step != "importo" {
		t.Fatalf("step after invalid input = %q, want importo", after.Step)
	}
	got := h.client.lastSent().Text
	if !strings.Contains(got, "Importo non valido") || !strings.Contains(got, "Inserisci l'importo:") {
		t.Fatalf("error prompt = %q, want error plus re-prompt", got)
	}
}

func TestCompletionLeavesOnlyConfirmation(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	sess, _ := h.store.Load(context.Background(), 7, 42, "spesa")
	sessionID := sess.ID

	h.message(t, "12,50", sess.LastMessageID)
	sess, _ = h.store.Load(context.Background(), 7, 42, "spesa")
	res := h.message(t, "pranzo", sess.LastMessageID)
	if res == nil || !res.Done {
		t.Fatalf("final input result = %+v, want done", res)
	}

	if len(h.flow.completed) != 1 {
		t.Fatalf("completed payloads = %d, want 1", len(h.flow.completed))
	}
	if p := h.flow.completed[0]; p.Importo != 12.5 || p.Nota != "pranzo" {
		t.Fatalf("completed payload = %+v", p)
	}
	if _, err := h.store.Load(context.Background(), 7, 42, "spesa"); err != session.ErrNotFound {
		t.Fatalf("session after completion: err = %v, want ErrNotFound", err)
	}
	msgs, _ := h.messages.List(context.Background(), sessionID)
	if len(msgs) != 1 || !msgs[0].IsLast {
		t.Fatalf("tracked after completion = %+v, want single is_last row", msgs)
	}
	if got := h.client.lastSent().Text; got != "✅ Spesa registrata." {
		t.Fatalf("confirmation = %q", got)
	}
}

func TestCompletionCleanupSurvivesDeleteFailures(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	sess, _ := h.store.Load(context.Background(), 7, 42, "spesa")
	sessionID := sess.ID

	h.client.failDelete = true
	h.message(t, "9", sess.LastMessageID)
	sess, _ = h.store.Load(context.Background(), 7, 42, "spesa")
	res := h.message(t, "cena", sess.LastMessageID)
	if res == nil || !res.Done {
		t.Fatalf("result = %+v, want done despite delete failures", res)
	}
	// Tracking rows are consumed even when the transport refuses deletion.
	msgs, _ := h.messages.List(context.Background(), sessionID)
	if len(msgs) != 1 {
		t.Fatalf("tracked after failed cleanup = %d rows, want 1", len(msgs))
	}
}

func TestCompletionErrorKeepsSessionForRetry(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	sess, _ := h.store.Load(context.Background(), 7, 42, "spesa")
	h.message(t, "9", sess.LastMessageID)

	h.flow.completeErr = errors.New("insert failed")
	sess, _ = h.store.Load(context.Background(), 7, 42, "spesa")
	res := h.message(t, "cena", sess.LastMessageID)
	if res == nil || !res.Rejected {
		t.Fatalf("result = %+v, want rejected", res)
	}
	after, err := h.store.Load(context.Background(), 7, 42, "spesa")
	if err != nil {
		t.Fatalf("session gone after completion failure: %v", err)
	}
	if after.Step != "nota" {
		t.Fatalf("step = %q, want nota preserved for retry", after.Step)
	}

	// Retry with the storage healthy again.
	h.flow.completeErr = nil
	res = h.message(t, "cena", after.LastMessageID)
	if res == nil || !res.Done {
		t.Fatalf("retry result = %+v, want done", res)
	}
}

func TestRestartDiscardsPreviousSession(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	first, _ := h.store.Load(context.Background(), 7, 42, "spesa")

	h.message(t, "/spesa", 0)
	second, _ := h.store.Load(context.Background(), 7, 42, "spesa")
	if second.ID == first.ID {
		t.Fatal("restart reused the old session row")
	}
	msgs, _ := h.messages.List(context.Background(), first.ID)
	if len(msgs) != 0 {
		t.Fatalf("old session still tracks %d messages", len(msgs))
	}
}

func TestCorruptStepDropsSession(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	sess, _ := h.store.Load(context.Background(), 7, 42, "spesa")
	sess.Step = "bogus"
	if err := h.store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := h.registry.RouteMessage(context.Background(), Event{
		UserID: 7, ChatID: 42, MessageID: 9000, Text: "12", ReplyTo: sess.LastMessageID,
	})
	if !errors.Is(err, ErrCorruptSession) {
		t.Fatalf("err = %v, want ErrCorruptSession", err)
	}
	if _, err := h.store.Load(context.Background(), 7, 42, "spesa"); err != session.ErrNotFound {
		t.Fatalf("corrupt session not dropped: err = %v", err)
	}
}

func TestCallbackWithoutSessionIsIgnored(t *testing.T) {
	h := newHarness(t)
	res, err := h.registry.RouteCallback(context.Background(), Event{
		UserID: 7, ChatID: 42,
		Callback: &CallbackEvent{ID: "cb1", Namespace: "spesa.importo", Data: "pick:0"},
	})
	if err != nil || res != nil {
		t.Fatalf("orphan callback: res=%+v err=%v", res, err)
	}
}

func TestCallbackNamespaceOutsideCommandIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.message(t, "/spesa", 0)
	res, err := h.registry.RouteCallback(context.Background(), Event{
		UserID: 7, ChatID: 42,
		Callback: &CallbackEvent{ID: "cb1", Namespace: "quota.categoria", Data: "pick:0"},
	})
	if err != nil || res != nil {
		t.Fatalf("foreign namespace callback: res=%+v err=%v", res, err)
	}
}

func TestIsStartCommand(t *testing.T) {
	cases := []struct {
		text string
		kind Kind
		want bool
	}{
		{"/quota", "quota", true},
		{"/quota@quotabot", "quota", true},
		{"/quota 12", "quota", true},
		{"  /quota  ", "quota", true},
		{"/quotazione", "quota", false},
		{"quota", "quota", false},
		{"/annulla", "quota", false},
		{"", "quota", false},
	}
	for _, tc := range cases {
		if got := IsStartCommand(tc.text, tc.kind); got != tc.want {
			t.Errorf("IsStartCommand(%q, %q) = %v, want %v", tc.text, tc.kind, got, tc.want)
		}
	}
}
