// Package quota implements the /quota registration flow: a guided
// conversation collecting family, amount, period, category and contact,
// ending in a stored transaction plus a best-effort notification.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"quotabot/core/logger"
	"quotabot/internal/engine"
	"quotabot/internal/export"
	"quotabot/internal/steps"
	"quotabot/internal/transaction"

	"log/slog"
)

// KindQuota starts the flow via /quota.
const KindQuota engine.Kind = "quota"

// Step identifiers, persisted in session rows.
const (
	StepFamiglia  = "famiglia"
	StepImporto   = "importo"
	StepPeriodo   = "periodo"
	StepCategoria = "categoria"
	StepContatto  = "contatto"
)

// Families lists the selectable family groups.
var Families = []string{
	"Famiglia Rossi",
	"Famiglia Bianchi",
	"Famiglia Verdi",
	"Famiglia Neri",
	"Famiglia Blu",
}

// Categories lists the selectable payment categories.
var Categories = []string{
	"Quota Mensile",
	"Quota Iscrizione",
	"Altro",
}

const familiesPerPage = 3

// Payload is the typed accumulator of the flow's collected fields.
type Payload struct {
	Family   string  `json:"family,omitempty"`
	Amount   float64 `json:"amount,omitempty"`
	Month    int     `json:"month,omitempty"`
	Year     int     `json:"year,omitempty"`
	Category string  `json:"category,omitempty"`
	Contact  string  `json:"contact,omitempty"`
}

// Apply stores a validated step value.
func (p *Payload) Apply(stepID string, value any) error {
	switch stepID {
	case StepFamiglia:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("famiglia: unexpected value type %T", value)
		}
		p.Family = v
	case StepImporto:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("importo: unexpected value type %T", value)
		}
		p.Amount = v
	case StepPeriodo:
		v, ok := value.(steps.Period)
		if !ok {
			return fmt.Errorf("periodo: unexpected value type %T", value)
		}
		p.Month, p.Year = v.Month, v.Year
	case StepCategoria:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("categoria: unexpected value type %T", value)
		}
		p.Category = v
	case StepContatto:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("contatto: unexpected value type %T", value)
		}
		p.Contact = v
	default:
		return fmt.Errorf("unknown step %q", stepID)
	}
	return nil
}

// Summary renders the collected fields as the recap lines every prompt
// carries.
func (p *Payload) Summary() []string {
	var out []string
	if p.Family != "" {
		out = append(out, "👨‍👩‍👧‍👦 Famiglia: "+p.Family)
	}
	if p.Amount > 0 {
		out = append(out, fmt.Sprintf("💰 Importo: €%.2f", p.Amount))
	}
	if p.Month != 0 {
		out = append(out, fmt.Sprintf("📅 Periodo: %02d-%04d", p.Month, p.Year))
	}
	if p.Category != "" {
		out = append(out, "📂 Categoria: "+p.Category)
	}
	if p.Contact != "" {
		out = append(out, "👤 Contatto: "+p.Contact)
	}
	return out
}

func (p *Payload) Encode() ([]byte, error) { return json.Marshal(p) }

// Flow is the /quota registration flow.
type Flow struct {
	txs      transaction.Repository
	exporter export.Exporter
	notifier *Notifier
	steps    []engine.Step
}

// NewFlow assembles the flow. The exporter may be export.Disabled; the
// notifier may be nil to skip contact notifications entirely.
func NewFlow(txs transaction.Repository, exporter export.Exporter, notifier *Notifier) *Flow {
	if exporter == nil {
		exporter = export.Disabled{}
	}
	f := &Flow{txs: txs, exporter: exporter, notifier: notifier}
	f.steps = []engine.Step{
		steps.NewChoice(steps.ChoiceConfig{
			ID:        StepFamiglia,
			Prompt:    "💰 Registrazione Transazione\n\nSeleziona la famiglia (o scrivi il nome):",
			Namespace: string(KindQuota) + "." + StepFamiglia,
			Options:   familyOptions(),
			PerPage:   familiesPerPage,
			FreeText: func(raw string) engine.StepResult {
				v := strings.TrimSpace(raw)
				if v == "" {
					return engine.Reject("⚠️ Nome famiglia non valido.")
				}
				return engine.Accept(v)
			},
		}),
		steps.NewAmount(StepImporto,
			"💰 Inserisci l'importo in Euro (es. 25,50):",
			"❌ Formato non valido. Inserisci un importo numerico positivo (es. 25,50)."),
		steps.NewPeriod(StepPeriodo,
			"📅 Inserisci il periodo (formato MM-AAAA, es. 03-2026):",
			"❌ Formato periodo non valido. Usa il formato MM-AAAA (es. 03-2026)."),
		steps.NewChoice(steps.ChoiceConfig{
			ID:        StepCategoria,
			Prompt:    "📂 Seleziona la categoria:",
			Namespace: string(KindQuota) + "." + StepCategoria,
			Options:   categoryOptions(),
		}),
		steps.NewContact(StepContatto,
			"👤 Inserisci lo username del contatto da avvisare (es. @username):",
			"❌ Username non valido (es. @username)."),
	}
	return f
}

func familyOptions() []steps.Option {
	out := make([]steps.Option, len(Families))
	for i, f := range Families {
		out[i] = steps.Option{Label: f, Value: f}
	}
	return out
}

func categoryOptions() []steps.Option {
	out := make([]steps.Option, len(Categories))
	for i, c := range Categories {
		out[i] = steps.Option{Label: c, Value: c}
	}
	return out
}

func (f *Flow) Kind() engine.Kind          { return KindQuota }
func (f *Flow) Steps() []engine.Step       { return f.steps }
func (f *Flow) NewPayload() engine.Payload { return &Payload{} }

func (f *Flow) DecodePayload(raw []byte) (engine.Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("quota payload: %w", err)
	}
	return &p, nil
}

// Complete writes the transaction and fires the secondary effects: sheet
// export and contact notification. The database write is the one step
// whose failure aborts completion; the rest degrades to warnings.
func (f *Flow) Complete(ctx context.Context, ev engine.Event, payload engine.Payload) (string, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return "", fmt.Errorf("quota: unexpected payload type %T", payload)
	}

	rec := &transaction.Record{
		Family:   p.Family,
		Category: p.Category,
		Amount:   p.Amount,
		Month:    p.Month,
		Year:     p.Year,
		Contact:  p.Contact,
		UserID:   ev.UserID,
		Username: ev.Username,
	}
	if err := f.txs.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("quota complete: %w", err)
	}
	logger.Info(ctx, "quota", "transaction.saved",
		slog.Int64("id", rec.ID),
		slog.String("family", logger.SanitizeLimit(rec.Family, 64)),
		slog.String("category", rec.Category),
	)

	var warnings []string
	if err := f.exporter.Append(ctx, exportRow(rec)); err != nil {
		if err != export.ErrNotConfigured {
			logger.Warn(ctx, "quota", "export.failed", slog.String("err", err.Error()))
			warnings = append(warnings, "⚠️ Transazione salvata ma non sincronizzata con il foglio di calcolo.")
		}
	}

	notified := false
	if f.notifier != nil {
		if err := f.notifier.Notify(ctx, p.Contact, notificationText(rec)); err != nil {
			warnings = append(warnings, fmt.Sprintf(
				"⚠️ Transazione salvata ma non è stato possibile inviare la notifica a %s.\nVerifica che lo username sia corretto.", p.Contact))
		} else {
			notified = true
		}
	}

	var b strings.Builder
	b.WriteString("✅ Transazione registrata con successo!\n\n")
	b.WriteString(strings.Join(p.Summary(), "\n"))
	if notified {
		b.WriteString("\n\n📨 Notifica inviata a " + p.Contact)
	}
	for _, w := range warnings {
		b.WriteString("\n\n" + w)
	}
	return b.String(), nil
}

func exportRow(r *transaction.Record) []string {
	return []string{
		r.Family,
		r.Category,
		fmt.Sprintf("%.2f", r.Amount),
		fmt.Sprintf("%02d-%04d", r.Month, r.Year),
		r.Contact,
		r.Username,
	}
}

func notificationText(r *transaction.Record) string {
	who := r.Username
	if who == "" {
		who = "utente"
	}
	return fmt.Sprintf(
		"🔔 Nuova Transazione Registrata\n\n"+
			"👨‍👩‍👧‍👦 Famiglia: %s\n"+
			"📂 Categoria: %s\n"+
			"💰 Importo: €%.2f\n"+
			"📅 Periodo: %02d-%04d\n"+
			"👤 Registrato da: @%s",
		r.Family, r.Category, r.Amount, r.Month, r.Year, strings.TrimPrefix(who, "@"),
	)
}
