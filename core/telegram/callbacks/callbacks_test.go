package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		unique  string
		payload string
	}{
		{"form feed prefix", "\fquota.famiglia|pick:2", "quota.famiglia", "pick:2"},
		{"escaped prefix", "\\fquota.famiglia|page:1", "quota.famiglia", "page:1"},
		{"no payload", "\fquota.categoria", "quota.categoria", ""},
		{"empty payload", "\fquota.categoria|", "quota.categoria", ""},
		{"bare data", "quota.famiglia|pick:0", "quota.famiglia", "pick:0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unique, payload := Parse(&tele.Callback{Data: tc.data})
			if unique != tc.unique || payload != tc.payload {
				t.Fatalf("Parse(%q) = (%q, %q), want (%q, %q)",
					tc.data, unique, payload, tc.unique, tc.payload)
			}
		})
	}
}

func TestParseNil(t *testing.T) {
	if unique, payload := Parse(nil); unique != "" || payload != "" {
		t.Fatalf("Parse(nil) = (%q, %q)", unique, payload)
	}
}
