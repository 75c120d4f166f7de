package reflection

import (
	"testing"

	"github.com/BTreeMap/HealBot/internal/models"
)

func TestParseTriage(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		want   models.Classification
		text   string
		parsed bool
	}{
		{"ok", "[STATUS:OK] You sound grounded.", models.ClassificationOK, "You sound grounded.", true},
		{"not ok", "[STATUS:NOT_OK]\nThat sounds really hard.", models.ClassificationNotOK, "That sounds really hard.", true},
		{"mixed", "[STATUS:MIXED] Some calm, some fog.", models.ClassificationMixed, "Some calm, some fog.", true},
		{"lower case and spaces", "  [ status : ok ]  Nice.", models.ClassificationOK, "Nice.", true},
		{"markdown emphasis", "**[STATUS:NOT_OK]** Please take care.", models.ClassificationNotOK, "Please take care.", true},
		{"not ok with space", "[STATUS:NOT OK] Hard day.", models.ClassificationNotOK, "Hard day.", true},
		{"missing marker", "You sound fine to me.", models.ClassificationMixed, "You sound fine to me.", false},
		{"unknown marker", "[STATUS:GREAT] Wonderful.", models.ClassificationMixed, "[STATUS:GREAT] Wonderful.", false},
		{"marker not leading", "I think [STATUS:OK] fits.", models.ClassificationMixed, "I think [STATUS:OK] fits.", false},
		{"marker only", "[STATUS:OK]", models.ClassificationOK, "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ParseTriage(c.raw)
			if got.Classification != c.want || got.Text != c.text || got.Parsed != c.parsed {
				t.Fatalf("ParseTriage(%q) = %+v, want {%s %q %v}", c.raw, got, c.want, c.text, c.parsed)
			}
		})
	}
}
