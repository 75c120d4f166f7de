package reflection

import (
	"regexp"
	"strings"

	"github.com/BTreeMap/HealBot/internal/models"
)

// Status markers the model is instructed to put at the very start of a triage answer.
const (
	MarkerOK    = "[STATUS:OK]"
	MarkerNotOK = "[STATUS:NOT_OK]"
	MarkerMixed = "[STATUS:MIXED]"
)

// TriageResult is the parsed outcome of the H3 triage call.
type TriageResult struct {
	Classification models.Classification
	// Text is the model output with the marker removed.
	Text string
	// Parsed is false when no recognizable marker was found and the
	// classification fell back to MIXED.
	Parsed bool
}

// leading markdown noise (emphasis, quotes, headings) may precede the marker.
var markerPattern = regexp.MustCompile("(?i)^[\\s*_`>#]*\\[\\s*status\\s*:\\s*(not[\\s_-]?ok|ok|mixed)\\s*\\][*_`]*[\\s:.\\-]*")

// ParseTriage extracts the classification marker from the start of raw.
// A missing or unknown marker yields MIXED with Parsed=false, never OK.
func ParseTriage(raw string) TriageResult {
	text := strings.TrimSpace(raw)
	m := markerPattern.FindStringSubmatchIndex(text)
	if m == nil {
		return TriageResult{Classification: models.ClassificationMixed, Text: text, Parsed: false}
	}
	token := strings.ToUpper(text[m[2]:m[3]])
	var c models.Classification
	switch {
	case strings.HasPrefix(token, "NOT"):
		c = models.ClassificationNotOK
	case token == "OK":
		c = models.ClassificationOK
	default:
		c = models.ClassificationMixed
	}
	return TriageResult{
		Classification: c,
		Text:           strings.TrimSpace(text[m[1]:]),
		Parsed:         true,
	}
}
