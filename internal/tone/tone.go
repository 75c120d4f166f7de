// Package tone provides a fixed whitelist of tone tags, validation,
// mutual-exclusion enforcement, and prompt-guide construction for the
// reflection prompts.
package tone

import (
	"sort"
	"strings"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of safe tone tags.
var AllTags = map[string]bool{
	// Style
	"concise":   true,
	"detailed":  true,
	"formal":    true,
	"casual":    true,
	"no_emojis": true,
	"emojis_ok": true,
	// Stance
	"warm_supportive":      true,
	"neutral_professional": true,
	"gentle_coach":         true,
	"direct_coach":         true,
}

// DefaultTags is used when no tags are configured.
var DefaultTags = []string{"warm_supportive", "concise", "emojis_ok"}

// DefaultLanguage is the reply language when none is configured.
const DefaultLanguage = "English"

// mutuallyExclusivePairs defines tags where at most one may be active.
var mutuallyExclusivePairs = [][2]string{
	{"concise", "detailed"},
	{"formal", "casual"},
	{"direct_coach", "gentle_coach"},
	{"no_emojis", "emojis_ok"},
}

// ---- Public API ----

// ParseTags reads a comma separated tag list. Unknown tags are returned in
// rejected. When two mutually exclusive tags are both given, the first wins.
// An empty input yields DefaultTags.
func ParseTags(raw string) (tags []string, rejected []string) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), DefaultTags...), nil
	}
	return Validate(strings.Split(raw, ","))
}

// Validate filters tags against the whitelist, deduplicates them and enforces
// mutual exclusion in input order.
func Validate(in []string) (tags []string, rejected []string) {
	seen := map[string]bool{}
	for _, t := range in {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" || seen[t] {
			continue
		}
		if !AllTags[t] {
			rejected = append(rejected, t)
			continue
		}
		if conflictsWith(t, seen) {
			rejected = append(rejected, t)
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags, rejected
}

func conflictsWith(tag string, active map[string]bool) bool {
	for _, pair := range mutuallyExclusivePairs {
		if pair[0] == tag && active[pair[1]] {
			return true
		}
		if pair[1] == tag && active[pair[0]] {
			return true
		}
	}
	return false
}

// BuildToneGuide produces the fixed tone instruction injected into every
// system prompt: warm, non-clinical, short, in the target language, plus the
// rules implied by the active tags.
func BuildToneGuide(tags []string, language string) string {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}

	var b strings.Builder
	b.WriteString("\n<TONE POLICY>\n")
	b.WriteString("- This is a self-help practice, NOT therapy. Do not diagnose and do not use clinical terms.\n")
	b.WriteString("- Reply in " + language + ".\n")

	// Style rules.
	if set["detailed"] {
		b.WriteString("- Be detailed: up to 4-5 sentences, but avoid rambling.\n")
	} else {
		b.WriteString("- Be concise: at most 2-3 short sentences.\n")
	}
	if set["formal"] {
		b.WriteString("- Use formal diction and professional register.\n")
	}
	if set["casual"] {
		b.WriteString("- Use casual, friendly language.\n")
	}
	if set["no_emojis"] {
		b.WriteString("- Do NOT use emojis.\n")
	} else if set["emojis_ok"] {
		b.WriteString("- An emoji is welcome where it feels natural.\n")
	}

	// Stance rules.
	hasStance := false
	if set["warm_supportive"] {
		b.WriteString("- Adopt a warm, supportive stance. Encourage the user.\n")
		hasStance = true
	}
	if set["neutral_professional"] {
		b.WriteString("- Keep a neutral, professional stance.\n")
		hasStance = true
	}
	if set["direct_coach"] {
		b.WriteString("- Be a direct coach: clear, practical observations.\n")
		hasStance = true
	}
	if set["gentle_coach"] {
		b.WriteString("- Be a gentle coach: patient, encouraging guidance.\n")
		hasStance = true
	}
	if !hasStance {
		b.WriteString("- Adopt a warm, supportive stance.\n")
	}

	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</TONE POLICY>\n")

	return b.String()
}

// Sorted returns a sorted copy of tags, for stable logging.
func Sorted(tags []string) []string {
	out := append([]string(nil), tags...)
	sort.Strings(out)
	return out
}
