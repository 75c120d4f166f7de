package tone

import (
	"strings"
	"testing"
)

func TestParseTags_EmptyUsesDefaults(t *testing.T) {
	tags, rejected := ParseTags("  ")
	if len(rejected) != 0 {
		t.Errorf("unexpected rejected tags: %v", rejected)
	}
	if strings.Join(tags, ",") != strings.Join(DefaultTags, ",") {
		t.Errorf("expected defaults %v, got %v", DefaultTags, tags)
	}
}

func TestParseTags_StripsUnknownTags(t *testing.T) {
	tags, rejected := ParseTags("concise, UNKNOWN,formal,  warm_supportive  ,injected_tag")
	for _, tag := range tags {
		if !AllTags[tag] {
			t.Errorf("unexpected tag in cleaned list: %q", tag)
		}
	}
	if len(tags) != 3 {
		t.Errorf("expected 3 tags, got %d: %v", len(tags), tags)
	}
	if len(rejected) != 2 {
		t.Errorf("expected 2 rejected tags, got %v", rejected)
	}
}

func TestValidate_DeduplicatesTags(t *testing.T) {
	tags, _ := Validate([]string{"concise", "CONCISE", " concise "})
	if len(tags) != 1 {
		t.Errorf("expected 1 tag after dedup, got %v", tags)
	}
}

func TestValidate_MutualExclusionFirstWins(t *testing.T) {
	cases := []struct {
		in      []string
		kept    string
		dropped string
	}{
		{[]string{"concise", "detailed"}, "concise", "detailed"},
		{[]string{"casual", "formal"}, "casual", "formal"},
		{[]string{"gentle_coach", "direct_coach"}, "gentle_coach", "direct_coach"},
		{[]string{"no_emojis", "emojis_ok"}, "no_emojis", "emojis_ok"},
	}
	for _, c := range cases {
		tags, rejected := Validate(c.in)
		if len(tags) != 1 || tags[0] != c.kept {
			t.Errorf("Validate(%v) kept %v, want [%s]", c.in, tags, c.kept)
		}
		if len(rejected) != 1 || rejected[0] != c.dropped {
			t.Errorf("Validate(%v) rejected %v, want [%s]", c.in, rejected, c.dropped)
		}
	}
}

func TestBuildToneGuide_BaselineAlwaysPresent(t *testing.T) {
	guide := BuildToneGuide(nil, "")
	for _, want := range []string{"NOT therapy", "Reply in English", "2-3 short sentences", "warm, supportive", "NEVER mirror"} {
		if !strings.Contains(guide, want) {
			t.Errorf("guide missing %q:\n%s", want, guide)
		}
	}
}

func TestBuildToneGuide_ContainsTags(t *testing.T) {
	guide := BuildToneGuide([]string{"detailed", "no_emojis", "neutral_professional"}, "Russian")
	for _, want := range []string{"Reply in Russian", "Be detailed", "Do NOT use emojis", "neutral, professional"} {
		if !strings.Contains(guide, want) {
			t.Errorf("guide missing %q", want)
		}
	}
	if strings.Contains(guide, "Be concise") {
		t.Error("detailed guide should not ask for concision")
	}
}

func TestAllTags_Count(t *testing.T) {
	if len(AllTags) != 10 {
		t.Errorf("expected 10 whitelisted tags, got %d", len(AllTags))
	}
	for _, tag := range DefaultTags {
		if !AllTags[tag] {
			t.Errorf("default tag %q not whitelisted", tag)
		}
	}
}
