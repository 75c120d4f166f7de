package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("HEAL_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("HEAL_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		val  string
		want int
	}{
		{"", 7},
		{"42", 42},
		{" 12 ", 12},
		{"-3", -3},
		{"ten", 7},
	}
	for _, tt := range tests {
		t.Setenv("HEAL_TEST_INT", tt.val)
		if got := ParseIntEnv("HEAL_TEST_INT", 7); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.val, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	def := time.Hour
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", def},
		{"3600", time.Hour},
		{"90s", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"-5s", def},
		{"soon", def},
	}
	for _, tt := range tests {
		t.Setenv("HEAL_TEST_DURATION", tt.val)
		if got := ParseDurationEnv("HEAL_TEST_DURATION", def); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestParseListEnv(t *testing.T) {
	def := []string{"concise"}

	t.Setenv("HEAL_TEST_LIST", "")
	if got := ParseListEnv("HEAL_TEST_LIST", def); len(got) != 1 || got[0] != "concise" {
		t.Errorf("empty value should return default, got %v", got)
	}

	t.Setenv("HEAL_TEST_LIST", " warm_supportive, ,emojis_ok ,")
	got := ParseListEnv("HEAL_TEST_LIST", def)
	if len(got) != 2 || got[0] != "warm_supportive" || got[1] != "emojis_ok" {
		t.Errorf("ParseListEnv = %v, want [warm_supportive emojis_ok]", got)
	}

	t.Setenv("HEAL_TEST_LIST", " , ")
	if got := ParseListEnv("HEAL_TEST_LIST", def); len(got) != 1 {
		t.Errorf("blank entries should return default, got %v", got)
	}
}
