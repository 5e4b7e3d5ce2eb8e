package env

import (
	"log/slog"
	"testing"
	"time"
)

func TestGet(t *testing.T) {
	t.Setenv("DCA_TEST_VALUE", "hello")
	if got := Get("DCA_TEST_VALUE", "x"); got != "hello" {
		t.Errorf("Get() = %q, want hello", got)
	}
	if got := Get("DCA_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("Get() = %q, want fallback", got)
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("DCA_TEST_INT", "12")
	t.Setenv("DCA_TEST_BAD_INT", "twelve")
	t.Setenv("DCA_TEST_DURATION", "90s")
	t.Setenv("DCA_TEST_BOOL", "true")

	if got := GetInt("DCA_TEST_INT", 1); got != 12 {
		t.Errorf("GetInt() = %d, want 12", got)
	}
	if got := GetInt("DCA_TEST_BAD_INT", 1); got != 1 {
		t.Errorf("GetInt() malformed = %d, want 1", got)
	}
	if got := GetDuration("DCA_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("GetDuration() = %s, want 90s", got)
	}
	if got := GetBool("DCA_TEST_BOOL", false); !got {
		t.Error("GetBool() = false, want true")
	}
	if got := GetBool("DCA_TEST_MISSING", true); !got {
		t.Error("GetBool() default = false, want true")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Setenv("LOG_LEVEL", tt.raw)
		if got := ParseLogLevel(slog.LevelInfo); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
