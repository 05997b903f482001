package logging

import (
	"log/slog"
	"testing"
)

func TestNew_JSONFormatIsCaseInsensitive(t *testing.T) {
	log := New("JSON", "info")
	if log == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestNew_UnknownFormatFallsBackToText(t *testing.T) {
	log := New("yaml", "info")
	if log == nil {
		t.Fatal("expected a non-nil logger for an unrecognised format")
	}
}

func TestComponent_TagsLoggerWithComponentName(t *testing.T) {
	base := New("text", "info")
	child := Component(base, "conductor")
	if child == nil {
		t.Fatal("expected a non-nil component logger")
	}
	if child == base {
		t.Error("expected Component to return a distinct child logger")
	}
}

func TestParseLevel_RecognisesAllFourLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
