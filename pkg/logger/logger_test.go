package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DebugLevel,
		"WARN":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"info":    InfoLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "TEST", WarnLevel)

	log.Info("hidden %d", 1)
	log.Warn("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Errorf("expected warn line, got %q", out)
	}
}

func TestWithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "TEST", InfoLevel)
	child := log.With("call", "abc")

	log.SetLevel(ErrorLevel)
	child.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("child should follow parent level, got %q", buf.String())
	}

	child.Error("kept")
	if !strings.Contains(buf.String(), "call=abc") {
		t.Errorf("expected field on child output, got %q", buf.String())
	}
}
