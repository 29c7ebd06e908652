package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZapLoggerWritesObjectField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := New(zap.New(core))

	log.WarnObj("image too large", "media", map[string]any{"url": "https://x/y.png"})

	entries := logs.FilterMessage("image too large").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %v", entries[0].Level)
	}
	if _, ok := entries[0].ContextMap()["media"]; !ok {
		t.Fatalf("expected media field, got %v", entries[0].ContextMap())
	}
}

func TestNilLoggersAreSafe(t *testing.T) {
	var z *ZapLogger
	z.InfoObj("ignored", "k", 1)

	OrNop(nil).ErrorObj("ignored", "k", 1)
	InfoObj("no global logger yet", "k", 1)
}
