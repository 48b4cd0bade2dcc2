package logging

import (
	"go.uber.org/zap/zapcore"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"warn":    zapcore.WarnLevel,
		"":        zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.WarnLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_DefaultsToStderr(t *testing.T) {
	logger, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}
