package logger

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoggerInit(t *testing.T) {
	err := Init()
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	// zap returns an error syncing a terminal stdout on some platforms.
	defer func() { _ = Sync() }()

	logger := Get()
	if logger == nil {
		t.Fatal("logger is nil after initialization")
	}

	// Re-initialising replaces the global logger.
	err = Init()
	if err != nil {
		t.Fatalf("failed to re-initialize logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after re-initialization")
	}
}

func TestLoggerBasic(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = Sync() }()

	ctx := WithRunID(context.Background(), "run-1")
	logger := Get()
	logger.Info(ctx, "test message", String("k", "v"), Float64("slope", 1.5), Int("n", 3))
	logger.Debug(ctx, "debug message")
	logger.Warn(ctx, "warn message", Any("params", []float64{1, 2}))
}

func TestLoggerNamed(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = Sync() }()

	namedLogger := Named("test")
	if namedLogger == nil {
		t.Fatal("named logger is nil")
	}
	namedLogger.Info(context.Background(), "test message")
}

func TestRunID(t *testing.T) {
	if _, ok := RunID(context.Background()); ok {
		t.Fatal("expected no run id on a bare context")
	}
	ctx := WithRunID(context.Background(), "abc")
	id, ok := RunID(ctx)
	if !ok || id != "abc" {
		t.Fatalf("RunID = %q, %v; want abc, true", id, ok)
	}
}

func TestSetLevelString(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"":        zapcore.InfoLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		if err := SetLevelString(in); err != nil {
			t.Fatalf("SetLevelString(%q): %v", in, err)
		}
		if got := level.Level(); got != want {
			t.Errorf("SetLevelString(%q) level = %v, want %v", in, got, want)
		}
	}
	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
	SetLevel(zapcore.InfoLevel)
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error(context.Background(), "discarded", Error(nil))
	if l.Named("x") == nil {
		t.Fatal("named nop logger is nil")
	}
}
