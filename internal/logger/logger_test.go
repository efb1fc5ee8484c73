package logger

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "text"},
		{"info level", "info", "text"},
		{"warn level", "warn", "json"},
		{"error level", "error", "text"},
		{"invalid level", "invalid", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New(tt.level, tt.format)
			if log == nil {
				t.Error("New() returned nil")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	ctx := context.Background()
	log := New("info", "text")

	// These should not panic
	log.Debug(ctx, "debug message")
	log.Info(ctx, "info message")
	log.Warn(ctx, "warn message")
	log.Error(ctx, "error message")
	log.Info(ctx, "formatted %s %d", "message", 42)
}

func TestWithField(t *testing.T) {
	ctx := context.Background()
	log := New("debug", "text").WithField("stage", "transcription")
	if log == nil {
		t.Fatal("WithField() returned nil")
	}
	log.Info(ctx, "message with field")
}
