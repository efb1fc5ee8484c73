package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger defines the logging interface used across the pipeline.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...interface{})
	Info(ctx context.Context, msg string, args ...interface{})
	Warn(ctx context.Context, msg string, args ...interface{})
	Error(ctx context.Context, msg string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

type implLogger struct {
	entry *logrus.Entry
}

// New creates a Logger at the given level. Format "json" forces JSON output;
// otherwise text is used locally and JSON when ENVIRONMENT is set.
func New(level, format string) Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)

	env := os.Getenv("ENVIRONMENT")
	if format == "json" || (format != "text" && env != "" && env != "local") {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}

	switch strings.ToLower(level) {
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}

	return &implLogger{entry: logrus.NewEntry(base)}
}

func (l *implLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}

func (l *implLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

func (l *implLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.entry.Warnf(msg, args...)
}

func (l *implLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

func (l *implLogger) WithField(key string, value interface{}) Logger {
	return &implLogger{entry: l.entry.WithField(key, value)}
}
