package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Info, warnings and errors are always written. Only LogLevelDebug adds
// debug output; warn and error stay valid configuration values.
const (
	LogLevelInfo  = 0
	LogLevelWarn  = 1
	LogLevelError = 2
	LogLevelDebug = 3
)

var output io.Writer = os.Stdout

// SetOutput redirects every logger created afterwards. Used by tests and main.
func SetOutput(w io.Writer) {
	output = w
}

type logger struct {
	prefix string
	inner  *slog.Logger
	writer io.Writer
	level  int
}

func GetLogger(prefix string, level int) Logger {
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{Level: slog.LevelDebug})

	return &logger{
		prefix: prefix,
		inner:  slog.New(handler).With(slog.String("component", strings.Trim(prefix, "[]"))),
		writer: output,
		level:  level,
	}
}

func (l *logger) Info(message string, v ...interface{}) {
	l.log(slog.LevelInfo, message, v...)
}

func (l *logger) Warn(message string, v ...interface{}) {
	l.log(slog.LevelWarn, message, v...)
}

func (l *logger) Error(message string, v ...interface{}) {
	l.log(slog.LevelError, message, v...)
}

func (l *logger) Debug(message string, v ...interface{}) {
	if l.level < LogLevelDebug {
		return
	}

	l.log(slog.LevelDebug, message, v...)
}

func (l *logger) log(level slog.Level, message string, v ...interface{}) {
	l.inner.Log(context.Background(), level, strings.TrimRight(fmt.Sprintf(message, v...), "\n"))
}

func (l *logger) GetWriter() io.Writer {
	return l.writer
}
