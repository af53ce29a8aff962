package logger

import (
	"context"
	"log/slog"
)

// moduleLogger binds the module name as an attribute once, so each call
// only renders its own fields.
type moduleLogger struct {
	name    string
	handler slog.Handler // without the module attribute, for child modules
	logger  *slog.Logger
	level   slog.Level
}

func newModuleLogger(name string, h slog.Handler, level slog.Level) *moduleLogger {
	l := slog.New(h)
	if name != "" {
		l = l.With(slog.String("module", name))
	}
	return &moduleLogger{name: name, handler: h, logger: l, level: level}
}

func (m *moduleLogger) Module(name string) Logger {
	if m.name != "" {
		name = m.name + "." + name
	}
	return newModuleLogger(name, m.handler, m.level)
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(levelTrace, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.log(parseLogLevel(string(level)), msg, fields)
}

// With binds fields to every later record. Child modules do not inherit them.
func (m *moduleLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return m
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f.attr()
	}
	c := *m
	c.logger = m.logger.With(args...)
	return &c
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if id := traceIDFrom(ctx); id != "" {
		return m.With(String("trace_id", id))
	}
	return m
}

func (m *moduleLogger) Flush() error { return nil }

func (m *moduleLogger) log(level slog.Level, msg string, fields []Field) {
	if level < m.level {
		return
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = f.attr()
	}
	m.logger.LogAttrs(context.Background(), level, RedactSensitiveData(msg), attrs...)
}
