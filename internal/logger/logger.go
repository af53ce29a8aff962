// Package logger is the structured logging layer of tilesync, built on
// log/slog.
//
// A CentralLogger is built once from LoggingConfig and hands out loggers
// named after the component that uses them:
//
//	central, err := logger.NewCentralLogger(&settings.Logging)
//	if err != nil {
//	    return err
//	}
//	defer central.Close()
//
//	log := central.Module("provider")
//	log.Info("tile fetched", logger.String("tile", "10,21"), logger.Int("status", 200))
//
// Console output is text, file output is JSON rotated by lumberjack. Provider
// keys and session tokens are redacted from messages and string fields before
// they reach any handler. Packages that are not handed a logger use
// logger.Global().Module(name).
package logger

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// LogLevel names a severity in configuration and in Logger.Log.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is one structured attribute. Constructors render the value up front,
// so a field costs the same whether or not the record is emitted.
type Field struct {
	Key   string
	Value slog.Value
}

func (f Field) attr() slog.Attr { return slog.Attr{Key: f.Key, Value: f.Value} }

// Logger is the logging interface handed to components.
type Logger interface {
	// Module returns a child logger named parent.name
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Logger
	// WithContext adds the trace ID stored by WithTraceID, if any
	WithContext(ctx context.Context) Logger

	Log(level LogLevel, msg string, fields ...Field)

	Flush() error
}

// String redacts credentials from value.
func String(key, value string) Field {
	return Field{Key: key, Value: slog.StringValue(RedactSensitiveData(value))}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: slog.IntValue(value)}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: slog.Int64Value(value)}
}

// Float64 keeps three decimals.
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: slog.Float64Value(math.Round(value*1000) / 1000)}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: slog.BoolValue(value)}
}

// Error logs err under "error". Fetch errors carry the request URL, so the
// text is redacted like String.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: slog.AnyValue(nil)}
	}
	return String("error", err.Error())
}

// Duration renders value rounded to milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: slog.StringValue(value.Round(time.Millisecond).String())}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: slog.TimeValue(value)}
}

// Any accepts any JSON-serializable value.
func Any(key string, value any) Field {
	return Field{Key: key, Value: slog.AnyValue(value)}
}

type traceIDKey struct{}

// WithTraceID tags ctx so loggers derived with WithContext carry traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
