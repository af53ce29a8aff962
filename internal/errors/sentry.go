package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/glyphmap/tilesync/internal/logger"
)

// TelemetryReporter receives every error built while it is installed.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var reporter atomic.Pointer[TelemetryReporter]

// SetTelemetryReporter installs r; nil turns reporting off.
func SetTelemetryReporter(r TelemetryReporter) {
	if r == nil {
		reporter.Store(nil)
		return
	}
	reporter.Store(&r)
}

// GetTelemetryReporter returns the installed reporter, or nil.
func GetTelemetryReporter() TelemetryReporter {
	if p := reporter.Load(); p != nil {
		return *p
	}
	return nil
}

func activeReporter() TelemetryReporter {
	if r := GetTelemetryReporter(); r != nil && r.IsEnabled() {
		return r
	}
	return nil
}

// SentryReporter sends errors that point at a broken installation to
// Sentry. Per-tile misses and provider refusals stay in the logs.
type SentryReporter struct {
	enabled bool
}

func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (sr *SentryReporter) IsEnabled() bool { return sr.enabled }

// InitSentry starts the Sentry client and installs a SentryReporter. An
// empty DSN leaves reporting off.
func InitSentry(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.Message = scrub(event.Message)
			for i := range event.Exception {
				event.Exception[i].Value = scrub(event.Exception[i].Value)
			}
			return event
		},
	})
	if err != nil {
		return New(err).Category(CategoryConfiguration).Component("telemetry").Build()
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// FlushSentry waits up to timeout for queued events.
func FlushSentry(timeout time.Duration) {
	if GetTelemetryReporter() != nil {
		sentry.Flush(timeout)
	}
}

// quiet categories are expected during normal syncs
func quiet(c ErrorCategory) bool {
	switch c {
	case CategoryNotFound, CategoryRemoteFetch, CategoryValidation, CategoryCancellation:
		return true
	}
	return false
}

func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || quiet(ee.Category) || !ee.MarkReported() {
		return
	}

	component := ee.GetComponent()
	title := strings.ReplaceAll(string(ee.Category), "-", " ")
	if component != ComponentUnknown {
		title = component + ": " + title
	}
	message := scrub(fmt.Sprintf("[%s] %s", ee.Category, ee.Err))
	level := sentry.LevelError
	if ee.Category == CategoryNetwork || ee.Category == CategoryFileIO || ee.Category == CategoryInference {
		level = sentry.LevelWarning
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title})
		if ctx := ee.GetContext(); len(ctx) > 0 {
			for k, v := range ctx {
				if s, ok := v.(string); ok {
					ctx[k] = scrub(s)
				}
			}
			scope.SetContext("tilesync", ctx)
		}

		event := sentry.NewEvent()
		event.Level = level
		event.Message = message
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})
}

var urlQuery = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)

// scrub drops URL query strings, where the provider key and session live,
// then applies the logger's credential patterns.
func scrub(s string) string {
	return logger.RedactSensitiveData(urlQuery.ReplaceAllString(s, "$1?[REDACTED]"))
}
