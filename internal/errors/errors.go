// Package errors categorizes tilesync failures so callers can tell a missing
// tile from a broken provider or a full disk, and reports the serious ones
// to Sentry when telemetry is configured.
//
// Errors are built fluently:
//
//	return errors.New(err).
//	    Category(errors.CategoryFileIO).
//	    Component("tilestore").
//	    TileContext(z, x, y).
//	    Build()
//
// The package also passes through Is, As and Join so callers need a single
// errors import.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors by how callers react to them.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"     // rejected before side effects
	CategoryNotFound      ErrorCategory = "not-found"      // requested tile or record absent
	CategoryRemoteFetch   ErrorCategory = "remote-fetch"   // provider returned non-2xx
	CategoryFileIO        ErrorCategory = "file-io"        // read/write/rename/stat failures
	CategoryMalformedData ErrorCategory = "malformed-data" // unparseable filenames or records
	CategoryNetwork       ErrorCategory = "network"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategoryInference     ErrorCategory = "inference"
	CategoryIndex         ErrorCategory = "index"
	CategoryStream        ErrorCategory = "stream"
	CategoryGeneric       ErrorCategory = "generic"
)

// CategorizedError is implemented by domain error types that know their
// category, such as provider.RemoteFetchError.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

// ComponentUnknown is the component of errors built without one while
// telemetry is off.
const ComponentUnknown = "unknown"

// EnhancedError is an error with a category, the component that raised it
// and free-form context for logs and telemetry.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError by category, so
// errors.Is(err, &EnhancedError{Category: CategoryNotFound}) works.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return false
}

// GetComponent names the package that raised the error.
func (ee *EnhancedError) GetComponent() string { return ee.component }

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported records that a reporter has sent the error. It returns false
// if it was already marked.
func (ee *EnhancedError) MarkReported() bool { return ee.reported.CompareAndSwap(false, true) }

// IsReported reports whether MarkReported was called.
func (ee *EnhancedError) IsReported() bool { return ee.reported.Load() }

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts an error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any, 4)
	}
	eb.context[key] = value
	return eb
}

// TileContext records the tile the error relates to.
func (eb *ErrorBuilder) TileContext(z, x, y int) *ErrorBuilder {
	return eb.Context("tile_z", z).Context("tile_x", x).Context("tile_y", y)
}

// Build finishes the error and hands it to the telemetry reporter, if one
// is installed. A missing category is taken from the wrapped error; a
// missing component is looked up from the call stack only when reporting.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.Err == nil {
		ee.Err = stderrors.New(string(CategoryGeneric) + " error")
	}
	if ee.Category == "" {
		ee.Category = categoryOf(eb.err)
	}

	reporter := activeReporter()
	if ee.component == "" {
		if reporter != nil {
			ee.component = callerComponent()
		} else {
			ee.component = ComponentUnknown
		}
	}
	if reporter != nil {
		reporter.ReportError(ee)
	}
	return ee
}

// components maps package paths to the component name used in telemetry.
var components = []struct{ pkg, name string }{
	{"/internal/diskindex", "diskindex"},
	{"/internal/tilestore", "tilestore"},
	{"/internal/provider", "provider"},
	{"/internal/batch", "batch"},
	{"/internal/progress", "progress"},
	{"/internal/reconcile", "reconcile"},
	{"/internal/inference", "inference"},
	{"/internal/conf", "configuration"},
	{"/internal/api", "api"},
	{"/internal/securefs", "securefs"},
	{"/internal/monitor", "monitor"},
	{"/cmd", "cli"},
}

const selfPackage = "/internal/errors."

func callerComponent() string {
	pcs := make([]uintptr, 16)
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs)])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, selfPackage) {
			for _, c := range components {
				if strings.Contains(frame.Function, c.pkg) {
					return c.name
				}
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func categoryOf(err error) ErrorCategory {
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) && enhanced.Category != "" {
		return enhanced.Category
	}
	var categorized CategorizedError
	if stderrors.As(err, &categorized) {
		return categorized.ErrorCategory()
	}
	return CategoryGeneric
}

// FileError wraps a filesystem failure on path. Only the base name and the
// size reach the context; collection roots are local paths.
func FileError(err error, path string, size int64) *EnhancedError {
	b := New(err).Category(CategoryFileIO)
	if path != "" {
		b.Context("file", filepath.Base(path))
	}
	if size > 0 {
		b.Context("bytes", size)
	}
	return b.Build()
}

// ValidationError rejects a request before it has side effects.
func ValidationError(message string) *EnhancedError {
	return New(stderrors.New(message)).Category(CategoryValidation).Build()
}

// NewStd is errors.New from the standard library.
func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// IsCategory reports whether the outermost EnhancedError in err, or a
// categorized error it wraps, has category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhanced *EnhancedError
	if stderrors.As(err, &enhanced) && enhanced.Category == category {
		return true
	}
	var categorized CategorizedError
	return stderrors.As(err, &categorized) && categorized.ErrorCategory() == category
}

// IsNotFound reports a missing tile or record.
func IsNotFound(err error) bool { return IsCategory(err, CategoryNotFound) }

// IsValidation reports input rejected before side effects.
func IsValidation(err error) bool { return IsCategory(err, CategoryValidation) }
