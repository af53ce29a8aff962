package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// levelTrace sits below slog.LevelDebug.
const levelTrace = slog.Level(-8)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process logger.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	global = cl
	globalMu.Unlock()
}

// Global returns the process logger. Before SetGlobal it is an info level
// console logger.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			config: &LoggingConfig{DefaultLevel: DefaultLogLevel},
			base:   newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
			levels: map[string]slog.Level{},
		}
	}
	return global
}

// CentralLogger owns the output handlers and the open log files. Module
// loggers share its base handler unless the module has its own file.
type CentralLogger struct {
	config *LoggingConfig
	tz     *time.Location
	base   slog.Handler

	mu      sync.RWMutex
	files   []io.Closer
	modules map[string]slog.Handler // modules with a dedicated file
	levels  map[string]slog.Level
}

// NewCentralLogger opens the configured outputs. cfg gets its defaults
// filled in place.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:  cfg,
		tz:      tz,
		modules: map[string]slog.Handler{},
		levels:  map[string]slog.Level{},
	}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}

	var outputs []slog.Handler
	if cfg.Console != nil && cfg.Console.Enabled {
		outputs = append(outputs, newTextHandler(os.Stdout, parseLogLevel(cfg.Console.Level), tz))
	}
	if cfg.FileOutput != nil && cfg.FileOutput.Enabled {
		w, err := cl.openFile(cfg.FileOutput.Path)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, newJSONHandler(w, parseLogLevel(cfg.FileOutput.Level), tz))
	}
	switch len(outputs) {
	case 0:
		cl.base = slog.DiscardHandler
	case 1:
		cl.base = outputs[0]
	default:
		cl.base = slog.NewMultiHandler(outputs...)
	}

	for module, out := range cfg.ModuleOutputs {
		if !out.Enabled || out.FilePath == "" {
			continue
		}
		level := cl.levelFor(module)
		if out.Level != "" {
			level = parseLogLevel(out.Level)
			cl.levels[module] = level
		}
		w, err := cl.openFile(out.FilePath)
		if err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("log file for module %s: %w", module, err)
		}
		var h slog.Handler = newJSONHandler(w, level, tz)
		if out.ConsoleAlso && cfg.Console != nil && cfg.Console.Enabled {
			h = slog.NewMultiHandler(h, newTextHandler(os.Stdout, level, tz))
		}
		cl.modules[module] = h
	}

	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

// openFile returns a lumberjack writer for path using the rotation limits of
// the main file output.
func (cl *CentralLogger) openFile(path string) (io.Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
		}
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    DefaultMaxSize,
		MaxAge:     DefaultMaxAge,
		MaxBackups: DefaultMaxRotatedFiles,
	}
	if r := cl.config.FileOutput; r != nil {
		w.MaxSize, w.MaxAge, w.MaxBackups, w.Compress = r.MaxSize, r.MaxAge, r.MaxRotatedFiles, r.Compress
	}
	cl.files = append(cl.files, w)
	return w, nil
}

func (cl *CentralLogger) levelFor(module string) slog.Level {
	if level, ok := cl.levels[module]; ok {
		return level
	}
	return parseLogLevel(cl.config.DefaultLevel)
}

// Module returns the logger for a top level component.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	h, ok := cl.modules[name]
	if !ok {
		h = cl.base
	}
	return newModuleLogger(name, h, cl.levelFor(name))
}

// Close closes every log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	var errs []error
	for _, f := range cl.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	cl.files = nil
	return errors.Join(errs...)
}

// Flush is a no-op, lumberjack writes through.
func (cl *CentralLogger) Flush() error { return nil }

func parseLogLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return levelTrace
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
