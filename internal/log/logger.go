package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/term"
)

// Level represents the logging level.
type Level = log.Level

// Log levels matching charmbracelet/log.
const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
)

// Config holds the logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Pretty enables colored output. It is ignored when Output is not a terminal.
	Pretty bool

	// JSON enables JSON output.
	JSON bool

	// Output is where log lines go. Defaults to stderr; stdout carries the
	// call log and must stay free of diagnostics.
	Output io.Writer

	// File is an optional file that receives a copy of every line.
	File string

	// Caller enables including caller information (file:line).
	Caller bool

	// Timestamp enables including timestamps.
	Timestamp bool

	// Prefix adds a prefix to all log messages.
	Prefix string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Pretty:    true,
		Caller:    false,
		Timestamp: true,
		Prefix:    "fake-online-accounts",
	}
}

// ParseLevel converts a config string ("debug", "info", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	return log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
}

// Logger is a structured logger wrapping charmbracelet/log.
type Logger struct {
	*log.Logger
	cfg      Config
	handlers []io.WriteCloser
}

var (
	global     *Logger
	globalOnce sync.Once
	globalMu   sync.Mutex
)

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg Config) (*Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	writers := []io.Writer{out}
	var handlers []io.WriteCloser

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, file)
		writers = append(writers, file)
	}

	opts := log.Options{
		Level:           cfg.Level,
		Prefix:          cfg.Prefix,
		ReportCaller:    cfg.Caller,
		ReportTimestamp: cfg.Timestamp,
		TimeFormat:      "2006-01-02 15:04:05",
	}
	if cfg.JSON {
		opts.Formatter = log.JSONFormatter
	}

	logger := log.NewWithOptions(io.MultiWriter(writers...), opts)

	if cfg.Pretty && !cfg.JSON && isTerminal(out) {
		styles := log.DefaultStyles()
		styles.Timestamp = lipgloss.NewStyle().Foreground(lipgloss.Color("206"))
		styles.Key = lipgloss.NewStyle().Foreground(lipgloss.Color("219"))
		styles.Value = lipgloss.NewStyle().Foreground(lipgloss.Color("228"))
		styles.Caller = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
		styles.Prefix = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
		logger.SetStyles(styles)
	}

	return &Logger{
		Logger:   logger,
		cfg:      cfg,
		handlers: handlers,
	}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Get returns the global logger, creating it with default config if needed.
func Get() *Logger {
	globalOnce.Do(func() {
		if global == nil {
			var err error
			global, err = NewLogger(DefaultConfig())
			if err != nil {
				global = &Logger{Logger: log.New(os.Stderr), cfg: DefaultConfig()}
			}
		}
	})
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// SetDefault replaces the global logger.
func SetDefault(l *Logger) {
	globalOnce.Do(func() {})
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// With creates a child of the global logger with the given key-value pairs.
func With(keyValues ...any) *Logger {
	return Get().With(keyValues...)
}

// SubPackage creates a logger with the given prefix.
func SubPackage(pkg string) *Logger {
	g := Get()
	return &Logger{Logger: g.Logger.WithPrefix(pkg), cfg: g.cfg}
}

// NewCallID returns a fresh identifier for one incoming bus call.
func NewCallID() string {
	return uuid.NewString()
}

// Close closes any file handlers. Should be called on shutdown.
func Close() error {
	g := Get()
	for _, h := range g.handlers {
		if err := h.Close(); err != nil {
			return err
		}
	}
	return nil
}

// SetLevel sets the global log level.
func SetLevel(level Level) {
	Get().Logger.SetLevel(level)
}

// Debug logs a message at debug level.
// The first argument is the message; the rest are key-value pairs.
func Debug(args ...any) { Get().Debug(args...) }

// Info logs a message at info level.
func Info(args ...any) { Get().Info(args...) }

// Warn logs a message at warn level.
func Warn(args ...any) { Get().Warn(args...) }

// Error logs a message at error level.
func Error(args ...any) { Get().Error(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { Get().Logger.Infof(format, args...) }

// ---- Logger instance methods ----

// Debug logs a message at debug level.
func (l *Logger) Debug(args ...any) {
	if len(args) == 0 {
		l.Logger.Debug("")
		return
	}
	l.Logger.Debug(args[0], args[1:]...)
}

// Info logs a message at info level.
func (l *Logger) Info(args ...any) {
	if len(args) == 0 {
		l.Logger.Info("")
		return
	}
	l.Logger.Info(args[0], args[1:]...)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(args ...any) {
	if len(args) == 0 {
		l.Logger.Warn("")
		return
	}
	l.Logger.Warn(args[0], args[1:]...)
}

// Error logs a message at error level.
func (l *Logger) Error(args ...any) {
	if len(args) == 0 {
		l.Logger.Error("")
		return
	}
	l.Logger.Error(args[0], args[1:]...)
}

// With creates a child logger with the given key-value pairs.
func (l *Logger) With(keyValues ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(keyValues...),
		cfg:    l.cfg,
	}
}
