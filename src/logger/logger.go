package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------

var (
	baseOnce sync.Once
	base     *logrus.Logger
)

func root() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stdout)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// Configure sets level ("debug", "info", ...) and format ("text" or "json")
// for every named logger.
func Configure(level, format string) {
	l := root()
	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		l.SetLevel(lvl)
	}
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// SetOutput redirects every named logger, mostly for tests.
func SetOutput(w io.Writer) {
	root().SetOutput(w)
}

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	entry  *logrus.Entry
	config interface{}
}

// loggingConfig is satisfied by application configs that carry a log level
// and format.
type loggingConfig interface {
	Logging() (level, format string)
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. A config that sets a log level
// reconfigures the shared output.
func NewLogger(config interface{}, name string) *Logger {
	if c, ok := config.(loggingConfig); ok {
		if level, format := c.Logging(); level != "" {
			Configure(level, format)
		}
	}
	return &Logger{
		name:   name,
		entry:  root().WithField("component", name),
		config: config,
	}
}

// -----------------------------------------------------------------------------

// With returns a child logger carrying an extra field.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{name: l.name, entry: l.entry.WithField(key, value), config: l.config}
}

// -----------------------------------------------------------------------------

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

func (l *Logger) Warning(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}
