package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Format represents the logging output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	logger = newLogger(os.Stderr)
	format = FormatText
	mu     sync.RWMutex
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(textFormatter())
	return l
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

// SetFormat sets the logging format globally
func SetFormat(f Format) {
	mu.Lock()
	defer mu.Unlock()

	format = f
	if f == FormatJSON {
		logger.SetFormatter(jsonFormatter())
	} else {
		logger.SetFormatter(textFormatter())
	}
}

// GetFormat returns the current logging format
func GetFormat() Format {
	mu.RLock()
	defer mu.RUnlock()
	return format
}

// SetWriter sets the output writer
func SetWriter(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel parses and applies a level name (debug, info, warn, error)
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)
	return nil
}

// Component returns an entry tagged with the component name, for callers
// that want to attach their own fields
func Component(name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Info logs an info message. A map payload becomes individual fields,
// anything else is attached as "data".
func Info(component, message string, data interface{}) {
	entry := Component(component)
	switch d := data.(type) {
	case nil:
	case map[string]interface{}:
		entry = entry.WithFields(logrus.Fields(d))
	case logrus.Fields:
		entry = entry.WithFields(d)
	default:
		entry = entry.WithField("data", d)
	}
	entry.Info(message)
}

// Debug logs a debug message
func Debug(component, message string) {
	Component(component).Debug(message)
}

// Warn logs a warning with an optional error
func Warn(component, message string, err error) {
	entry := Component(component)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(message)
}

// Error logs an error message
func Error(component, message string, err error) {
	entry := Component(component)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// ProbeResult logs the outcome of one echo probe
func ProbeResult(target, address string, seq uint16, latencyMs float64, success bool, errMsg string) {
	entry := Component("Probe").WithFields(logrus.Fields{
		"target":     target,
		"address":    address,
		"seq":        seq,
		"latency_ms": latencyMs,
		"success":    success,
	})
	if success {
		entry.Infof("%s (%s): %.2fms", target, address, latencyMs)
		return
	}
	if errMsg != "" {
		entry = entry.WithField("error", errMsg)
	}
	entry.Infof("%s (%s): FAILED - %s", target, address, errMsg)
}
