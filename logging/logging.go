package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	logger  *logrus.Logger
	logFile *os.File
	mu      sync.Mutex
	isSetup bool
)

// Options controls where and how the process logger writes.
type Options struct {
	Path   string
	Level  string
	Format string // "text" or "json"
	Stdout bool
}

// SetupLogger initializes the process logger with the specified options
func SetupLogger(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if isSetup {
		return nil
	}

	l := logrus.New()
	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	var writers []io.Writer
	if opts.Path != "" {
		logFile, err = os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, logFile)
	}
	if opts.Stdout || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	l.SetOutput(io.MultiWriter(writers...))

	l.Infof("--- EcoScope log started at %s ---", time.Now().Format(time.RFC3339))

	logger = l
	isSetup = true
	return nil
}

// CloseLogger closes the log file
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		logger.Infof("--- EcoScope log closed at %s ---", time.Now().Format(time.RFC3339))
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	logger = nil
	isSetup = false
}

// current returns the configured logger, or a stderr fallback before setup.
func current() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	return logger
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return current().WithFields(logrus.Fields(fields))
}

// LogInfo logs an information message
func LogInfo(format string, args ...interface{}) {
	current().Infof(format, args...)
}

// DebugLog logs a message at debug level
func DebugLog(format string, args ...interface{}) {
	current().Debugf(format, args...)
}

// LogError logs an error message
func LogError(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

// LogWarning logs a warning message
func LogWarning(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

// LogImageProcessed logs when an image is processed in a batch run
func LogImageProcessed(path string, success bool, errMsg string) {
	if success {
		current().WithField("path", path).Info("PROCESSED")
		return
	}
	current().WithFields(logrus.Fields{"path": path, "error": errMsg}).Warn("FAILED")
}
