// Package logging provides leveled, structured logging for all sKV components.
//
// Every package obtains a named logger via New. Log calls never return errors
// and never panic, so a failing sink can not propagate back into store
// operations.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Logger is the leveled logging interface used throughout sKV.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// make sure componentLogger implements the Logger interface
var _ Logger = (*componentLogger)(nil)

// componentLogger tags every entry with the component name
type componentLogger struct {
	name string
}

func (l *componentLogger) Debugf(format string, args ...interface{}) {
	root().WithField("component", l.name).Debugf(format, args...)
}

func (l *componentLogger) Infof(format string, args ...interface{}) {
	root().WithField("component", l.name).Infof(format, args...)
}

func (l *componentLogger) Warnf(format string, args ...interface{}) {
	root().WithField("component", l.name).Warnf(format, args...)
}

func (l *componentLogger) Errorf(format string, args ...interface{}) {
	root().WithField("component", l.name).Errorf(format, args...)
}

// --------------------------------------------------------------------------
// Root logger
// --------------------------------------------------------------------------

var (
	rootLogger *log.Logger
	rootOnce   sync.Once
)

// root lazily initializes the process-wide logrus instance
func root() *log.Logger {
	rootOnce.Do(func() {
		rootLogger = log.New()
		rootLogger.SetOutput(os.Stdout)
		rootLogger.SetLevel(log.InfoLevel)
		rootLogger.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			PadLevelText:    true,
		})
	})
	return rootLogger
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// New creates a named logger for a component (e.g. "store/durable")
func New(name string) Logger {
	return &componentLogger{name: name}
}

// SetLevel configures the global log level (debug, info, warn, error).
// An unknown level is an error so that misconfiguration surfaces at startup.
func SetLevel(level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	root().SetLevel(parsed)
	return nil
}

// parseLevel converts a string level to a logrus level
func parseLevel(level string) (log.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warning", "warn":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}
