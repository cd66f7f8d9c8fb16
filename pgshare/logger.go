package pgshare

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// LogLevel specifies the level of spew that should go to the log
type LogLevel int

const (
	// LogLevelUnknown is a default value for LogLevel. Its
	// behavior is undefined
	LogLevelUnknown LogLevel = iota

	// LogLevelPanic causes output of an error message followed by a panic
	LogLevelPanic

	// LogLevelFatal causes output of an error message followed by os.Exit(1)
	LogLevelFatal

	// LogLevelError is for unexpected error messages
	LogLevelError

	// LogLevelWarning is for warning messages
	LogLevelWarning

	// LogLevelInfo is for info messages
	LogLevelInfo

	// LogLevelDebug is for debug messages
	LogLevelDebug

	// LogLevelTrace is for trace messages
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

var nameToLogLevel = func() map[string]LogLevel {
	result := make(map[string]LogLevel)
	for i, name := range logLevelNames {
		result[name] = LogLevel(i)
	}
	return result
}()

// StringToLogLevel converts a string to a LogLevel
func StringToLogLevel(s string) LogLevel {
	result, ok := nameToLogLevel[strings.ToLower(s)]
	if !ok {
		result = LogLevelUnknown
	}
	return result
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		return logLevelNames[LogLevelUnknown]
	}
	return logLevelNames[x]
}

// Logger is a leveled logger with prefix-forking, used throughout pgshare
// for per-component, per-session log output.
type Logger interface {
	// Errorf returns an error with this logger's prefix; always logged at LogLevelError.
	Errorf(f string, args ...interface{}) error

	// ELogf logs at LogLevelError
	ELogf(f string, args ...interface{})
	// WLogf logs at LogLevelWarning
	WLogf(f string, args ...interface{})
	// ILogf logs at LogLevelInfo
	ILogf(f string, args ...interface{})
	// DLogf logs at LogLevelDebug
	DLogf(f string, args ...interface{})
	// TLogf logs at LogLevelTrace
	TLogf(f string, args ...interface{})

	// DLogErrorf logs at LogLevelDebug and returns an error with this logger's prefix
	DLogErrorf(f string, args ...interface{}) error

	// Fork creates a new Logger with an additional prefix segment appended
	Fork(prefix string, args ...interface{}) Logger

	// GetLogLevel returns the current log level
	GetLogLevel() LogLevel
	// SetLogLevel sets the log level
	SetLogLevel(level LogLevel)

	// Prefix returns this logger's prefix string, not including trailing ": "
	Prefix() string
}

// BasicLogger is the concrete Logger implementation, a prefix and level filter
// wrapped around the standard library's log.Logger.
type BasicLogger struct {
	prefix   string
	prefixC  string
	logger   *log.Logger
	logLevel LogLevel
}

const defaultLogFlags = log.Ldate | log.Ltime

// NewLogger creates a new Logger with the given prefix and level, writing to os.Stderr
func NewLogger(prefix string, logLevel LogLevel) Logger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &BasicLogger{
		prefix:   prefix,
		prefixC:  prefixC,
		logger:   log.New(os.Stderr, "", defaultLogFlags),
		logLevel: logLevel,
	}
}

func (l *BasicLogger) logAt(level LogLevel, msg string) {
	if level <= l.logLevel || level <= LogLevelFatal {
		l.logger.Print(l.prefixC + msg)
		if level == LogLevelFatal {
			os.Exit(1)
		}
		if level == LogLevelPanic {
			panic(l.prefixC + msg)
		}
	}
}

// Errorf returns an error with this logger's prefix and logs it at LogLevelError
func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	msg := fmt.Sprintf(f, args...)
	l.logAt(LogLevelError, msg)
	return errors.New(l.prefixC + msg)
}

// ELogf logs at LogLevelError
func (l *BasicLogger) ELogf(f string, args ...interface{}) {
	l.logAt(LogLevelError, fmt.Sprintf(f, args...))
}

// WLogf logs at LogLevelWarning
func (l *BasicLogger) WLogf(f string, args ...interface{}) {
	l.logAt(LogLevelWarning, fmt.Sprintf(f, args...))
}

// ILogf logs at LogLevelInfo
func (l *BasicLogger) ILogf(f string, args ...interface{}) {
	l.logAt(LogLevelInfo, fmt.Sprintf(f, args...))
}

// DLogf logs at LogLevelDebug
func (l *BasicLogger) DLogf(f string, args ...interface{}) {
	l.logAt(LogLevelDebug, fmt.Sprintf(f, args...))
}

// TLogf logs at LogLevelTrace
func (l *BasicLogger) TLogf(f string, args ...interface{}) {
	l.logAt(LogLevelTrace, fmt.Sprintf(f, args...))
}

// DLogErrorf logs at LogLevelDebug and returns an error with this logger's prefix
func (l *BasicLogger) DLogErrorf(f string, args ...interface{}) error {
	msg := fmt.Sprintf(f, args...)
	l.logAt(LogLevelDebug, msg)
	return errors.New(l.prefixC + msg)
}

// Fork creates a new Logger that has an additional formatted string appended onto
// this logger's prefix (with ": " added between)
func (l *BasicLogger) Fork(prefix string, args ...interface{}) Logger {
	suffix := fmt.Sprintf(prefix, args...)
	newPrefix := suffix
	if l.prefix != "" {
		newPrefix = l.prefix + ": " + suffix
	}
	prefixC := newPrefix + ": "
	return &BasicLogger{
		prefix:   newPrefix,
		prefixC:  prefixC,
		logger:   l.logger,
		logLevel: l.logLevel,
	}
}

// Prefix returns this logger's prefix string
func (l *BasicLogger) Prefix() string {
	return l.prefix
}

// GetLogLevel returns the current log level
func (l *BasicLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// SetLogLevel sets the log level
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	l.logLevel = logLevel
}
