// Package log is a thin wrapper around logrus that adds context-aware
// loggers. A request- or job-scoped *Entry can be stored in a context with
// Set and retrieved with Ctx; package-level helpers delegate to the
// DefaultLogger.
package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Entry is the logging unit. It carries the accumulated fields of the logger
// it was derived from.
type Entry struct {
	*logrus.Entry
}

// Logger wraps a logrus logger so callers never import logrus directly.
type Logger struct {
	*logrus.Logger
}

// DefaultLogger is the logger used by the package-level helpers and returned
// by Ctx for contexts without an attached entry.
var DefaultLogger = New()

// Levels re-exported so callers can set verbosity without importing logrus.
const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	TraceLevel = logrus.TraceLevel
)

// New returns a Logger with the default text formatter writing to stderr at
// InfoLevel.
func New() *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &Logger{Logger: l}
}

func (l *Logger) entry() *Entry {
	return &Entry{Entry: logrus.NewEntry(l.Logger)}
}

// WithField returns a derived entry with the extra field attached.
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: l.Logger.WithField(key, value)}
}

// WithFields returns a derived entry with the extra fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

// WithField derives a new entry with one extra field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

// WithFields derives a new entry with extra fields.
func (e *Entry) WithFields(fields map[string]interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

// WithError derives a new entry carrying the error as a field.
func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

type contextKey struct{}

var entryContextKey = contextKey{}

// Set stores the entry in the context. Use together with Ctx to scope all
// logging in a call tree to one request or job.
func Set(ctx context.Context, e *Entry) context.Context {
	return context.WithValue(ctx, entryContextKey, e)
}

// Ctx returns the entry stored in the context, or an entry derived from the
// DefaultLogger when none is attached.
func Ctx(ctx context.Context) *Entry {
	if e, ok := ctx.Value(entryContextKey).(*Entry); ok {
		return e
	}
	return DefaultLogger.entry()
}

// SetLevel adjusts the level of the DefaultLogger.
func SetLevel(level logrus.Level) {
	DefaultLogger.Logger.SetLevel(level)
}

func Trace(args ...interface{})                 { DefaultLogger.entry().Trace(args...) }
func Tracef(format string, args ...interface{}) { DefaultLogger.entry().Tracef(format, args...) }
func Debug(args ...interface{})                 { DefaultLogger.entry().Debug(args...) }
func Debugf(format string, args ...interface{}) { DefaultLogger.entry().Debugf(format, args...) }
func Info(args ...interface{})                  { DefaultLogger.entry().Info(args...) }
func Infof(format string, args ...interface{})  { DefaultLogger.entry().Infof(format, args...) }
func Warn(args ...interface{})                  { DefaultLogger.entry().Warn(args...) }
func Warnf(format string, args ...interface{})  { DefaultLogger.entry().Warnf(format, args...) }
func Error(args ...interface{})                 { DefaultLogger.entry().Error(args...) }
func Errorf(format string, args ...interface{}) { DefaultLogger.entry().Errorf(format, args...) }
func Fatal(args ...interface{})                 { DefaultLogger.entry().Fatal(args...) }
func Fatalf(format string, args ...interface{}) { DefaultLogger.entry().Fatalf(format, args...) }
