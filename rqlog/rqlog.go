// Package rqlog is the ambient structured-logging seam for plan/exec/txn:
// one logrus.Entry per component, carrying a "component" field, grounded
// on dolthub-go-mysql-server/auth/audit.go's AuditLog (l.WithField("system",
// "audit") once, then WithFields(...).Info/Warn per event) narrowed to this
// module's smaller vocabulary of transaction and write events. This is a
// separate concern from package trace: trace is an explicit instrumentation
// seam a caller can subscribe to for its own reporting, rqlog is the
// operational log a deployed process writes regardless of whether anyone
// is watching.
package rqlog

import (
	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Entry (or nil, meaning "discard everything") so
// every component-specific constructor can be called unconditionally
// without the caller checking for a nil *logrus.Logger first.
type Logger struct {
	entry *logrus.Entry
}

// New scopes l to component via a "component" field (nil l yields a no-op
// Logger that drops every call).
func New(l *logrus.Logger, component string) Logger {
	if l == nil {
		return Logger{}
	}
	return Logger{entry: l.WithField("component", component)}
}

// Nop returns a Logger that discards everything, the zero value in all but
// name — used as the default on every struct that embeds a Logger field.
func Nop() Logger { return Logger{} }

func (lg Logger) withFields(fields logrus.Fields) *logrus.Entry {
	if lg.entry == nil {
		return nil
	}
	return lg.entry.WithFields(fields)
}

// Info logs msg plus fields at info level, a no-op on a Nop Logger.
func (lg Logger) Info(msg string, fields logrus.Fields) {
	if e := lg.withFields(fields); e != nil {
		e.Info(msg)
	}
}

// Warn logs msg plus fields at warn level, a no-op on a Nop Logger.
func (lg Logger) Warn(msg string, fields logrus.Fields) {
	if e := lg.withFields(fields); e != nil {
		e.Warn(msg)
	}
}

// Error logs msg plus fields (with "error": err folded in) at error level,
// a no-op on a Nop Logger.
func (lg Logger) Error(msg string, err error, fields logrus.Fields) {
	if lg.entry == nil {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["error"] = err
	lg.entry.WithFields(fields).Error(msg)
}
