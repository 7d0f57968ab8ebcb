// Package log bridges third-party loggers onto the crawler's logrus entries.
package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogger satisfies badger.Logger on top of a logrus entry
// Badger's informational chatter (table loads, compactions) is demoted to debug
// so a plan save does not flood the run output
type BadgerLogger struct {
	entry *logrus.Entry
}

// NewBadgerLogger tags entry with component=badgerdb and wraps it
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry.WithField("component", "badgerdb")}
}

func (l *BadgerLogger) Errorf(f string, v ...interface{})   { l.entry.Errorf(trim(f), v...) }
func (l *BadgerLogger) Warningf(f string, v ...interface{}) { l.entry.Warnf(trim(f), v...) }
func (l *BadgerLogger) Infof(f string, v ...interface{})    { l.entry.Debugf(trim(f), v...) }
func (l *BadgerLogger) Debugf(f string, v ...interface{})   { l.entry.Tracef(trim(f), v...) }

// Badger terminates most format strings with a newline; logrus adds its own
func trim(f string) string {
	return strings.TrimRight(f, "\n")
}
