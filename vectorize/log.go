// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This file defines the Log struct and associated methods.  Every transform
// invocation owns a Log, which collects informational messages, warnings and
// errors generated while a region is rewritten.  Precondition violations and
// analysis gaps are fatal: they abandon the transform immediately, and the
// entry names the offending block or value so the driver can report it.

package vectorize

import (
	"bytes"
	"fmt"
)

// A Severity indicates whether a log entry describes an informational
// message, a warning, or an error.
type Severity int

const (
	Info    Severity = iota // informational message
	Warning                 // tolerated condition, e.g. an unknown shape outside the region
	Error                   // the transform result is, or might be, invalid
	Fatal                   // malformed input or analysis gap; the transform aborts
)

// An Entry is a single entry in a Log.  Subject names the block or value
// the message is about, when there is one.
type Entry struct {
	Severity Severity
	Message  string
	Subject  string
}

func (e *Entry) String() string {
	var buf bytes.Buffer
	switch e.Severity {
	case Info:
		// No prefix.
	case Warning:
		buf.WriteString("Warning: ")
	case Error:
		buf.WriteString("Error: ")
	case Fatal:
		buf.WriteString("Fatal: ")
	}
	if e.Subject != "" {
		buf.WriteString(e.Subject)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Message)
	return buf.String()
}

// A Log stores the messages produced while transforming one region.
type Log struct {
	Entries []*Entry
}

// NewLog returns a new Log with no entries.
func NewLog() *Log {
	return &Log{Entries: []*Entry{}}
}

func (l *Log) log(severity Severity, subject, format string, v ...any) {
	l.Entries = append(l.Entries, &Entry{
		Severity: severity,
		Message:  fmt.Sprintf(format, v...),
		Subject:  subject,
	})
}

// Infof adds an informational message to the log.
func (l *Log) Infof(format string, v ...any) { l.log(Info, "", format, v...) }

// Warnf adds a warning about the named subject to the log.
func (l *Log) Warnf(subject, format string, v ...any) { l.log(Warning, subject, format, v...) }

// Errorf adds an error about the named subject to the log.
func (l *Log) Errorf(subject, format string, v ...any) { l.log(Error, subject, format, v...) }

// Fatalf records a fatal condition and aborts the transform by panicking
// with a *FatalError.  The region entry point recovers the panic and hands
// the error to the driver; there is no partial result.
func (l *Log) Fatalf(subject, format string, v ...any) {
	l.log(Fatal, subject, format, v...)
	panic(&FatalError{Log: l})
}

// ContainsErrors reports whether the log holds any Error or Fatal entry.
func (l *Log) ContainsErrors() bool {
	for _, e := range l.Entries {
		if e.Severity >= Error {
			return true
		}
	}
	return false
}

func (l *Log) String() string {
	var buf bytes.Buffer
	for _, e := range l.Entries {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}
	return buf.String()
}

// A FatalError carries the log of an aborted transform.
type FatalError struct {
	Log *Log
}

func (e *FatalError) Error() string {
	for i := len(e.Log.Entries) - 1; i >= 0; i-- {
		if e.Log.Entries[i].Severity == Fatal {
			return e.Log.Entries[i].String()
		}
	}
	return "fatal transform error"
}
