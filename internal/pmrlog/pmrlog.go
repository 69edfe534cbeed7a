// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package pmrlog provides the single logging convention used across pmr:
// a plain *log.Logger, optionally annotated with a handful of key=value
// fields, and nothing heavier. No structured-logging library is pulled in
// here; every component receives a *log.Logger via constructor injection,
// the same way tenant.WithLogger threads a logger through the manager.
package pmrlog

import (
	"fmt"
	"log"
	"os"
)

// New returns the default logger used by the pmr CLI and pmrd daemon:
// messages on stderr, prefixed with the short file name of the call site.
func New(prefix string) *log.Logger {
	if prefix != "" {
		prefix += ": "
	}
	return log.New(os.Stderr, prefix, log.Ldate|log.Ltime|log.Lshortfile)
}

// Fields is a chainable annotation helper around *log.Logger. It exists so
// call sites can read as pmrlog.With(l).Field("process", name).Printf(...) without
// introducing a structured logging dependency.
type Fields struct {
	l      *log.Logger
	prefix string
}

// With starts a Fields chain rooted at l.
func With(l *log.Logger) Fields {
	return Fields{l: l}
}

// Field appends a key=value pair to the chain and returns the new chain.
func (f Fields) Field(key string, value any) Fields {
	sep := " "
	if f.prefix == "" {
		sep = ""
	}
	return Fields{l: f.l, prefix: fmt.Sprintf("%s%s%s=%v", f.prefix, sep, key, value)}
}

// Printf logs a message with the accumulated fields prepended.
func (f Fields) Printf(format string, args ...any) {
	if f.prefix == "" {
		f.l.Printf(format, args...)
		return
	}
	f.l.Printf("%s %s", f.prefix, fmt.Sprintf(format, args...))
}

// Println behaves like Printf but takes pre-formatted text.
func (f Fields) Println(args ...any) {
	if f.prefix == "" {
		f.l.Println(args...)
		return
	}
	f.l.Println(append([]any{f.prefix}, args...)...)
}
