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

// Package pmrerr is the error taxonomy shared by the catalog, supervisor,
// and HTTP layers: every error carries a Kind in a small *Error value that
// wraps its cause, rather than a bespoke exception hierarchy; callers
// classify errors with Is / KindOf, which are built on errors.As.
package pmrerr

import "errors"

// Kind classifies an error for the purposes of CLI exit codes and HTTP
// status mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindAlreadyExists
	KindStateConflict
	KindSpawnError
	KindIoError
	KindDbError
	KindAuthError
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindStateConflict:
		return "StateConflict"
	case KindSpawnError:
		return "SpawnError"
	case KindIoError:
		return "IoError"
	case KindDbError:
		return "DbError"
	case KindAuthError:
		return "AuthError"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy member wrapping an underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a taxonomy error around an existing cause.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindUnknown if err
// does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var (
	// ErrNotFound is a bare KindNotFound error. Lookups of a missing record
	// or token return their own KindNotFound error wrapping the cause, so
	// match them with Is(err, KindNotFound).
	ErrNotFound = New(KindNotFound, "not found")
	// ErrAlreadyExists is a bare KindAlreadyExists error. Insert on a name
	// collision returns its own KindAlreadyExists error wrapping the
	// driver's cause, so match it with Is(err, KindAlreadyExists).
	ErrAlreadyExists = New(KindAlreadyExists, "already exists")
	// ErrNotRunning is returned by stop on a record that is not running.
	ErrNotRunning = New(KindStateConflict, "not running")
	// ErrAlreadyRunning is returned when the control-plane daemon is
	// started twice under its reserved name.
	ErrAlreadyRunning = New(KindStateConflict, "already running")
)
