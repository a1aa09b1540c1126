// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/infinite-iroha/minato/lock"
)

// Error is a protocol failure representable as an HTTP status, optionally
// tagged with a DAV precondition element name for the XML error body.
type Error struct {
	Status       int
	Precondition string
	Message      string
	Err          error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, msg, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// errStatus builds a bare protocol error.
func errStatus(status int) *Error {
	return &Error{Status: status}
}

// errMessage builds a protocol error with a diagnostic message.
func errMessage(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// errPrecondition builds a protocol error carrying a DAV precondition or
// postcondition element name (RFC 4918 section 16).
func errPrecondition(status int, name string) *Error {
	return &Error{Status: status, Precondition: name}
}

// Precondition element names used in error bodies.
const (
	preLockTokenSubmitted       = "lock-token-submitted"
	preLockTokenMatchesURI      = "lock-token-matches-request-uri"
	preNoConflictingLock        = "no-conflicting-lock"
	prePropfindFiniteDepth      = "propfind-finite-depth"
	preCannotModifyProtected    = "cannot-modify-protected-property"
)

// isNotExist widens os.IsNotExist over wrapped errors.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// mapError converts provider and storage failures into an HTTP status.
// Unrecognized errors are storage errors: 500.
func mapError(err error) *Error {
	var de *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de):
		return de
	case errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist):
		return errStatus(http.StatusNotFound)
	case errors.Is(err, os.ErrPermission):
		return errStatus(http.StatusForbidden)
	case errors.Is(err, os.ErrExist):
		return errStatus(http.StatusMethodNotAllowed)
	case errors.Is(err, lock.ErrLocked):
		return errPrecondition(http.StatusLocked, preNoConflictingLock)
	case errors.Is(err, lock.ErrForbidden):
		return errStatus(http.StatusForbidden)
	case errors.Is(err, lock.ErrNoSuchLock):
		return errStatus(http.StatusConflict)
	default:
		return &Error{Status: http.StatusInternalServerError, Err: err}
	}
}
