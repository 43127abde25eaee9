// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package deviceauth

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned by Wait after Cancel.
	ErrCancelled = errors.New("device authorization cancelled")
	// ErrSessionStarted is returned when Start is called twice on a Session.
	ErrSessionStarted = errors.New("device authorization already started")
	// ErrExpiredToken matches an AuthTerminalError for an expired device code.
	ErrExpiredToken = errors.New("device code expired")
	// ErrAccessDenied matches an AuthTerminalError for a rejected request.
	ErrAccessDenied = errors.New("authorization denied by user")
)

// AuthStartError reports a failed device code request.
type AuthStartError struct {
	StatusCode int
	Err        error
}

func (e *AuthStartError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("device authorization request failed (%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("device authorization request failed: %v", e.Err)
}

func (e *AuthStartError) Unwrap() error {
	return e.Err
}

// Reason classifies an AuthTerminalError.
type Reason string

const (
	ReasonExpired       Reason = "expired"
	ReasonDenied        Reason = "denied"
	ReasonProviderError Reason = "provider_error"
)

// AuthTerminalError ends a polling session. Code and Description are the
// provider's error and error_description values.
type AuthTerminalError struct {
	Reason      Reason
	Code        string
	Description string
}

func (e *AuthTerminalError) Error() string {
	msg := fmt.Sprintf("device authorization failed: %s", e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *AuthTerminalError) Is(target error) bool {
	switch target {
	case ErrExpiredToken:
		return e.Reason == ReasonExpired
	case ErrAccessDenied:
		return e.Reason == ReasonDenied
	}
	return false
}
