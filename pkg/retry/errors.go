// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload marks a successful status whose body is not JSON.
var ErrInvalidPayload = errors.New("response payload is not valid JSON")

// Outcome describes one attempt of an executed call.
type Outcome struct {
	Attempt    int   `json:"attempt"`
	StatusCode int   `json:"statusCode,omitempty"`
	Err        error `json:"-"`
	Retried    bool  `json:"retried"`
}

// ExecutionError is the terminal failure of Executor.Execute. Either
// StatusCode and Body are set (HTTP-level failure) or Err is (transport
// failure).
type ExecutionError struct {
	StatusCode int
	Body       []byte
	Err        error
	Attempts   int
	Outcomes   []Outcome
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	msg := strings.TrimSpace(string(e.Body))
	if msg == "" {
		msg = "empty body"
	}
	return fmt.Sprintf("request failed after %d attempt(s) (%d): %s", e.Attempts, e.StatusCode, msg)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Transport reports whether the call never produced a usable HTTP response.
func (e *ExecutionError) Transport() bool {
	return e.Err != nil
}
