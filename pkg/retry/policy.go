// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"bytes"
	"net/http"
	"time"
)

// Policy configures which failures are retried and how often. The zero value
// disables retries.
type Policy struct {
	// Enabled turns retries on; when false a call gets exactly one attempt.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MaxAttempts is the number of additional attempts after the first one.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
	// Delay is the fixed wait between attempts.
	Delay time.Duration `json:"delay" yaml:"delay"`

	RetryOn400        bool `json:"retryOn400" yaml:"retryOn400"`
	RetryOn429        bool `json:"retryOn429" yaml:"retryOn429"`
	RetryOn5xx        bool `json:"retryOn5xx" yaml:"retryOn5xx"`
	RetryOnModelError bool `json:"retryOnModelError" yaml:"retryOnModelError"`
}

// DefaultPolicy returns retries switched off with every category armed, so
// enabling is a single toggle.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:           false,
		MaxAttempts:       3,
		Delay:             2 * time.Second,
		RetryOn400:        true,
		RetryOn429:        true,
		RetryOn5xx:        true,
		RetryOnModelError: true,
	}
}

// Budget returns how many retries a call may use under p.
func (p Policy) Budget() int {
	if !p.Enabled || p.MaxAttempts < 0 {
		return 0
	}
	return p.MaxAttempts
}

var modelMarker = []byte("model")

// ShouldRetry reports whether an HTTP-level failure with the given status and
// body is eligible for another attempt. It does not look at the attempt
// budget and is never consulted for successful responses.
func (p Policy) ShouldRetry(status int, body []byte) bool {
	switch {
	case status == http.StatusBadRequest && p.RetryOn400:
		return true
	case status == http.StatusTooManyRequests && p.RetryOn429:
		return true
	case status >= http.StatusInternalServerError && p.RetryOn5xx:
		return true
	case p.RetryOnModelError && len(body) > 0 && bytes.Contains(bytes.ToLower(body), modelMarker):
		return true
	}
	return false
}
