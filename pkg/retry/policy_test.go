/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.Enabled)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Delay)
	assert.True(t, p.RetryOn400)
	assert.True(t, p.RetryOn429)
	assert.True(t, p.RetryOn5xx)
	assert.True(t, p.RetryOnModelError)
	assert.Equal(t, 0, p.Budget())
}

func TestPolicyBudget(t *testing.T) {
	assert.Equal(t, 0, Policy{Enabled: false, MaxAttempts: 5}.Budget())
	assert.Equal(t, 5, Policy{Enabled: true, MaxAttempts: 5}.Budget())
	assert.Equal(t, 0, Policy{Enabled: true, MaxAttempts: -2}.Budget())
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		status int
		body   string
		want   bool
	}{
		{name: "400 switched off", policy: Policy{}, status: 400, want: false},
		{name: "400 switched on", policy: Policy{RetryOn400: true}, status: 400, want: true},
		{name: "429 switched on", policy: Policy{RetryOn429: true}, status: 429, want: true},
		{name: "429 switched off", policy: Policy{RetryOn400: true}, status: 429, want: false},
		{name: "500 switched on", policy: Policy{RetryOn5xx: true}, status: 500, want: true},
		{name: "503 switched on", policy: Policy{RetryOn5xx: true}, status: 503, want: true},
		{name: "5xx switched off", policy: Policy{RetryOn429: true}, status: 502, want: false},
		{name: "model in body", policy: Policy{RetryOnModelError: true}, status: 404, body: `{"error":"Model not supported"}`, want: true},
		{name: "model upper case", policy: Policy{RetryOnModelError: true}, status: 422, body: "UNKNOWN MODEL", want: true},
		{name: "model switched off", policy: Policy{}, status: 404, body: "model not found", want: false},
		{name: "empty body", policy: Policy{RetryOnModelError: true}, status: 404, body: "", want: false},
		{name: "unrelated body", policy: Policy{RetryOnModelError: true}, status: 403, body: "forbidden", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.ShouldRetry(tt.status, []byte(tt.body)))
		})
	}
}
