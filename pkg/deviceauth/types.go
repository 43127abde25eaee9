// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package deviceauth

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	// DefaultClientID is the public OAuth app used by the Copilot editor plugins.
	DefaultClientID = "01ab8ac9400c4e429b23"
	// DefaultInterval applies when the provider does not advise one.
	DefaultInterval = 5 * time.Second
	// SlowDownIncrement is added to the poll interval on every slow_down.
	SlowDownIncrement = 5 * time.Second

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"read:user", "user:email", "copilot"}

// DefaultEndpoint is GitHub's device and token endpoint pair.
var DefaultEndpoint = github.Endpoint

// HTTPDoer performs provider requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// State of a Session.
type State int

const (
	StateIdle State = iota
	StateRequested
	StatePolling
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRequested:
		return "Requested"
	case StatePolling:
		return "Polling"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// DeviceCode is what the user needs to approve the login.
type DeviceCode struct {
	DeviceCode              string        `json:"-"`
	UserCode                string        `json:"user_code"`
	VerificationURI         string        `json:"verification_uri"`
	VerificationURIComplete string        `json:"verification_uri_complete,omitempty"`
	ExpiresIn               time.Duration `json:"expires_in"`
	Interval                time.Duration `json:"interval"`
	IssuedAt                time.Time     `json:"issued_at"`
}

// ExpiresAt is the provider's deadline for the code, zero if unknown.
func (c DeviceCode) ExpiresAt() time.Time {
	if c.ExpiresIn <= 0 {
		return time.Time{}
	}
	return c.IssuedAt.Add(c.ExpiresIn)
}

// BrowserURL prefers the pre-filled verification link when offered.
func (c DeviceCode) BrowserURL() string {
	if c.VerificationURIComplete != "" {
		return c.VerificationURIComplete
	}
	return c.VerificationURI
}

// Credential is the access token obtained by a successful session.
type Credential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope,omitempty"`
}

// OAuth2Token converts c for use with oauth2 transports.
func (c Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{AccessToken: c.AccessToken, TokenType: c.TokenType}
}

// Config parameterises a Session. Zero fields fall back to GitHub defaults.
type Config struct {
	ClientID  string
	Scopes    []string
	Endpoint  oauth2.Endpoint
	HTTP      HTTPDoer
	Scheduler Scheduler
	Logger    *zap.SugaredLogger
	// OnCode is invoked once the device code is known and polling is armed.
	OnCode func(DeviceCode)
	// OnStateChange is invoked after every transition, outside the session lock.
	OnStateChange func(from, to State)
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes
	}
	if c.Endpoint.DeviceAuthURL == "" {
		c.Endpoint.DeviceAuthURL = DefaultEndpoint.DeviceAuthURL
	}
	if c.Endpoint.TokenURL == "" {
		c.Endpoint.TokenURL = DefaultEndpoint.TokenURL
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Scheduler == nil {
		c.Scheduler = SystemScheduler
	}
	if c.Logger == nil {
		c.Logger = zap.S()
	}
	return c
}
