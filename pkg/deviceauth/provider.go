// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package deviceauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// pollResult is the classified outcome of one token poll.
type pollResult interface {
	pollResult()
}

type (
	pollGranted   struct{ cred Credential }
	pollPending   struct{}
	pollSlowDown  struct{}
	pollRejected  struct{ err *AuthTerminalError }
	pollTransient struct{ err error }
)

func (pollGranted) pollResult()   {}
func (pollPending) pollResult()   {}
func (pollSlowDown) pollResult()  {}
func (pollRejected) pollResult()  {}
func (pollTransient) pollResult() {}

func classifyTokenResponse(payload tokenResponse) pollResult {
	if payload.AccessToken != "" {
		tokenType := payload.TokenType
		if tokenType == "" {
			tokenType = "bearer"
		}
		return pollGranted{cred: Credential{
			AccessToken: payload.AccessToken,
			TokenType:   tokenType,
			Scope:       payload.Scope,
		}}
	}
	switch payload.Error {
	case "":
		return pollTransient{err: errors.New("token response carried neither a token nor an error")}
	case "authorization_pending":
		return pollPending{}
	case "slow_down":
		return pollSlowDown{}
	case "expired_token":
		return pollRejected{err: &AuthTerminalError{Reason: ReasonExpired, Code: payload.Error, Description: payload.ErrorDesc}}
	case "access_denied":
		return pollRejected{err: &AuthTerminalError{Reason: ReasonDenied, Code: payload.Error, Description: payload.ErrorDesc}}
	default:
		return pollRejected{err: &AuthTerminalError{Reason: ReasonProviderError, Code: payload.Error, Description: payload.ErrorDesc}}
	}
}

func postForm(ctx context.Context, doer HTTPDoer, endpoint string, values url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := doer.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

func requestDeviceCode(ctx context.Context, cfg Config, now time.Time) (*DeviceCode, error) {
	values := url.Values{}
	values.Set("client_id", cfg.ClientID)
	values.Set("scope", strings.Join(cfg.Scopes, " "))

	resp, body, err := postForm(ctx, cfg.HTTP, cfg.Endpoint.DeviceAuthURL, values)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, &AuthStartError{StatusCode: status, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &AuthStartError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var payload deviceCodeResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &AuthStartError{StatusCode: resp.StatusCode, Err: fmt.Errorf("parse device code response: %w", err)}
	}
	if payload.DeviceCode == "" || payload.UserCode == "" {
		return nil, &AuthStartError{StatusCode: resp.StatusCode, Err: errors.New("device code response is missing device_code or user_code")}
	}

	interval := time.Duration(payload.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &DeviceCode{
		DeviceCode:              payload.DeviceCode,
		UserCode:                payload.UserCode,
		VerificationURI:         payload.VerificationURI,
		VerificationURIComplete: payload.VerificationURIComplete,
		ExpiresIn:               time.Duration(payload.ExpiresIn) * time.Second,
		Interval:                interval,
		IssuedAt:                now,
	}, nil
}

// pollToken never fails: transport and decoding problems come back as
// pollTransient.
func pollToken(ctx context.Context, cfg Config, deviceCode string) pollResult {
	values := url.Values{}
	values.Set("client_id", cfg.ClientID)
	values.Set("device_code", deviceCode)
	values.Set("grant_type", deviceGrantType)

	resp, body, err := postForm(ctx, cfg.HTTP, cfg.Endpoint.TokenURL, values)
	if err != nil {
		return pollTransient{err: err}
	}
	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return pollTransient{err: fmt.Errorf("parse token response (status %d): %w", resp.StatusCode, err)}
	}
	return classifyTokenResponse(payload)
}
