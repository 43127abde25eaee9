// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package deviceauth

import (
	"context"
	"sync"
)

// Flow owns the single live Session of a host. Starting a new session
// cancels the previous one.
type Flow struct {
	cfg Config

	mu      sync.Mutex
	current *Session
}

func NewFlow(cfg Config) *Flow {
	return &Flow{cfg: cfg}
}

// Start cancels any live session and starts a new one.
func (f *Flow) Start(ctx context.Context) (*Session, *DeviceCode, error) {
	session := NewSession(f.cfg)

	f.mu.Lock()
	prev := f.current
	f.current = session
	f.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}
	code, err := session.Start(ctx)
	return session, code, err
}

// Current returns the most recently started session, or nil.
func (f *Flow) Current() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Cancel cancels the current session if it is still live.
func (f *Flow) Cancel() {
	if s := f.Current(); s != nil {
		s.Cancel()
	}
}

// Login runs a complete session and blocks until it is terminal or ctx is
// done. Leaving early cancels the session.
func (f *Flow) Login(ctx context.Context) (*Credential, error) {
	session, _, err := f.Start(ctx)
	if err != nil {
		return nil, err
	}
	cred, err := session.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		session.Cancel()
	}
	return cred, err
}
