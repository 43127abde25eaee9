// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package deviceauth

import (
	"context"
	"sync"
	"time"
)

// Session is one run of the device authorization grant. It is created Idle,
// moves to Polling after Start and ends in exactly one of Succeeded, Failed
// or Cancelled. At most one poll is scheduled or in flight at any time.
//
// Scheduler implementations must not invoke the callback from within
// AfterFunc.
type Session struct {
	cfg Config

	mu       sync.Mutex
	state    State
	code     *DeviceCode
	interval time.Duration
	timer    Timer
	gen      uint64
	polls    int
	cred     *Credential
	err      error
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewSession(cfg Config) *Session {
	return &Session{
		cfg:  cfg.withDefaults(),
		done: make(chan struct{}),
	}
}

// Start requests a device code and arms the first poll. Failures of the
// request end the session as Failed and are returned as *AuthStartError.
// ctx bounds the device code request only; polling continues until a
// terminal state or Cancel.
func (s *Session) Start(ctx context.Context) (*DeviceCode, error) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateCancelled:
		s.mu.Unlock()
		return nil, ErrCancelled
	default:
		s.mu.Unlock()
		return nil, ErrSessionStarted
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.state = StateRequested
	sessionCtx := s.ctx
	s.mu.Unlock()
	s.notify(StateIdle, StateRequested)

	reqCtx, stop := context.WithCancel(ctx)
	release := context.AfterFunc(sessionCtx, stop)
	code, err := requestDeviceCode(reqCtx, s.cfg, time.Now())
	release()
	stop()

	s.mu.Lock()
	if s.state != StateRequested {
		s.mu.Unlock()
		return nil, ErrCancelled
	}
	if err != nil {
		s.finishLocked(StateFailed, nil, err)
		s.mu.Unlock()
		s.cfg.Logger.Warnw("Device authorization request failed", "error", err)
		s.notify(StateRequested, StateFailed)
		return nil, err
	}
	s.code = code
	s.interval = code.Interval
	s.state = StatePolling
	s.scheduleLocked()
	s.mu.Unlock()

	s.cfg.Logger.Infow("Device code issued", "userCode", code.UserCode,
		"verificationURI", code.VerificationURI, "interval", code.Interval, "expiresIn", code.ExpiresIn)

	// A Cancel since the unlock above has already reported the terminal
	// transition; stay silent after it.
	s.mu.Lock()
	live := s.state == StatePolling
	s.mu.Unlock()
	if !live {
		return nil, ErrCancelled
	}
	s.notify(StateRequested, StatePolling)
	if s.cfg.OnCode != nil {
		s.cfg.OnCode(*code)
	}
	return code, nil
}

// Cancel stops polling and releases waiters with ErrCancelled. It is
// idempotent and a no-op once the session is terminal.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.finishLocked(StateCancelled, nil, ErrCancelled)
	s.mu.Unlock()

	s.cfg.Logger.Debugw("Device authorization cancelled", "from", from.String())
	s.notify(from, StateCancelled)
}

// Wait blocks until the session is terminal or ctx is done.
func (s *Session) Wait(ctx context.Context) (*Credential, error) {
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the credential or terminal error. Both are nil while the
// session is still live.
func (s *Session) Result() (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred != nil {
		cred := *s.cred
		return &cred, nil
	}
	return nil, s.err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PollInterval is the delay currently used between polls.
func (s *Session) PollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Code returns the device code once Start has succeeded.
func (s *Session) Code() (DeviceCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == nil {
		return DeviceCode{}, false
	}
	return *s.code, true
}

// Polls is the number of token polls issued so far.
func (s *Session) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *Session) scheduleLocked() {
	s.gen++
	gen := s.gen
	s.timer = s.cfg.Scheduler.AfterFunc(s.interval, func() { s.poll(gen) })
}

func (s *Session) poll(gen uint64) {
	s.mu.Lock()
	if s.state != StatePolling || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.polls++
	deviceCode := s.code.DeviceCode
	ctx := s.ctx
	s.mu.Unlock()

	result := pollToken(ctx, s.cfg, deviceCode)

	s.mu.Lock()
	if s.state != StatePolling || gen != s.gen {
		// cancelled while the poll was in flight
		s.mu.Unlock()
		return
	}
	next := StatePolling
	var failure error
	switch r := result.(type) {
	case pollGranted:
		s.finishLocked(StateSucceeded, &r.cred, nil)
		next = StateSucceeded
	case pollPending:
		s.scheduleLocked()
	case pollSlowDown:
		s.interval += SlowDownIncrement
		s.scheduleLocked()
	case pollRejected:
		s.finishLocked(StateFailed, nil, r.err)
		next = StateFailed
		failure = r.err
	case pollTransient:
		s.cfg.Logger.Warnw("Device token poll failed, retrying", "error", r.err, "interval", s.interval)
		s.scheduleLocked()
	default:
		s.scheduleLocked()
	}
	interval := s.interval
	s.mu.Unlock()

	switch next {
	case StateSucceeded:
		s.cfg.Logger.Infow("Device authorization succeeded")
		s.notify(StatePolling, StateSucceeded)
	case StateFailed:
		s.cfg.Logger.Warnw("Device authorization failed", "error", failure)
		s.notify(StatePolling, StateFailed)
	default:
		s.cfg.Logger.Debugw("Device authorization pending", "interval", interval)
	}
}

// finishLocked moves to a terminal state. The pending timer is dropped first
// so nothing can be rescheduled afterwards.
func (s *Session) finishLocked(state State, cred *Credential, err error) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = state
	s.cred = cred
	s.err = err
	if s.cancel != nil {
		s.cancel()
	}
	close(s.done)
}

func (s *Session) notify(from, to State) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}
