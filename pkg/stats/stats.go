// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package stats

import "sync"

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	Total   uint64 `json:"total" yaml:"total"`
	Success uint64 `json:"success" yaml:"success"`
	Fail    uint64 `json:"fail" yaml:"fail"`
	Retries uint64 `json:"retries" yaml:"retries"`
}

// Event identifies the mutation an Observer is notified about.
type Event int

const (
	EventSuccess Event = iota
	EventFailure
	EventRetry
	EventReset
	EventRestore
)

func (e Event) String() string {
	switch e {
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	case EventRetry:
		return "retry"
	case EventReset:
		return "reset"
	case EventRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// Observer is notified after every counter mutation. Notifications from
// concurrent callers are not ordered; observers that need the latest values
// should call Snapshot themselves.
type Observer interface {
	Observe(ev Event, retried bool, snap Snapshot)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(ev Event, retried bool, snap Snapshot)

func (f ObserverFunc) Observe(ev Event, retried bool, snap Snapshot) {
	f(ev, retried, snap)
}

// Counter holds the four request counters behind a single mutex so a
// Snapshot never sees a half-applied update.
type Counter struct {
	mu        sync.Mutex
	snap      Snapshot
	observers []Observer
}

func New(observers ...Observer) *Counter {
	return &Counter{observers: observers}
}

// AddObserver registers o for all future mutations.
func (c *Counter) AddObserver(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// RecordSuccess records the terminal success of one call. retried reports
// whether the call needed more than one attempt; the retries themselves are
// counted by RecordRetry.
func (c *Counter) RecordSuccess(retried bool) {
	c.apply(EventSuccess, retried, func(s *Snapshot) {
		s.Total++
		s.Success++
	})
}

// RecordFailure records the terminal failure of one call.
func (c *Counter) RecordFailure(retried bool) {
	c.apply(EventFailure, retried, func(s *Snapshot) {
		s.Total++
		s.Fail++
	})
}

// RecordRetry records one retried attempt.
func (c *Counter) RecordRetry() {
	c.apply(EventRetry, true, func(s *Snapshot) {
		s.Retries++
	})
}

// Reset zeroes all counters.
func (c *Counter) Reset() {
	c.apply(EventReset, false, func(s *Snapshot) {
		*s = Snapshot{}
	})
}

// Restore replaces the counters with previously persisted values.
func (c *Counter) Restore(snap Snapshot) {
	c.apply(EventRestore, false, func(s *Snapshot) {
		*s = snap
	})
}

func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Counter) apply(ev Event, retried bool, mutate func(*Snapshot)) {
	c.mu.Lock()
	mutate(&c.snap)
	snap := c.snap
	observers := c.observers
	c.mu.Unlock()

	for _, o := range observers {
		o.Observe(ev, retried, snap)
	}
}
