/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/copilot-gateway/pkg/stats"
	"github.com/telekom/copilot-gateway/pkg/system"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func retryingPolicy(attempts int) Policy {
	return Policy{
		Enabled:           true,
		MaxAttempts:       attempts,
		Delay:             time.Millisecond,
		RetryOn400:        true,
		RetryOn429:        true,
		RetryOn5xx:        true,
		RetryOnModelError: true,
	}
}

func newTestExecutor(counter *stats.Counter, opts ...ExecutorOption) *Executor {
	opts = append([]ExecutorOption{WithLogger(system.NewTestLogger())}, opts...)
	return NewExecutor(counter, opts...)
}

func TestExecutePersistent500(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	counter := stats.New()
	exec := newTestExecutor(counter)

	resp, err := exec.Execute(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)}, retryingPolicy(3))
	require.Error(t, err)
	require.Nil(t, resp)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, http.StatusInternalServerError, execErr.StatusCode)
	assert.Equal(t, "upstream exploded", string(execErr.Body))
	assert.Equal(t, 4, execErr.Attempts)
	assert.False(t, execErr.Transport())
	assert.Len(t, execErr.Outcomes, 4)
	assert.False(t, execErr.Outcomes[3].Retried)

	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Equal(t, stats.Snapshot{Total: 1, Success: 0, Fail: 1, Retries: 3}, counter.Snapshot())
}

func TestExecuteSucceedsOnSecondAttempt(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var bodies []string
	var requestIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		requestIDs = append(requestIDs, r.Header.Get(RequestIDHeader))
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1"}`))
	}))
	defer srv.Close()

	counter := stats.New()
	exec := newTestExecutor(counter)

	payload := []byte(`{"model":"gpt-4o"}`)
	resp, err := exec.Execute(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: payload}, retryingPolicy(3))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "chatcmpl-1", out.ID)

	assert.Equal(t, []string{string(payload), string(payload)}, bodies)
	require.Len(t, requestIDs, 2)
	assert.NotEmpty(t, requestIDs[0])
	assert.Equal(t, requestIDs[0], requestIDs[1])
	assert.Equal(t, resp.RequestID, requestIDs[0])

	assert.Equal(t, stats.Snapshot{Total: 1, Success: 1, Retries: 1}, counter.Snapshot())
}

func TestExecuteDisabledPolicyMakesOneAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	counter := stats.New()
	policy := retryingPolicy(5)
	policy.Enabled = false

	_, err := newTestExecutor(counter).Execute(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, policy)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, stats.Snapshot{Total: 1, Fail: 1}, counter.Snapshot())
}

func TestExecuteNonRetryableStatusStopsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad credentials"))
	}))
	defer srv.Close()

	counter := stats.New()
	_, err := newTestExecutor(counter).Execute(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, retryingPolicy(3))

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, http.StatusUnauthorized, execErr.StatusCode)
	assert.Equal(t, 1, execErr.Attempts)
	assert.Contains(t, execErr.Error(), "bad credentials")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, stats.Snapshot{Total: 1, Fail: 1}, counter.Snapshot())
}

func TestExecuteModelErrorBodyIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"The requested Model is not available"}}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	counter := stats.New()
	policy := Policy{Enabled: true, MaxAttempts: 3, RetryOnModelError: true}
	resp, err := newTestExecutor(counter).Execute(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)}, policy)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, stats.Snapshot{Total: 1, Success: 1, Retries: 2}, counter.Snapshot())
}

func TestExecuteTransportErrorsIgnoreSwitches(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
			Request:    r,
		}, nil
	})

	counter := stats.New()
	policy := Policy{Enabled: true, MaxAttempts: 3}
	exec := newTestExecutor(counter, WithHTTPClient(&http.Client{Transport: transport}))

	resp, err := exec.Execute(context.Background(), Request{Method: http.MethodGet, URL: "http://copilot.invalid/models"}, policy)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, stats.Snapshot{Total: 1, Success: 1}, counter.Snapshot())
}

func TestExecuteTransportErrorExhaustsBudget(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("dial tcp: connection refused")
	})

	counter := stats.New()
	exec := newTestExecutor(counter, WithHTTPClient(&http.Client{Transport: transport}))

	_, err := exec.Execute(context.Background(), Request{Method: http.MethodGet, URL: "http://copilot.invalid/"}, retryingPolicy(2))
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, execErr.Transport())
	assert.Equal(t, 3, execErr.Attempts)
	assert.Contains(t, execErr.Error(), "connection refused")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, stats.Snapshot{Total: 1, Fail: 1}, counter.Snapshot())
}

func TestExecuteInvalidJSONIsTransportClass(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	counter := stats.New()
	_, err := newTestExecutor(counter).Execute(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, retryingPolicy(1))

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, 2, execErr.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, stats.Snapshot{Total: 1, Fail: 1}, counter.Snapshot())
}

func TestExecuteHonoursContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	counter := stats.New()
	policy := retryingPolicy(5)
	policy.Delay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestExecutor(counter).Execute(ctx, Request{Method: http.MethodGet, URL: srv.URL}, policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)

	snap := counter.Snapshot()
	assert.Equal(t, uint64(1), snap.Total)
	assert.Equal(t, uint64(1), snap.Fail)
	assert.Equal(t, uint64(1), snap.Retries)
}

func TestExecuteConcurrentCallsShareCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	counter := stats.New()
	exec := newTestExecutor(counter)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Execute(context.Background(), Request{Method: http.MethodGet, URL: srv.URL}, DefaultPolicy())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, stats.Snapshot{Total: 20, Success: 20}, counter.Snapshot())
}
