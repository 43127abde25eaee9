// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/copilot-gateway/pkg/stats"
	"github.com/telekom/copilot-gateway/pkg/telemetry"
)

// RequestIDHeader carries the identifier shared by all attempts of one call.
const RequestIDHeader = "X-Request-Id"

const defaultTimeout = 2 * time.Minute

// Request describes a downstream call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the successful result of Execute. Body always holds valid JSON.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	RequestID  string
}

// Decode unmarshals the payload into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Executor runs downstream calls under a Policy. One Executor may be shared
// by concurrent callers; all of them update the same counter.
type Executor struct {
	http   *http.Client
	stats  *stats.Counter
	log    *zap.SugaredLogger
	tracer trace.Tracer
}

type ExecutorOption func(*Executor)

// WithHTTPClient sets the client used for every attempt. Authentication is
// expected to live in its transport.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.http = c
		}
	}
}

func WithLogger(log *zap.SugaredLogger) ExecutorOption {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = t
	}
}

func NewExecutor(counter *stats.Counter, opts ...ExecutorOption) *Executor {
	if counter == nil {
		counter = stats.New()
	}
	e := &Executor{
		http:  &http.Client{Timeout: defaultTimeout},
		stats: counter,
		log:   zap.S(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns the counter this executor feeds.
func (e *Executor) Stats() *stats.Counter {
	return e.stats
}

// Execute performs req with up to policy.Budget()+1 sequential attempts.
// Exactly one terminal success or failure is recorded per call, plus one
// retry per HTTP-level failure that was retried. Transport failures are
// retried within the budget regardless of the policy switches.
func (e *Executor) Execute(ctx context.Context, req Request, policy Policy) (*Response, error) {
	requestID := uuid.NewString()
	tracer := e.tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	ctx, span := tracer.Start(ctx, "copilot.execute", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL),
			attribute.String("copilot.request_id", requestID),
			attribute.Bool("copilot.retry.enabled", policy.Enabled),
			attribute.Int("copilot.retry.budget", policy.Budget()),
		))
	defer span.End()

	run := &attemptRun{
		policy: policy,
		budget: policy.Budget(),
		stats:  e.stats,
		log:    e.log.With("requestID", requestID, "method", req.Method, "url", req.URL),
		span:   span,
	}

	var body any
	if req.Body != nil {
		body = req.Body
	}
	rreq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		e.stats.RecordFailure(false)
		return nil, &ExecutionError{Err: fmt.Errorf("build request: %w", err)}
	}
	for key, values := range req.Header {
		for _, v := range values {
			rreq.Header.Add(key, v)
		}
	}
	rreq.Header.Set(RequestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(rreq.Header))

	client := &retryablehttp.Client{
		HTTPClient:     e.http,
		Logger:         leveledLogger{run.log},
		RetryWaitMin:   policy.Delay,
		RetryWaitMax:   policy.Delay,
		RetryMax:       run.budget,
		CheckRetry:     run.check,
		Backoff:        run.backoff,
		RequestLogHook: run.logAttempt,
		ErrorHandler:   retryablehttp.PassthroughErrorHandler,
	}

	resp, doErr := client.Do(rreq)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	retried := run.attempts > 1
	span.SetAttributes(attribute.Int("copilot.attempts", run.attempts))
	if run.status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", run.status))
	}

	switch {
	case doErr != nil:
		e.stats.RecordFailure(retried)
		span.RecordError(doErr)
		span.SetStatus(codes.Error, "transport failure")
		run.log.Warnw("Request failed", "attempts", run.attempts, "error", doErr)
		return nil, &ExecutionError{
			StatusCode: run.status,
			Err:        doErr,
			Attempts:   run.attempts,
			Outcomes:   run.outcomes,
		}
	case run.succeeded:
		e.stats.RecordSuccess(retried)
		run.log.Debugw("Request succeeded", "attempts", run.attempts, "status", run.status)
		return &Response{
			StatusCode: run.status,
			Header:     run.header,
			Body:       run.body,
			Attempts:   run.attempts,
			RequestID:  requestID,
		}, nil
	default:
		e.stats.RecordFailure(retried)
		span.SetStatus(codes.Error, http.StatusText(run.status))
		run.log.Warnw("Request failed", "attempts", run.attempts, "status", run.status)
		return nil, &ExecutionError{
			StatusCode: run.status,
			Body:       run.body,
			Attempts:   run.attempts,
			Outcomes:   run.outcomes,
		}
	}
}

// attemptRun is the per-call state shared by the retryablehttp hooks. The
// hooks run sequentially on the calling goroutine.
type attemptRun struct {
	policy Policy
	budget int
	stats  *stats.Counter
	log    *zap.SugaredLogger
	span   trace.Span

	attempts  int
	succeeded bool
	status    int
	header    http.Header
	body      []byte
	outcomes  []Outcome
}

// check classifies one attempt and decides whether another one follows.
func (r *attemptRun) check(ctx context.Context, resp *http.Response, err error) (bool, error) {
	attempt := r.attempts
	r.attempts++
	r.succeeded = false
	r.status, r.header, r.body = 0, nil, nil

	if ctxErr := ctx.Err(); ctxErr != nil {
		r.outcomes = append(r.outcomes, Outcome{Attempt: attempt, Err: ctxErr})
		return false, ctxErr
	}
	if err != nil {
		return r.transportFailure(attempt, 0, err)
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	r.status = resp.StatusCode
	r.header = resp.Header
	r.body = body
	if readErr != nil {
		return r.transportFailure(attempt, resp.StatusCode, fmt.Errorf("read response: %w", readErr))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !json.Valid(body) {
			return r.transportFailure(attempt, resp.StatusCode, ErrInvalidPayload)
		}
		r.succeeded = true
		r.outcomes = append(r.outcomes, Outcome{Attempt: attempt, StatusCode: resp.StatusCode})
		return false, nil
	}

	retry := r.policy.ShouldRetry(resp.StatusCode, body) && attempt < r.budget
	r.outcomes = append(r.outcomes, Outcome{Attempt: attempt, StatusCode: resp.StatusCode, Retried: retry})
	if retry {
		r.stats.RecordRetry()
		r.span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt+1),
			attribute.Int("http.response.status_code", resp.StatusCode),
		))
		r.log.Warnw("Retrying request", "attempt", attempt+1, "maxAttempts", r.budget, "status", resp.StatusCode)
	}
	return retry, nil
}

func (r *attemptRun) transportFailure(attempt, status int, err error) (bool, error) {
	retry := attempt < r.budget
	r.outcomes = append(r.outcomes, Outcome{Attempt: attempt, StatusCode: status, Err: err, Retried: retry})
	if retry {
		r.span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt+1),
			attribute.String("error", err.Error()),
		))
		r.log.Warnw("Retrying request after transport error", "attempt", attempt+1, "maxAttempts", r.budget, "error", err)
		return true, nil
	}
	return false, err
}

func (r *attemptRun) backoff(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
	if r.policy.Delay < 0 {
		return 0
	}
	return r.policy.Delay
}

func (r *attemptRun) logAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	r.log.Debugw("Sending request", "attempt", attempt, "host", req.URL.Host)
}

// leveledLogger routes retryablehttp's own logging into zap. Its per-attempt
// error lines are demoted to warnings since the executor reports the
// terminal outcome itself.
type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
