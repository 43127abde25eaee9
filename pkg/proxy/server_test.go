package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/copilot-gateway/pkg/copilot"
	"github.com/telekom/copilot-gateway/pkg/credentials"
	"github.com/telekom/copilot-gateway/pkg/metrics"
	"github.com/telekom/copilot-gateway/pkg/ratelimit"
	"github.com/telekom/copilot-gateway/pkg/retry"
	"github.com/telekom/copilot-gateway/pkg/system"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// upstream fakes the Copilot API: chat replies are served in order, the
// last one repeating.
type upstream struct {
	srv *httptest.Server

	mu        sync.Mutex
	replies   []reply
	chatCalls int
	lastAuth  string
	lastBody  string
}

type reply struct {
	status int
	body   string
}

func newUpstream(t *testing.T, replies ...reply) *upstream {
	t.Helper()
	u := &upstream{replies: replies}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat/completions":
			body, _ := io.ReadAll(r.Body)
			u.mu.Lock()
			rep := u.replies[min(u.chatCalls, len(u.replies)-1)]
			u.chatCalls++
			u.lastAuth = r.Header.Get("Authorization")
			u.lastBody = string(body)
			u.mu.Unlock()
			w.WriteHeader(rep.status)
			_, _ = io.WriteString(w, rep.body)
		case "/models":
			_, _ = io.WriteString(w, `{"data":[
				{"id":"gpt-4o","name":"GPT-4o","vendor":"Azure OpenAI","model_picker_category":"versatile"},
				{"id":"claude-sonnet","name":"Claude Sonnet","model_picker_category":"powerful","preview":true},
				{"id":"embed","name":"Embedding","capabilities":{"type":"embeddings"}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) auth() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastAuth
}

func (u *upstream) body() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastBody
}

func (u *upstream) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.chatCalls
}

func retryingPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Enabled = true
	p.Delay = 0
	return p
}

func newTestServer(t *testing.T, u *upstream, mutate func(*Config, *Deps)) (*Server, *credentials.TokenManager) {
	t.Helper()
	client, err := copilot.New(
		copilot.WithAPIBase(u.srv.URL),
		copilot.WithGitHubAPIBase(u.srv.URL+"/gh"),
		copilot.WithToken("gho_test"),
		copilot.WithPolicy(retryingPolicy),
		copilot.WithLogger(system.NewTestLogger()),
	)
	require.NoError(t, err)

	tokens := credentials.NewTokenManagerWithBackend(&credentials.FileBackend{Path: filepath.Join(t.TempDir(), "tokens.json")})
	cfg := Config{
		RateLimit:     ratelimit.Config{},
		AuthRateLimit: ratelimit.Config{},
		Debug:         true,
	}
	deps := Deps{Client: client, Tokens: tokens, Profile: "default"}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	s := NewServer(zaptest.NewLogger(t), cfg, deps)
	t.Cleanup(s.Close)
	return s, tokens
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

const chatBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`

func TestChatCompletionsPassthrough(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{"id":"c1","choices":[{"message":{"role":"assistant","content":"hello"}}]}`})
	s, _ := newTestServer(t, u, nil)

	w := do(s, http.MethodPost, "/v1/chat/completions", chatBody)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"c1","choices":[{"message":{"role":"assistant","content":"hello"}}]}`, w.Body.String())
	assert.Equal(t, "1", w.Header().Get(UpstreamAttemptsHeader))
	assert.NotEmpty(t, w.Header().Get(UpstreamRequestIDHeader))
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	assert.Equal(t, "Bearer gho_test", u.auth())
	assert.JSONEq(t, chatBody, u.body())
}

func TestChatCompletionsRetriesThenRelaysUpstreamFailure(t *testing.T) {
	u := newUpstream(t, reply{http.StatusInternalServerError, `{"error":{"message":"boom"}}`})
	s, _ := newTestServer(t, u, nil)

	w := do(s, http.MethodPost, "/v1/chat/completions", chatBody)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":{"message":"boom"}}`, w.Body.String())
	assert.Equal(t, "4", w.Header().Get(UpstreamAttemptsHeader))
	assert.Equal(t, 4, u.calls())

	snap := s.deps.Client.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Total)
	assert.EqualValues(t, 1, snap.Fail)
	assert.EqualValues(t, 3, snap.Retries)
}

func TestChatCompletionsWrapsNonJSONUpstreamBody(t *testing.T) {
	u := newUpstream(t, reply{http.StatusForbidden, `forbidden`})
	s, _ := newTestServer(t, u, nil)

	w := do(s, http.MethodPost, "/v1/chat/completions", chatBody)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":{"message":"forbidden","type":"upstream_error"}}`, w.Body.String())
}

func TestChatCompletionsTransportFailureIsBadGateway(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `not json`})
	s, _ := newTestServer(t, u, nil)

	w := do(s, http.MethodPost, "/v1/chat/completions", chatBody)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errTypeUpstream, body.Error.Type)
}

func TestChatCompletionsValidation(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{`, want: "request body is not valid JSON"},
		{name: "streaming", body: `{"stream":true,"messages":[{"role":"user","content":"x"}]}`, want: "streaming responses are not supported"},
		{name: "no messages", body: `{"model":"gpt-4o"}`, want: "messages must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, "/v1/chat/completions", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Error.Message)
			assert.Equal(t, errTypeInvalidRequest, body.Error.Type)
		})
	}
	assert.Zero(t, u.calls())
}

func TestChatCompletionsWithoutToken(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, func(_ *Config, d *Deps) {
		client, err := copilot.New(copilot.WithAPIBase(u.srv.URL), copilot.WithLogger(system.NewTestLogger()))
		require.NoError(t, err)
		d.Client = client
	})

	w := do(s, http.MethodPost, "/v1/chat/completions", chatBody)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, u.calls())
	assert.Zero(t, s.deps.Client.Stats().Snapshot().Total)
}

func TestListModels(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, nil)

	w := do(s, http.MethodGet, "/v1/models", "")

	require.Equal(t, http.StatusOK, w.Code)
	var list modelList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 2)
	assert.Equal(t, modelObject{ID: "gpt-4o", Object: "model", OwnedBy: "Azure OpenAI", Name: "GPT-4o", Category: "versatile"}, list.Data[0])
	assert.Equal(t, modelOwner, list.Data[1].OwnedBy)
	assert.True(t, list.Data[1].Preview)
}

func TestStatsAndReset(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{"id":"c1"}`})
	s, _ := newTestServer(t, u, nil)

	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/chat/completions", chatBody).Code)

	w := do(s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.EqualValues(t, 1, got.Total)
	assert.EqualValues(t, 1, got.Success)
	assert.Equal(t, float64(100), got.SuccessRate)
	assert.True(t, got.Retry.Enabled)
	assert.Equal(t, 3, got.Retry.MaxAttempts)

	w = do(s, http.MethodPost, "/stats/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Zero(t, got.Total)
	assert.Zero(t, got.SuccessRate)
}

func TestHealthzAndMetrics(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, nil)

	w := do(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","authenticated":true}`, w.Body.String())

	w = do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "copilot_proxy_requests_total")
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, nil)

	before := testutil.ToFloat64(metrics.ProxyRequests.WithLabelValues("unmatched", "404"))
	w := do(s, http.MethodGet, "/v2/nothing", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), errTypeNotFound)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProxyRequests.WithLabelValues("unmatched", "404")))
}

func TestIncomingRequestIDIsKept(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, nil)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, id, w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(RequestIDHeader))
}

func TestRateLimitAppliesToCompletionsOnly(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, func(c *Config, _ *Deps) {
		c.RateLimit = ratelimit.Config{Rate: 1, Burst: 1}
	})

	before := testutil.ToFloat64(metrics.ProxyRateLimited)
	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/v1/chat/completions", chatBody).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodPost, "/v1/chat/completions", chatBody).Code)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProxyRateLimited))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/healthz", "").Code)
	}
	assert.Equal(t, 1, u.calls())
}

func TestCORSHeaders(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, func(c *Config, _ *Deps) {
		c.CORSOrigins = []string{"http://localhost:5173"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/models", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, func(c *Config, _ *Deps) {
		c.ShutdownTimeout = time.Second
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	u := newUpstream(t, reply{http.StatusOK, `{}`})
	s, _ := newTestServer(t, u, nil)
	s.Close()
	s.Close()
}
