package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/telekom/copilot-gateway/pkg/retry"
	"github.com/telekom/copilot-gateway/pkg/stats"
)

const (
	DefaultAPIBase       = "https://api.githubcopilot.com"
	DefaultGitHubAPIBase = "https://api.github.com"

	integrationID       = "vscode-chat"
	editorVersion       = "vscode/1.96.0"
	editorPluginVersion = "copilot-chat/0.24.0"
	githubAPIVersion    = "2024-11-01"
)

// ErrNoToken is returned before any request is made when no access token is
// available.
var ErrNoToken = errors.New("no Copilot access token configured")

type Client struct {
	apiBase    *url.URL
	githubBase *url.URL
	source     oauth2.TokenSource
	http       *http.Client
	exec       *retry.Executor
	execOpts   []retry.ExecutorOption
	counter    *stats.Counter
	policy     func() retry.Policy
	userAgent  string
	log        *zap.SugaredLogger
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		http:      &http.Client{Timeout: 2 * time.Minute},
		userAgent: "copilotctl",
		policy:    retry.DefaultPolicy,
		log:       zap.S(),
	}
	if err := WithAPIBase(DefaultAPIBase)(c); err != nil {
		return nil, err
	}
	if err := WithGitHubAPIBase(DefaultGitHubAPIBase)(c); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.counter == nil {
		c.counter = stats.New()
	}
	// Chat attempts authenticate through the same bearer transport as the
	// catalog calls.
	execOpts := append([]retry.ExecutorOption{
		retry.WithHTTPClient(c.authClient("")),
		retry.WithLogger(c.log),
	}, c.execOpts...)
	c.exec = retry.NewExecutor(c.counter, execOpts...)
	return c, nil
}

func WithAPIBase(base string) Option {
	return func(c *Client) error {
		parsed, err := parseBase(base)
		if err != nil {
			return fmt.Errorf("invalid API base: %w", err)
		}
		c.apiBase = parsed
		return nil
	}
}

func WithGitHubAPIBase(base string) Option {
	return func(c *Client) error {
		parsed, err := parseBase(base)
		if err != nil {
			return fmt.Errorf("invalid GitHub API base: %w", err)
		}
		c.githubBase = parsed
		return nil
	}
}

// WithTokenSource reads the access token on every request.
func WithTokenSource(src oauth2.TokenSource) Option {
	return func(c *Client) error {
		c.source = src
		return nil
	}
}

// WithToken uses a fixed access token.
func WithToken(token string) Option {
	return func(c *Client) error {
		if strings.TrimSpace(token) == "" {
			c.source = nil
			return nil
		}
		c.source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "bearer"})
		return nil
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.http = hc
		return nil
	}
}

// WithStats shares counter with other clients, typically one restored from
// the settings file.
func WithStats(counter *stats.Counter) Option {
	return func(c *Client) error {
		c.counter = counter
		return nil
	}
}

// WithPolicy is consulted on every Chat call so settings changes apply to
// the next request.
func WithPolicy(policy func() retry.Policy) Option {
	return func(c *Client) error {
		if policy == nil {
			return errors.New("policy func is nil")
		}
		c.policy = policy
		return nil
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) error {
		if log != nil {
			c.log = log
		}
		return nil
	}
}

// WithExecutorOptions is applied after the client's own executor options.
// Overriding the HTTP client drops the bearer transport.
func WithExecutorOptions(opts ...retry.ExecutorOption) Option {
	return func(c *Client) error {
		c.execOpts = append(c.execOpts, opts...)
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

// Stats returns the counter updated by Chat and ChatRaw.
func (c *Client) Stats() *stats.Counter {
	return c.counter
}

func (c *Client) Policy() retry.Policy {
	return c.policy()
}

// HasToken reports whether a token can currently be obtained.
func (c *Client) HasToken() bool {
	_, err := c.token()
	return err == nil
}

func (c *Client) token() (*oauth2.Token, error) {
	if c.source == nil {
		return nil, ErrNoToken
	}
	tok, err := c.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoToken, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	return tok, nil
}

// authClient wraps the base client with oauth2.Transport. scheme overrides
// the token type, e.g. "token" for the GitHub internal endpoints.
func (c *Client) authClient(scheme string) *http.Client {
	hc := *c.http
	hc.Transport = &oauth2.Transport{
		Source: &schemeSource{client: c, scheme: scheme},
		Base:   c.http.Transport,
	}
	return &hc
}

type schemeSource struct {
	client *Client
	scheme string
}

func (s *schemeSource) Token() (*oauth2.Token, error) {
	tok, err := s.client.token()
	if err != nil {
		return nil, err
	}
	if s.scheme == "" {
		return tok, nil
	}
	out := *tok
	out.TokenType = s.scheme
	return &out, nil
}

func (c *Client) setCopilotHeaders(h http.Header) {
	h.Set("Accept", "application/json")
	h.Set("Copilot-Integration-Id", integrationID)
	h.Set("Editor-Version", editorVersion)
	h.Set("Editor-Plugin-Version", editorPluginVersion)
	if c.userAgent != "" {
		h.Set("User-Agent", c.userAgent)
	}
}

func (c *Client) apiURL(endpoint string) string {
	return joinURL(c.apiBase, endpoint)
}

func (c *Client) githubURL(endpoint string) string {
	return joinURL(c.githubBase, endpoint)
}

// get performs a single authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, hc *http.Client, fullURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var apiErr struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Message)
	if msg == "" {
		msg = errorMessage(apiErr.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}

// errorMessage accepts both "error": "text" and "error": {"message": "text"}.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return strings.TrimSpace(obj.Message)
	}
	return ""
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

func parseBase(base string) (*url.URL, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("URL is empty")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", base)
	}
	return parsed, nil
}

func joinURL(base *url.URL, endpoint string) string {
	full := *base
	full.Path = path.Join("/", base.Path, endpoint)
	return full.String()
}
