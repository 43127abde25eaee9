package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/telekom/copilot-gateway/pkg/retry"
)

type Message struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type ChatResponse struct {
	ID      string       `json:"id" yaml:"id"`
	Model   string       `json:"model" yaml:"model"`
	Created int64        `json:"created,omitempty" yaml:"created,omitempty"`
	Choices []ChatChoice `json:"choices" yaml:"choices"`
	Usage   *TokenUsage  `json:"usage,omitempty" yaml:"usage,omitempty"`

	// Attempts is the number of HTTP attempts the call needed.
	Attempts  int    `json:"-" yaml:"-"`
	RequestID string `json:"-" yaml:"-"`
}

type ChatChoice struct {
	Index        int     `json:"index" yaml:"index"`
	Message      Message `json:"message" yaml:"message"`
	FinishReason string  `json:"finish_reason,omitempty" yaml:"finishReason,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens" yaml:"promptTokens"`
	CompletionTokens int `json:"completion_tokens" yaml:"completionTokens"`
	TotalTokens      int `json:"total_tokens" yaml:"totalTokens"`
}

// Text returns the content of the first choice.
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Chat sends a chat completion with the configured retry policy. Upstream
// failures are returned as *retry.ExecutionError.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Stream {
		return nil, errors.New("streaming completions are not supported")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.ChatRaw(ctx, body)
	if err != nil {
		return nil, err
	}
	var out ChatResponse
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	out.Attempts = resp.Attempts
	out.RequestID = resp.RequestID
	return &out, nil
}

// ChatRaw posts body to /chat/completions unchanged and returns the raw
// upstream response. It is the passthrough used by the proxy.
func (c *Client) ChatRaw(ctx context.Context, body []byte) (*retry.Response, error) {
	if _, err := c.token(); err != nil {
		return nil, err
	}
	header := http.Header{}
	c.setCopilotHeaders(header)
	header.Set("Content-Type", "application/json")

	policy := c.policy()
	c.log.Debugw("Sending chat completion", "retryEnabled", policy.Enabled, "budget", policy.Budget())
	return c.exec.Execute(ctx, retry.Request{
		Method: http.MethodPost,
		URL:    c.apiURL("chat/completions"),
		Header: header,
		Body:   body,
	}, policy)
}
