// Package openaicompat is a universal OpenAI-compatible provider client.
// Works with OpenAI, Grok/xAI, Cerebras, Together, Ollama, and others.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/penscribe/llmgate"
)

// Client sends single generation calls against an OpenAI-compatible API.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ llmgate.ProviderClient = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Client) { p.httpClient = c }
}

// New creates a new OpenAI-compatible client.
func New(name, baseURL string, opts ...Option) *Client {
	p := &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a client for OpenAI.
func NewOpenAI(opts ...Option) *Client {
	return New("openai", "https://api.openai.com/v1", opts...)
}

// NewGrok creates a client for Grok/xAI.
func NewGrok(opts ...Option) *Client {
	return New("grok", "https://api.x.ai/v1", opts...)
}

func (p *Client) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	Choices []struct {
		Message apiMessage `json:"message"`
	} `json:"choices"`
}

// apiError is the error envelope most compatible APIs return.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Generate performs one generation call. Non-2xx responses come back as
// *llmgate.ProviderError carrying the status, the provider's message and any
// Retry-After hint; transport failures are returned as plain errors so the
// classifier can tell the two apart.
func (p *Client) Generate(ctx context.Context, req llmgate.ProviderRequest) (string, error) {
	body := apiRequest{
		Model:       req.Model,
		Messages:    []apiMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llmgate/openaicompat: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("llmgate/openaicompat: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Auth.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llmgate/openaicompat: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", providerError(httpResp)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("llmgate/openaicompat: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmgate/openaicompat: empty choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// providerError builds a raw *llmgate.ProviderError from a non-2xx response.
func providerError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(raw))
	var envelope apiError
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Error.Message != "" {
			message = envelope.Error.Message
		} else if envelope.Message != "" {
			message = envelope.Message
		}
	}
	if message == "" {
		message = resp.Status
	}

	return &llmgate.ProviderError{
		Status:     resp.StatusCode,
		Message:    message,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter handles the delay-seconds form of the header; the HTTP-date
// form is rare on LLM APIs and is ignored.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
