// Package mock provides a scriptable ProviderClient for testing.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/penscribe/llmgate"
)

// Client is a mock provider for testing.
type Client struct {
	name      string
	text      string
	latency   time.Duration
	staticErr error
	callCount atomic.Int64

	mu      sync.Mutex
	script  []error // per-call errors, nil entry means success
	respond func(llmgate.ProviderRequest) (string, error)

	lastReq llmgate.ProviderRequest
	hasLast bool
}

var _ llmgate.ProviderClient = (*Client)(nil)

// Option configures a mock Client.
type Option func(*Client)

// New creates a mock provider with the given options.
func New(opts ...Option) *Client {
	p := &Client{
		name: "mock",
		text: "Hello from mock provider",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Client) { p.name = name }
}

// WithText sets the text returned on success.
func WithText(text string) Option {
	return func(p *Client) { p.text = text }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Client) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Client) { p.staticErr = err }
}

// WithScript sets per-call outcomes: the Nth call returns script[N] when
// non-nil, success otherwise. Calls beyond the script succeed.
func WithScript(script ...error) Option {
	return func(p *Client) { p.script = script }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(llmgate.ProviderRequest) (string, error)) Option {
	return func(p *Client) { p.respond = fn }
}

func (p *Client) Name() string { return p.name }

// Generate returns the scripted outcome for this call.
func (p *Client) Generate(ctx context.Context, req llmgate.ProviderRequest) (string, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	count := p.callCount.Add(1)

	p.mu.Lock()
	p.lastReq = req
	p.hasLast = true
	var scripted error
	if n := int(count) - 1; n < len(p.script) {
		scripted = p.script[n]
	}
	respond := p.respond
	p.mu.Unlock()

	if p.staticErr != nil {
		return "", p.staticErr
	}
	if scripted != nil {
		return "", scripted
	}
	if respond != nil {
		return respond(req)
	}
	return p.text, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Client) CallCount() int64 { return p.callCount.Load() }

// LastRequest returns the most recent request, if any.
func (p *Client) LastRequest() (llmgate.ProviderRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastReq, p.hasLast
}
