package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rankforge/api/internal/logger"
	"github.com/rankforge/api/internal/observability"
)

// Normalised finish reasons
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishSafety = "safety"
	FinishOther  = "other"
)

// minBlockedText is the amount of text a safety-stopped response must still
// carry to be used.
const minBlockedText = 200

// ProviderConfig selects the provider and model for a call chain. The zero
// value means the client defaults.
type ProviderConfig struct {
	Provider string
	Model    string
}

// Options tune a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
	Provider    string
	Model       string
}

// With returns opts with the provider selection filled in where opts leaves it empty.
func (pc ProviderConfig) With(opts Options) Options {
	if opts.Provider == "" {
		opts.Provider = pc.Provider
	}
	if opts.Model == "" {
		opts.Model = pc.Model
	}
	return opts
}

// Request is what a Provider receives.
type Request struct {
	Prompt string
	System string
	Options
}

// Response is a completed generation.
type Response struct {
	Text         string
	FinishReason string
	PromptTokens int
	OutputTokens int
	Truncated    bool
}

// Provider is one model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Generator is the text generation contract consumed by the pipeline stages.
type Generator interface {
	GenerateTextWithMeta(ctx context.Context, prompt, system string, opts Options) (*Response, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client dispatches generation calls to registered providers with retry.
type Client struct {
	providers       map[string]Provider
	defaultProvider string
	maxRetries      int
	backoffBase     time.Duration
	backoffCap      time.Duration
	sleep           Sleeper
	log             *logger.Logger
}

type ClientOption func(*Client)

// WithRetry overrides the retry budget.
func WithRetry(maxRetries int, base, ceiling time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoffBase = base
		c.backoffCap = ceiling
	}
}

func WithSleeper(s Sleeper) ClientOption {
	return func(c *Client) { c.sleep = s }
}

func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient registers providers; the first one is the default unless
// defaultProvider names another.
func NewClient(defaultProvider string, providers []Provider, opts ...ClientOption) *Client {
	c := &Client{
		providers:   make(map[string]Provider, len(providers)),
		maxRetries:  3,
		backoffBase: time.Second,
		backoffCap:  8 * time.Second,
		sleep:       contextSleep,
		log:         logger.Nop(),
	}
	for _, p := range providers {
		c.providers[p.Name()] = p
		if c.defaultProvider == "" {
			c.defaultProvider = p.Name()
		}
	}
	if _, ok := c.providers[defaultProvider]; ok {
		c.defaultProvider = defaultProvider
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Providers lists the registered provider names.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for n := range c.providers {
		names = append(names, n)
	}
	return names
}

func (c *Client) provider(name string) (Provider, error) {
	if name == "" {
		name = c.defaultProvider
	}
	p, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// GenerateText returns only the text of a generation.
func (c *Client) GenerateText(ctx context.Context, prompt, system string, opts Options) (string, error) {
	resp, err := c.GenerateTextWithMeta(ctx, prompt, system, opts)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// GenerateTextWithMeta runs one generation, retrying transient failures with
// exponential backoff.
func (c *Client) GenerateTextWithMeta(ctx context.Context, prompt, system string, opts Options) (*Response, error) {
	p, err := c.provider(opts.Provider)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", opts.Model),
		attribute.Int("llm.max_tokens", opts.MaxTokens),
	)

	req := Request{Prompt: prompt, System: system, Options: opts}
	for attempt := 0; ; attempt++ {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			resp, err = normalise(resp)
		}
		if err == nil {
			span.SetAttributes(
				attribute.String("llm.finish_reason", resp.FinishReason),
				attribute.Int("llm.output_tokens", resp.OutputTokens),
			)
			return resp, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) || attempt >= c.maxRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if attempt > 0 {
				return nil, fmt.Errorf("%s: giving up after %d retries: %w", p.Name(), attempt, err)
			}
			return nil, err
		}

		wait := c.backoff(attempt, err)
		c.log.Warn("model call failed, retrying",
			"provider", p.Name(),
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", wait.String(),
			"error", err,
		)
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, serr
		}
	}
}

// backoff is base*2^attempt capped, raised to the provider's Retry-After if longer.
func (c *Client) backoff(attempt int, err error) time.Duration {
	d := c.backoffBase << attempt
	if d <= 0 || d > c.backoffCap {
		d = c.backoffCap
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > d {
		d = pe.RetryAfter
		if d > c.backoffCap {
			d = c.backoffCap
		}
	}
	return d
}

func normalise(resp *Response) (*Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty response from provider")
	}
	resp.FinishReason = NormaliseFinishReason(resp.FinishReason)
	if resp.FinishReason == FinishSafety && len(strings.TrimSpace(resp.Text)) < minBlockedText {
		return nil, ErrContentBlocked
	}
	resp.Truncated = resp.Truncated || resp.FinishReason == FinishLength
	return resp, nil
}

// NormaliseFinishReason maps provider-specific stop reasons onto the four
// values used by the pipeline.
func NormaliseFinishReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "", "stop", "end_turn", "stop_sequence", "finish_reason_stop", "eos":
		return FinishStop
	case "length", "max_tokens", "max_output_tokens", "model_length":
		return FinishLength
	case "safety", "content_filter", "recitation", "blocklist", "prohibited_content", "spii":
		return FinishSafety
	default:
		return FinishOther
	}
}
