// Package generation wraps one generator call with rate limiting, per-attempt
// timeouts and retries. It does not interpret the response.
package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/temirov/genbatch/internal/events"
	"github.com/temirov/genbatch/internal/llm"
	"github.com/temirov/genbatch/internal/ratelimit"
	"github.com/temirov/genbatch/internal/retry"
)

// Request is a rendered prompt.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Result is the raw response of a successful call.
type Result struct {
	Text     string
	Usage    llm.Usage
	Latency  time.Duration
	Attempts int
}

// GenerationFailed is returned when the call could not be completed.
type GenerationFailed struct {
	Key         string
	Attempts    int
	RateLimited bool
	Cause       error
}

func (e *GenerationFailed) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("generation for %q still rate limited after %d attempts: %v", e.Key, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("generation for %q failed after %d attempts: %v", e.Key, e.Attempts, e.Cause)
}

func (e *GenerationFailed) Unwrap() error { return e.Cause }

// TokenCounter accumulates token usage across items.
type TokenCounter interface {
	AddTokens(n int64)
}

// RetryCounter is told about every scheduled retry.
type RetryCounter interface {
	AddRetry()
}

// Config holds the retry and timeout parameters.
type Config struct {
	Timeout            time.Duration
	MaxRetries         int
	BaseDelay          time.Duration
	RateLimitBaseDelay time.Duration
	MaxRateLimitWaits  int
	MaxDelay           time.Duration
}

// Client issues generation calls. Every attempt goes through the shared limiter.
type Client struct {
	transport llm.Transport
	limiter   *ratelimit.Limiter
	config    Config
	tokens    TokenCounter
	retries   RetryCounter
	events    *events.Stream
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

func WithTokenCounter(counter TokenCounter) Option { return func(c *Client) { c.tokens = counter } }
func WithRetryCounter(counter RetryCounter) Option { return func(c *Client) { c.retries = counter } }
func WithEvents(stream *events.Stream) Option      { return func(c *Client) { c.events = stream } }

// WithSleep replaces the backoff sleep (for testing).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// New creates a client over transport sharing limiter.
func New(transport llm.Transport, limiter *ratelimit.Limiter, config Config, options ...Option) *Client {
	client := &Client{
		transport: transport,
		limiter:   limiter,
		config:    config,
		events:    events.Nop(),
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Generate performs the call for key, retrying per Config.
func (c *Client) Generate(ctx context.Context, key string, request Request) (Result, error) {
	start := time.Now()
	attempts := 0
	call := llm.Call{
		SystemPrompt: request.SystemPrompt,
		UserPrompt:   request.UserPrompt,
		Model:        request.Model,
		Temperature:  request.Temperature,
		MaxTokens:    request.MaxTokens,
	}

	policy := retry.Policy{
		MaxAttempts:        c.config.MaxRetries,
		BaseDelay:          c.config.BaseDelay,
		RateLimitBaseDelay: c.config.RateLimitBaseDelay,
		MaxRateLimitWaits:  c.config.MaxRateLimitWaits,
		MaxDelay:           c.config.MaxDelay,
		DelayFloor:         retryAfter,
		Sleep:              c.sleep,
	}

	reply, err := retry.Do(ctx, policy, Classify, func(ctx context.Context, attempt int) (llm.Reply, error) {
		attempts++
		return c.attempt(ctx, call)
	}, func(scheduled retry.Retry) {
		c.observeRetry(key, scheduled)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Attempts: attempts}, errors.Wrapf(ctx.Err(), "generation for %q interrupted", key)
		}
		failure := &GenerationFailed{Key: key, Attempts: attempts, Cause: err}
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			failure.RateLimited = exhausted.RateLimited
			failure.Cause = exhausted.Cause
		}
		return Result{Attempts: attempts}, failure
	}

	return Result{
		Text:     reply.Text,
		Usage:    reply.Usage,
		Latency:  time.Since(start),
		Attempts: attempts,
	}, nil
}

func (c *Client) attempt(ctx context.Context, call llm.Call) (llm.Reply, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return llm.Reply{}, err
	}

	attemptCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	reply, err := c.transport.Call(attemptCtx, call)
	usage := reply.Usage
	var transportErr *llm.TransportError
	if err != nil && errors.As(err, &transportErr) {
		usage = transportErr.Usage
	}
	if c.tokens != nil {
		c.tokens.AddTokens(int64(usage.TotalTokens))
	}

	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return llm.Reply{}, &llm.TransportError{Retryable: true, Err: errors.Wrapf(err, "attempt timed out after %s", c.config.Timeout)}
	}
	return reply, err
}

func (c *Client) observeRetry(key string, scheduled retry.Retry) {
	if c.retries != nil {
		c.retries.AddRetry()
	}
	event := events.Retry
	if scheduled.Class == retry.RateLimited {
		event = events.RateLimited
	}
	c.events.Item(key, event,
		zap.Int("attempt", scheduled.Attempt+1),
		zap.Duration("backoff", scheduled.Delay),
		zap.String("class", scheduled.Class.String()),
		zap.String("error", scheduled.Err.Error()),
	)
}

// Classify maps transport failures onto retry classes.
func Classify(err error) retry.Class {
	var transportErr *llm.TransportError
	if errors.As(err, &transportErr) {
		switch {
		case transportErr.RateLimited:
			return retry.RateLimited
		case transportErr.Retryable:
			return retry.Transient
		}
		return retry.Permanent
	}
	return retry.Permanent
}

func retryAfter(err error) time.Duration {
	var transportErr *llm.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.RetryAfter
	}
	return 0
}
