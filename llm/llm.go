// Package llm sends prompts to a hosted text-generation endpoint.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/teilomillet/sumchat/config"
	"github.com/teilomillet/sumchat/providers"
	"github.com/teilomillet/sumchat/utils"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// DefaultTimeout bounds a call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Client performs single-attempt generation calls through a Provider.
// It is safe for concurrent use.
type Client struct {
	Provider providers.Provider
	client   *http.Client
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   utils.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client is used as
// is; the call timeout is applied through the request context.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTimeout bounds each call, connection and body read included.
// Zero or negative keeps DefaultTimeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit caps outbound calls at perSecond with a burst of one.
// Zero or negative means unlimited.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		c.limiter = NewLimiter(perSecond)
	}
}

// WithLimiter makes the client wait on l, which may be shared with other
// clients calling the same endpoint.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// NewLimiter returns a limiter allowing perSecond calls with a burst of one.
// Zero or negative means unlimited.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// NewClient creates a Client for provider.
func NewClient(provider providers.Provider, logger utils.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = utils.NopLogger{}
	}
	c := &Client{
		Provider: provider,
		client:   &http.Client{},
		timeout:  DefaultTimeout,
		limiter:  NewLimiter(0),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	provider.SetLogger(logger)
	return c
}

// NewLLM builds a Client from cfg, authenticating with apiKey. The registry
// resolves cfg.Provider; nil means the default registry. opts are applied
// after the timeout and rate limit taken from cfg.
func NewLLM(cfg *config.Config, apiKey string, logger utils.Logger, registry *providers.ProviderRegistry, opts ...ClientOption) (*Client, error) {
	if registry == nil {
		registry = providers.GetDefaultRegistry()
	}

	provider, err := registry.Get(cfg.Provider, apiKey, cfg.EndpointURL, cfg.ExtraHeaders)
	if err != nil {
		return nil, NewLLMError(ErrorTypeProvider, "failed to create provider", err)
	}

	clientOpts := append([]ClientOption{
		WithTimeout(cfg.Timeout),
		WithRateLimit(cfg.RateLimit),
	}, opts...)
	return NewClient(provider, logger, clientOpts...), nil
}

// Generate sends prompt with params and returns the generated text. There
// are no retries; every failure is returned as an *LLMError.
func (c *Client) Generate(ctx context.Context, prompt string, params providers.Parameters) (string, error) {
	if err := Validate(&params); err != nil {
		return "", NewLLMError(ErrorTypeInvalidInput, "invalid generation parameters", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", NewLLMError(ErrorTypeRateLimit, "rate limiter wait aborted", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody, err := c.Provider.PrepareRequest(prompt, params)
	if err != nil {
		return "", NewLLMError(ErrorTypeRequest, "failed to prepare request", err)
	}
	c.logger.Debug("Request body", "provider", c.Provider.Name(), "bytes", len(reqBody))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Provider.Endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return "", NewLLMError(ErrorTypeRequest, "failed to create request", err)
	}
	for k, v := range c.Provider.Headers() {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", NewLLMError(ErrorTypeTransport, "failed to send request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", NewLLMError(ErrorTypeTransport, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("API error", "provider", c.Provider.Name(), "status", resp.StatusCode, "body", truncate(string(body), 512))
		return "", statusError(resp.StatusCode)
	}

	result, err := c.Provider.ParseResponse(body)
	if err != nil {
		if errors.Is(err, providers.ErrMalformedResponse) {
			return "", NewLLMError(ErrorTypeMalformedResponse, "unexpected response shape", err)
		}
		return "", NewLLMError(ErrorTypeResponse, "failed to parse response", err)
	}

	c.logger.Debug("Text generated successfully", "provider", c.Provider.Name(), "elapsed", time.Since(start), "length", len(result))
	return result, nil
}

func statusError(status int) *LLMError {
	errType := ErrorTypeAPI
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		errType = ErrorTypeAuthentication
	case http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	}
	e := NewLLMError(errType, fmt.Sprintf("API error: status code %d", status), nil)
	e.StatusCode = status
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
