package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIVersion        = "2024-10"
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 500 * time.Millisecond
	DefaultRateLimitFallback = 2 * time.Second
	DefaultTimeout           = 30 * time.Second

	accessTokenHeader = "X-Shopify-Access-Token"
	maxErrorBodyBytes = 4096
)

// ClientConfig describes how to reach one shop's Admin GraphQL endpoint.
type ClientConfig struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	// Endpoint overrides the URL derived from ShopDomain and APIVersion.
	Endpoint string

	MaxRetries        int
	InitialBackoff    time.Duration
	RateLimitFallback time.Duration
	Timeout           time.Duration
	// RequestsPerSecond paces outgoing attempts. Zero disables pacing.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Sleep      func(ctx context.Context, duration time.Duration) error
	Logger     *zap.Logger
}

// Response is the GraphQL envelope returned by the Admin API.
type Response struct {
	Data       json.RawMessage `json:"data"`
	Errors     []GraphQLError  `json:"errors,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

// Decode unmarshals the data member into target.
func (r *Response) Decode(target any) error {
	if r == nil || len(r.Data) == 0 || string(r.Data) == "null" {
		return &RemoteAPIError{Kind: KindMalformed, Message: "response carried no data"}
	}
	if err := json.Unmarshal(r.Data, target); err != nil {
		return &RemoteAPIError{Kind: KindMalformed, Message: "decode data", cause: err}
	}
	return nil
}

// Executor runs GraphQL documents against a remote store.
type Executor interface {
	Execute(ctx context.Context, query string, variables map[string]any) (*Response, error)
}

// Client is a retrying GraphQL client for a single shop.
type Client struct {
	endpoint          string
	accessToken       string
	maxRetries        int
	initialBackoff    time.Duration
	rateLimitFallback time.Duration
	httpClient        *http.Client
	limiter           *rate.Limiter
	sleep             func(ctx context.Context, duration time.Duration) error
	logger            *zap.Logger
}

// NewClient validates the configuration and applies defaults.
func NewClient(cfg ClientConfig) (*Client, error) {
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("shopify: access token required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		shopDomain := strings.TrimSpace(cfg.ShopDomain)
		if shopDomain == "" {
			return nil, fmt.Errorf("shopify: shop domain required")
		}
		apiVersion := strings.TrimSpace(cfg.APIVersion)
		if apiVersion == "" {
			apiVersion = DefaultAPIVersion
		}
		endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, apiVersion)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = DefaultInitialBackoff
	}
	rateLimitFallback := cfg.RateLimitFallback
	if rateLimitFallback <= 0 {
		rateLimitFallback = DefaultRateLimitFallback
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(math.Ceil(cfg.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint:          endpoint,
		accessToken:       accessToken,
		maxRetries:        maxRetries,
		initialBackoff:    initialBackoff,
		rateLimitFallback: rateLimitFallback,
		httpClient:        httpClient,
		limiter:           limiter,
		sleep:             sleep,
		logger:            logger,
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Execute posts the document and returns the envelope of the first successful attempt.
// 5xx, network failures and 429 responses share one retry budget; GraphQL errors on a
// 2xx response and other 4xx responses fail immediately.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (*Response, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("shopify: encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		response, err := c.attempt(ctx, payload)
		if err == nil {
			RequestsTotal.WithLabelValues("success").Inc()
			return response, nil
		}

		var remoteErr *RemoteAPIError
		if !errors.As(err, &remoteErr) {
			RequestsTotal.WithLabelValues("canceled").Inc()
			return nil, err
		}
		RequestsTotal.WithLabelValues(string(remoteErr.Kind)).Inc()
		lastErr = err
		if !remoteErr.Retryable() || attempt == c.maxRetries {
			break
		}

		delay := c.backoff(attempt)
		if remoteErr.Kind == KindRateLimited {
			delay = remoteErr.RetryAfter
		}
		RetriesTotal.WithLabelValues(string(remoteErr.Kind)).Inc()
		c.logger.Warn("shopify request retry",
			zap.String("kind", string(remoteErr.Kind)),
			zap.Int("status", remoteErr.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, payload []byte) (*Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("shopify: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set(accessTokenHeader, c.accessToken)

	started := time.Now()
	response, err := c.httpClient.Do(request)
	RequestDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &RemoteAPIError{Kind: KindTransport, Message: err.Error(), cause: err}
	}
	defer response.Body.Close()

	switch status := response.StatusCode; {
	case status == http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(response.Body, maxErrorBodyBytes))
		return nil, &RemoteAPIError{
			Kind:       KindRateLimited,
			StatusCode: status,
			Message:    "too many requests",
			RetryAfter: parseRetryAfter(response.Header.Get("Retry-After"), c.rateLimitFallback),
		}
	case status >= http.StatusInternalServerError:
		return nil, &RemoteAPIError{Kind: KindTransport, StatusCode: status, Message: readErrorBody(response.Body)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &RemoteAPIError{Kind: KindAuth, StatusCode: status, Message: readErrorBody(response.Body)}
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return nil, &RemoteAPIError{Kind: KindClient, StatusCode: status, Message: readErrorBody(response.Body)}
	}

	var envelope Response
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return nil, &RemoteAPIError{Kind: KindMalformed, StatusCode: response.StatusCode, Message: "decode envelope", cause: err}
	}
	if len(envelope.Errors) > 0 {
		remoteErr := newGraphQLError(envelope.Errors)
		remoteErr.StatusCode = response.StatusCode
		return nil, remoteErr
	}
	return &envelope, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.initialBackoff * time.Duration(1<<attempt)
}

func parseRetryAfter(header string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(header)
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
		return 0
	}
	return fallback
}

func readErrorBody(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
