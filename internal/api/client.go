// Package api is the HTTP transport to the Unocoin REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/exchange"
	"unocoin-client/internal/logging"
	"unocoin-client/internal/resilience"
	"unocoin-client/internal/security"
)

// Base URLs.
const (
	ProductionURL = "https://www.unocoin.com/"
	SandboxURL    = "https://sandbox.unocoin.co/"
)

const tracerName = "unocoin-client/api"

// Config configures the client.
type Config struct {
	Production bool
	BaseURL    string // overrides the production/sandbox choice
	Timeout    time.Duration
	RateLimit  float64 // requests per second; 0 disables throttling
	Burst      int

	// BreakerThreshold consecutive network or server errors open the
	// circuit for BreakerCooldown. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns sandbox settings.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		RateLimit:        2,
		Burst:            4,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

var _ exchange.API = (*Client)(nil)

// Client sends JSON requests and returns raw JSON responses. It never
// retries; a failed request is returned to the caller as is.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
	logger  zerolog.Logger

	mu           sync.RWMutex
	offlineToken string
}

// NewClient creates a client for cfg.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = SandboxURL
		if cfg.Production {
			base = ProductionURL
		}
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.FailureThreshold = cfg.BreakerThreshold
	if cfg.BreakerCooldown > 0 {
		breakerCfg.Timeout = cfg.BreakerCooldown
	}
	breakerCfg.IsFailure = isOutage

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: resilience.NewCircuitBreaker("unocoin", breakerCfg),
		tracer:  otel.Tracer(tracerName),
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// isOutage reports whether err says the exchange is unreachable or broken,
// as opposed to rejecting this particular request.
func isOutage(err error) bool {
	if apperrors.Is(err, context.Canceled) {
		return false
	}
	var te *apperrors.TransportError
	if apperrors.As(err, &te) {
		return te.StatusCode >= 500
	}
	return true
}

// BreakerState reports whether requests are currently being let through.
func (c *Client) BreakerState() resilience.CircuitState {
	return c.breaker.State()
}

// BreakerStats returns the circuit breaker's counters.
func (c *Client) BreakerStats() resilience.CircuitBreakerStats {
	return c.breaker.Stats()
}

// BaseURL returns the root all endpoints are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetOfflineToken sets the bearer token used by the Auth methods.
func (c *Client) SetOfflineToken(token string) {
	c.mu.Lock()
	c.offlineToken = token
	c.mu.Unlock()
}

// IsLoggedIn reports whether an offline token is set.
func (c *Client) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offlineToken != ""
}

// PhotoURL is where the exchange serves an uploaded KYC photo.
func (c *Client) PhotoURL(filename string) string {
	if filename == "" {
		return ""
	}
	return c.baseURL + "uploads/" + url.PathEscape(filename)
}

func (c *Client) GET(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, endpoint, data, headers, false)
}

func (c *Client) POST(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodPost, endpoint, data, headers, false)
}

func (c *Client) PATCH(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodPatch, endpoint, data, headers, false)
}

func (c *Client) DELETE(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodDelete, endpoint, data, headers, false)
}

func (c *Client) AuthGET(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, endpoint, data, headers, true)
}

func (c *Client) AuthPOST(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodPost, endpoint, data, headers, true)
}

func (c *Client) AuthPATCH(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodPatch, endpoint, data, headers, true)
}

func (c *Client) AuthDELETE(ctx context.Context, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	return c.request(ctx, http.MethodDelete, endpoint, data, headers, true)
}

func (c *Client) request(ctx context.Context, method, endpoint string, data any, headers map[string]string, auth bool) (json.RawMessage, error) {
	var token string
	if auth {
		c.mu.RLock()
		token = c.offlineToken
		c.mu.RUnlock()
		if token == "" {
			return nil, apperrors.ErrNotLoggedIn
		}
	}

	ctx, span := c.tracer.Start(ctx, "unocoin."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("unocoin.endpoint", endpoint),
			attribute.Bool("unocoin.auth", auth),
		))
	defer span.End()

	start := time.Now()
	raw, err := resilience.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) (json.RawMessage, error) {
		return c.do(ctx, method, endpoint, data, headers, token)
	})
	if apperrors.Is(err, resilience.ErrCircuitOpen) {
		err = apperrors.Wrapf(err, "%s %s", method, endpoint)
	}
	logging.LogAPICall(c.logger, method, endpoint, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, security.MaskTokens(err.Error()))
		return nil, err
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, data any, headers map[string]string, token string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target := c.baseURL + strings.TrimPrefix(endpoint, "/")
	var body io.Reader
	if method == http.MethodGet {
		if data != nil {
			q, err := queryValues(data)
			if err != nil {
				return nil, err
			}
			if encoded := q.Encode(); encoded != "" {
				target += "?" + encoded
			}
		}
	} else if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewTransportError(method, endpoint, resp.StatusCode, security.MaskTokens(string(b)))
	}

	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(b) {
		return nil, apperrors.NewTransportError(method, endpoint, resp.StatusCode, "response is not JSON")
	}
	return json.RawMessage(b), nil
}

// queryValues flattens a map or struct into query parameters.
func queryValues(data any) (url.Values, error) {
	q := url.Values{}
	switch v := data.(type) {
	case url.Values:
		return v, nil
	case map[string]string:
		for k, val := range v {
			q.Set(k, val)
		}
		return q, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("query data must be an object: %w", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fields[k] == nil {
			continue
		}
		q.Set(k, fmt.Sprint(fields[k]))
	}
	return q, nil
}
