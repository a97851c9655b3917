package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultBaseURL is where the D.A.T.A. API listens in a local deployment.
const DefaultBaseURL = "http://localhost:8000/api"

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 60 * time.Second

// DefaultWeightsKey addresses the single weight-set record on the backend.
const DefaultWeightsKey = "1"

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

const maxResponseBytes = 1 << 20

// Client is the D.A.T.A. SDK entry point. It is safe for concurrent use.
type Client struct {
	base       string
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
	userAgent  string
	weightsKey string
	cacheTTL   time.Duration

	weightsOnce sync.Once
	weights     *WeightStore
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client. It takes precedence over
// WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("negative timeout %s", d)
		}
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithLogger sets the logger used for per-request debug and warn lines.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

// WithTracer sets the tracer each API call is wrapped in.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) error {
		if t != nil {
			c.tracer = t
		}
		return nil
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithWeightsKey overrides the key of the weight-set record.
func WithWeightsKey(key string) Option {
	return func(c *Client) error {
		if strings.TrimSpace(key) == "" {
			return errors.New("empty weights key")
		}
		c.weightsKey = key
		return nil
	}
}

// WithCacheTTL enables in-memory caching of the weight set for ttl. A
// successful Replace refreshes the cached value.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cacheTTL = ttl
		return nil
	}
}

// New creates a Client for the API rooted at baseURL, e.g.
// "http://localhost:8000/api".
//
//	c, err := client.New("http://localhost:8000/api",
//	    client.WithTimeout(30*time.Second),
//	    client.WithLogger(logger),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:       strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("github.com/detectionlab/data/pkg/client"),
		userAgent:  "datactl-go",
		weightsKey: DefaultWeightsKey,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.base }

// Weights returns the store for the scoring weight set.
func (c *Client) Weights() *WeightStore {
	c.weightsOnce.Do(func() {
		c.weights = newWeightStore(c, c.weightsKey, c.cacheTTL)
	})
	return c.weights
}

// Ping checks that the API answers the detection list endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "Ping", http.MethodHead, "/detections/", nil, "")
	return err
}

// doJSON sends in (when non-nil) as JSON and decodes the response into out
// (when non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	resp, err := c.call(ctx, op, method, path, body, contentType)
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

func decodeInto(body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UnknownError{Status: http.StatusOK, Body: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// call executes one request and returns the body of a 2xx response. Failures
// come back as TransportError, ServerValidationError, UnknownError or a wrapped
// ErrNotFound. No retries are attempted.
func (c *Client) call(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "data."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	reqID := uuid.NewString()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
		attribute.String("data.request_id", reqID),
	)

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", reqID),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no response")
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response")
		return nil, &TransportError{Method: method, Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
		zap.Duration("latency", time.Since(start)),
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("api request", fields...)
		return respBody, nil
	}

	c.logger.Warn("api request rejected", fields...)
	span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	return nil, classify(resp.StatusCode, path, respBody)
}
