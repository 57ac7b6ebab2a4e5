// Package transport implements the HTTP transport WorkerSQL clients use to
// talk to the remote query endpoint.
//
// An HTTPTransport satisfies connpool.Transport so it can be pooled, and its
// underlying http.Client is assembled from a middleware chain (headers,
// optional concurrency limit, optional circuit breaker).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/workersql/workersql-go/sqlerror"
)

// Defaults applied by New for zero-value Config fields.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxConnsPerHost = 20
	DefaultUserAgent       = "workersql-go/1.0"
)

// ErrConfigMissingBaseURL is returned by New when Config.BaseURL is empty.
var ErrConfigMissingBaseURL = errors.New("transport: BaseURL cannot be empty")

// BreakerConfig configures the optional circuit breaker middleware.
type BreakerConfig struct {
	// Name labels the breaker in its own error messages.
	Name string `yaml:"name"`

	// MinRequestsToTrip is the minimum sample size within one counting
	// window before the breaker may trip.
	MinRequestsToTrip uint32 `yaml:"min_requests_to_trip"`

	// FailureThreshold is the failure ratio at or above which the breaker
	// trips, e.g. 0.05 for 5%.
	FailureThreshold float64 `yaml:"failure_threshold"`
}

// Config is the configuration struct for creating an HTTPTransport.
type Config struct {
	// BaseURL is the WorkerSQL endpoint requests are sent to, for example
	// "https://db.example.com/v1". Required.
	BaseURL string

	// APIKey, when non-empty, is sent as a bearer token in the
	// Authorization header.
	APIKey string

	// Timeout bounds each request end to end, including body read.
	Timeout time.Duration

	MaxConnsPerHost int
	UserAgent       string

	// MaxConcurrency bounds in-flight requests through this transport.
	// Zero or negative means unlimited.
	MaxConcurrency int64

	// Breaker, when non-nil, puts a circuit breaker in front of the wire.
	Breaker *BreakerConfig

	// Middlewares are applied outermost-first, outside the built-in ones.
	Middlewares []ClientMiddleware
}

// HTTPTransport is a single logical connection to a WorkerSQL endpoint.
//
// It must be opened before use and is safe for concurrent use, though pooled
// transports are leased to one caller at a time.
type HTTPTransport struct {
	cfg    Config
	client *http.Client
	open   int32
}

// New creates an HTTPTransport in the closed state, filling config defaults.
func New(cfg Config) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, ErrConfigMissingBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &HTTPTransport{cfg: cfg}, nil
}

// Open assembles the middleware chain and readies the transport for Send.
// Opening an already open transport is a no-op.
func (t *HTTPTransport) Open() error {
	if atomic.LoadInt32(&t.open) == 1 {
		return nil
	}

	middlewares := make([]ClientMiddleware, 0, len(t.cfg.Middlewares)+3)
	middlewares = append(middlewares, t.cfg.Middlewares...)
	if t.cfg.Breaker != nil {
		middlewares = append(middlewares, CircuitBreaker(*t.cfg.Breaker))
	}
	if t.cfg.MaxConcurrency > 0 {
		middlewares = append(middlewares, MaxConcurrency(t.cfg.MaxConcurrency))
	}
	middlewares = append(middlewares, defaultHeaders(t.cfg.UserAgent, t.cfg.APIKey))

	var tripper http.RoundTripper = &http.Transport{
		MaxConnsPerHost: t.cfg.MaxConnsPerHost,
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		tripper = middlewares[i](tripper)
	}

	t.client = &http.Client{
		Timeout:   t.cfg.Timeout,
		Transport: tripper,
	}
	atomic.StoreInt32(&t.open, 1)
	return nil
}

// IsOpen reports whether the transport is open.
func (t *HTTPTransport) IsOpen() bool {
	return atomic.LoadInt32(&t.open) == 1
}

// Close shuts the transport down and releases idle keep-alive connections.
// Closing an already closed transport is a no-op.
func (t *HTTPTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.open, 1, 0) {
		return nil
	}
	t.client.CloseIdleConnections()
	return nil
}

// Send issues one request against the endpoint.
//
// body, when non-nil, is marshaled to JSON; out, when non-nil, receives the
// unmarshaled success response. Non-2xx responses are mapped to
// *sqlerror.Error when the server sent a structured error body, and to
// *ClientError otherwise. Wire-level failures come back as CONNECTION_ERROR
// unless ctx was canceled, in which case the context error wins.
func (t *HTTPTransport) Send(ctx context.Context, method, path string, body, out interface{}) error {
	if !t.IsOpen() {
		return sqlerror.New(sqlerror.CodeConnectionError, "transport is closed")
	}

	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("transport: marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(t.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("transport: building request: %w", err)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(method, path, "error").Inc()
		requestLatency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return sqlerror.Wrap(sqlerror.CodeConnectionError, "request failed", err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(method, path, strconv.Itoa(resp.StatusCode)).Inc()
	requestLatency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return sqlerror.Wrap(sqlerror.CodeConnectionError, "reading response body", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("transport: decoding response body: %w", err)
		}
	}
	return nil
}
