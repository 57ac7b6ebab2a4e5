package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// ClientMiddleware wraps an http.RoundTripper with additional behavior.
// Middlewares are applied so that the first one in the list is the outermost.
type ClientMiddleware func(next http.RoundTripper) http.RoundTripper

// ErrConcurrencyLimit is returned from the MaxConcurrency middleware when
// too many requests are in flight at once.
var ErrConcurrencyLimit = errors.New("transport: hit concurrency limit")

// MaxConcurrency bounds the number of in-flight requests through the
// transport. Requests over the limit fail fast with ErrConcurrencyLimit
// instead of queueing.
func MaxConcurrency(maxConcurrency int64) ClientMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		var inFlight int64
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			attempted := atomic.AddInt64(&inFlight, 1)
			defer atomic.AddInt64(&inFlight, -1)
			if maxConcurrency > 0 && attempted > maxConcurrency {
				return nil, ErrConcurrencyLimit
			}
			return next.RoundTrip(req)
		})
	}
}

// CircuitBreaker is a middleware that prevents sending requests that are
// likely to fail through a configurable circuit breaker.
//
// A response with a server error status counts as a failure so that a
// misbehaving backend trips the breaker even when the transport layer itself
// is healthy.
func CircuitBreaker(config BreakerConfig) ClientMiddleware {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     config.Name,
		Interval: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= config.MinRequestsToTrip && ratio >= config.FailureThreshold
		},
	})
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := breaker.Execute(func() (interface{}, error) {
				resp, err := next.RoundTrip(req)
				if err != nil {
					return nil, err
				}
				if resp.StatusCode >= http.StatusInternalServerError {
					resp.Body.Close()
					return nil, fmt.Errorf("transport: breaker received http %d", resp.StatusCode)
				}
				return resp, nil
			})
			if err != nil {
				return nil, err
			}
			return resp.(*http.Response), nil
		})
	}
}

// defaultHeaders injects the headers every WorkerSQL request carries.
func defaultHeaders(userAgent, apiKey string) ClientMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			req = req.Clone(req.Context())
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("User-Agent", userAgent)
			if apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+apiKey)
			}
			return next.RoundTrip(req)
		})
	}
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
