package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/workersql/workersql-go/sqlerror"
)

// RetryAfterHeader is the header servers use to ask for a backoff floor.
const RetryAfterHeader = "Retry-After"

// ClientError is returned by Send when the server responds with a non-2xx
// status and no structured error body could be decoded.
type ClientError struct {
	// StatusCode and Status are copied from the http response.
	StatusCode int
	Status     string

	// RetryAfter is the parsed Retry-After header value, 0 when absent.
	RetryAfter time.Duration
}

var _ error = (*ClientError)(nil)

func (e *ClientError) Error() string {
	return fmt.Sprintf("transport: http %s", e.Status)
}

// Retryable reports server errors and throttling as retryable and all other
// client errors as terminal.
func (e *ClientError) Retryable() int {
	if e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests {
		return 1
	}
	if e.StatusCode >= http.StatusBadRequest {
		return -1
	}
	return 0
}

// RetryAfterDuration returns the minimum delay before the next attempt, as
// requested by the server.
func (e *ClientError) RetryAfterDuration() time.Duration {
	return e.RetryAfter
}

// errorBody is the structured error payload carried in failed responses,
// either at the top level or under an "error" key.
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (b errorBody) toError() error {
	return &sqlerror.Error{
		Code:    b.Code,
		Message: b.Message,
		Details: b.Details,
	}
}

// decodeError maps a failed http response to an error.
//
// A structured error body wins when the server sent one; otherwise the status
// code alone decides retryability through ClientError.
func decodeError(resp *http.Response, body []byte) error {
	var wrapper struct {
		Error *errorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil && wrapper.Error.Code != "" {
		return wrapper.Error.toError()
	}
	var flat errorBody
	if err := json.Unmarshal(body, &flat); err == nil && flat.Code != "" {
		return flat.toError()
	}
	return &ClientError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RetryAfter: parseRetryAfter(resp.Header.Get(RetryAfterHeader)),
	}
}

// parseRetryAfter handles the delay-seconds form of Retry-After.
// The http-date form and garbage both parse to 0.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
