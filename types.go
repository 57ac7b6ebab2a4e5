package workersql

// maxBatchQueries is the most queries one BatchQuery call may carry.
const maxBatchQueries = 100

// CacheOptions controls per-query edge caching.
type CacheOptions struct {
	Enabled bool `json:"enabled"`

	// TTL is the cache lifetime in seconds.
	TTL int `json:"ttl,omitempty"`

	// Key overrides the cache key derived from the query text and params.
	Key string `json:"key,omitempty"`
}

// QueryRequest is one SQL statement with its bound parameters.
type QueryRequest struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params"`

	// Timeout is a per-query server-side limit in milliseconds.
	Timeout int `json:"timeout,omitempty"`

	Cache *CacheOptions `json:"cache,omitempty"`
}

// ErrorResponse is the structured error payload inside a failed
// QueryResponse.
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// QueryResponse is the server's answer to one query.
type QueryResponse struct {
	Success bool `json:"success"`

	// Data holds the result rows, one map per row keyed by column name.
	Data []map[string]interface{} `json:"data,omitempty"`

	// RowCount is the number of rows returned, or affected for writes.
	RowCount int `json:"rowCount,omitempty"`

	// ExecutionTime is the server-side execution time in milliseconds.
	ExecutionTime float64 `json:"executionTime,omitempty"`

	// Cached reports whether the response was served from the edge cache.
	Cached bool `json:"cached,omitempty"`

	Error *ErrorResponse `json:"error,omitempty"`
}

// BatchQueryRequest carries up to maxBatchQueries queries in one round trip.
type BatchQueryRequest struct {
	Queries []QueryRequest `json:"queries"`

	// Transaction asks the server to run the batch atomically.
	Transaction bool `json:"transaction,omitempty"`

	// StopOnError stops the batch at the first failed query instead of
	// running the rest.
	StopOnError bool `json:"stopOnError,omitempty"`
}

// BatchQueryResponse is the server's answer to a batch, with one result per
// query in request order.
type BatchQueryResponse struct {
	Success bool            `json:"success"`
	Results []QueryResponse `json:"results"`

	// TotalExecutionTime is the server-side wall time in milliseconds.
	TotalExecutionTime float64 `json:"totalExecutionTime,omitempty"`
}

// HealthCheckResponse reports service health.
type HealthCheckResponse struct {
	// Status is "healthy", "degraded", or "unhealthy".
	Status string `json:"status"`

	Database struct {
		Connected bool `json:"connected"`

		// ResponseTime is the database round trip in milliseconds.
		ResponseTime float64 `json:"responseTime,omitempty"`
	} `json:"database"`

	Cache struct {
		Enabled bool    `json:"enabled"`
		HitRate float64 `json:"hitRate,omitempty"`
	} `json:"cache"`

	Timestamp string `json:"timestamp,omitempty"`
}
