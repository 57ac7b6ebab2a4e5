package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/workersql/workersql-go/internal/prometheusint"
)

const (
	methodLabel = "method"
	pathLabel   = "path"
	codeLabel   = "code"
)

var (
	requestsTotal = promauto.With(prometheusint.GlobalRegistry).NewCounterVec(prometheus.CounterOpts{
		Name: "workersql_client_requests_total",
		Help: "Total requests sent, by http status code or \"error\"",
	}, []string{methodLabel, pathLabel, codeLabel})

	requestLatency = promauto.With(prometheusint.GlobalRegistry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workersql_client_request_latency_seconds",
		Help:    "Wall time of requests, including failed ones",
		Buckets: prometheus.DefBuckets,
	}, []string{methodLabel, pathLabel})
)
