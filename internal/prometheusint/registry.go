// Package prometheusint provides internal prometheus helpers shared by the
// SDK packages.
package prometheusint

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GlobalRegistry is the registerer all SDK metrics are registered against.
//
// It defaults to the prometheus default registerer so SDK metrics show up on
// the application's usual /metrics endpoint without extra wiring.
var GlobalRegistry prometheus.Registerer = prometheus.DefaultRegisterer
