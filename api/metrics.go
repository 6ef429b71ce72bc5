/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counters and histograms exposed on /metrics. Registration happens at
  package init via promauto; the router mounts promhttp.Handler().

METRICS:
  dca_allocations_total{mode,result}    Allocation attempts by outcome
  dca_transitions_total{action,result}  Lifecycle transitions by outcome
  dca_sla_refresh_changed_total         Cases flipped by the SLA refresher
  dca_http_request_duration_seconds     Handler latency by route

SEE ALSO:
  - handlers.go: Increments the domain counters
  - scheduler.go: Increments the refresh counter
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dca_allocations_total",
		Help: "Allocation attempts by mode (auto/manual) and result",
	}, []string{"mode", "result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dca_transitions_total",
		Help: "Case lifecycle transitions by action and result",
	}, []string{"action", "result"})

	slaRefreshChanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dca_sla_refresh_changed_total",
		Help: "Cases whose SLA status changed during a refresh run",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dca_http_request_duration_seconds",
		Help:    "HTTP handler latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)
