// Package metrics exposes Prometheus counters and gauges for verification
// outcomes, cache occupancy, and proxied-request status codes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric this gateway exports.
type Registry struct {
	VerificationsTotal *prometheus.CounterVec
	CacheSize          prometheus.Gauge
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	ProxyRequestsTotal *prometheus.CounterVec
}

// NewRegistry registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tdx_gateway_verifications_total",
			Help: "Total chain verifications performed, labeled by outcome.",
		}, []string{"outcome"}),
		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tdx_gateway_attestation_cache_size",
			Help: "Current number of app_ids held in the attestation cache.",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tdx_gateway_attestation_cache_hits_total",
			Help: "Total attestation cache hits.",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tdx_gateway_attestation_cache_misses_total",
			Help: "Total attestation cache misses.",
		}),
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tdx_gateway_proxy_requests_total",
			Help: "Total proxied requests, labeled by status class.",
		}, []string{"status_class"}),
	}
}

// ObserveCacheSize sets the occupancy gauge to size.
func (r *Registry) ObserveCacheSize(size int) {
	r.CacheSize.Set(float64(size))
}
