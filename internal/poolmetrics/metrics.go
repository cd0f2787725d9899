// Package poolmetrics exposes pool occupancy and latency as Prometheus
// metrics, labeled by endpoint.
package poolmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics for one pool.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	poolExhausted      *prometheus.CounterVec
	checkoutDuration   *prometheus.HistogramVec
	handshakeDuration  *prometheus.HistogramVec
	authReconciled     *prometheus.CounterVec
}

// New creates and registers the pool's metrics on a fresh registry. Safe
// to call more than once (e.g. in tests), each call is independent.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mongopool_connections_active", Help: "Checked-out connections per endpoint"},
			[]string{"endpoint"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mongopool_connections_idle", Help: "Idle connections per endpoint"},
			[]string{"endpoint"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mongopool_connections_total", Help: "Total connections per endpoint"},
			[]string{"endpoint"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mongopool_connections_waiting", Help: "Goroutines waiting for a checkout per endpoint"},
			[]string{"endpoint"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mongopool_pool_exhausted_total", Help: "Wait-queue timeouts per endpoint"},
			[]string{"endpoint"},
		),
		checkoutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "mongopool_checkout_duration_seconds", Help: "Time spent in Checkout()", Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14)},
			[]string{"endpoint"},
		),
		handshakeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "mongopool_handshake_duration_seconds", Help: "Time spent dialing and handshaking a new socket", Buckets: prometheus.ExponentialBuckets(0.001, 2, 14)},
			[]string{"endpoint"},
		),
		authReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mongopool_auth_reconciled_total", Help: "Login/logout operations performed during credential reconciliation"},
			[]string{"endpoint", "op"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.poolExhausted,
		c.checkoutDuration,
		c.handshakeDuration,
		c.authReconciled,
	)
	return c
}

// UpdatePoolStats sets the occupancy gauges for an endpoint.
func (c *Collector) UpdatePoolStats(endpoint string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(endpoint).Set(float64(active))
	c.connectionsIdle.WithLabelValues(endpoint).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(endpoint).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(endpoint).Set(float64(waiting))
}

// PoolExhausted increments the wait-queue-timeout counter.
func (c *Collector) PoolExhausted(endpoint string) {
	c.poolExhausted.WithLabelValues(endpoint).Inc()
}

// CheckoutDuration observes how long a Checkout() call took.
func (c *Collector) CheckoutDuration(endpoint string, d time.Duration) {
	c.checkoutDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// HandshakeDuration observes how long dial+handshake took for a new socket.
func (c *Collector) HandshakeDuration(endpoint string, d time.Duration) {
	c.handshakeDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// AuthReconciled increments the login/logout counter for an endpoint.
func (c *Collector) AuthReconciled(endpoint, op string) {
	c.authReconciled.WithLabelValues(endpoint, op).Inc()
}

// RemoveEndpoint clears all per-endpoint series, used when a pool is torn
// down permanently.
func (c *Collector) RemoveEndpoint(endpoint string) {
	c.connectionsActive.DeleteLabelValues(endpoint)
	c.connectionsIdle.DeleteLabelValues(endpoint)
	c.connectionsTotal.DeleteLabelValues(endpoint)
	c.connectionsWaiting.DeleteLabelValues(endpoint)
	c.poolExhausted.DeleteLabelValues(endpoint)
	c.checkoutDuration.DeletePartialMatch(prometheus.Labels{"endpoint": endpoint})
	c.handshakeDuration.DeletePartialMatch(prometheus.Labels{"endpoint": endpoint})
	c.authReconciled.DeletePartialMatch(prometheus.Labels{"endpoint": endpoint})
}
