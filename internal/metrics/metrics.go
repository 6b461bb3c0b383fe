// Package metrics contains the Prometheus metrics of the broker.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the metrics namespace of the broker.
const Namespace = "zmbroker"

// Subsystem names.
const (
	subsystemRPC   = "rpc"
	subsystemStore = "store"
)

// BoolString returns "1" if cond is true and "0" otherwise.
func BoolString(cond bool) (s string) {
	if cond {
		return "1"
	}

	return "0"
}

// RPCSvc is the Prometheus-based implementation of the RPC service metrics.
type RPCSvc struct {
	// reqTotal counts requests by method and result status.
	reqTotal *prometheus.CounterVec

	// reqDuration observes the handling duration by method.
	reqDuration *prometheus.HistogramVec
}

// NewRPCSvc registers the RPC service metrics in reg and returns a properly
// initialized *RPCSvc.
func NewRPCSvc(namespace string, reg prometheus.Registerer) (m *RPCSvc, err error) {
	m = &RPCSvc{
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "requests_total",
			Namespace: namespace,
			Subsystem: subsystemRPC,
			Help:      "The number of RPC requests by method and status.",
		}, []string{"method", "status"}),
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:      "request_duration_seconds",
			Namespace: namespace,
			Subsystem: subsystemRPC,
			Help:      "The duration of RPC request handling by method.",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10},
		}, []string{"method"}),
	}

	for _, c := range []prometheus.Collector{m.reqTotal, m.reqDuration} {
		err = reg.Register(c)
		if err != nil {
			return nil, fmt.Errorf("registering rpc metrics: %w", err)
		}
	}

	return m, nil
}

// ObserveRequest records one handled request.  status is "ok" or the error
// kind.
func (m *RPCSvc) ObserveRequest(method, status string, dur time.Duration) {
	m.reqTotal.WithLabelValues(method, status).Inc()
	m.reqDuration.WithLabelValues(method).Observe(dur.Seconds())
}

// Store is the Prometheus-based implementation of the job store metrics.
type Store struct {
	// claimTotal counts claim attempts by queue and whether a test was
	// handed out.
	claimTotal *prometheus.CounterVec

	// testsCreatedTotal counts created tests by whether an existing row was
	// reused.
	testsCreatedTotal *prometheus.CounterVec
}

// NewStore registers the job store metrics in reg and returns a properly
// initialized *Store.
func NewStore(namespace string, reg prometheus.Registerer) (m *Store, err error) {
	m = &Store{
		claimTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "claims_total",
			Namespace: namespace,
			Subsystem: subsystemStore,
			Help:      "The number of claim attempts by queue and outcome.",
		}, []string{"queue", "claimed"}),
		testsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:      "tests_created_total",
			Namespace: namespace,
			Subsystem: subsystemStore,
			Help:      "The number of test submissions by reuse outcome.",
		}, []string{"reused"}),
	}

	for _, c := range []prometheus.Collector{m.claimTotal, m.testsCreatedTotal} {
		err = reg.Register(c)
		if err != nil {
			return nil, fmt.Errorf("registering store metrics: %w", err)
		}
	}

	return m, nil
}

// ObserveClaim records one claim attempt.
func (m *Store) ObserveClaim(queue int, claimed bool) {
	m.claimTotal.WithLabelValues(fmt.Sprint(queue), BoolString(claimed)).Inc()
}

// ObserveCreate records one test submission.
func (m *Store) ObserveCreate(reused bool) {
	m.testsCreatedTotal.WithLabelValues(BoolString(reused)).Inc()
}
