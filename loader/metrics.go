package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes loader and call counters. Register against any
// prometheus.Registerer; a nil registerer yields unregistered collectors,
// which tests use freely.
type Metrics struct {
	Loads        prometheus.Counter
	LoadFailures prometheus.Counter
	Retires      prometheus.Counter
	Reclaims     prometheus.Counter
	Calls        prometheus.Counter
	CallFailures prometheus.Counter
	Inflight     prometheus.Gauge
	Pending      prometheus.Gauge
}

// NewMetrics creates the collector set under the bridge namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Loads: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge", Subsystem: "loader", Name: "loads_total",
			Help: "Module generations loaded successfully.",
		}),
		LoadFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge", Subsystem: "loader", Name: "load_failures_total",
			Help: "Module loads rejected before activation.",
		}),
		Retires: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge", Subsystem: "loader", Name: "retires_total",
			Help: "Module generations retired.",
		}),
		Reclaims: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge", Subsystem: "loader", Name: "reclaims_total",
			Help: "Retired generations whose resources were freed.",
		}),
		Calls: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge", Subsystem: "router", Name: "calls_total",
			Help: "Routed calls started.",
		}),
		CallFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge", Subsystem: "router", Name: "call_failures_total",
			Help: "Routed calls that returned an error.",
		}),
		Inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Subsystem: "router", Name: "inflight_calls",
			Help: "Calls currently inside guest code.",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge", Subsystem: "loader", Name: "pending_reclaims",
			Help: "Retired generations awaiting reclamation.",
		}),
	}
}
