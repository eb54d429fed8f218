package engine

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dockwire_engine"

// Metrics counts engine traffic. A nil *Metrics records nothing.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Retries         prometheus.Counter
	ActiveLogs      prometheus.Gauge
	TransportErrors prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg when it
// is non-nil. Collectors already registered by another client are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests sent to the daemon by method and response code.",
		}, []string{"method", "code"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Request attempts repeated after a transient daemon error.",
		}),
		ActiveLogs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "log_follows_active",
			Help:      "Log streams currently being followed.",
		}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transport_errors_total",
			Help:      "Requests that failed before a response was received.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	m.Requests, err = register(reg, m.Requests)
	if err != nil {
		return nil, err
	}
	m.Retries, err = register(reg, m.Retries)
	if err != nil {
		return nil, err
	}
	m.ActiveLogs, err = register(reg, m.ActiveLogs)
	if err != nil {
		return nil, err
	}
	m.TransportErrors, err = register(reg, m.TransportErrors)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Metrics) request(method string, status int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) transportError() {
	if m == nil {
		return
	}
	m.TransportErrors.Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) followStarted() {
	if m == nil {
		return
	}
	m.ActiveLogs.Inc()
}

func (m *Metrics) followEnded() {
	if m == nil {
		return
	}
	m.ActiveLogs.Dec()
}
