package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the host kernel's Prometheus surface: one histogram for
// per-module tick duration, counters for dispatch outcomes, and a gauge
// tracking live circuit-breaker state. Registered against a caller-supplied
// registry (for example a fresh prometheus.NewRegistry()) rather than the
// global default so multiple hosts in one process don't collide.
type Metrics struct {
	tickDuration   *prometheus.HistogramVec
	dispatchTotal  *prometheus.CounterVec
	circuitState   *prometheus.GaugeVec
	timeoutsTotal  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "simcore",
			Subsystem: "scheduler",
			Name:      "module_tick_seconds",
			Help:      "Time spent in a module's tick call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simcore",
			Subsystem: "scheduler",
			Name:      "module_dispatch_total",
			Help:      "Count of module dispatch outcomes.",
		}, []string{"module", "outcome"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "simcore",
			Subsystem: "scheduler",
			Name:      "module_circuit_state",
			Help:      "Current circuit breaker state (0=Closed,1=HalfOpen,2=Open).",
		}, []string{"module"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "simcore",
			Subsystem: "scheduler",
			Name:      "module_timeouts_total",
			Help:      "Count of modules abandoned for exceeding max_expected_runtime_ms.",
		}, []string{"module"}),
	}
	if reg != nil {
		reg.MustRegister(m.tickDuration, m.dispatchTotal, m.circuitState, m.timeoutsTotal)
	}
	return m
}

func (m *Metrics) observeTick(module string, seconds float64) {
	m.tickDuration.WithLabelValues(module).Observe(seconds)
}

func (m *Metrics) recordOutcome(module, outcome string) {
	m.dispatchTotal.WithLabelValues(module, outcome).Inc()
}

func (m *Metrics) setCircuitState(module string, state CircuitState) {
	var v float64
	switch state {
	case Closed:
		v = 0
	case HalfOpen:
		v = 1
	case Open:
		v = 2
	}
	m.circuitState.WithLabelValues(module).Set(v)
}

func (m *Metrics) recordTimeout(module string) {
	m.timeoutsTotal.WithLabelValues(module).Inc()
}
