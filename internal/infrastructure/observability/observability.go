package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

// Instruments are the metric handles the checkout records, keyed as in
// observability.CounterSpecs and observability.HistogramSpecs.
type Instruments struct {
	Counters   map[observability.MetricKey]observability.Counter
	Histograms map[observability.MetricKey]observability.Histogram
}

// Counter returns the registered counter, or a no-op for keys nobody
// registered so a missing instrument never fails a checkout.
func (m Instruments) Counter(key observability.MetricKey) observability.Counter {
	if c, ok := m.Counters[key]; ok && c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m Instruments) Histogram(key observability.MetricKey) observability.Histogram {
	if h, ok := m.Histograms[key]; ok && h != nil {
		return h
	}
	return observability.NopHistogram()
}

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

func (p provider) Tracer() observability.Tracer   { return p.tracer }
func (p provider) Logger() observability.Logger   { return p.logger }
func (p provider) Metrics() observability.Metrics { return p.metrics }

// New assembles the ports handed to every use case. Nil parts are no-ops.
func New(tracer observability.Tracer, logger observability.Logger, metrics observability.Metrics) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return provider{tracer: tracer, logger: logger, metrics: metrics}
}

// NewPrometheus registers every checkout metric on reg under namespace.
func NewPrometheus(tracer observability.Tracer, logger observability.Logger, reg prometheus.Registerer, namespace string) observability.Observability {
	counters, histograms := prometrics.RegisterAll(
		prometrics.New(reg, namespace, ""),
		observability.CounterSpecs,
		observability.HistogramSpecs,
	)
	return New(tracer, logger, Instruments{Counters: counters, Histograms: histograms})
}
