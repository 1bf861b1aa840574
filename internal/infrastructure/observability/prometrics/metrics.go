package prometrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

// Registry creates prometheus instruments from metric specs.
type Registry interface {
	Counter(spec observability.MetricSpec) observability.Counter
	Histogram(spec observability.MetricSpec) observability.Histogram
}

type registry struct {
	reg        prometheus.Registerer
	counters   sync.Map // key -> *prometheus.CounterVec
	histograms sync.Map // key -> *prometheus.HistogramVec
	namespace  string
	subsystem  string
}

// New registers instruments on reg, or on the default registerer when reg is nil.
func New(reg prometheus.Registerer, namespace, subsystem string) Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &registry{reg: reg, namespace: namespace, subsystem: subsystem}
}

// RegisterAll builds every counter and histogram spec.
func RegisterAll(r Registry, counters, histograms []observability.MetricSpec) (map[observability.MetricKey]observability.Counter, map[observability.MetricKey]observability.Histogram) {
	cs := make(map[observability.MetricKey]observability.Counter, len(counters))
	for _, spec := range counters {
		cs[spec.Key] = r.Counter(spec)
	}
	hs := make(map[observability.MetricKey]observability.Histogram, len(histograms))
	for _, spec := range histograms {
		hs[spec.Key] = r.Histogram(spec)
	}
	return cs, hs
}

type counter struct{ v *prometheus.CounterVec }

func (c *counter) Add(d float64, labels ...observability.Label) {
	c.v.With(labelMap(labels)).Add(d)
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return &boundCounter{v: c.v, labels: labelMap(labels)}
}

type boundCounter struct {
	v      *prometheus.CounterVec
	labels prometheus.Labels
}

func (c *boundCounter) Add(d float64) {
	if c == nil || c.v == nil {
		return
	}
	c.v.With(c.labels).Add(d)
}

type histogram struct{ v *prometheus.HistogramVec }

func (h *histogram) Observe(v float64, labels ...observability.Label) {
	h.v.With(labelMap(labels)).Observe(v)
}

func (h *histogram) Bind(labels ...observability.Label) observability.BoundHistogram {
	return &boundHistogram{v: h.v, labels: labelMap(labels)}
}

type boundHistogram struct {
	v      *prometheus.HistogramVec
	labels prometheus.Labels
}

func (h *boundHistogram) Observe(v float64) {
	if h == nil || h.v == nil {
		return
	}
	h.v.With(h.labels).Observe(v)
}

func labelMap(ls []observability.Label) prometheus.Labels {
	m := make(prometheus.Labels, len(ls))
	for _, l := range ls {
		m[l.Key] = l.Value
	}
	return m
}

func (r *registry) Counter(spec observability.MetricSpec) observability.Counter {
	if v, ok := r.counters.Load(spec.Key); ok {
		return &counter{v: v.(*prometheus.CounterVec)}
	}
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: string(spec.Key), Help: spec.Help,
	}, spec.Labels)
	r.reg.MustRegister(cv)
	r.counters.Store(spec.Key, cv)
	return &counter{v: cv}
}

func (r *registry) Histogram(spec observability.MetricSpec) observability.Histogram {
	if v, ok := r.histograms.Load(spec.Key); ok {
		return &histogram{v: v.(*prometheus.HistogramVec)}
	}
	buckets := spec.Buckets
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace, Subsystem: r.subsystem, Name: string(spec.Key), Help: spec.Help, Buckets: buckets,
	}, spec.Labels)
	r.reg.MustRegister(hv)
	r.histograms.Store(spec.Key, hv)
	return &histogram{v: hv}
}
