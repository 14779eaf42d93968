package metrics

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var metricNameReplacer = strings.NewReplacer(".", "_", "-", "_")

// PrometheusCaptor exports timers as histograms and counters as counters. One
// vector is registered per metric name; tag sets become label values.
type PrometheusCaptor struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	onError    func(error)
}

// PrometheusOption configures a PrometheusCaptor.
type PrometheusOption func(*PrometheusCaptor)

// WithRegisterErrorHandler receives registration failures. Defaults to
// otel.Handle.
func WithRegisterErrorHandler(fn func(error)) PrometheusOption {
	return func(c *PrometheusCaptor) {
		if fn != nil {
			c.onError = fn
		}
	}
}

// NewPrometheusCaptor creates a captor registering on registerer, or on the
// default registerer when nil.
func NewPrometheusCaptor(registerer prometheus.Registerer, opts ...PrometheusOption) *PrometheusCaptor {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	c := &PrometheusCaptor{
		registerer: registerer,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		onError:    otel.Handle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PrometheusCaptor) Timer(name, description string, tags Tags) Timer {
	vec := c.histogramVec(name, description)
	labels := tags.values()
	return &prometheusTimer{
		vec:      vec,
		labels:   labels,
		observer: vec.WithLabelValues(labels...),
	}
}

func (c *PrometheusCaptor) Counter(name, description string, tags Tags) Counter {
	vec := c.counterVec(name, description)
	labels := tags.values()
	return &prometheusCounter{
		vec:     vec,
		labels:  labels,
		counter: vec.WithLabelValues(labels...),
	}
}

func (c *PrometheusCaptor) histogramVec(name, description string) *prometheus.HistogramVec {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vec, ok := c.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricNameReplacer.Replace(name) + "_seconds",
			Help:    description,
			Buckets: prometheus.DefBuckets,
		},
		tagKeys,
	)
	if err := c.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			// The vector still records but is not exported.
			c.onError(fmt.Errorf("register metric %s: %w", name, err))
		} else if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
			vec = existing
		}
	}
	c.histograms[name] = vec
	return vec
}

func (c *PrometheusCaptor) counterVec(name, description string) *prometheus.CounterVec {
	c.mu.Lock()
	defer c.mu.Unlock()

	if vec, ok := c.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricNameReplacer.Replace(name) + "_total",
			Help: description,
		},
		tagKeys,
	)
	if err := c.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			// The vector still records but is not exported.
			c.onError(fmt.Errorf("register metric %s: %w", name, err))
		} else if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
			vec = existing
		}
	}
	c.counters[name] = vec
	return vec
}

type prometheusTimer struct {
	vec      *prometheus.HistogramVec
	labels   []string
	observer prometheus.Observer
	removed  atomic.Bool
}

func (t *prometheusTimer) Record(d time.Duration) {
	if t.removed.Load() {
		return
	}
	t.observer.Observe(d.Seconds())
}

func (t *prometheusTimer) Remove() {
	if t.removed.CompareAndSwap(false, true) {
		t.vec.DeleteLabelValues(t.labels...)
	}
}

type prometheusCounter struct {
	vec     *prometheus.CounterVec
	labels  []string
	counter prometheus.Counter
	removed atomic.Bool
}

func (c *prometheusCounter) Increment() {
	if c.removed.Load() {
		return
	}
	c.counter.Inc()
}

func (c *prometheusCounter) Remove() {
	if c.removed.CompareAndSwap(false, true) {
		c.vec.DeleteLabelValues(c.labels...)
	}
}
