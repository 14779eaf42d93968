package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const otelScope = "github.com/drblury/handlerflow"

// OTelCaptor reports timers and counters through an OpenTelemetry meter.
// Instruments are created lazily and shared between tag sets.
type OTelCaptor struct {
	meter metric.Meter

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
}

// NewOTelCaptor creates a captor on meter, or on the global meter provider when nil.
func NewOTelCaptor(meter metric.Meter) *OTelCaptor {
	if meter == nil {
		meter = otel.Meter(otelScope)
	}
	return &OTelCaptor{
		meter:      meter,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Int64Counter),
	}
}

func (c *OTelCaptor) Timer(name, description string, tags Tags) Timer {
	hist, err := c.histogram(name, description)
	if err != nil {
		otel.Handle(err)
		return nopMeter{}
	}
	return &otelTimer{hist: hist, attrs: metric.WithAttributes(tags.attributes()...)}
}

func (c *OTelCaptor) Counter(name, description string, tags Tags) Counter {
	counter, err := c.counter(name, description)
	if err != nil {
		otel.Handle(err)
		return nopMeter{}
	}
	return &otelCounter{counter: counter, attrs: metric.WithAttributes(tags.attributes()...)}
}

func (c *OTelCaptor) histogram(name, description string) (metric.Float64Histogram, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hist, ok := c.histograms[name]; ok {
		return hist, nil
	}
	hist, err := c.meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	c.histograms[name] = hist
	return hist, nil
}

func (c *OTelCaptor) counter(name, description string) (metric.Int64Counter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, ok := c.counters[name]; ok {
		return counter, nil
	}
	counter, err := c.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, err
	}
	c.counters[name] = counter
	return counter, nil
}

func (t Tags) attributes() []attribute.KeyValue {
	values := t.values()
	attrs := make([]attribute.KeyValue, len(tagKeys))
	for i, key := range tagKeys {
		attrs[i] = attribute.String(key, values[i])
	}
	return attrs
}

// OpenTelemetry has no series deletion, so Remove only detaches the handle.
type otelTimer struct {
	hist    metric.Float64Histogram
	attrs   metric.MeasurementOption
	removed atomic.Bool
}

func (t *otelTimer) Record(d time.Duration) {
	if t.removed.Load() {
		return
	}
	t.hist.Record(context.Background(), d.Seconds(), t.attrs)
}

func (t *otelTimer) Remove() {
	t.removed.Store(true)
}

type otelCounter struct {
	counter metric.Int64Counter
	attrs   metric.MeasurementOption
	removed atomic.Bool
}

func (c *otelCounter) Increment() {
	if c.removed.Load() {
		return
	}
	c.counter.Add(context.Background(), 1, c.attrs)
}

func (c *otelCounter) Remove() {
	c.removed.Store(true)
}
