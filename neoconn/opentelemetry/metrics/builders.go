package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilCounter is returned when a counter builder has no instrument.
	ErrNilCounter = errors.New("counter instrument is nil")
	// ErrNilGauge is returned when a gauge builder has no instrument.
	ErrNilGauge = errors.New("gauge instrument is nil")
	// ErrNilHistogram is returned when a histogram builder has no instrument.
	ErrNilHistogram = errors.New("histogram instrument is nil")
)

// CounterBuilder records increments on a counter with optional labels.
type CounterBuilder struct {
	counter metric.Int64Counter
	name    string
	attrs   []attribute.KeyValue
}

// WithLabels returns a builder carrying the given string labels in addition
// to any already present. The receiver is not mutated.
func (c *CounterBuilder) WithLabels(labels map[string]string) *CounterBuilder {
	return &CounterBuilder{
		counter: c.counter,
		name:    c.name,
		attrs:   mergeLabels(c.attrs, labels),
	}
}

// Add records a counter increment.
func (c *CounterBuilder) Add(ctx context.Context, value int64) error {
	if c.counter == nil {
		return ErrNilCounter
	}

	c.counter.Add(ctx, value, metric.WithAttributes(c.attrs...))

	return nil
}

// AddOne increments the counter by one.
func (c *CounterBuilder) AddOne(ctx context.Context) error {
	return c.Add(ctx, 1)
}

// GaugeBuilder records instantaneous values on a gauge with optional labels.
type GaugeBuilder struct {
	gauge metric.Int64Gauge
	name  string
	attrs []attribute.KeyValue
}

// WithLabels returns a builder carrying the given string labels in addition
// to any already present. The receiver is not mutated.
func (g *GaugeBuilder) WithLabels(labels map[string]string) *GaugeBuilder {
	return &GaugeBuilder{
		gauge: g.gauge,
		name:  g.name,
		attrs: mergeLabels(g.attrs, labels),
	}
}

// Set records the current value of the gauge.
func (g *GaugeBuilder) Set(ctx context.Context, value int64) error {
	if g.gauge == nil {
		return ErrNilGauge
	}

	g.gauge.Record(ctx, value, metric.WithAttributes(g.attrs...))

	return nil
}

// HistogramBuilder records observations on a histogram with optional labels.
type HistogramBuilder struct {
	histogram metric.Float64Histogram
	name      string
	attrs     []attribute.KeyValue
}

// WithLabels returns a builder carrying the given string labels in addition
// to any already present. The receiver is not mutated.
func (h *HistogramBuilder) WithLabels(labels map[string]string) *HistogramBuilder {
	return &HistogramBuilder{
		histogram: h.histogram,
		name:      h.name,
		attrs:     mergeLabels(h.attrs, labels),
	}
}

// Record adds an observation to the histogram.
func (h *HistogramBuilder) Record(ctx context.Context, value float64) error {
	if h.histogram == nil {
		return ErrNilHistogram
	}

	h.histogram.Record(ctx, value, metric.WithAttributes(h.attrs...))

	return nil
}

func mergeLabels(attrs []attribute.KeyValue, labels map[string]string) []attribute.KeyValue {
	merged := make([]attribute.KeyValue, 0, len(attrs)+len(labels))
	merged = append(merged, attrs...)

	for key, value := range labels {
		merged = append(merged, attribute.String(key, value))
	}

	return merged
}
