// Package metrics provides a thread-safe factory over OpenTelemetry
// instruments with lazy creation, so call sites can declare a Metric once
// and record through a fluent builder without holding instrument handles.
package metrics

import (
	"errors"
	"fmt"
	"sync"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrNilMeter indicates that a nil OpenTelemetry meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Metric describes an instrument to be created on first use.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// Buckets sets histogram bucket boundaries; nil selects DefaultLatencyBuckets.
	Buckets []float64
}

// DefaultLatencyBuckets are histogram boundaries for latency measurements,
// in seconds.
var DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Factory lazily creates and caches OpenTelemetry instruments. Safe for
// concurrent use.
type Factory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	gauges     sync.Map // string -> metric.Int64Gauge
	histograms sync.Map // string -> metric.Float64Histogram
	logger     log.Logger
}

// NewFactory creates a Factory bound to the given meter.
func NewFactory(meter metric.Meter, logger log.Logger) (*Factory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &Factory{meter: meter, logger: logger}, nil
}

// NewNopFactory returns a Factory backed by the no-op meter. Safe as a
// fallback when a real meter provider is unavailable.
func NewNopFactory() *Factory {
	return &Factory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter returns a fluent builder for the named counter, creating the
// instrument on first use.
func (f *Factory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{counter: counter, name: m.Name}, nil
}

// Gauge returns a fluent builder for the named gauge, creating the
// instrument on first use.
func (f *Factory) Gauge(m Metric) (*GaugeBuilder, error) {
	gauge, err := f.getOrCreateGauge(m)
	if err != nil {
		return nil, err
	}

	return &GaugeBuilder{gauge: gauge, name: m.Name}, nil
}

// Histogram returns a fluent builder for the named histogram, creating the
// instrument on first use.
func (f *Factory) Histogram(m Metric) (*HistogramBuilder, error) {
	if m.Buckets == nil {
		m.Buckets = DefaultLatencyBuckets
	}

	histogram, err := f.getOrCreateHistogram(m)
	if err != nil {
		return nil, err
	}

	return &HistogramBuilder{histogram: histogram, name: m.Name}, nil
}

func (f *Factory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if cached, ok := f.counters.Load(m.Name); ok {
		return cached.(metric.Int64Counter), nil
	}

	counter, err := f.meter.Int64Counter(
		m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	actual, _ := f.counters.LoadOrStore(m.Name, counter)

	return actual.(metric.Int64Counter), nil
}

func (f *Factory) getOrCreateGauge(m Metric) (metric.Int64Gauge, error) {
	if cached, ok := f.gauges.Load(m.Name); ok {
		return cached.(metric.Int64Gauge), nil
	}

	gauge, err := f.meter.Int64Gauge(
		m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("create gauge %q: %w", m.Name, err)
	}

	actual, _ := f.gauges.LoadOrStore(m.Name, gauge)

	return actual.(metric.Int64Gauge), nil
}

func (f *Factory) getOrCreateHistogram(m Metric) (metric.Float64Histogram, error) {
	if cached, ok := f.histograms.Load(m.Name); ok {
		return cached.(metric.Float64Histogram), nil
	}

	histogram, err := f.meter.Float64Histogram(
		m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
		metric.WithExplicitBucketBoundaries(m.Buckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	actual, _ := f.histograms.LoadOrStore(m.Name, histogram)

	return actual.(metric.Float64Histogram), nil
}
