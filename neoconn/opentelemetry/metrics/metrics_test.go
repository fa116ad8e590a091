//go:build unit

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()

	factory, err := NewFactory(noop.NewMeterProvider().Meter("test"), nil)
	require.NoError(t, err)

	return factory
}

func TestNewFactory_RejectsNilMeter(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(nil, nil)
	require.ErrorIs(t, err, ErrNilMeter)
}

func TestFactory_CounterRecordsThroughBuilder(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)

	counter, err := factory.Counter(Metric{Name: "drivers_created_total", Unit: "1"})
	require.NoError(t, err)

	require.NoError(t, counter.AddOne(context.Background()))
	require.NoError(t, counter.
		WithLabels(map[string]string{"alias": "root"}).
		Add(context.Background(), 3))
}

func TestFactory_GaugeRecordsThroughBuilder(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)

	gauge, err := factory.Gauge(Metric{Name: "registry_entries", Unit: "1"})
	require.NoError(t, err)

	require.NoError(t, gauge.
		WithLabels(map[string]string{"state": "verified"}).
		Set(context.Background(), 7))
}

func TestFactory_HistogramRecordsThroughBuilder(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)

	histogram, err := factory.Histogram(Metric{Name: "acquire_duration_seconds", Unit: "s"})
	require.NoError(t, err)

	require.NoError(t, histogram.
		WithLabels(map[string]string{"alias": "root"}).
		Record(context.Background(), 0.042))
}

func TestFactory_CachesInstrumentsByName(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)
	m := Metric{Name: "drivers_reused_total", Unit: "1"}

	first, err := factory.Counter(m)
	require.NoError(t, err)

	second, err := factory.Counter(m)
	require.NoError(t, err)

	assert.Equal(t, first.counter, second.counter, "repeated lookups must reuse the cached instrument")
}

func TestBuilders_WithLabelsDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	factory := newTestFactory(t)

	base, err := factory.Counter(Metric{Name: "probe_failures_total", Unit: "1"})
	require.NoError(t, err)

	labeled := base.WithLabels(map[string]string{"alias": "root"})

	assert.Empty(t, base.attrs)
	assert.Len(t, labeled.attrs, 1)

	stacked := labeled.WithLabels(map[string]string{"result": "unhealthy"})
	assert.Len(t, labeled.attrs, 1)
	assert.Len(t, stacked.attrs, 2)
}

func TestBuilders_NilInstrumentErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	require.ErrorIs(t, (&CounterBuilder{}).AddOne(ctx), ErrNilCounter)
	require.ErrorIs(t, (&GaugeBuilder{}).Set(ctx, 1), ErrNilGauge)
	require.ErrorIs(t, (&HistogramBuilder{}).Record(ctx, 1), ErrNilHistogram)
}

func TestNewNopFactory_IsSafeWithoutProvider(t *testing.T) {
	t.Parallel()

	factory := NewNopFactory()

	counter, err := factory.Counter(Metric{Name: "anything_total", Unit: "1"})
	require.NoError(t, err)
	require.NoError(t, counter.AddOne(context.Background()))
}
