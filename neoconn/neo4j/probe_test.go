//go:build unit

package neo4j

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verifyFunc adapts a function to the Conn interface for probe tests.
type verifyFunc func(ctx context.Context) error

func (f verifyFunc) VerifyConnectivity(ctx context.Context) error { return f(ctx) }
func (f verifyFunc) Close(_ context.Context) error                { return nil }

func TestNewProbe_AppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultProbeTimeout, NewProbe(0, nil).Timeout())
	assert.Equal(t, time.Second, NewProbe(time.Second, nil).Timeout())
}

func TestProbe_CheckClassifiesHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()

		probe := NewProbe(time.Second, nil)

		healthy := verifyFunc(func(_ context.Context) error { return nil })

		result := probe.Check(context.Background(), healthy)
		assert.True(t, result.Healthy())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.NoError(t, result.Err)
	})

	t.Run("unhealthy_carries_cause", func(t *testing.T) {
		t.Parallel()

		probe := NewProbe(time.Second, nil)
		cause := errors.New("connection refused")

		broken := verifyFunc(func(_ context.Context) error { return cause })

		result := probe.Check(context.Background(), broken)
		assert.False(t, result.Healthy())
		assert.Equal(t, StatusUnhealthy, result.Status)
		require.ErrorIs(t, result.Err, cause)
	})

	t.Run("nil_conn", func(t *testing.T) {
		t.Parallel()

		result := NewProbe(time.Second, nil).Check(context.Background(), nil)
		assert.False(t, result.Healthy())
		require.ErrorIs(t, result.Err, ErrNilDriver)
	})
}

func TestProbe_CheckBoundsVerificationTime(t *testing.T) {
	t.Parallel()

	probe := NewProbe(20*time.Millisecond, nil)

	slow := verifyFunc(func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})

	start := time.Now()
	result := probe.Check(context.Background(), slow)

	assert.False(t, result.Healthy())
	require.ErrorIs(t, result.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "probe must enforce its own timeout")
}

func TestProbe_CheckMeasuresLatency(t *testing.T) {
	t.Parallel()

	current := time.Now()
	probe := NewProbe(time.Second, nil, WithClock(func() time.Time {
		defer func() { current = current.Add(25 * time.Millisecond) }()

		return current
	}))

	healthy := verifyFunc(func(_ context.Context) error { return nil })

	result := probe.Check(context.Background(), healthy)
	assert.Equal(t, 25*time.Millisecond, result.Latency)
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", Status(9).String())
}
