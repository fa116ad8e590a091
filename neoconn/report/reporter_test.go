//go:build unit

package report

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	"github.com/KazChe/lib-neoconn/neoconn/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource returns a canned snapshot and counts how often it is sampled.
type fakeSource struct {
	mu    sync.Mutex
	views map[string]registry.EntryView
	calls atomic.Int64
}

func (s *fakeSource) Snapshot() map[string]registry.EntryView {
	s.calls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	views := make(map[string]registry.EntryView, len(s.views))
	for alias, view := range s.views {
		views[alias] = view
	}

	return views
}

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (c *captureLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, msg)
}

func (c *captureLogger) With(_ ...log.Field) log.Logger { return c }
func (c *captureLogger) Enabled(_ log.Level) bool       { return true }
func (c *captureLogger) Sync(_ context.Context) error   { return nil }

func (c *captureLogger) count(msg string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0

	for _, recorded := range c.entries {
		if recorded == msg {
			total++
		}
	}

	return total
}

func TestNew_RequiresSource(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{})
	require.ErrorIs(t, err, ErrNilSource)
}

func TestReporter_SampleLogsEachEntry(t *testing.T) {
	t.Parallel()

	source := &fakeSource{views: map[string]registry.EntryView{
		"root": {
			Alias:     "root",
			State:     registry.StateVerified,
			CreatedAt: time.Now(),
			Age:       time.Minute,
			Creations: 1,
			Refs:      3,
		},
		"analytics": {
			Alias: "analytics",
			State: registry.StateSuspect,
		},
	}}
	logger := &captureLogger{}

	reporter, err := New(source, Config{Logger: logger})
	require.NoError(t, err)

	reporter.Sample(context.Background())

	assert.Equal(t, 2, logger.count("registry entry"))
	assert.EqualValues(t, 1, source.calls.Load())
}

func TestReporter_SampleToleratesEmptyRegistry(t *testing.T) {
	t.Parallel()

	reporter, err := New(&fakeSource{}, Config{})
	require.NoError(t, err)

	// Must not panic or error on an empty snapshot.
	reporter.Sample(context.Background())
}

func TestReporter_SampleIncludesServerConnections(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{}

	reporter, err := New(&fakeSource{}, Config{
		Logger: logger,
		ServerConnections: func(_ context.Context) (int64, error) {
			return 42, nil
		},
	})
	require.NoError(t, err)

	reporter.Sample(context.Background())

	assert.Equal(t, 1, logger.count("connection usage"))
}

func TestReporter_SampleToleratesServerQueryFailure(t *testing.T) {
	t.Parallel()

	logger := &captureLogger{}

	reporter, err := New(&fakeSource{}, Config{
		Logger: logger,
		ServerConnections: func(_ context.Context) (int64, error) {
			return 0, errors.New("query failed")
		},
	})
	require.NoError(t, err)

	reporter.Sample(context.Background())

	assert.Equal(t, 1, logger.count("failed to sample server connection count"))
	assert.Equal(t, 0, logger.count("connection usage"))
}

func TestReporter_StartSamplesOnInterval(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}

	reporter, err := New(source, Config{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, reporter.Start())
	require.ErrorIs(t, reporter.Start(), ErrAlreadyStarted)

	assert.Eventually(t, func() bool {
		return source.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	reporter.Stop()

	settled := source.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, source.calls.Load(), "no samples after Stop")
}

func TestReporter_StopWithoutStartIsNoOp(t *testing.T) {
	t.Parallel()

	reporter, err := New(&fakeSource{}, Config{})
	require.NoError(t, err)

	reporter.Stop()
	reporter.Stop()
}
