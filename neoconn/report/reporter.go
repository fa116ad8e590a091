// Package report periodically samples the registry and exposes its state
// as gauges and log lines, optionally alongside the database's own
// connection telemetry. It is strictly read-only: the reporter never
// mutates registry state.
package report

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	"github.com/KazChe/lib-neoconn/neoconn/opentelemetry/metrics"
	"github.com/KazChe/lib-neoconn/neoconn/registry"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = 15 * time.Second

var (
	// ErrNilSource is returned when the reporter is constructed without a
	// snapshot source.
	ErrNilSource = errors.New("report: snapshot source is nil")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("report: reporter already started")
)

var (
	registryEntriesMetric = metrics.Metric{
		Name:        "neoconn_registry_entries",
		Unit:        "1",
		Description: "Number of managed handles currently held by the registry",
	}
	handleStateMetric = metrics.Metric{
		Name:        "neoconn_handle_state",
		Unit:        "1",
		Description: "Number of managed handles per lifecycle state",
	}
	serverConnectionsMetric = metrics.Metric{
		Name:        "neoconn_server_connections",
		Unit:        "1",
		Description: "Connection count reported by the database server itself",
	}
)

// SnapshotSource is the read-only view the reporter needs from the
// registry.
type SnapshotSource interface {
	Snapshot() map[string]registry.EntryView
}

// Config tunes the reporter.
type Config struct {
	// Interval is the sampling period; non-positive selects DefaultInterval.
	Interval time.Duration
	// ServerConnections, when set, is sampled each tick and reported next
	// to the registry's own counts so a drifting pair (few handles, many
	// server connections) points at an unmanaged creation path somewhere.
	ServerConnections func(ctx context.Context) (int64, error)

	Logger         log.Logger
	MetricsFactory *metrics.Factory
}

// Reporter samples a SnapshotSource on a fixed interval.
type Reporter struct {
	source   SnapshotSource
	interval time.Duration
	server   func(ctx context.Context) (int64, error)
	logger   log.Logger
	factory  *metrics.Factory

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Reporter over source.
func New(source SnapshotSource, cfg Config) (*Reporter, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	factory := cfg.MetricsFactory
	if factory == nil {
		factory = metrics.NewNopFactory()
	}

	return &Reporter{
		source:   source,
		interval: interval,
		server:   cfg.ServerConnections,
		logger:   logger,
		factory:  factory,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins the sampling loop in a background goroutine.
func (rep *Reporter) Start() error {
	rep.mu.Lock()
	defer rep.mu.Unlock()

	if rep.started {
		return ErrAlreadyStarted
	}

	rep.started = true

	rep.wg.Add(1)

	go rep.loop()

	rep.logger.Log(context.Background(), log.LevelInfo, "usage reporter started",
		log.Duration("interval", rep.interval))

	return nil
}

// Stop halts the sampling loop and waits for the in-flight sample, if any,
// to finish. Stopping a reporter that never started is a no-op.
func (rep *Reporter) Stop() {
	rep.mu.Lock()

	if !rep.started {
		rep.mu.Unlock()

		return
	}

	rep.started = false
	close(rep.stopChan)
	rep.mu.Unlock()

	rep.wg.Wait()
	rep.logger.Log(context.Background(), log.LevelInfo, "usage reporter stopped")
}

func (rep *Reporter) loop() {
	defer rep.wg.Done()

	ticker := time.NewTicker(rep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rep.Sample(context.Background())
		case <-rep.stopChan:
			return
		}
	}
}

// Sample takes one observation immediately. Exposed so demos and tests can
// drive the reporter without waiting out the interval. An empty registry
// is a valid observation, not an error.
func (rep *Reporter) Sample(ctx context.Context) {
	views := rep.source.Snapshot()

	rep.setGauge(ctx, registryEntriesMetric, nil, int64(len(views)))

	stateCounts := make(map[registry.State]int64)

	for _, view := range views {
		stateCounts[view.State]++

		rep.logger.Log(ctx, log.LevelDebug, "registry entry",
			log.String("alias", view.Alias),
			log.String("state", view.State.String()),
			log.Duration("age", view.Age),
			log.Int64("creations", view.Creations),
			log.Int64("refs", view.Refs),
		)
	}

	for state, count := range stateCounts {
		rep.setGauge(ctx, handleStateMetric, map[string]string{"state": state.String()}, count)
	}

	if rep.server == nil {
		return
	}

	serverCount, err := rep.server(ctx)
	if err != nil {
		rep.logger.Log(ctx, log.LevelWarn, "failed to sample server connection count", log.Err(err))

		return
	}

	rep.setGauge(ctx, serverConnectionsMetric, nil, serverCount)
	rep.logger.Log(ctx, log.LevelInfo, "connection usage",
		log.Int("registry_entries", len(views)),
		log.Int64("server_connections", serverCount),
	)
}

func (rep *Reporter) setGauge(ctx context.Context, m metrics.Metric, labels map[string]string, value int64) {
	gauge, err := rep.factory.Gauge(m)
	if err != nil {
		rep.logger.Log(ctx, log.LevelWarn, "failed to create reporter gauge",
			log.String("metric", m.Name), log.Err(err))

		return
	}

	if labels != nil {
		gauge = gauge.WithLabels(labels)
	}

	if err := gauge.Set(ctx, value); err != nil {
		rep.logger.Log(ctx, log.LevelWarn, "failed to set reporter gauge",
			log.String("metric", m.Name), log.Err(err))
	}
}
