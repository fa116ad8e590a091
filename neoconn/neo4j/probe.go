package neo4j

import (
	"context"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/log"
)

// DefaultProbeTimeout bounds a single connectivity verification round trip.
const DefaultProbeTimeout = 5 * time.Second

// Status classifies the outcome of a connectivity probe.
type Status uint8

// Probe outcomes.
const (
	StatusHealthy Status = iota
	StatusUnhealthy
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result is the classification produced by a probe. Err carries the
// verification failure for unhealthy results; it is diagnostic context, not
// a control-flow error.
type Result struct {
	Status  Status
	Latency time.Duration
	Err     error
}

// Healthy reports whether the probed connection is usable.
func (r Result) Healthy() bool {
	return r.Status == StatusHealthy
}

// Probe verifies that a driver can still reach the database. Expected
// failures (server down, auth revoked, network partition) are returned as a
// classification, never as a Go error.
type Probe struct {
	timeout time.Duration
	logger  log.Logger
	now     func() time.Time
}

// ProbeOption customizes a Probe.
type ProbeOption func(*Probe)

// WithClock overrides the probe's time source. Intended for tests.
func WithClock(now func() time.Time) ProbeOption {
	return func(p *Probe) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProbe creates a Probe with the given per-check timeout. A non-positive
// timeout selects DefaultProbeTimeout. logger may be nil.
func NewProbe(timeout time.Duration, logger log.Logger, opts ...ProbeOption) *Probe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	if logger == nil {
		logger = log.NewNop()
	}

	probe := &Probe{timeout: timeout, logger: logger, now: time.Now}

	for _, opt := range opts {
		if opt != nil {
			opt(probe)
		}
	}

	return probe
}

// Timeout returns the per-check timeout.
func (p *Probe) Timeout() time.Duration {
	return p.timeout
}

// Check issues one bounded connectivity verification against conn. The
// parent context still applies: if it is canceled mid-probe the result is
// unhealthy with the cancellation error attached, and the caller decides
// whether that counts as a timeout.
func (p *Probe) Check(ctx context.Context, conn Conn) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	if conn == nil {
		return Result{Status: StatusUnhealthy, Err: ErrNilDriver}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	err := conn.VerifyConnectivity(probeCtx)
	latency := p.now().Sub(start)

	if err != nil {
		p.logger.Log(ctx, log.LevelDebug, "connectivity probe failed",
			log.Duration("latency", latency), log.Err(err))

		return Result{Status: StatusUnhealthy, Latency: latency, Err: err}
	}

	return Result{Status: StatusHealthy, Latency: latency}
}
