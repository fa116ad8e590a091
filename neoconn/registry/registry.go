// Package registry maintains the process-wide table of managed Neo4j driver
// handles, one per alias. It owns the creation-vs-reuse decision: concurrent
// acquires for a cold alias converge on a single driver construction, stale
// handles are re-verified inside a freshness window, and broken handles are
// closed and replaced instead of silently reused.
//
// The guarantee is per process. In multi-process deployments each process
// holds its own registry, so the bounded-driver-count property is local;
// there is no cross-process coordination.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/assert"
	"github.com/KazChe/lib-neoconn/neoconn/backoff"
	"github.com/KazChe/lib-neoconn/neoconn/log"
	"github.com/KazChe/lib-neoconn/neoconn/neo4j"
	libOpentelemetry "github.com/KazChe/lib-neoconn/neoconn/opentelemetry"
	"github.com/KazChe/lib-neoconn/neoconn/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Defaults applied by Config.normalize.
const (
	DefaultFreshnessWindow  = 30 * time.Second
	DefaultAcquireTimeout   = neo4j.DefaultConnectionAcquisitionTimeout
	DefaultCreateTimeout    = neo4j.DefaultConnectionTimeout
	DefaultProbeRetries     = 2
	DefaultProbeBackoffBase = 100 * time.Millisecond

	// replaceBackoffCap bounds the delay between replacement attempts for a
	// persistently unreachable alias.
	replaceBackoffCap = 30 * time.Second
)

var (
	driversCreatedMetric = metrics.Metric{
		Name:        "neoconn_drivers_created_total",
		Unit:        "1",
		Description: "Total number of underlying drivers constructed by the registry",
	}
	driversReusedMetric = metrics.Metric{
		Name:        "neoconn_drivers_reused_total",
		Unit:        "1",
		Description: "Total number of acquires served from an existing verified handle",
	}
	driversReplacedMetric = metrics.Metric{
		Name:        "neoconn_drivers_replaced_total",
		Unit:        "1",
		Description: "Total number of handles replaced after failed probes",
	}
	probeFailuresMetric = metrics.Metric{
		Name:        "neoconn_probe_failures_total",
		Unit:        "1",
		Description: "Total number of failed connectivity probes",
	}
	acquireTimeoutsMetric = metrics.Metric{
		Name:        "neoconn_acquire_timeouts_total",
		Unit:        "1",
		Description: "Total number of acquires that exceeded their allotted wait",
	}
	acquireDurationMetric = metrics.Metric{
		Name:        "neoconn_acquire_duration_seconds",
		Unit:        "s",
		Description: "Time spent inside Registry.Acquire",
	}
)

// CreateFunc builds a new underlying driver for a config. The registry
// calls it at most once per alias per generation.
type CreateFunc func(ctx context.Context, cfg neo4j.Config) (neo4j.Conn, error)

// CheckFunc classifies the health of an existing driver.
type CheckFunc func(ctx context.Context, conn neo4j.Conn) neo4j.Result

// Provider is the narrow acquisition interface consumed by task runners.
// Both Registry (the managed path) and Direct (the per-call baseline)
// implement it.
type Provider interface {
	Acquire(ctx context.Context, alias string, cfg neo4j.Config) (*Handle, error)
	Release(h *Handle)
}

// Config tunes registry behavior. The zero value is usable; normalize
// applies the documented defaults.
type Config struct {
	// FreshnessWindow is the maximum age of a successful probe before the
	// next acquire re-verifies the handle.
	FreshnessWindow time.Duration
	// AcquireTimeout bounds an Acquire call when the caller's context
	// carries no deadline of its own.
	AcquireTimeout time.Duration
	// CreateTimeout bounds the detached driver construction for a cold
	// alias. Deliberately independent of any single caller's deadline: a
	// timed-out waiter must not abort the creation for everyone else.
	CreateTimeout time.Duration
	// ProbeRetries is the number of additional probe attempts after the
	// first failure, before a handle is declared suspect.
	ProbeRetries int
	// ProbeBackoffBase seeds the jittered exponential delay between probe
	// retries.
	ProbeBackoffBase time.Duration

	Logger         log.Logger
	MetricsFactory *metrics.Factory
}

func (cfg Config) normalize() Config {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}

	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}

	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = DefaultCreateTimeout
	}

	if cfg.ProbeRetries < 0 {
		cfg.ProbeRetries = DefaultProbeRetries
	}

	if cfg.ProbeBackoffBase <= 0 {
		cfg.ProbeBackoffBase = DefaultProbeBackoffBase
	}

	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	if cfg.MetricsFactory == nil {
		cfg.MetricsFactory = metrics.NewNopFactory()
	}

	return cfg
}

// entry is the per-alias slot in the registry table. ready is closed when
// the initial creation finishes; handle and err are then safe to read.
// Replacement swaps handle under mu, the same per-alias lock that guards
// probing, so overlapping callers observe a linear history of transitions.
type entry struct {
	alias string
	cfg   neo4j.Config // first config wins; later configs are ignored
	ready chan struct{}

	handle atomic.Pointer[Handle]
	err    error // written once before ready closes

	mu                 sync.Mutex // serializes probe and replacement
	replaceAttempts    int        // guarded by mu
	lastReplaceAttempt time.Time  // guarded by mu

	creations      atomic.Int64
	mismatchWarned atomic.Bool
}

// Registry maps aliases to managed driver handles. Construct one per
// process at startup and pass it down explicitly; there is no ambient
// global instance.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	create CreateFunc
	check  CheckFunc
	cfg    Config
	now    func() time.Time
}

// Option customizes internal registry dependencies (primarily for tests).
type Option func(*Registry)

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Registry backed by the given create and check functions.
// Typical wiring passes a neo4j.Factory's Create method and a
// neo4j.Probe's Check method.
func New(cfg Config, create CreateFunc, check CheckFunc, opts ...Option) (*Registry, error) {
	if create == nil || check == nil {
		return nil, ErrNilDependency
	}

	r := &Registry{
		entries: make(map[string]*entry),
		create:  create,
		check:   check,
		cfg:     cfg.normalize(),
		now:     time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r, nil
}

// Acquire returns a usable handle for alias, constructing the underlying
// driver on first access. cfg is consulted only when the alias is new;
// subsequent calls with a different config keep the original and log a
// warning (first config wins).
//
// Concurrent acquires for a cold alias result in exactly one driver
// construction: the losers wait on the winner's creation rather than
// building their own. Acquire honors the context deadline, falling back to
// the configured AcquireTimeout when none is set.
func (r *Registry) Acquire(ctx context.Context, alias string, cfg neo4j.Config) (*Handle, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if strings.TrimSpace(alias) == "" {
		return nil, fmt.Errorf("%w: empty alias", ErrConfigInvalid)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)

		defer cancel()
	}

	tracer := otel.Tracer("registry")

	ctx, span := tracer.Start(ctx, "registry.acquire")
	defer span.End()

	span.SetAttributes(attribute.String("db.connection.alias", alias))

	start := r.now()

	defer func() {
		if histogram, err := r.cfg.MetricsFactory.Histogram(acquireDurationMetric); err == nil {
			_ = histogram.
				WithLabels(map[string]string{"alias": alias}).
				Record(context.WithoutCancel(ctx), r.now().Sub(start).Seconds())
		}
	}()

	handle, err := r.acquire(ctx, alias, cfg)
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "acquire failed", err)

		return nil, err
	}

	return handle, nil
}

func (r *Registry) acquire(ctx context.Context, alias string, cfg neo4j.Config) (*Handle, error) {
	for {
		if ctx.Err() != nil {
			return nil, r.waitErr(ctx, alias)
		}

		ent, created, err := r.lookupOrCreate(ctx, alias, cfg)
		if err != nil {
			return nil, err
		}

		if !created {
			r.warnOnConfigMismatch(ctx, ent, cfg)
		}

		select {
		case <-ent.ready:
		case <-ctx.Done():
			return nil, r.waitErr(ctx, alias)
		}

		if ent.err != nil {
			// The creator already removed the failed entry, so the next
			// acquire starts a fresh creation.
			return nil, fmt.Errorf("%w: alias %q: %w", ErrConnectionUnavailable, alias, ent.err)
		}

		handle := ent.handle.Load()
		if handle == nil {
			asserter := assert.New(r.cfg.Logger, "registry", "acquire")

			return nil, asserter.Never(ctx, "entry ready without handle or error")
		}

		if handle.fresherThan(r.now(), r.cfg.FreshnessWindow) {
			r.recordCounter(ctx, driversReusedMetric, alias)
			handle.retain()

			return handle, nil
		}

		handle, err = r.verifyOrReplace(ctx, ent)
		if err != nil {
			return nil, err
		}

		if handle != nil {
			handle.retain()

			return handle, nil
		}

		// The entry went away underneath us (administrative reset); take
		// another pass at the table.
	}
}

// Release returns a handle after use. Handles are shared rather than
// checked out, so this is reference-count bookkeeping only; it never
// closes the underlying driver.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}

	h.releaseRef()
}

// Reset closes and removes the entry for alias. Waiters of an in-flight
// creation observe the replacement handle as closed and re-acquire.
func (r *Registry) Reset(ctx context.Context, alias string) error {
	if ctx == nil {
		return ErrNilContext
	}

	r.mu.Lock()
	ent := r.entries[alias]
	delete(r.entries, alias)
	r.mu.Unlock()

	return r.closeEntry(ctx, ent)
}

// ResetAll closes every handle and empties the table. The registry stays
// usable: subsequent acquires create fresh handles. Calling it twice in a
// row is safe; the second call is a no-op.
func (r *Registry) ResetAll(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	r.mu.Lock()
	drained := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var errs []error

	for _, ent := range drained {
		if err := r.closeEntry(ctx, ent); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close tears down every handle and marks the registry terminally closed.
// Acquire afterwards returns ErrRegistryClosed.
func (r *Registry) Close(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	return r.ResetAll(ctx)
}

// EntryView is a point-in-time, read-only view of one registry entry.
type EntryView struct {
	Alias         string
	State         State
	CreatedAt     time.Time
	LastCheckedAt time.Time
	Age           time.Duration
	Creations     int64
	Refs          int64
}

// Snapshot returns a copy of the current table for observability. Entries
// whose initial creation is still in flight are omitted. The copy is taken
// under a read lock only; probes never block a snapshot and vice versa.
func (r *Registry) Snapshot() map[string]EntryView {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make(map[string]EntryView, len(r.entries))

	for alias, ent := range r.entries {
		select {
		case <-ent.ready:
		default:
			continue
		}

		handle := ent.handle.Load()
		if handle == nil {
			continue
		}

		views[alias] = EntryView{
			Alias:         alias,
			State:         handle.State(),
			CreatedAt:     handle.CreatedAt(),
			LastCheckedAt: handle.LastChecked(),
			Age:           now.Sub(handle.CreatedAt()),
			Creations:     ent.creations.Load(),
			Refs:          handle.Refs(),
		}
	}

	return views
}

// lookupOrCreate returns the entry for alias, installing a new one and
// kicking off its driver construction when absent. The construction runs
// in its own goroutine under CreateTimeout so that callers whose contexts
// expire while waiting never abort it for the remaining waiters.
func (r *Registry) lookupOrCreate(ctx context.Context, alias string, cfg neo4j.Config) (*entry, bool, error) {
	r.mu.RLock()
	closed := r.closed
	ent := r.entries[alias]
	r.mu.RUnlock()

	if closed {
		return nil, false, ErrRegistryClosed
	}

	if ent != nil {
		return ent, false, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrRegistryClosed
	}

	if ent := r.entries[alias]; ent != nil {
		return ent, false, nil
	}

	ent = &entry{
		alias: alias,
		cfg:   cfg,
		ready: make(chan struct{}),
	}
	r.entries[alias] = ent

	go r.buildEntry(ent)

	return ent, true, nil
}

// buildEntry constructs and verifies the initial driver for ent, then
// wakes every waiter by closing ready. On failure the entry is removed
// before ready closes so the next acquire retries from scratch.
func (r *Registry) buildEntry(ent *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CreateTimeout)
	defer cancel()

	handle, err := r.buildHandle(ctx, ent.alias, ent.cfg)
	if err != nil {
		ent.err = err

		r.removeEntry(ent)
		r.cfg.Logger.Log(ctx, log.LevelWarn, "driver creation failed",
			log.String("alias", ent.alias), log.Err(err))
		close(ent.ready)

		return
	}

	ent.handle.Store(handle)
	ent.creations.Add(1)
	r.recordCounter(ctx, driversCreatedMetric, ent.alias)
	r.cfg.Logger.Log(ctx, log.LevelInfo, "driver created",
		log.String("alias", ent.alias))
	close(ent.ready)

	// An administrative reset may have removed the entry while the driver
	// was being built. Close the orphan so it cannot leak; waiters that
	// already picked it up observe the closed state and re-acquire.
	if !r.isRegistered(ent) {
		_ = handle.close(ctx)
	}
}

// buildHandle creates one driver and verifies it before first use. The
// returned handle is already Verified.
func (r *Registry) buildHandle(ctx context.Context, alias string, cfg neo4j.Config) (*Handle, error) {
	conn, err := r.create(ctx, cfg)
	if err != nil {
		return nil, err
	}

	handle := newHandle(alias, conn, r.now())

	result := r.check(ctx, conn)
	if !result.Healthy() {
		_ = handle.close(ctx)

		probeErr := result.Err
		if probeErr == nil {
			probeErr = errors.New("probe reported unhealthy")
		}

		return nil, fmt.Errorf("initial probe: %w", probeErr)
	}

	handle.markVerified(r.now())

	return handle, nil
}

// verifyOrReplace re-probes a stale handle and, when the probe budget is
// exhausted, closes it and builds a replacement. The whole sequence runs
// under the entry's lock so concurrent callers for this alias converge on
// one probe and at most one replacement; other aliases proceed untouched.
// A nil, nil return means the entry was removed concurrently and the
// caller should retry the table lookup.
func (r *Registry) verifyOrReplace(ctx context.Context, ent *entry) (*Handle, error) {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if !r.isRegistered(ent) {
		return nil, nil
	}

	handle := ent.handle.Load()
	if handle == nil {
		return nil, nil
	}

	now := r.now()

	// Another caller may have finished the probe while we waited on the
	// entry lock.
	if handle.fresherThan(now, r.cfg.FreshnessWindow) {
		r.recordCounter(ctx, driversReusedMetric, ent.alias)

		return handle, nil
	}

	if handle.State() != StateClosed {
		verified, err := r.reprobe(ctx, ent, handle)
		if err != nil {
			return nil, err
		}

		if verified {
			r.recordCounter(ctx, driversReusedMetric, ent.alias)

			return handle, nil
		}

		// Probe budget exhausted: degrade and tear down before replacing.
		handle.markSuspect()
		r.cfg.Logger.Log(ctx, log.LevelWarn, "handle degraded to suspect",
			log.String("alias", ent.alias),
			log.Duration("age", now.Sub(handle.CreatedAt())),
		)

		_ = handle.close(ctx)
	}

	return r.replace(ctx, ent)
}

// reprobe runs the probe retry budget against handle. It returns true when
// a probe succeeded, false when the budget is exhausted, and an error only
// for caller-context expiry.
func (r *Registry) reprobe(ctx context.Context, ent *entry, handle *Handle) (bool, error) {
	attempts := r.cfg.ProbeRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoff.ExponentialWithJitter(r.cfg.ProbeBackoffBase, attempt-1)
			if err := backoff.SleepWithContext(ctx, delay); err != nil {
				return false, r.waitErr(ctx, ent.alias)
			}
		}

		result := r.check(ctx, handle.Conn())
		if result.Healthy() {
			handle.markVerified(r.now())

			return true, nil
		}

		r.recordCounter(ctx, probeFailuresMetric, ent.alias)
		r.cfg.Logger.Log(ctx, log.LevelDebug, "probe failed",
			log.String("alias", ent.alias),
			log.Int("attempt", attempt+1),
			log.Err(result.Err),
		)

		if ctx.Err() != nil {
			return false, r.waitErr(ctx, ent.alias)
		}
	}

	return false, nil
}

// replace builds a new driver for ent under the entry lock. Attempts are
// rate-limited with jittered exponential backoff so an unreachable
// database degrades acquires instead of triggering a creation storm.
func (r *Registry) replace(ctx context.Context, ent *entry) (*Handle, error) {
	now := r.now()

	if ent.replaceAttempts > 0 {
		exp := backoff.Exponential(time.Second, ent.replaceAttempts)
		if exp > replaceBackoffCap {
			exp = replaceBackoffCap
		}

		// Equal jitter: at least half the exponential delay always elapses,
		// so a burst of acquires cannot race past the rate limit.
		delay := exp/2 + backoff.FullJitter(exp/2)

		if elapsed := now.Sub(ent.lastReplaceAttempt); elapsed < delay {
			return nil, fmt.Errorf("%w: alias %q replacement rate-limited (next attempt in %s)",
				ErrConnectionUnavailable, ent.alias, delay-elapsed)
		}
	}

	ent.lastReplaceAttempt = now

	handle, err := r.buildHandle(ctx, ent.alias, ent.cfg)
	if err != nil {
		ent.replaceAttempts++

		if ctx.Err() != nil {
			return nil, r.waitErr(ctx, ent.alias)
		}

		return nil, fmt.Errorf("%w: alias %q: %w", ErrConnectionUnavailable, ent.alias, err)
	}

	ent.handle.Store(handle)
	ent.creations.Add(1)
	ent.replaceAttempts = 0

	r.recordCounter(ctx, driversCreatedMetric, ent.alias)
	r.recordCounter(ctx, driversReplacedMetric, ent.alias)
	r.cfg.Logger.Log(ctx, log.LevelInfo, "handle replaced",
		log.String("alias", ent.alias),
		log.Int64("creations", ent.creations.Load()),
	)

	return handle, nil
}

// warnOnConfigMismatch logs once per entry when a caller supplies a config
// that differs from the one the handle was built with. The original config
// is kept; this matches the documented first-config-wins behavior.
func (r *Registry) warnOnConfigMismatch(ctx context.Context, ent *entry, cfg neo4j.Config) {
	if cfg == ent.cfg {
		return
	}

	if !ent.mismatchWarned.CompareAndSwap(false, true) {
		return
	}

	r.cfg.Logger.Log(ctx, log.LevelWarn, "ignoring config change for existing alias; first config wins",
		log.String("alias", ent.alias),
		log.String("existing_uri", ent.cfg.URI),
		log.String("ignored_uri", cfg.URI),
	)
}

func (r *Registry) closeEntry(ctx context.Context, ent *entry) error {
	if ent == nil {
		return nil
	}

	select {
	case <-ent.ready:
	default:
		// Creation still in flight; buildEntry notices the entry is gone
		// and closes the orphan itself.
		return nil
	}

	handle := ent.handle.Load()
	if handle == nil {
		return nil
	}

	return handle.close(ctx)
}

func (r *Registry) removeEntry(ent *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[ent.alias] == ent {
		delete(r.entries, ent.alias)
	}
}

func (r *Registry) isRegistered(ent *entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.entries[ent.alias] == ent
}

// waitErr maps a context failure to the registry error taxonomy: deadline
// expiry becomes ErrAcquireTimeout, cancellation passes through.
func (r *Registry) waitErr(ctx context.Context, alias string) error {
	err := ctx.Err()

	if errors.Is(err, context.DeadlineExceeded) {
		r.recordCounter(ctx, acquireTimeoutsMetric, alias)

		return fmt.Errorf("%w: alias %q", ErrAcquireTimeout, alias)
	}

	return fmt.Errorf("acquire alias %q: %w", alias, err)
}

// recordCounter increments a registry counter; metric errors are logged
// and never surfaced to acquire callers.
func (r *Registry) recordCounter(ctx context.Context, m metrics.Metric, alias string) {
	counter, err := r.cfg.MetricsFactory.Counter(m)
	if err != nil {
		r.cfg.Logger.Log(ctx, log.LevelWarn, "failed to create registry counter",
			log.String("metric", m.Name), log.Err(err))

		return
	}

	err = counter.
		WithLabels(map[string]string{"alias": alias}).
		AddOne(context.WithoutCancel(ctx))
	if err != nil {
		r.cfg.Logger.Log(ctx, log.LevelWarn, "failed to record registry counter",
			log.String("metric", m.Name), log.Err(err))
	}
}
