package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/neo4j"
)

// State describes where a managed handle is in its lifecycle.
type State uint8

// Handle lifecycle states. A handle is Fresh between construction and its
// first successful probe, Verified while the last probe succeeded, Suspect
// after a failed probe, and Closed once torn down. Closed is terminal: a
// closed handle is never handed out again.
const (
	StateFresh State = iota
	StateVerified
	StateSuspect
	StateClosed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateVerified:
		return "verified"
	case StateSuspect:
		return "suspect"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle wraps one underlying driver instance. Handles are shared, not
// checked out: any number of concurrent callers may hold the same Handle,
// and the driver's own connection pool mediates actual network use.
type Handle struct {
	alias     string
	conn      neo4j.Conn
	createdAt time.Time

	mu          sync.Mutex
	state       State
	lastChecked time.Time

	refs      atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

func newHandle(alias string, conn neo4j.Conn, createdAt time.Time) *Handle {
	return &Handle{
		alias:     alias,
		conn:      conn,
		createdAt: createdAt,
		state:     StateFresh,
	}
}

// Alias returns the logical name this handle was created for.
func (h *Handle) Alias() string {
	return h.alias
}

// Conn returns the underlying driver. Callers needing the concrete
// neo4j.DriverWithContext can type-assert the result.
//
//nolint:ireturn
func (h *Handle) Conn() neo4j.Conn {
	return h.conn
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// CreatedAt returns when the underlying driver was constructed.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// LastChecked returns the time of the most recent successful probe, or the
// zero time if the handle was never verified.
func (h *Handle) LastChecked() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastChecked
}

// Refs returns the current reference count. The count is informational
// bookkeeping only; it never gates teardown.
func (h *Handle) Refs() int64 {
	return h.refs.Load()
}

func (h *Handle) retain() {
	h.refs.Add(1)
}

func (h *Handle) releaseRef() {
	h.refs.Add(-1)
}

// markVerified records a successful probe at the given time. No-op once
// the handle is closed.
func (h *Handle) markVerified(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return
	}

	h.state = StateVerified
	h.lastChecked = at
}

// markSuspect degrades the handle after a failed probe. No-op once closed.
func (h *Handle) markSuspect() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return
	}

	h.state = StateSuspect
}

// fresherThan reports whether the last successful probe is within window of
// now and the handle is currently verified.
func (h *Handle) fresherThan(now time.Time, window time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state == StateVerified && now.Sub(h.lastChecked) < window
}

// close tears down the underlying driver exactly once. The handle is
// marked Closed regardless of whether the driver's own Close succeeds, so
// callers never retry operations on a half-closed driver.
func (h *Handle) close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.state = StateClosed
		h.mu.Unlock()

		if h.conn != nil {
			h.closeErr = h.conn.Close(ctx)
		}
	})

	return h.closeErr
}
