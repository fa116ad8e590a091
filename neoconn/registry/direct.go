package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	"github.com/KazChe/lib-neoconn/neoconn/neo4j"
)

// Direct is the unmanaged acquisition path: every Acquire constructs a
// brand-new driver, exactly the pattern the registry exists to prevent.
// It is kept as a measurable negative control so tests and workloads can
// quantify the difference against the managed path; never use it as the
// connection strategy of an application.
type Direct struct {
	create CreateFunc
	check  CheckFunc
	logger log.Logger
	now    func() time.Time

	mu      sync.Mutex
	handles []*Handle
	created atomic.Int64
}

// Compile-time assertion: *Direct implements Provider.
var _ Provider = (*Direct)(nil)

// NewDirect creates the unmanaged baseline. logger may be nil.
func NewDirect(create CreateFunc, check CheckFunc, logger log.Logger) (*Direct, error) {
	if create == nil || check == nil {
		return nil, ErrNilDependency
	}

	if logger == nil {
		logger = log.NewNop()
	}

	return &Direct{
		create: create,
		check:  check,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Acquire builds and verifies a new driver on every call, regardless of
// how many live drivers already exist for the alias.
func (d *Direct) Acquire(ctx context.Context, alias string, cfg neo4j.Config) (*Handle, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	if strings.TrimSpace(alias) == "" {
		return nil, fmt.Errorf("%w: empty alias", ErrConfigInvalid)
	}

	conn, err := d.create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: alias %q: %w", ErrConnectionUnavailable, alias, err)
	}

	handle := newHandle(alias, conn, d.now())

	result := d.check(ctx, conn)
	if !result.Healthy() {
		_ = handle.close(ctx)

		probeErr := result.Err
		if probeErr == nil {
			probeErr = errors.New("probe reported unhealthy")
		}

		return nil, fmt.Errorf("%w: alias %q: %w", ErrConnectionUnavailable, alias, probeErr)
	}

	handle.markVerified(d.now())
	handle.retain()

	d.mu.Lock()
	d.handles = append(d.handles, handle)
	d.mu.Unlock()

	total := d.created.Add(1)

	d.logger.Log(ctx, log.LevelDebug, "unmanaged driver created",
		log.String("alias", alias),
		log.Int64("total_created", total),
	)

	return handle, nil
}

// Release decrements the handle's reference count. Like the managed path
// it never closes the driver, which is precisely why the unmanaged pattern
// leaks connections.
func (d *Direct) Release(h *Handle) {
	if h == nil {
		return
	}

	h.releaseRef()
}

// CreatedCount returns how many drivers this baseline has constructed.
func (d *Direct) CreatedCount() int64 {
	return d.created.Load()
}

// CloseAll tears down every driver the baseline created. Used by tests and
// demos to clean up after a measurement run.
func (d *Direct) CloseAll(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}

	d.mu.Lock()
	drained := d.handles
	d.handles = nil
	d.mu.Unlock()

	var errs []error

	for _, handle := range drained {
		if err := handle.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
