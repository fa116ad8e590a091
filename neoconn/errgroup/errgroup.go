// Package errgroup manages groups of goroutines sharing a cancellation
// context, with panic recovery so one misbehaving task cannot take down the
// whole process. Used by the workload runner to fan out concurrent tasks.
package errgroup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/KazChe/lib-neoconn/neoconn/log"
)

// ErrPanicRecovered is returned by Wait when a goroutine in the group panics.
var ErrPanicRecovered = errors.New("errgroup: panic recovered")

// Group runs a set of goroutines under one cancellation context. The first
// error returned by any goroutine cancels the context and is returned by
// Wait; later errors are discarded.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	logger  log.Logger
}

// WithContext returns a new Group and a derived context. The derived
// context is canceled when the first goroutine returns a non-nil error or
// when Wait returns, whichever happens first.
func WithContext(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	return &Group{ctx: ctx, cancel: cancel}, ctx
}

// SetLogger attaches an optional logger used to report recovered panics.
func (grp *Group) SetLogger(logger log.Logger) {
	if grp == nil {
		return
	}

	grp.logger = logger
}

// Go starts fn in a new goroutine. A panic inside fn is recovered, logged,
// and surfaced through Wait as ErrPanicRecovered.
func (grp *Group) Go(fn func() error) {
	grp.wg.Add(1)

	go func() {
		defer grp.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				grp.logPanic(recovered)

				grp.record(fmt.Errorf("%w: %v", ErrPanicRecovered, recovered))
			}
		}()

		if err := fn(); err != nil {
			grp.record(err)
		}
	}()
}

// Wait blocks until every goroutine started by Go has finished, cancels the
// group context, and returns the first recorded error, if any.
func (grp *Group) Wait() error {
	grp.wg.Wait()

	if grp.cancel != nil {
		grp.cancel()
	}

	return grp.err
}

func (grp *Group) record(err error) {
	grp.errOnce.Do(func() {
		grp.err = err

		if grp.cancel != nil {
			grp.cancel()
		}
	})
}

func (grp *Group) logPanic(recovered any) {
	if grp.logger == nil {
		return
	}

	ctx := grp.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	grp.logger.Log(ctx, log.LevelError, "panic recovered in errgroup goroutine",
		log.Any("panic", recovered),
		log.String("stack", string(debug.Stack())),
	)
}
