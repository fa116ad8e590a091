//go:build unit

package errgroup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_WaitReturnsNilWhenAllSucceed(t *testing.T) {
	t.Parallel()

	grp, _ := WithContext(context.Background())

	var completed atomic.Int64

	for i := 0; i < 10; i++ {
		grp.Go(func() error {
			completed.Add(1)

			return nil
		})
	}

	require.NoError(t, grp.Wait())
	assert.EqualValues(t, 10, completed.Load())
}

func TestGroup_FirstErrorWinsAndCancelsContext(t *testing.T) {
	t.Parallel()

	grp, ctx := WithContext(context.Background())
	cause := errors.New("task failed")

	grp.Go(func() error {
		return cause
	})

	grp.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("sibling was not canceled")
		}
	})

	require.ErrorIs(t, grp.Wait(), cause)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestGroup_RecoversPanics(t *testing.T) {
	t.Parallel()

	grp, _ := WithContext(context.Background())

	grp.Go(func() error {
		panic("boom")
	})

	err := grp.Wait()
	require.ErrorIs(t, err, ErrPanicRecovered)
	assert.Contains(t, err.Error(), "boom")
}

type panicLogger struct {
	mu       sync.Mutex
	messages []string
}

func (p *panicLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, msg)
}

func (p *panicLogger) With(_ ...log.Field) log.Logger { return p }
func (p *panicLogger) Enabled(_ log.Level) bool       { return true }
func (p *panicLogger) Sync(_ context.Context) error   { return nil }

func TestGroup_LogsRecoveredPanic(t *testing.T) {
	t.Parallel()

	grp, _ := WithContext(context.Background())
	logger := &panicLogger{}
	grp.SetLogger(logger)

	grp.Go(func() error {
		panic("boom")
	})

	require.Error(t, grp.Wait())

	logger.mu.Lock()
	defer logger.mu.Unlock()

	require.Len(t, logger.messages, 1)
	assert.Equal(t, "panic recovered in errgroup goroutine", logger.messages[0])
}

func TestGroup_WaitCancelsContextOnSuccess(t *testing.T) {
	t.Parallel()

	grp, ctx := WithContext(context.Background())

	grp.Go(func() error { return nil })

	require.NoError(t, grp.Wait())
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}
