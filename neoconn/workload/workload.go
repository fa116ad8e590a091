// Package workload drives many concurrent tasks through a connection
// provider, reproducing the parallel-task pattern that originally exposed
// the driver leakage: each task acquires a handle, runs one small query,
// and releases. Pointing it at the managed registry versus the unmanaged
// baseline makes the difference in driver counts directly measurable.
package workload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/backoff"
	"github.com/KazChe/lib-neoconn/neoconn/errgroup"
	"github.com/KazChe/lib-neoconn/neoconn/log"
	libNeo4j "github.com/KazChe/lib-neoconn/neoconn/neo4j"
	"github.com/KazChe/lib-neoconn/neoconn/registry"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Defaults for the simulated workload, matching the scenario the library
// was originally validated against: 100 parallel tasks against one alias.
const (
	DefaultAlias = "root"
	DefaultTasks = 100
)

var (
	// ErrNilProvider is returned when the runner is constructed without a
	// connection provider.
	ErrNilProvider = errors.New("workload: provider is nil")
	// ErrNotNeo4jDriver is returned when a handle does not wrap a concrete
	// Neo4j driver and therefore cannot run queries.
	ErrNotNeo4jDriver = errors.New("workload: handle does not wrap a neo4j driver")
)

// TaskFunc is the unit of work each task performs once it holds a handle.
type TaskFunc func(ctx context.Context, handle *registry.Handle, taskNumber int) error

// Config describes one workload run.
type Config struct {
	// Alias is the logical connection every task acquires.
	Alias string
	// Tasks is the number of concurrent task executions.
	Tasks int
	// Connection is the config handed to the provider on every acquire.
	Connection libNeo4j.Config
	// WorkDelay simulates task work after the query completes.
	WorkDelay time.Duration
	// TaskTimeout bounds each task, acquire included. Non-positive means
	// the run context alone bounds the tasks.
	TaskTimeout time.Duration

	Logger log.Logger
}

// Result summarizes a workload run.
type Result struct {
	Tasks     int
	Succeeded int64
	Failed    int64
	Elapsed   time.Duration
}

// Runner executes a workload against a connection provider. The provider
// decides the connection strategy; the runner is identical for the managed
// and unmanaged paths.
type Runner struct {
	provider registry.Provider
	cfg      Config
	task     TaskFunc
	now      func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithTaskFunc replaces the default RETURN-query task. Intended for tests
// and for demos that want heavier per-task work.
func WithTaskFunc(task TaskFunc) RunnerOption {
	return func(r *Runner) {
		if task != nil {
			r.task = task
		}
	}
}

// WithClock overrides the runner's time source.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a Runner over provider.
func NewRunner(provider registry.Provider, cfg Config, opts ...RunnerOption) (*Runner, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}

	if strings.TrimSpace(cfg.Alias) == "" {
		cfg.Alias = DefaultAlias
	}

	if cfg.Tasks <= 0 {
		cfg.Tasks = DefaultTasks
	}

	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	runner := &Runner{
		provider: provider,
		cfg:      cfg,
		task:     executeReturnQuery(cfg.Connection.Database),
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}

	return runner, nil
}

// Run launches cfg.Tasks concurrent tasks and waits for all of them.
// Individual task failures are counted, not propagated: tasks are
// independent, so one broken task never cancels the rest. The returned
// error is non-nil only for panics or a canceled run context.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("context cannot be nil")
	}

	start := r.now()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLogger(r.cfg.Logger)

	var succeeded, failed atomic.Int64

	for taskNumber := 0; taskNumber < r.cfg.Tasks; taskNumber++ {
		group.Go(func() error {
			if err := r.runTask(groupCtx, taskNumber); err != nil {
				failed.Add(1)
				r.cfg.Logger.Log(groupCtx, log.LevelWarn, "task failed",
					log.Int("task_number", taskNumber), log.Err(err))

				return nil
			}

			succeeded.Add(1)

			return nil
		})
	}

	err := group.Wait()

	result := Result{
		Tasks:     r.cfg.Tasks,
		Succeeded: succeeded.Load(),
		Failed:    failed.Load(),
		Elapsed:   r.now().Sub(start),
	}

	r.cfg.Logger.Log(ctx, log.LevelInfo, "workload finished",
		log.Int("tasks", result.Tasks),
		log.Int64("succeeded", result.Succeeded),
		log.Int64("failed", result.Failed),
		log.Duration("elapsed", result.Elapsed),
	)

	return result, err
}

func (r *Runner) runTask(ctx context.Context, taskNumber int) error {
	if r.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TaskTimeout)

		defer cancel()
	}

	handle, err := r.provider.Acquire(ctx, r.cfg.Alias, r.cfg.Connection)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	defer r.provider.Release(handle)

	if err := r.task(ctx, handle, taskNumber); err != nil {
		return fmt.Errorf("task %d: %w", taskNumber, err)
	}

	if err := backoff.SleepWithContext(ctx, r.cfg.WorkDelay); err != nil {
		return err
	}

	return nil
}

// executeReturnQuery is the default task: a parameterized RETURN round
// trip, just enough to pull a pooled connection through the handle.
func executeReturnQuery(database string) TaskFunc {
	return func(ctx context.Context, handle *registry.Handle, taskNumber int) error {
		driver, ok := handle.Conn().(neo4j.DriverWithContext)
		if !ok {
			return ErrNotNeo4jDriver
		}

		options := []neo4j.ExecuteQueryConfigurationOption{}
		if database != "" {
			options = append(options, neo4j.ExecuteQueryWithDatabase(database))
		}

		_, err := neo4j.ExecuteQuery(ctx, driver,
			"RETURN $task_number AS task_number",
			map[string]any{"task_number": taskNumber},
			neo4j.EagerResultTransformer,
			options...,
		)
		if err != nil {
			return fmt.Errorf("return query: %w", err)
		}

		return nil
	}
}
