// Command leakdemo runs a burst of concurrent tasks against a Neo4j
// instance through either the managed registry or the per-call baseline,
// then prints how many drivers each pattern actually built. Useful for
// demonstrating bolt connection leakage and its fix side by side.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	libNeo4j "github.com/KazChe/lib-neoconn/neoconn/neo4j"
	"github.com/KazChe/lib-neoconn/neoconn/registry"
	"github.com/KazChe/lib-neoconn/neoconn/report"
	"github.com/KazChe/lib-neoconn/neoconn/workload"
	libZap "github.com/KazChe/lib-neoconn/neoconn/zap"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultWorkDelay = 2 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "leakdemo:", err)
		os.Exit(1)
	}
}

func run() error {
	logger, _, err := libZap.New(libZap.Config{
		Environment: libZap.Environment(envOrDefault("ENV", string(libZap.EnvironmentLocal))),
		Level:       os.Getenv("LOG_LEVEL"),
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	ctx := context.Background()

	defer func() {
		syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_ = logger.Sync(syncCtx)
	}()

	connCfg := libNeo4j.Config{
		URI:       envOrDefault("NEO4J_URI", "neo4j://localhost:7687"),
		Username:  envOrDefault("NEO4J_USERNAME", "neo4j"),
		Password:  os.Getenv("NEO4J_PASSWORD"),
		Database:  os.Getenv("NEO4J_DATABASE"),
		KeepAlive: true,
	}

	factory, err := libNeo4j.NewFactory(logger)
	if err != nil {
		return fmt.Errorf("build factory: %w", err)
	}

	probe := libNeo4j.NewProbe(libNeo4j.DefaultProbeTimeout, logger)

	pattern := envOrDefault("NEOCONN_PATTERN", "managed")
	tasks := envIntOrDefault("NEOCONN_TASKS", workload.DefaultTasks)
	workDelay := envDurationOrDefault("NEOCONN_WORK_DELAY", defaultWorkDelay)

	logger.Log(ctx, log.LevelInfo, "starting leak demo",
		log.String("pattern", pattern),
		log.Int("tasks", tasks),
		log.String("uri", connCfg.URI),
	)

	switch pattern {
	case "managed":
		return runManaged(ctx, logger, factory, probe, connCfg, tasks, workDelay)
	case "direct":
		return runDirect(ctx, logger, factory, probe, connCfg, tasks, workDelay)
	default:
		return fmt.Errorf("unknown NEOCONN_PATTERN %q (want managed or direct)", pattern)
	}
}

func runManaged(
	ctx context.Context,
	logger log.Logger,
	factory *libNeo4j.Factory,
	probe *libNeo4j.Probe,
	connCfg libNeo4j.Config,
	tasks int,
	workDelay time.Duration,
) error {
	reg, err := registry.New(registry.Config{Logger: logger}, factory.Create, probe.Check)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	defer func() { _ = reg.Close(ctx) }()

	if err := runWorkload(ctx, reg, logger, connCfg, tasks, workDelay); err != nil {
		return err
	}

	views := reg.Snapshot()
	for alias, view := range views {
		logger.Log(ctx, log.LevelInfo, "registry entry after run",
			log.String("alias", alias),
			log.String("state", view.State.String()),
			log.Duration("age", view.Age),
			log.Int64("creations", view.Creations),
		)
	}

	// One extra acquire to borrow the live driver for the server-side
	// comparison the reporter normally runs on its interval.
	handle, err := reg.Acquire(ctx, workload.DefaultAlias, connCfg)
	if err != nil {
		return nil
	}

	defer reg.Release(handle)

	driver, ok := handle.Conn().(neo4j.DriverWithContext)
	if !ok {
		return nil
	}

	reporter, err := report.New(reg, report.Config{
		Logger:            logger,
		ServerConnections: report.Neo4jServerConnections(driver),
	})
	if err != nil {
		return fmt.Errorf("build reporter: %w", err)
	}

	reporter.Sample(ctx)

	return nil
}

func runDirect(
	ctx context.Context,
	logger log.Logger,
	factory *libNeo4j.Factory,
	probe *libNeo4j.Probe,
	connCfg libNeo4j.Config,
	tasks int,
	workDelay time.Duration,
) error {
	direct, err := registry.NewDirect(factory.Create, probe.Check, logger)
	if err != nil {
		return fmt.Errorf("build direct baseline: %w", err)
	}

	defer func() { _ = direct.CloseAll(ctx) }()

	if err := runWorkload(ctx, direct, logger, connCfg, tasks, workDelay); err != nil {
		return err
	}

	logger.Log(ctx, log.LevelWarn, "unmanaged pattern finished",
		log.Int64("drivers_created", direct.CreatedCount()),
		log.Int("tasks", tasks),
	)

	return nil
}

func runWorkload(
	ctx context.Context,
	provider registry.Provider,
	logger log.Logger,
	connCfg libNeo4j.Config,
	tasks int,
	workDelay time.Duration,
) error {
	runner, err := workload.NewRunner(provider, workload.Config{
		Tasks:      tasks,
		Connection: connCfg,
		WorkDelay:  workDelay,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	if _, err := runner.Run(ctx); err != nil {
		return fmt.Errorf("run workload: %w", err)
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return parsed
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return parsed
}
