// Package neo4j builds and probes Neo4j driver instances. It owns pure
// construction and connectivity verification only; caching and reuse
// decisions belong to the registry package.
package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/KazChe/lib-neoconn/neoconn/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
)

var (
	// ErrCreate wraps driver construction failures.
	ErrCreate = errors.New("neo4j driver create failed")
	// ErrNilDependency is returned when an Option sets a required dependency to nil.
	ErrNilDependency = errors.New("neo4j option set a required dependency to nil")
	// ErrNilDriver is returned when the underlying driver constructor returns nil.
	ErrNilDriver = errors.New("neo4j constructor returned nil driver")
)

// Conn is the minimal surface the rest of the library needs from an
// underlying driver. neo4j.DriverWithContext satisfies it; tests substitute
// lightweight fakes.
type Conn interface {
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

type factoryDeps struct {
	newDriver func(uri string, auth neo4j.AuthToken, configurers ...func(*config.Config)) (neo4j.DriverWithContext, error)
}

func defaultDeps() factoryDeps {
	return factoryDeps{
		newDriver: func(uri string, auth neo4j.AuthToken, configurers ...func(*config.Config)) (neo4j.DriverWithContext, error) {
			return neo4j.NewDriverWithContext(uri, auth, configurers...)
		},
	}
}

// Option customizes internal factory dependencies (primarily for tests).
type Option func(*factoryDeps)

// Factory constructs Neo4j drivers from a Config. It is a pure constructor:
// every Create call builds a new driver bound to its own connection pool,
// and nothing is cached.
type Factory struct {
	deps   factoryDeps
	logger log.Logger
}

// NewFactory creates a Factory. logger may be nil.
func NewFactory(logger log.Logger, opts ...Option) (*Factory, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	deps := defaultDeps()

	for _, opt := range opts {
		if opt == nil {
			continue
		}

		opt(&deps)
	}

	if deps.newDriver == nil {
		return nil, ErrNilDependency
	}

	return &Factory{deps: deps, logger: logger}, nil
}

// Create validates cfg and builds one driver instance. The driver's
// built-in pool is bounded by cfg.MaxPoolSize. Construction does not dial;
// callers verify connectivity through a Probe before first use.
func (f *Factory) Create(ctx context.Context, cfg Config) (Conn, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg = cfg.normalize()

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, cfg.Realm)

	driver, err := f.deps.newDriver(cfg.URI, auth, func(driverCfg *config.Config) {
		driverCfg.MaxConnectionPoolSize = cfg.MaxPoolSize
		driverCfg.MaxConnectionLifetime = cfg.MaxConnectionLifetime
		driverCfg.ConnectionAcquisitionTimeout = cfg.ConnectionAcquisitionTimeout
		driverCfg.SocketConnectTimeout = cfg.ConnectionTimeout
		driverCfg.SocketKeepalive = cfg.KeepAlive
		driverCfg.MaxTransactionRetryTime = cfg.MaxTransactionRetryTime
	})
	if err != nil {
		f.logger.Log(ctx, log.LevelError, "neo4j driver construction failed",
			log.String("uri", cfg.URI), log.Err(err))

		return nil, fmt.Errorf("%w: %w", ErrCreate, err)
	}

	if driver == nil {
		return nil, ErrNilDriver
	}

	f.logger.Log(ctx, log.LevelDebug, "neo4j driver constructed",
		log.String("uri", cfg.URI),
		log.Int("max_pool_size", cfg.MaxPoolSize),
		log.Duration("max_connection_lifetime", cfg.MaxConnectionLifetime),
	)

	return driver, nil
}
