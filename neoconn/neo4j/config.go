package neo4j

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Connection defaults. These mirror the settings the library was tuned
// with in production: a bounded pool shared by all tasks in the process,
// recycled connections, and a generous acquisition timeout so bursts queue
// on the pool instead of failing.
const (
	DefaultMaxPoolSize                  = 50
	DefaultMaxConnectionLifetime        = 5 * time.Minute
	DefaultConnectionAcquisitionTimeout = 60 * time.Second
	DefaultConnectionTimeout            = 30 * time.Second
	DefaultMaxTransactionRetryTime      = 15 * time.Second

	maxMaxPoolSize = 1000
)

var (
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid neo4j config")
	// ErrEmptyURI is returned when the connection URI is empty.
	ErrEmptyURI = errors.New("neo4j uri cannot be empty")
	// ErrEmptyUsername is returned when no username is configured.
	ErrEmptyUsername = errors.New("neo4j username cannot be empty")
)

// Config defines how a Neo4j driver is constructed: endpoint, credentials,
// target database, and pool behavior. Encryption is selected through the
// URI scheme (neo4j+s, bolt+s), matching how the underlying driver works.
type Config struct {
	URI      string
	Username string
	Password string
	Realm    string
	// Database is the default database for sessions opened from this driver.
	// Empty selects the server's default.
	Database string

	MaxPoolSize                  int
	MaxConnectionLifetime        time.Duration
	ConnectionAcquisitionTimeout time.Duration
	ConnectionTimeout            time.Duration
	MaxTransactionRetryTime      time.Duration
	KeepAlive                    bool
}

// Validate reports whether the config is complete enough to build a driver.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.URI) == "" {
		return ErrEmptyURI
	}

	if strings.TrimSpace(cfg.Username) == "" {
		return ErrEmptyUsername
	}

	if cfg.MaxPoolSize < 0 {
		return fmt.Errorf("%w: negative max pool size %d", ErrInvalidConfig, cfg.MaxPoolSize)
	}

	return nil
}

// normalize applies defaults and clamps to a Config copy.
func (cfg Config) normalize() Config {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = DefaultMaxPoolSize
	} else if cfg.MaxPoolSize > maxMaxPoolSize {
		cfg.MaxPoolSize = maxMaxPoolSize
	}

	if cfg.MaxConnectionLifetime <= 0 {
		cfg.MaxConnectionLifetime = DefaultMaxConnectionLifetime
	}

	if cfg.ConnectionAcquisitionTimeout <= 0 {
		cfg.ConnectionAcquisitionTimeout = DefaultConnectionAcquisitionTimeout
	}

	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}

	if cfg.MaxTransactionRetryTime <= 0 {
		cfg.MaxTransactionRetryTime = DefaultMaxTransactionRetryTime
	}

	return cfg
}
