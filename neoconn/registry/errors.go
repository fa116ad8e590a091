package registry

import "errors"

var (
	// ErrNilContext is returned when a required context is nil.
	ErrNilContext = errors.New("context cannot be nil")
	// ErrConfigInvalid indicates a malformed alias or connection config.
	// It is fatal for the call and never retried automatically.
	ErrConfigInvalid = errors.New("registry: invalid alias or config")
	// ErrConnectionUnavailable indicates driver construction or the health
	// probe failed after the retry budget. The caller decides whether to
	// retry its own work.
	ErrConnectionUnavailable = errors.New("registry: connection unavailable")
	// ErrAcquireTimeout is returned when an acquire exceeded its allotted
	// wait. Distinct from ErrConnectionUnavailable so callers can tell
	// "slow" from "broken".
	ErrAcquireTimeout = errors.New("registry: acquire timed out")
	// ErrRegistryClosed is returned when the registry is used after Close.
	// It signals caller misuse and is never returned transiently.
	ErrRegistryClosed = errors.New("registry: closed")
	// ErrNilDependency is returned when the registry is constructed without
	// a create or check function.
	ErrNilDependency = errors.New("registry: nil dependency")
)
