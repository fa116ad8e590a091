// Package log defines the minimal structured logging contract consumed by
// the rest of lib-neoconn. Production code should plug in the zap-backed
// implementation from the sibling zap package; tests typically use a spy or
// NopLogger.
package log
