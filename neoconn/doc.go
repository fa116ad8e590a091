// Package neoconn is the root of lib-neoconn, a connection-lifecycle
// manager for Neo4j drivers. The registry subpackage holds the core
// alias-to-handle table with its single-creation guarantee; neo4j builds
// and probes drivers; report samples usage; workload reproduces the
// parallel-task pattern the library was built to fix.
package neoconn
