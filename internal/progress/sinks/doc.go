// Package sinks provides progress.Sink implementations: structured logs,
// Prometheus counters, a Postgres event log and a Pub/Sub feed.
package sinks
