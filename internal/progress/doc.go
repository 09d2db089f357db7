// Package progress carries request lifecycle events from the engine to
// pluggable sinks. Emit never blocks; a background goroutine batches events
// and flushes them by size or age.
package progress
