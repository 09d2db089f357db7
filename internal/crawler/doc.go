// Package crawler implements the fetch-scheduling engine: request
// normalization, a priority-aware slot pool fronted by keyed rate limiters,
// transport execution with fixed-delay retries, charset normalization and
// optional document parsing, and exactly-once completion with drain tracking.
//
// The engine never talks to the network, parses markup, or sniffs charsets
// itself; those capabilities are injected through Deps.
package crawler
