// Package store declares the repository used to persist request lifecycle events.
package store
