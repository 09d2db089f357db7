// Package system provides the wall clock used for event timestamps.
package system

import "time"

// Clock implements crawler.Clock on the wall clock, always in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
