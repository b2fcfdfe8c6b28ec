// Package system provides the wall clock used to timestamp outcomes and stored files.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to microseconds so values
// survive a round-trip through Postgres timestamptz unchanged.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
