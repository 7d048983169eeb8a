// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock satisfies scraper.Clock with UTC wall-clock time.
type Clock struct{}

// New returns a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time truncated to microseconds, the
// precision Postgres keeps for timestamptz.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
