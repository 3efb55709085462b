// Package system provides a Clock backed by the wall clock.
package system

import "time"

// Clock implements monitor.Clock using time.Now.
type Clock struct{}

// New constructs a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}
