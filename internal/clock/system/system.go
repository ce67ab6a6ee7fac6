// Package system provides the wall-clock implementation of export.Clock.
package system

import "time"

// Clock reads the system clock.
type Clock struct{}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
