package engine

import "time"

// Clock returns the current wall-clock time. Deadlines and sync timestamps are read through it.
type Clock func() time.Time

// SystemClock reports time.Now truncated to whole seconds, the resolution of deadlines.
func SystemClock() time.Time {
	return time.Now().Truncate(time.Second)
}
