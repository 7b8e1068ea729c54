package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Frozen is a manually advanced clock for scheduler and store tests.
// Params: current fixed instant.
// Returns: controllable clock implementation.
type Frozen struct {
	Current time.Time
}

// Now returns the fixed instant.
// Params: none.
// Returns: stored timestamp.
func (f *Frozen) Now() time.Time {
	return f.Current
}

// Advance moves the fixed instant forward.
// Params: duration to add.
// Returns: none.
func (f *Frozen) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
