package pos

import "time"

// Clock supplies wall-clock time for timestamps. Ordering never depends on
// it; commands are ordered by seq.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
