package driver

import "time"

// MonotonicClock counts milliseconds since it was created. It reads Go's
// monotonic clock, so wall clock adjustments do not move it.
type MonotonicClock struct {
	start  time.Time
	offset uint64
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// NewMonotonicClockAt starts counting at offset. The counter wraps like the
// millisecond counters of embedded devices.
func NewMonotonicClockAt(offset uint64) *MonotonicClock {
	return &MonotonicClock{start: time.Now(), offset: offset}
}

func (c *MonotonicClock) NowMillis() uint64 {
	return c.offset + uint64(time.Since(c.start).Milliseconds())
}
