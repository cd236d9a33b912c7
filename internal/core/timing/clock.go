// Package timing provides the engine's monotonic timestamp facility and a
// per-stage latency recorder. Timestamps are nanosecond ticks from an
// engine-owned epoch; any monotonic source satisfies the contract, and the Go
// runtime's monotonic reading is the implementation.
package timing

import (
	"fmt"
	"time"
)

// Clock issues monotonic nanosecond timestamps relative to its creation.
// It is created once at engine startup and passed to every component; there
// is no process-wide clock state.
type Clock struct {
	base       time.Time
	overheadNs uint64
}

// calibrationSamples is the number of readings taken at startup to verify
// monotonicity and measure per-call overhead.
const calibrationSamples = 1024

// NewClock creates and calibrates a clock. A calibration failure means the
// platform's monotonic source is unusable and the engine must not start.
func NewClock() (*Clock, error) {
	c := &Clock{base: time.Now()}
	if err := c.calibrate(); err != nil {
		return nil, fmt.Errorf("timing: calibration: %w", err)
	}
	return c, nil
}

func (c *Clock) calibrate() error {
	start := c.Now()
	last := start
	for i := 0; i < calibrationSamples; i++ {
		ts := c.Now()
		if ts < last {
			return fmt.Errorf("clock went backwards: %d after %d", ts, last)
		}
		last = ts
	}
	c.overheadNs = (last - start) / calibrationSamples
	return nil
}

// Now returns nanoseconds elapsed since the clock epoch.
func (c *Clock) Now() uint64 {
	return uint64(time.Since(c.base))
}

// NowMicros returns Now in microseconds.
func (c *Clock) NowMicros() uint64 { return c.Now() / 1_000 }

// NowMillis returns Now in milliseconds.
func (c *Clock) NowMillis() uint64 { return c.Now() / 1_000_000 }

// OverheadNs is the calibrated cost of a single Now call.
func (c *Clock) OverheadNs() uint64 { return c.overheadNs }

// WallTime converts an engine timestamp back to wall-clock time.
func (c *Clock) WallTime(ts uint64) time.Time {
	return c.base.Add(time.Duration(ts))
}
