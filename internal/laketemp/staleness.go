package laketemp

import "time"

// EvaluateStatus classifies a reading's freshness at the given instant.
//
// A nil reading means the lake has never produced a value: StatusError.
// A reading strictly older than timeout is StatusStale; the cached value is
// retained by the owner, but presentation layers must suppress it. Anything
// else is StatusFresh. The function depends only on its arguments, so owners
// re-run it on every refresh tick and on every read.
func EvaluateStatus(reading *TemperatureReading, now time.Time, timeout time.Duration) Status {
	if reading == nil {
		return StatusError
	}
	if now.Sub(reading.ObservedAt) > timeout {
		return StatusStale
	}
	return StatusFresh
}
