package relay

import "time"

// PlaybackSchedule assigns gapless, non-overlapping start times to output
// buffers on the output clock.
//
// The zero value is ready to use. PlaybackSchedule is not safe for concurrent
// use; the [Relay] guards it with its own lock.
type PlaybackSchedule struct {
	next time.Duration
}

// Reserve returns the start time for a buffer of duration d given the current
// output-clock time now, and advances the cursor past it. A buffer never
// starts before now and never before the end of the previous one.
func (s *PlaybackSchedule) Reserve(now, d time.Duration) time.Duration {
	start := max(s.next, now)
	s.next = start + d
	return start
}

// Next returns the earliest start time of the next buffer.
func (s *PlaybackSchedule) Next() time.Duration { return s.next }

// Reset moves the cursor back to zero, so the next buffer starts at the
// current clock time.
func (s *PlaybackSchedule) Reset() { s.next = 0 }
