package audio

import "errors"

// NegotiateRate opens a device stream at the requested rate and, when that
// fails, once more at the device's native rate. It returns the rate the stream
// actually runs at; callers resample between that and the rate they asked
// for. When both attempts fail the errors are joined.
func NegotiateRate[S any](want int, native float64, open func(rate int) (S, error)) (S, int, error) {
	s, err := open(want)
	if err == nil {
		return s, want, nil
	}
	fallback := int(native)
	if fallback <= 0 || fallback == want {
		return s, want, err
	}
	s, nerr := open(fallback)
	if nerr != nil {
		return s, want, errors.Join(err, nerr)
	}
	return s, fallback, nil
}

// ScaleBlock converts a block of frames at rate from into the block size that
// covers the same duration at rate to.
func ScaleBlock(frames, from, to int) int {
	if from <= 0 || to <= 0 || from == to {
		return frames
	}
	return max(1, frames*to/from)
}
