// Package playout provides a sample-accurate, pure-Go [audio.OutputContext].
//
// A [Timeline] keeps every scheduled buffer on an absolute sample grid and
// mixes whatever is due each time the device pulls a block through
// [Timeline.Render]. The output clock is the number of samples rendered so
// far, so [Timeline.Now] advances exactly as fast as the hardware consumes
// audio. Device back-ends (see audio/portaudio) call Render from their
// stream callback.
package playout

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/concierge/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.OutputContext = (*Timeline)(nil)
	_ audio.Voice         = (*voice)(nil)
)

// ErrClosed is returned by [Timeline.Schedule] after [Timeline.Close].
var ErrClosed = errors.New("playout: timeline closed")

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithCapacity sets the initial capacity hint for the pending-voice queue.
func WithCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.pending = make(voiceHeap, 0, n)
		}
	}
}

// Timeline is an [audio.OutputContext] that mixes scheduled voices into
// blocks pulled by [Timeline.Render].
//
// All exported methods are safe for concurrent use. Ended callbacks run on the
// goroutine calling Render, after the timeline lock has been released.
type Timeline struct {
	format audio.Format

	mu      sync.Mutex
	pos     int64     // samples rendered so far; the output clock
	pending voiceHeap // voices whose start sample has not been reached
	active  []*voice  // voices currently contributing samples
	seq     uint64
	closed  bool
}

// New creates an empty [Timeline] for format f. Only mono formats are mixed;
// multi-channel formats are treated as interleaved and scheduled by frame.
func New(f audio.Format, opts ...Option) *Timeline {
	t := &Timeline{format: f}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Format implements [audio.OutputContext].
func (t *Timeline) Format() audio.Format { return t.format }

// Now implements [audio.OutputContext]. It returns the duration of audio
// rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durationOf(t.pos)
}

// Schedule implements [audio.OutputContext]. A start time in the past is moved
// to the current clock position.
func (t *Timeline) Schedule(samples []float32, at time.Duration, onEnded func()) (audio.Voice, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	start := max(t.sampleOf(at), t.pos)
	t.seq++
	v := &voice{
		t:       t,
		samples: samples,
		start:   start,
		seq:     t.seq,
		onEnded: onEnded,
		index:   -1,
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render fills out with the mix of every voice due in the next len(out)
// samples and advances the clock by len(out). Mixed values are clamped to
// [-1, 1]. Ended callbacks of voices finishing inside the block fire before
// Render returns.
func (t *Timeline) Render(out []float32) {
	clear(out)
	n := int64(len(out))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	end := t.pos + n

	for t.pending.Len() > 0 && t.pending[0].start < end {
		v := heap.Pop(&t.pending).(*voice)
		t.active = append(t.active, v)
	}

	var finished []*voice
	kept := t.active[:0]
	for _, v := range t.active {
		vEnd := v.start + int64(len(v.samples))
		from := max(v.start, t.pos)
		to := min(vEnd, end)
		for p := from; p < to; p++ {
			out[p-t.pos] += v.samples[p-v.start]
		}
		if vEnd <= end {
			v.done = true
			finished = append(finished, v)
			continue
		}
		kept = append(kept, v)
	}
	clear(t.active[len(kept):])
	t.active = kept
	t.pos = end
	t.mu.Unlock()

	for i, s := range out {
		out[i] = min(max(s, -1), 1)
	}
	for _, v := range finished {
		if v.claimEnded() {
			v.onEnded()
		}
	}
}

// Active returns the number of voices that are scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) + t.pending.Len()
}

// Close implements [audio.OutputContext]. All voices are dropped without
// firing their ended callbacks. Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, v := range t.active {
		v.done = true
	}
	for _, v := range t.pending {
		v.done = true
	}
	t.active = nil
	t.pending = nil
	return nil
}

// remove drops v from whichever queue holds it. Caller must hold t.mu.
func (t *Timeline) remove(v *voice) {
	if v.index >= 0 {
		heap.Remove(&t.pending, v.index)
		return
	}
	for i, a := range t.active {
		if a == v {
			t.active = append(t.active[:i], t.active[i+1:]...)
			return
		}
	}
}

func (t *Timeline) durationOf(samples int64) time.Duration {
	if t.format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples * int64(time.Second) / int64(t.format.SampleRate))
}

// sampleOf converts d to the nearest sample index so that durations derived
// from sample counts map back onto the same grid position.
func (t *Timeline) sampleOf(d time.Duration) int64 {
	if d <= 0 || t.format.SampleRate <= 0 {
		return 0
	}
	return (int64(d)*int64(t.format.SampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// ─── voice ────────────────────────────────────────────────────────────────────

// voice is one scheduled buffer on a [Timeline].
type voice struct {
	t       *Timeline
	samples []float32
	start   int64 // absolute start sample
	seq     uint64
	onEnded func()
	index   int  // position in the pending heap, -1 when not pending
	done    bool // finished, stopped, or dropped by Close; guarded by t.mu
	stopped bool // Stop won; guarded by t.mu
	ended   bool // the ended callback is committed; guarded by t.mu
}

// Start implements [audio.Voice].
func (v *voice) Start() time.Duration { return v.t.durationOf(v.start) }

// Duration implements [audio.Voice].
func (v *voice) Duration() time.Duration { return v.t.format.Duration(len(v.samples)) }

// Stop implements [audio.Voice]. The ended callback of a stopped voice never
// fires, even when the voice finished rendering in a block whose callbacks
// have not run yet.
func (v *voice) Stop() {
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	if v.stopped || v.ended {
		return
	}
	v.stopped = true
	if v.done {
		return
	}
	v.done = true
	v.t.remove(v)
}

// claimEnded commits v to reporting ended. It loses against a Stop or Close
// that happened since the voice finished rendering.
func (v *voice) claimEnded() bool {
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	if v.stopped || v.t.closed {
		return false
	}
	v.ended = true
	return v.onEnded != nil
}
