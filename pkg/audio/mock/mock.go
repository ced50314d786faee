// Package mock provides in-memory mock implementations of the
// [audio.Microphone], [audio.InputStream], [audio.Speaker], and
// [audio.OutputContext] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewInputStream(audio.InputFormat)
//	mic := &mock.Microphone{Stream: stream}
//	out := mock.NewOutputContext(audio.OutputFormat)
//	spk := &mock.Speaker{Output: out}
//	// ... run code under test ...
//	stream.Push(samples)           // simulate a capture callback
//	out.SetNow(200 * time.Millisecond)
//	out.Voices()[0].End()          // simulate natural end of playback
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/concierge/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.InputStream   = (*InputStream)(nil)
	_ audio.Speaker       = (*Speaker)(nil)
	_ audio.OutputContext = (*OutputContext)(nil)
	_ audio.Voice         = (*Voice)(nil)
)

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock [audio.InputStream] whose frames are pushed by the test.
type InputStream struct {
	mu     sync.Mutex
	format audio.Format
	frames chan []float32
	closed bool

	// CloseError is returned by [InputStream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewInputStream creates an open [InputStream] delivering format f.
func NewInputStream(f audio.Format) *InputStream {
	return &InputStream{format: f, frames: make(chan []float32, 64)}
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan []float32 { return s.frames }

// Format implements [audio.InputStream].
func (s *InputStream) Format() audio.Format { return s.format }

// Close implements [audio.InputStream]. The frames channel is closed on the
// first call.
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return s.CloseError
}

// Push delivers one captured block. It reports false if the stream is closed.
func (s *InputStream) Push(samples []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- samples
	return true
}

// Closed reports whether Close has been called.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// MicOpenCall records the arguments of a single [Microphone.Open] invocation.
type MicOpenCall struct {
	Format    audio.Format
	BlockSize int
}

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Open. If nil, a fresh [InputStream] is created
	// for every call.
	Stream *InputStream

	// OpenError is returned by Open when non-nil.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []MicOpenCall

	last *InputStream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, f audio.Format, blockSize int) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, MicOpenCall{Format: f, BlockSize: blockSize})
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	s := m.Stream
	if s == nil {
		s = NewInputStream(f)
	}
	m.last = s
	return s, nil
}

// Last returns the stream returned by the most recent successful Open.
func (m *Microphone) Last() *InputStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// ─── Voice ────────────────────────────────────────────────────────────────────

// Voice is a mock [audio.Voice] recorded by [OutputContext.Schedule].
type Voice struct {
	mu      sync.Mutex
	format  audio.Format
	onEnded func()
	stopped bool
	ended   bool

	// Samples is the buffer passed to Schedule.
	Samples []float32

	// At is the requested start time passed to Schedule.
	At time.Duration

	// StartAt is the effective start: At, or the clock if At was in the past.
	StartAt time.Duration
}

// Start implements [audio.Voice].
func (v *Voice) Start() time.Duration { return v.StartAt }

// Duration implements [audio.Voice].
func (v *Voice) Duration() time.Duration { return v.format.Duration(len(v.Samples)) }

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.ended {
		v.stopped = true
	}
}

// Stopped reports whether Stop was called before the voice ended.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// End simulates natural completion: the ended callback fires once, unless
// the voice was stopped. It reports whether the callback ran.
func (v *Voice) End() bool {
	v.mu.Lock()
	if v.stopped || v.ended {
		v.mu.Unlock()
		return false
	}
	v.ended = true
	fn := v.onEnded
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// ForceEnded fires the ended callback even if the voice was stopped. Use it
// to simulate a late notification racing a forced stop.
func (v *Voice) ForceEnded() {
	if v.onEnded != nil {
		v.onEnded()
	}
}

// ─── OutputContext ────────────────────────────────────────────────────────────

// OutputContext is a mock [audio.OutputContext] with a test-controlled clock.
type OutputContext struct {
	mu     sync.Mutex
	format audio.Format
	now    time.Duration
	voices []*Voice
	closed bool

	// ScheduleError is returned by Schedule when non-nil.
	ScheduleError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutputContext creates an [OutputContext] for format f with its clock at zero.
func NewOutputContext(f audio.Format) *OutputContext {
	return &OutputContext{format: f}
}

// Format implements [audio.OutputContext].
func (o *OutputContext) Format() audio.Format { return o.format }

// Now implements [audio.OutputContext].
func (o *OutputContext) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the output clock to d.
func (o *OutputContext) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Schedule implements [audio.OutputContext]. The voice is recorded and
// returned; nothing is played.
func (o *OutputContext) Schedule(samples []float32, at time.Duration, onEnded func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	v := &Voice{
		format:  o.format,
		onEnded: onEnded,
		Samples: samples,
		At:      at,
		StartAt: max(at, o.now),
	}
	o.voices = append(o.voices, v)
	return v, nil
}

// Voices returns every voice scheduled so far, in scheduling order.
func (o *OutputContext) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Voice, len(o.voices))
	copy(out, o.voices)
	return out
}

// Close implements [audio.OutputContext].
func (o *OutputContext) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	o.closed = true
	return o.CloseError
}

// Closed reports whether Close has been called.
func (o *OutputContext) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// Output is returned by Open. If nil, a fresh [OutputContext] is created
	// for every call.
	Output *OutputContext

	// OpenError is returned by Open when non-nil.
	OpenError error

	// OpenCalls records the format of every Open invocation.
	OpenCalls []audio.Format

	last *OutputContext
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, f audio.Format) (audio.OutputContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, f)
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	o := s.Output
	if o == nil {
		o = NewOutputContext(f)
	}
	s.last = o
	return o, nil
}

// Last returns the context returned by the most recent successful Open.
func (s *Speaker) Last() *OutputContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
