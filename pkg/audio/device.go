package audio

import (
	"context"
	"time"
)

// InputStream is an open capture context. Frames delivers one []float32 block
// per capture callback, in capture order, and is closed when the stream stops.
//
// Implementations must be safe for concurrent use; Close may be called more
// than once.
type InputStream interface {
	// Frames returns the read-only channel of captured sample blocks. Blocks
	// are owned by the receiver and never reused by the stream.
	Frames() <-chan []float32

	// Format reports the format of the delivered samples.
	Format() Format

	// Close stops capture, releases the device, and closes the Frames channel.
	Close() error
}

// Microphone opens capture contexts on an input device.
type Microphone interface {
	// Open starts capturing in format f, delivering blocks of blockSize samples
	// per channel. An error means access to the device was refused or the
	// device could not be opened at all.
	Open(ctx context.Context, f Format, blockSize int) (InputStream, error)
}

// Voice is a handle to one buffer scheduled on an [OutputContext].
type Voice interface {
	// Start is the output-clock time at which playback begins.
	Start() time.Duration

	// Duration is the playback length of the buffer.
	Duration() time.Duration

	// Stop cancels playback immediately. A stopped voice never reports ended.
	// Stopping an already finished or stopped voice is a no-op.
	Stop()
}

// OutputContext is an open playback context with a monotonic output clock.
//
// Implementations must be safe for concurrent use. The onEnded callback passed
// to Schedule may run on any goroutine and must not block.
type OutputContext interface {
	// Now returns the current position of the output clock, starting at zero
	// when the context was opened.
	Now() time.Duration

	// Format reports the playback format.
	Format() Format

	// Schedule queues samples to begin playing at the output-clock time at.
	// If at is already in the past, playback starts as soon as possible.
	// onEnded, if non-nil, is invoked exactly once when the buffer finishes
	// playing naturally.
	Schedule(samples []float32, at time.Duration, onEnded func()) (Voice, error)

	// Close stops all voices and releases the device. Safe to call repeatedly.
	Close() error
}

// Speaker opens playback contexts on an output device.
type Speaker interface {
	// Open creates an output context playing in format f.
	Open(ctx context.Context, f Format) (OutputContext, error)
}
