// Package audio defines the PCM wire formats, sample conversions, and device
// abstractions shared by the realtime voice relay and its speech providers.
//
// The two device abstractions are:
//
//   - [Microphone]: opens an [InputStream] that delivers float32 sample blocks.
//   - [Speaker]: opens an [OutputContext] with its own playback clock on which
//     decoded buffers are scheduled as [Voice] handles.
//
// Concrete devices live in sub-packages (audio/portaudio for real hardware,
// audio/playout for the sample-accurate timeline, audio/mock for tests).
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	// InputFormat is the microphone format expected by realtime speech
	// sessions: 16 kHz mono.
	InputFormat = Format{SampleRate: 16000, Channels: 1}

	// OutputFormat is the format of synthesised speech returned by realtime
	// speech sessions: 24 kHz mono.
	OutputFormat = Format{SampleRate: 24000, Channels: 1}
)

// Duration returns the playback duration of n samples per channel in f.
// A zero or negative sample rate yields zero.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}

// Samples returns the number of samples per channel that fit into d,
// truncated towards zero.
func (f Format) Samples(d time.Duration) int {
	if f.SampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}

// MIMEType returns the format descriptor used on the wire, e.g.
// "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}
