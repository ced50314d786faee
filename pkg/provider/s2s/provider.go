// Package s2s defines the Provider interface for realtime speech-to-speech
// (S2S) backends.
//
// An S2S provider wraps a streaming voice AI service that accepts microphone
// audio and returns synthesised speech in a single, stateful session. Examples
// are the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: audio goes in through SendAudio,
// and everything the remote peer says comes back as an ordered stream of
// ServerMessage values. Audio payloads are delivered still encoded so that the
// consumer decides how to handle malformed chunks.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/concierge/pkg/audio"
)

// ErrSessionClosed is returned by SessionHandle methods after Close.
var ErrSessionClosed = errors.New("s2s: session closed")

// Modality selects what the model responds with.
type Modality string

const (
	// ModalityAudio requests spoken responses.
	ModalityAudio Modality = "AUDIO"

	// ModalityText requests text-only responses.
	ModalityText Modality = "TEXT"
)

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Modality is the response modality. Empty means [ModalityAudio].
	Modality Modality

	// Voice is the provider-specific name of a prebuilt voice, e.g. "Kore".
	// Empty selects the provider default.
	Voice string

	// Instructions is the system-level prompt that defines the assistant's
	// persona and behavioural constraints.
	Instructions string

	// Transcription asks the provider to stream text transcripts of both the
	// user's speech and the model's spoken output, where supported.
	Transcription bool
}

// ServerMessage is one notification from the remote session. A single message
// may carry several of the fields at once; consumers handle the audio before
// the interruption flag.
type ServerMessage struct {
	// Open is set on the message acknowledging that the session is ready.
	Open bool

	// Audio holds synthesised speech chunks, still base64-encoded, in
	// playback order.
	Audio []audio.Blob

	// Interrupted reports that the model stopped its current response because
	// the user started speaking. Queued output should be discarded.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// InputTranscript is recognised text of the user's speech.
	InputTranscript string

	// OutputTranscript is the text of the model's spoken output.
	OutputTranscript string
}

// Empty reports whether m carries no information.
func (m ServerMessage) Empty() bool {
	return !m.Open && len(m.Audio) == 0 && !m.Interrupted && !m.TurnComplete &&
		m.InputTranscript == "" && m.OutputTranscript == ""
}

// Capabilities describes static properties of an S2S provider.
// The values are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputFormat is the audio format SendAudio expects.
	InputFormat audio.Format

	// OutputFormat is the format of audio delivered in ServerMessage.Audio.
	OutputFormat audio.Format

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice names available for this provider.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one encoded microphone chunk to the provider. The
	// blob's MIME type describes its format. Returns [ErrSessionClosed] after
	// Close, or the transport error if the write fails.
	SendAudio(b audio.Blob) error

	// Messages returns the read-only channel of server notifications. The
	// channel is closed when the session ends. After it closes, [Err] reports
	// whether the session ended cleanly.
	Messages() <-chan ServerMessage

	// Err returns the error that ended the session, or nil if the remote peer
	// (or Close) ended it cleanly.
	Err() error

	// Close terminates the session and closes the Messages channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new session with the given configuration. The
	// returned handle accepts audio immediately; the first message with Open
	// set signals that the remote side finished its setup.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
