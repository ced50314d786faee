package relay

import (
	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/provider/s2s"
)

// Event is one input to [Relay.Handle]. The concrete types are
// [InputFrame], [RemoteMessage], [PlaybackEnded], [SessionError] and
// [SessionClosed].
type Event interface {
	isEvent()
}

// InputFrame is one captured microphone block.
type InputFrame struct {
	Samples []float32
}

// RemoteMessage is a notification received from the speech session.
type RemoteMessage struct {
	Msg s2s.ServerMessage
}

// PlaybackEnded reports that a scheduled voice finished playing naturally.
type PlaybackEnded struct {
	Voice audio.Voice
}

// SessionError reports that the speech session failed.
type SessionError struct {
	Err error
}

// SessionClosed reports that the speech session ended cleanly.
type SessionClosed struct{}

func (InputFrame) isEvent()    {}
func (RemoteMessage) isEvent() {}
func (PlaybackEnded) isEvent() {}
func (SessionError) isEvent()  {}
func (SessionClosed) isEvent() {}
