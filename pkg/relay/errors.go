package relay

import "errors"

// Sentinel errors returned by [Relay.Connect] and recorded by
// [Relay.LastError]. Underlying causes are wrapped, so use [errors.Is].
var (
	// ErrConfig means the relay is missing required configuration, such as an
	// API credential.
	ErrConfig = errors.New("relay: missing configuration")

	// ErrPermission means an audio device could not be opened, typically
	// because microphone access was refused.
	ErrPermission = errors.New("relay: audio device unavailable")

	// ErrConnection means the speech session could not be established or
	// failed while running.
	ErrConnection = errors.New("relay: session connection failed")

	// ErrDecode means a received audio payload was malformed. Decode errors
	// are logged and skipped; they never end a session.
	ErrDecode = errors.New("relay: malformed audio payload")

	// ErrAlreadyConnected is returned by Connect while a connection is in
	// progress or established.
	ErrAlreadyConnected = errors.New("relay: already connected")

	// ErrDisconnected is returned by a Connect whose dial was abandoned
	// because Disconnect was called in the meantime.
	ErrDisconnected = errors.New("relay: disconnected while connecting")
)
