package relay

// State is the lifecycle state of a [Relay].
type State int

const (
	// StateIdle means no session is open and no device is held.
	StateIdle State = iota

	// StateConnecting means devices are open and the session is dialled but
	// the remote side has not acknowledged it yet.
	StateConnecting

	// StateConnected means the session is open and microphone audio is being
	// forwarded.
	StateConnected

	// StateError means the last connection attempt or session failed. See
	// [Relay.LastError].
	StateError
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
