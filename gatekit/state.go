package gatekit

// ConnectionState represents the current state of the realtime connection.
type ConnectionState int

const (
	// StateDisconnected means there is no live session. The client stays
	// here until Connect is called, and returns here after Disconnect or
	// after the reconnect attempts are exhausted.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a Connect call is dialing and performing the
	// auth/join handshake.
	StateConnecting

	// StateConnected means the room join was acknowledged and the client
	// is ready to send and receive.
	StateConnected

	// StateReconnecting means the transport dropped unexpectedly and the
	// client is waiting out a backoff delay before redialing.
	StateReconnecting
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateEvent describes a connection state transition.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Err      error // cause of the transition, if any
}
