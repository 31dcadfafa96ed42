package stream

// State is the lifecycle state of one channel's connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectedUnstable
	StateConnectedStable
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectedUnstable:
		return "connected_unstable"
	case StateConnectedStable:
		return "connected_stable"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsConnected reports whether a transport handle is currently open.
func (s State) IsConnected() bool {
	return s == StateConnectedUnstable || s == StateConnectedStable
}
