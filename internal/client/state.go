package client

// State is the lifecycle state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
