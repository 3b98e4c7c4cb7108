package obd

import "fmt"

// State is the connection manager's lifecycle position. Transitions
// follow the graph below; there is no shortcut from Disconnected to
// Monitoring, and an Error state requires a manual reconnect.
//
//	Disconnected --Connect--> Connecting --ok--> Connected
//	Connecting --fail--> Error
//	Connected <--Stop/Start--> Monitoring
//	Monitoring --link failure--> Error
//	any --Disconnect--> Disconnected
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Monitoring
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Monitoring:
		return "monitoring"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
