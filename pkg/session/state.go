package session

// State is the session lifecycle position.
//
//	INIT -> STREAMING -> CLOSED
//	INIT -> FAILED
//	INIT -> CLOSED (shutdown while the provider was opening)
type State int32

const (
	StateInit State = iota
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Trigger names what caused a shutdown.
type Trigger string

const (
	TriggerStop                Trigger = "stop"
	TriggerTransportClosed     Trigger = "transport_closed"
	TriggerProviderClosed      Trigger = "provider_closed"
	TriggerProviderUnavailable Trigger = "provider_unavailable"
	TriggerServerDrain         Trigger = "server_drain"
)
