package domain

// CallState is the lifecycle state of a call session.
type CallState string

const (
	StateIdle      CallState = "idle"
	StateDialing   CallState = "dialing"
	StateRinging   CallState = "ringing"
	StateConnected CallState = "connected"
)

// Terminal returns true for states a new call may be started from.
func (s CallState) Terminal() bool {
	return s == StateIdle
}

// TerminationReason names which terminal transition tore a session down.
type TerminationReason string

const (
	ReasonBye     TerminationReason = "bye"
	ReasonBusy    TerminationReason = "busy"
	ReasonTimeout TerminationReason = "timeout"
	ReasonFailed  TerminationReason = "failed"
)
