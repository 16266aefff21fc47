package domain

// EventType names the lifecycle/media events a call session emits.
type EventType string

const (
	EventInProgress       EventType = "in_progress"
	EventRinging          EventType = "ringing"
	EventNewCall          EventType = "new_call"
	EventConnected        EventType = "connected"
	EventArrived          EventType = "arrived"
	EventLeft             EventType = "left"
	EventMicrophoneVolume EventType = "microphone_volume"
	EventBusy             EventType = "busy"
	EventTimeout          EventType = "timeout"
	EventBye              EventType = "bye"
	EventFailed           EventType = "failed"
)

// Event is the tagged union delivered to external subscribers. One variant
// per event type, each with its own strongly typed payload.
type Event interface {
	Type() EventType
}

type InProgressEvent struct {
	SessionID SessionID
}

func (InProgressEvent) Type() EventType { return EventInProgress }

type RingingEvent struct {
	FieldID FieldID
}

func (RingingEvent) Type() EventType { return EventRinging }

// NewCallEvent fires when an inbound invite arrives while idle.
type NewCallEvent struct {
	CallID CallID
	Caller *FieldEndpoint
}

func (NewCallEvent) Type() EventType { return EventNewCall }

type ConnectedEvent struct {
	FieldID FieldID
	Peer    Endpoint
}

func (ConnectedEvent) Type() EventType { return EventConnected }

type ArrivedEvent struct {
	FieldID  FieldID
	Endpoint *FieldEndpoint
}

func (ArrivedEvent) Type() EventType { return EventArrived }

type LeftEvent struct {
	FieldID  FieldID
	Endpoint *FieldEndpoint
}

func (LeftEvent) Type() EventType { return EventLeft }

type MicrophoneVolumeEvent struct {
	FieldID FieldID
	Sample  VolumeSample
}

func (MicrophoneVolumeEvent) Type() EventType { return EventMicrophoneVolume }

type BusyEvent struct{}

func (BusyEvent) Type() EventType { return EventBusy }

type TimeoutEvent struct{}

func (TimeoutEvent) Type() EventType { return EventTimeout }

type ByeEvent struct {
	FieldID FieldID
}

func (ByeEvent) Type() EventType { return EventBye }

type FailedEvent struct {
	Code string
	Err  error
}

func (FailedEvent) Type() EventType { return EventFailed }
