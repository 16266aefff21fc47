package signal

import (
	"encoding/json"

	"mpcomm/internal/core/domain"
)

type MessageType string

const (
	TypeInvite    MessageType = "invite"
	TypeRinging   MessageType = "ringing"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "candidate"
	TypeBusy      MessageType = "busy"
	TypeBye       MessageType = "bye"
	TypeArrived   MessageType = "arrived"
	TypeLeft      MessageType = "left"
	TypeError     MessageType = "error"
)

// SignalMessage is the wire envelope for every signaling exchange. From is
// stamped by the server from the authenticated connection, never trusted
// from the client.
type SignalMessage struct {
	Type    MessageType      `json:"type"`
	CallID  domain.CallID    `json:"call_id,omitempty"`
	From    domain.ContactID `json:"from,omitempty"`
	To      domain.ContactID `json:"to,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// InvitePayload carries the offer SDP plus the caller's endpoint record so
// the callee can seed its roster before answering.
type InvitePayload struct {
	SDP    string          `json:"sdp"`
	Caller json.RawMessage `json:"caller,omitempty"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

// MemberPayload carries a FieldEndpoint for arrived/left notifications.
type MemberPayload struct {
	Member json.RawMessage `json:"member"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
