package ports

import (
	"context"

	"mpcomm/internal/core/domain"
)

// MediaDevice wraps one peer connection worth of negotiation and transport.
// Implementations must surface negotiation failures as errors, never as a
// silent no-op.
type MediaDevice interface {
	domain.MediaController

	// CreateOffer starts negotiation and returns the local SDP offer.
	CreateOffer(ctx context.Context) (string, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, sdp string) (string, error)
	// AcceptAnswer completes negotiation started by CreateOffer.
	AcceptAnswer(ctx context.Context, sdp string) error
	AddRemoteCandidate(candidate string) error
	OnLocalCandidate(fn func(candidate string))
	OnConnected(fn func())
	OnClosed(fn func())

	// RemoteMedia reports which media kinds the remote peer sends, as
	// learned from negotiation. Both false before negotiation completes.
	RemoteMedia() (audio, video bool)

	// SnapshootStatsReport asynchronously pulls transport statistics and
	// invokes the callbacks with the outbound/inbound halves. Safe to call
	// at >= 1s cadence without leaking listeners.
	SnapshootStatsReport(outbound, inbound func(domain.MediaStats))

	// SetLocalSink / SetRemoteSink rebind media sinks. Sinks are recreated
	// per call, never reused across calls.
	SetLocalSink(sink MediaSink)
	SetRemoteSink(sink MediaSink)

	Close() error
}

// MediaSink is an opaque handle for rendering a media stream. The core
// never inspects it.
type MediaSink interface {
	ID() string
}

// DeviceFactory creates media devices for a constraint. Device errors (no
// microphone/camera) surface here, before any field exists.
type DeviceFactory interface {
	NewDevice(constraint domain.MediaConstraint) (MediaDevice, error)
}

// SignalingEvents receives inbound signaling for the local contact. SDP and
// ICE payloads are opaque to the core.
type SignalingEvents interface {
	OnInvite(callID domain.CallID, caller *domain.FieldEndpoint, sdp string)
	OnRinging(callID domain.CallID)
	OnAnswer(callID domain.CallID, from domain.ContactID, sdp string)
	OnCandidate(callID domain.CallID, from domain.ContactID, candidate string)
	OnBusy(callID domain.CallID)
	OnBye(callID domain.CallID, from domain.ContactID)
	OnArrived(callID domain.CallID, member *domain.FieldEndpoint)
	OnLeft(callID domain.CallID, member *domain.FieldEndpoint)
}

// Signaling is the client side of the signaling path. Targets address one
// remote contact; a group target is fanned out by the server.
type Signaling interface {
	SendInvite(ctx context.Context, callID domain.CallID, target domain.ContactID, sdp string) error
	SendAnswer(ctx context.Context, callID domain.CallID, target domain.ContactID, sdp string) error
	SendCandidate(ctx context.Context, callID domain.CallID, target domain.ContactID, candidate string) error
	SendBusy(ctx context.Context, callID domain.CallID, target domain.ContactID) error
	SendBye(ctx context.Context, callID domain.CallID) error
	SetEvents(events SignalingEvents)
	Close() error
}

// MetricsCollector records call lifecycle metrics.
type MetricsCollector interface {
	CallStarted(outbound bool)
	CallConnected(setupSeconds float64)
	CallTerminated(reason domain.TerminationReason)
	VolumeSampleObserved()
}
