package domain

import (
	"encoding/json"
	"sync"
)

type ContactID string
type FieldID string
type SessionID string
type CallID string

// Endpoint is the minimal identity/address value for a communication peer.
type Endpoint struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// MediaController is the subset of a media device a FieldEndpoint can drive.
// Implemented by the WebRTC device wrapper; nil when no device is attached.
type MediaController interface {
	SetOutboundAudio(enabled bool)
	SetOutboundVideo(enabled bool)
	SetInboundAudio(enabled bool)
	SetInboundVideo(enabled bool)
}

// FieldEndpoint is a participant's media state record within a Field.
// Device-enabled flags track local capture intent; stream-enabled flags
// track whether the negotiated stream is actually flowing and can only be
// set while the corresponding device flag is on.
type FieldEndpoint struct {
	Endpoint

	ContactID ContactID `json:"contact_id"`

	VideoEnabled       bool `json:"video_enabled"`
	AudioEnabled       bool `json:"audio_enabled"`
	VideoStreamEnabled bool `json:"video_stream_enabled"`
	AudioStreamEnabled bool `json:"audio_stream_enabled"`

	// Bandwidth counters in bits/sec, refreshed by periodic stats snapshots.
	VideoUpstreamBandwidth   int `json:"video_upstream_bandwidth"`
	VideoDownstreamBandwidth int `json:"video_downstream_bandwidth"`
	AudioUpstreamBandwidth   int `json:"audio_upstream_bandwidth"`
	AudioDownstreamBandwidth int `json:"audio_downstream_bandwidth"`

	mu     sync.Mutex
	device MediaController
}

func NewFieldEndpoint(contactID ContactID, ep Endpoint) *FieldEndpoint {
	return &FieldEndpoint{
		Endpoint:  ep,
		ContactID: contactID,
	}
}

// AttachDevice binds the media device the toggles delegate to. A nil device
// detaches; toggles stay valid either way.
func (fe *FieldEndpoint) AttachDevice(device MediaController) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.device = device
}

func (fe *FieldEndpoint) EnableOutboundAudio(enabled bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.AudioEnabled = enabled
	if !enabled {
		fe.AudioStreamEnabled = false
	}
	if fe.device != nil {
		fe.device.SetOutboundAudio(enabled)
	}
}

func (fe *FieldEndpoint) EnableOutboundVideo(enabled bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.VideoEnabled = enabled
	if !enabled {
		fe.VideoStreamEnabled = false
	}
	if fe.device != nil {
		fe.device.SetOutboundVideo(enabled)
	}
}

func (fe *FieldEndpoint) EnableInboundAudio(enabled bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.device != nil {
		fe.device.SetInboundAudio(enabled)
	}
}

func (fe *FieldEndpoint) EnableInboundVideo(enabled bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if fe.device != nil {
		fe.device.SetInboundVideo(enabled)
	}
}

func (fe *FieldEndpoint) OutboundAudioEnabled() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.AudioEnabled
}

func (fe *FieldEndpoint) OutboundVideoEnabled() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.VideoEnabled
}

func (fe *FieldEndpoint) InboundAudioEnabled() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.AudioStreamEnabled
}

func (fe *FieldEndpoint) InboundVideoEnabled() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.VideoStreamEnabled
}

// MarkNegotiatedMedia records which media kinds this peer sends, as learned
// from negotiation. Stream flags for media the peer no longer sends drop.
func (fe *FieldEndpoint) MarkNegotiatedMedia(audio, video bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.AudioEnabled = audio
	fe.VideoEnabled = video
	fe.AudioStreamEnabled = fe.AudioStreamEnabled && audio
	fe.VideoStreamEnabled = fe.VideoStreamEnabled && video
}

// MarkStreamActive flips the stream-activity flags, honoring the invariant
// that a stream can only flow for a device that was enabled at negotiation
// time.
func (fe *FieldEndpoint) MarkStreamActive(audio, video bool) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.AudioStreamEnabled = audio && fe.AudioEnabled
	fe.VideoStreamEnabled = video && fe.VideoEnabled
}

// UpdateUpstreamBandwidth refreshes the upstream counters from a stats
// snapshot. Negative inputs are clamped to zero.
func (fe *FieldEndpoint) UpdateUpstreamBandwidth(audioBits, videoBits int) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.AudioUpstreamBandwidth = max(audioBits, 0)
	fe.VideoUpstreamBandwidth = max(videoBits, 0)
}

// UpdateDownstreamBandwidth refreshes the downstream counters.
func (fe *FieldEndpoint) UpdateDownstreamBandwidth(audioBits, videoBits int) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.AudioDownstreamBandwidth = max(audioBits, 0)
	fe.VideoDownstreamBandwidth = max(videoBits, 0)
}

func (fe *FieldEndpoint) ToJSON() ([]byte, error) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return json.Marshal(fe)
}

func FieldEndpointFromJSON(data []byte) (*FieldEndpoint, error) {
	var fe FieldEndpoint
	if err := json.Unmarshal(data, &fe); err != nil {
		return nil, err
	}
	return &fe, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
