package domain

import "time"

// MediaConstraint describes what a caller wants negotiated for a call.
// Device refs are opaque identifiers for explicit input selection.
type MediaConstraint struct {
	WantsAudio  bool   `json:"wants_audio"`
	WantsVideo  bool   `json:"wants_video"`
	AudioDevice string `json:"audio_device,omitempty"`
	VideoDevice string `json:"video_device,omitempty"`
}

// VolumeSample is the latest smoothed loudness reading for one endpoint.
// Only the newest sample per endpoint is retained.
type VolumeSample struct {
	ContactID ContactID `json:"contact_id"`
	Volume    float64   `json:"volume"`
	Clipping  bool      `json:"clipping"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaStats is one direction of a transport statistics snapshot.
type MediaStats struct {
	Timestamp  time.Time
	AudioBits  int // bits/sec
	VideoBits  int // bits/sec
	PacketLoss float64
	Jitter     time.Duration
}
