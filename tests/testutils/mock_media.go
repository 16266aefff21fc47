package testutils

import (
	"context"
	"sync"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"
)

// ValidSDP is a minimal blob that passes server-side SDP validation.
const ValidSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// MockDevice is a media device double for wiring sessions to a real
// signaling path without pion. Fire Connected manually to simulate ICE
// completion.
type MockDevice struct {
	mu          sync.Mutex
	closed      bool
	remoteAudio bool
	remoteVideo bool
	candidates  []string
	onCandidate func(string)
	onConnected func()
	onClosed    func()
}

func (d *MockDevice) SetOutboundAudio(bool) {}
func (d *MockDevice) SetOutboundVideo(bool) {}
func (d *MockDevice) SetInboundAudio(bool)  {}
func (d *MockDevice) SetInboundVideo(bool)  {}

// SetRemoteMedia seeds what RemoteMedia reports post-negotiation.
func (d *MockDevice) SetRemoteMedia(audio, video bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remoteAudio = audio
	d.remoteVideo = video
}

func (d *MockDevice) RemoteMedia() (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteAudio, d.remoteVideo
}

func (d *MockDevice) CreateOffer(context.Context) (string, error) {
	return ValidSDP, nil
}

func (d *MockDevice) AcceptOffer(context.Context, string) (string, error) {
	return ValidSDP, nil
}

func (d *MockDevice) AcceptAnswer(context.Context, string) error {
	return nil
}

func (d *MockDevice) AddRemoteCandidate(candidate string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidates = append(d.candidates, candidate)
	return nil
}

func (d *MockDevice) OnLocalCandidate(fn func(string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCandidate = fn
}

func (d *MockDevice) OnConnected(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onConnected = fn
}

func (d *MockDevice) OnClosed(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClosed = fn
}

// FireConnected simulates the transport reaching connected.
func (d *MockDevice) FireConnected() {
	d.mu.Lock()
	fn := d.onConnected
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitCandidate simulates local ICE gathering producing a candidate.
func (d *MockDevice) EmitCandidate(candidate string) {
	d.mu.Lock()
	fn := d.onCandidate
	d.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

// Candidates returns remote candidates applied so far.
func (d *MockDevice) Candidates() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.candidates))
	copy(out, d.candidates)
	return out
}

func (d *MockDevice) SnapshootStatsReport(outbound, inbound func(domain.MediaStats)) {
	if outbound != nil {
		outbound(domain.MediaStats{})
	}
	if inbound != nil {
		inbound(domain.MediaStats{})
	}
}

func (d *MockDevice) SetLocalSink(ports.MediaSink)  {}
func (d *MockDevice) SetRemoteSink(ports.MediaSink) {}

func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *MockDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// MockFactory tracks every device it hands out.
type MockFactory struct {
	mu      sync.Mutex
	devices []*MockDevice
}

func (f *MockFactory) NewDevice(domain.MediaConstraint) (ports.MediaDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &MockDevice{}
	f.devices = append(f.devices, d)
	return d, nil
}

// Last returns the most recently created device, or nil.
func (f *MockFactory) Last() *MockDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devices) == 0 {
		return nil
	}
	return f.devices[len(f.devices)-1]
}

// Devices returns all devices created so far.
func (f *MockFactory) Devices() []*MockDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MockDevice, len(f.devices))
	copy(out, f.devices)
	return out
}
