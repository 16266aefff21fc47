package services

import (
	"context"
	"sync"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"
)

type fakeDevice struct {
	mu          sync.Mutex
	offerErr    error
	answerErr   error
	closed      bool
	outAudio    bool
	outVideo    bool
	candidates  []string
	onCandidate func(string)
	onConnected func()
	onClosed    func()
	outStats    domain.MediaStats
	inStats     domain.MediaStats
	remAudio    bool
	remVideo    bool
}

func (d *fakeDevice) SetOutboundAudio(enabled bool) { d.mu.Lock(); d.outAudio = enabled; d.mu.Unlock() }
func (d *fakeDevice) SetOutboundVideo(enabled bool) { d.mu.Lock(); d.outVideo = enabled; d.mu.Unlock() }
func (d *fakeDevice) SetInboundAudio(bool)          {}
func (d *fakeDevice) SetInboundVideo(bool)          {}

func (d *fakeDevice) RemoteMedia() (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remAudio, d.remVideo
}

func (d *fakeDevice) setRemoteMedia(audio, video bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remAudio = audio
	d.remVideo = video
}

func (d *fakeDevice) outboundAudioOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outAudio
}

func (d *fakeDevice) outboundVideoOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outVideo
}

func (d *fakeDevice) CreateOffer(context.Context) (string, error) {
	if d.offerErr != nil {
		return "", d.offerErr
	}
	return "offer-sdp", nil
}

func (d *fakeDevice) AcceptOffer(_ context.Context, sdp string) (string, error) {
	if d.offerErr != nil {
		return "", d.offerErr
	}
	return "answer-sdp", nil
}

func (d *fakeDevice) AcceptAnswer(_ context.Context, sdp string) error {
	return d.answerErr
}

func (d *fakeDevice) AddRemoteCandidate(candidate string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidates = append(d.candidates, candidate)
	return nil
}

func (d *fakeDevice) OnLocalCandidate(fn func(string)) { d.onCandidate = fn }
func (d *fakeDevice) OnConnected(fn func())            { d.mu.Lock(); d.onConnected = fn; d.mu.Unlock() }
func (d *fakeDevice) OnClosed(fn func())               { d.onClosed = fn }

func (d *fakeDevice) fireConnected() {
	d.mu.Lock()
	fn := d.onConnected
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDevice) SnapshootStatsReport(outbound, inbound func(domain.MediaStats)) {
	if outbound != nil {
		outbound(d.outStats)
	}
	if inbound != nil {
		inbound(d.inStats)
	}
}

func (d *fakeDevice) SetLocalSink(ports.MediaSink)  {}
func (d *fakeDevice) SetRemoteSink(ports.MediaSink) {}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeFactory struct {
	mu      sync.Mutex
	err     error
	devices []*fakeDevice
}

func (f *fakeFactory) NewDevice(domain.MediaConstraint) (ports.MediaDevice, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDevice{}
	f.devices = append(f.devices, d)
	return d, nil
}

func (f *fakeFactory) last() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devices) == 0 {
		return nil
	}
	return f.devices[len(f.devices)-1]
}

type sentMessage struct {
	kind   string
	callID domain.CallID
	target domain.ContactID
	body   string
}

type fakeSignaling struct {
	mu     sync.Mutex
	events ports.SignalingEvents
	sent   []sentMessage
}

func (s *fakeSignaling) record(kind string, callID domain.CallID, target domain.ContactID, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{kind: kind, callID: callID, target: target, body: body})
}

func (s *fakeSignaling) SendInvite(_ context.Context, callID domain.CallID, target domain.ContactID, sdp string) error {
	s.record("invite", callID, target, sdp)
	return nil
}

func (s *fakeSignaling) SendAnswer(_ context.Context, callID domain.CallID, target domain.ContactID, sdp string) error {
	s.record("answer", callID, target, sdp)
	return nil
}

func (s *fakeSignaling) SendCandidate(_ context.Context, callID domain.CallID, target domain.ContactID, candidate string) error {
	s.record("candidate", callID, target, candidate)
	return nil
}

func (s *fakeSignaling) SendBusy(_ context.Context, callID domain.CallID, target domain.ContactID) error {
	s.record("busy", callID, target, "")
	return nil
}

func (s *fakeSignaling) SendBye(_ context.Context, callID domain.CallID) error {
	s.record("bye", callID, "", "")
	return nil
}

func (s *fakeSignaling) SetEvents(events ports.SignalingEvents) { s.events = events }
func (s *fakeSignaling) Close() error                           { return nil }

func (s *fakeSignaling) sentKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, len(s.sent))
	for i, m := range s.sent {
		kinds[i] = m.kind
	}
	return kinds
}

func (s *fakeSignaling) lastOfKind(kind string) (sentMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].kind == kind {
			return s.sent[i], true
		}
	}
	return sentMessage{}, false
}
