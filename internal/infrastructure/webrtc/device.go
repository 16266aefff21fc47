package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// Config carries the WebRTC transport configuration.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Device wraps exactly one peer connection. Group calls hold one Device per
// remote peer, sharing local capture at the application layer.
type Device struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu          sync.Mutex
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	audioTrack  *webrtc.TrackLocalStaticSample
	videoTrack  *webrtc.TrackLocalStaticSample
	outAudioOn  bool
	outVideoOn  bool
	inAudioOn   bool
	inVideoOn   bool
	remoteAudio bool
	remoteVideo bool
	localSink   ports.MediaSink
	remoteSink  ports.MediaSink
	onCandidate func(string)
	onConnected func()
	onClosed    func()
	closed      bool

	stats statsAccumulator
}

type statsAccumulator struct {
	mu            sync.Mutex
	audioInBytes  int64
	videoInBytes  int64
	audioOutBytes int64
	videoOutBytes int64
	packetLoss    float64
	jitter        time.Duration

	lastSnapshot time.Time
	lastAudioIn  int64
	lastVideoIn  int64
	lastAudioOut int64
	lastVideoOut int64
}

// NewDevice builds a peer connection for the constraint. A constraint that
// wants no media at all is a device error.
func NewDevice(cfg Config, constraint domain.MediaConstraint, logger *zap.SugaredLogger) (*Device, error) {
	if !constraint.WantsAudio && !constraint.WantsVideo {
		return nil, fmt.Errorf("constraint requests no media")
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	d := &Device{
		pc:         pc,
		logger:     logger,
		outAudioOn: constraint.WantsAudio,
		outVideoOn: constraint.WantsVideo,
		inAudioOn:  true,
		inVideoOn:  true,
	}

	if constraint.WantsAudio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "mpcomm-audio",
		)
		if err != nil {
			pc.Close()
			return nil, err
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, err
		}
		d.audioTrack = track
		d.audioSender = sender
		go d.drainRTCP(sender)
	}

	if constraint.WantsVideo {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "mpcomm-video",
		)
		if err != nil {
			pc.Close()
			return nil, err
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, err
		}
		d.videoTrack = track
		d.videoSender = sender
		go d.drainRTCP(sender)
	}

	pc.OnTrack(d.handleRemoteTrack)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		d.mu.Lock()
		fn := d.onCandidate
		d.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON().Candidate)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		d.logger.Debugw("peer connection state changed", "state", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			d.mu.Lock()
			fn := d.onConnected
			d.mu.Unlock()
			if fn != nil {
				fn()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			d.mu.Lock()
			fn := d.onClosed
			d.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	})

	return d, nil
}

// CreateOffer starts negotiation as the offering side.
func (d *Device) CreateOffer(ctx context.Context) (string, error) {
	offer, err := d.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := d.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to apply local offer: %w", err)
	}
	return offer.SDP, nil
}

// AcceptOffer applies the remote offer and returns the local answer.
func (d *Device) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := d.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("failed to apply remote offer: %w", err)
	}
	answer, err := d.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := d.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to apply local answer: %w", err)
	}
	return answer.SDP, nil
}

// AcceptAnswer completes negotiation started with CreateOffer.
func (d *Device) AcceptAnswer(ctx context.Context, sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := d.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to apply remote answer: %w", err)
	}
	return nil
}

func (d *Device) AddRemoteCandidate(candidate string) error {
	return d.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (d *Device) OnLocalCandidate(fn func(string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCandidate = fn
}

func (d *Device) OnConnected(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onConnected = fn
}

func (d *Device) OnClosed(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onClosed = fn
}

// WriteAudioSample feeds one block of encoded local audio into the
// outbound track. Dropped silently while outbound audio is disabled.
func (d *Device) WriteAudioSample(data []byte, duration time.Duration) error {
	d.mu.Lock()
	track := d.audioTrack
	enabled := d.outAudioOn
	d.mu.Unlock()
	if track == nil || !enabled {
		return nil
	}
	d.stats.addOut(true, len(data))
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// WriteVideoSample feeds one encoded video frame into the outbound track.
func (d *Device) WriteVideoSample(data []byte, duration time.Duration) error {
	d.mu.Lock()
	track := d.videoTrack
	enabled := d.outVideoOn
	d.mu.Unlock()
	if track == nil || !enabled {
		return nil
	}
	d.stats.addOut(false, len(data))
	return track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// SetOutboundAudio pauses or resumes the outbound audio track by swapping
// the sender's track. Safe to call when no track was negotiated.
func (d *Device) SetOutboundAudio(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outAudioOn == enabled {
		return
	}
	d.outAudioOn = enabled
	if d.audioSender == nil {
		return
	}
	var err error
	if enabled {
		err = d.audioSender.ReplaceTrack(d.audioTrack)
	} else {
		err = d.audioSender.ReplaceTrack(nil)
	}
	if err != nil {
		d.logger.Warnw("failed to toggle outbound audio", "enabled", enabled, "error", err)
	}
}

// SetOutboundVideo pauses or resumes the outbound video track.
func (d *Device) SetOutboundVideo(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outVideoOn == enabled {
		return
	}
	d.outVideoOn = enabled
	if d.videoSender == nil {
		return
	}
	var err error
	if enabled {
		err = d.videoSender.ReplaceTrack(d.videoTrack)
	} else {
		err = d.videoSender.ReplaceTrack(nil)
	}
	if err != nil {
		d.logger.Warnw("failed to toggle outbound video", "enabled", enabled, "error", err)
	}
}

// SetInboundAudio controls whether received audio is consumed. The remote
// keeps sending; disabled packets are dropped at the reader.
func (d *Device) SetInboundAudio(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inAudioOn = enabled
}

func (d *Device) SetInboundVideo(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inVideoOn = enabled
}

// RemoteMedia reports which media kinds the peer actually sends, from the
// negotiated remote description plus any tracks already observed. Sections
// the peer marked receive-only do not count as sending.
func (d *Device) RemoteMedia() (audio, video bool) {
	d.mu.Lock()
	audio, video = d.remoteAudio, d.remoteVideo
	d.mu.Unlock()
	if audio && video {
		return audio, video
	}

	desc := d.pc.CurrentRemoteDescription()
	if desc == nil {
		return audio, video
	}
	parsed, err := desc.Unmarshal()
	if err != nil {
		d.logger.Warnw("failed to parse remote description", "error", err)
		return audio, video
	}
	for _, m := range parsed.MediaDescriptions {
		sends := false
		for _, a := range m.Attributes {
			if a.Key == "sendrecv" || a.Key == "sendonly" {
				sends = true
				break
			}
		}
		if !sends {
			continue
		}
		switch m.MediaName.Media {
		case "audio":
			audio = true
		case "video":
			video = true
		}
	}
	return audio, video
}

func (d *Device) SetLocalSink(sink ports.MediaSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localSink = sink
}

func (d *Device) SetRemoteSink(sink ports.MediaSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remoteSink = sink
}

// SnapshootStatsReport derives bits/sec from the byte counters accumulated
// since the previous snapshot and hands each direction to its callback.
// Counters, not listeners, back this call, so any cadence is leak-free.
func (d *Device) SnapshootStatsReport(outbound, inbound func(domain.MediaStats)) {
	out, in := d.stats.snapshot()
	if outbound != nil {
		outbound(out)
	}
	if inbound != nil {
		inbound(in)
	}
}

// Close disposes the peer connection. Idempotent; callbacks are cleared so
// nothing fires after teardown.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.onCandidate = nil
	d.onConnected = nil
	d.onClosed = nil
	d.mu.Unlock()
	return d.pc.Close()
}

// handleRemoteTrack accounts inbound bandwidth per received RTP packet and
// keeps RTCP-derived quality numbers fresh.
func (d *Device) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	d.logger.Infow("remote track started",
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
		"kind", track.Kind().String(),
	)

	go d.readRTCP(receiver)

	isAudio := track.Kind() == webrtc.RTPCodecTypeAudio
	d.mu.Lock()
	if isAudio {
		d.remoteAudio = true
	} else {
		d.remoteVideo = true
	}
	d.mu.Unlock()

	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			d.logger.Debugw("remote track closed", "track_id", track.ID(), "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			d.logger.Warnw("dropping malformed RTP packet", "track_id", track.ID(), "error", err)
			continue
		}

		d.mu.Lock()
		consume := (isAudio && d.inAudioOn) || (!isAudio && d.inVideoOn)
		d.mu.Unlock()
		if !consume {
			continue
		}
		d.stats.addIn(isAudio, n)
	}
}

// readRTCP extracts packet loss and jitter from receiver reports.
func (d *Device) readRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			rr, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				d.stats.setQuality(
					float64(report.FractionLost)/255.0,
					time.Duration(report.Jitter)*time.Millisecond,
				)
			}
		}
	}
}

// drainRTCP keeps the sender's RTCP stream flowing so interceptors run.
func (d *Device) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (a *statsAccumulator) addIn(audio bool, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if audio {
		a.audioInBytes += int64(n)
	} else {
		a.videoInBytes += int64(n)
	}
}

func (a *statsAccumulator) addOut(audio bool, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if audio {
		a.audioOutBytes += int64(n)
	} else {
		a.videoOutBytes += int64(n)
	}
}

func (a *statsAccumulator) setQuality(loss float64, jitter time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.packetLoss = loss
	a.jitter = jitter
}

func (a *statsAccumulator) snapshot() (outbound, inbound domain.MediaStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(a.lastSnapshot).Seconds()
	if a.lastSnapshot.IsZero() || elapsed <= 0 {
		elapsed = 1
	}

	outbound = domain.MediaStats{
		Timestamp:  now,
		AudioBits:  bitsPerSecond(a.audioOutBytes-a.lastAudioOut, elapsed),
		VideoBits:  bitsPerSecond(a.videoOutBytes-a.lastVideoOut, elapsed),
		PacketLoss: a.packetLoss,
		Jitter:     a.jitter,
	}
	inbound = domain.MediaStats{
		Timestamp:  now,
		AudioBits:  bitsPerSecond(a.audioInBytes-a.lastAudioIn, elapsed),
		VideoBits:  bitsPerSecond(a.videoInBytes-a.lastVideoIn, elapsed),
		PacketLoss: a.packetLoss,
		Jitter:     a.jitter,
	}

	a.lastSnapshot = now
	a.lastAudioIn = a.audioInBytes
	a.lastVideoIn = a.videoInBytes
	a.lastAudioOut = a.audioOutBytes
	a.lastVideoOut = a.videoOutBytes
	return outbound, inbound
}

func bitsPerSecond(deltaBytes int64, elapsed float64) int {
	if deltaBytes < 0 {
		return 0
	}
	return int(float64(deltaBytes) * 8 / elapsed)
}
